package handlers

import (
	"net/http"

	"github.com/marmos91/trustd/pkg/powerauth/service"
)

// LegacyHandler handles the version 2 activation endpoints kept for older
// clients.
type LegacyHandler struct {
	service *service.Service
}

// NewLegacyHandler creates a new LegacyHandler.
func NewLegacyHandler(svc *service.Service) *LegacyHandler {
	return &LegacyHandler{service: svc}
}

type prepareActivationV2Request struct {
	ActivationIDShort        string `json:"activationIdShort"`
	ActivationName           string `json:"activationName,omitempty"`
	Extras                   string `json:"extras,omitempty"`
	ActivationNonce          string `json:"activationNonce"`
	EphemeralPublicKey       string `json:"ephemeralPublicKey,omitempty"`
	EncryptedDevicePublicKey string `json:"encryptedDevicePublicKey"`
	ApplicationKey           string `json:"applicationKey"`
	ApplicationSignature     string `json:"applicationSignature"`
}

type prepareActivationV2Response struct {
	ActivationID                      string `json:"activationId"`
	ActivationNonce                   string `json:"activationNonce"`
	EphemeralPublicKey                string `json:"ephemeralPublicKey"`
	EncryptedServerPublicKey          string `json:"encryptedServerPublicKey"`
	EncryptedServerPublicKeySignature string `json:"encryptedServerPublicKeySignature"`
}

// Prepare handles POST /v2/activation/prepare.
func (h *LegacyHandler) Prepare(w http.ResponseWriter, r *http.Request) {
	var req prepareActivationV2Request
	if !decodeRequest(w, r, &req) {
		return
	}

	resp, err := h.service.PrepareActivationV2(r.Context(), service.PrepareActivationV2Request{
		ActivationIDShort:        req.ActivationIDShort,
		ActivationName:           req.ActivationName,
		Extras:                   req.Extras,
		ActivationNonce:          req.ActivationNonce,
		EphemeralPublicKey:       req.EphemeralPublicKey,
		EncryptedDevicePublicKey: req.EncryptedDevicePublicKey,
		ApplicationKey:           req.ApplicationKey,
		ApplicationSignature:     req.ApplicationSignature,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, prepareV2ToResponse(resp))
}

type createActivationV2Request struct {
	UserID                   string  `json:"userId"`
	ApplicationKey           string  `json:"applicationKey"`
	Identity                 string  `json:"identity"`
	ActivationOtp            string  `json:"activationOtp"`
	ActivationName           string  `json:"activationName,omitempty"`
	Extras                   string  `json:"extras,omitempty"`
	MaxFailureCount          *uint32 `json:"maxFailureCount,omitempty"`
	ActivationNonce          string  `json:"activationNonce"`
	EphemeralPublicKey       string  `json:"ephemeralPublicKey,omitempty"`
	EncryptedDevicePublicKey string  `json:"encryptedDevicePublicKey"`
	ApplicationSignature     string  `json:"applicationSignature"`
}

// Create handles POST /v2/activation/create.
func (h *LegacyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createActivationV2Request
	if !decodeRequest(w, r, &req) {
		return
	}

	resp, err := h.service.CreateActivationV2(r.Context(), service.CreateActivationV2Request{
		UserID:                   req.UserID,
		ApplicationKey:           req.ApplicationKey,
		Identity:                 req.Identity,
		ActivationOtp:            req.ActivationOtp,
		ActivationName:           req.ActivationName,
		Extras:                   req.Extras,
		MaxFailedAttempts:        req.MaxFailureCount,
		ActivationNonce:          req.ActivationNonce,
		EphemeralPublicKey:       req.EphemeralPublicKey,
		EncryptedDevicePublicKey: req.EncryptedDevicePublicKey,
		ApplicationSignature:     req.ApplicationSignature,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, prepareV2ToResponse(resp))
}

func prepareV2ToResponse(resp *service.PrepareActivationV2Response) prepareActivationV2Response {
	return prepareActivationV2Response{
		ActivationID:                      resp.ActivationID,
		ActivationNonce:                   resp.ActivationNonce,
		EphemeralPublicKey:                resp.EphemeralPublicKey,
		EncryptedServerPublicKey:          resp.EncryptedServerPublicKey,
		EncryptedServerPublicKeySignature: resp.EncryptedServerPublicKeySignature,
	}
}
