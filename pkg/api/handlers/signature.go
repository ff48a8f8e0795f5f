package handlers

import (
	"encoding/base64"
	"net/http"

	"github.com/marmos91/trustd/pkg/powerauth/crypto"
	"github.com/marmos91/trustd/pkg/powerauth/service"
)

// SignatureHandler handles online signature verification endpoints.
type SignatureHandler struct {
	service *service.Service
}

// NewSignatureHandler creates a new SignatureHandler.
func NewSignatureHandler(svc *service.Service) *SignatureHandler {
	return &SignatureHandler{service: svc}
}

type verifySignatureRequest struct {
	ActivationID   string `json:"activationId"`
	ApplicationKey string `json:"applicationKey"`
	// Data is the canonical signature base data the client signed.
	Data                   string `json:"data"`
	Signature              string `json:"signature"`
	SignatureType          string `json:"signatureType"`
	ForcedSignatureVersion *int   `json:"forcedSignatureVersion,omitempty"`
}

type verifySignatureResponse struct {
	SignatureValid    bool   `json:"signatureValid"`
	ActivationID      string `json:"activationId"`
	ActivationStatus  string `json:"activationStatus"`
	BlockedReason     string `json:"blockedReason,omitempty"`
	UserID            string `json:"userId,omitempty"`
	ApplicationID     uint   `json:"applicationId,omitempty"`
	SignatureType     string `json:"signatureType"`
	RemainingAttempts uint32 `json:"remainingAttempts"`
}

// Verify handles POST /v3/signature/verify. A failed verification is a 200
// with signatureValid false; only malformed requests and unknown entities
// produce error envelopes.
func (h *SignatureHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifySignatureRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	resp, err := h.service.VerifySignature(r.Context(), service.VerifySignatureRequest{
		ActivationID:           req.ActivationID,
		ApplicationKey:         req.ApplicationKey,
		Data:                   []byte(req.Data),
		Signature:              req.Signature,
		SignatureType:          crypto.SignatureType(req.SignatureType),
		ForcedSignatureVersion: req.ForcedSignatureVersion,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeOK(w, verifySignatureResponse{
		SignatureValid:    resp.SignatureValid,
		ActivationID:      resp.ActivationID,
		ActivationStatus:  string(resp.ActivationStatus),
		BlockedReason:     resp.BlockedReason,
		UserID:            resp.UserID,
		ApplicationID:     resp.ApplicationID,
		SignatureType:     string(resp.SignatureType),
		RemainingAttempts: resp.RemainingAttempts,
	})
}

type verifyECDSASignatureRequest struct {
	ActivationID string `json:"activationId"`
	Data         string `json:"data"`
	// Signature is the Base64 DER ECDSA signature by the device private key.
	Signature string `json:"signature"`
}

type verifyECDSASignatureResponse struct {
	SignatureValid bool `json:"signatureValid"`
}

// VerifyECDSA handles POST /v3/signature/ecdsa/verify.
func (h *SignatureHandler) VerifyECDSA(w http.ResponseWriter, r *http.Request) {
	var req verifyECDSASignatureRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	signature, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, codeInvalidRequest, "signature is not valid Base64")
		return
	}

	valid, err := h.service.VerifyECDSASignature(r.Context(), req.ActivationID, []byte(req.Data), signature)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, verifyECDSASignatureResponse{SignatureValid: valid})
}
