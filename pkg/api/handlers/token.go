package handlers

import (
	"net/http"

	"github.com/marmos91/trustd/pkg/powerauth/crypto"
	"github.com/marmos91/trustd/pkg/powerauth/service"
)

// TokenHandler handles token issuance and validation endpoints.
type TokenHandler struct {
	service *service.Service
}

// NewTokenHandler creates a new TokenHandler.
func NewTokenHandler(svc *service.Service) *TokenHandler {
	return &TokenHandler{service: svc}
}

type createTokenRequest struct {
	ActivationID  string `json:"activationId"`
	SignatureType string `json:"signatureType"`
}

type createTokenResponse struct {
	TokenID     string `json:"tokenId"`
	TokenSecret string `json:"tokenSecret"`
}

// Create handles POST /v3/token/create.
func (h *TokenHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTokenRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	resp, err := h.service.CreateToken(r.Context(), req.ActivationID, crypto.SignatureType(req.SignatureType))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, createTokenResponse{TokenID: resp.TokenID, TokenSecret: resp.TokenSecret})
}

type validateTokenRequest struct {
	TokenID     string `json:"tokenId"`
	Nonce       string `json:"nonce"`
	Timestamp   string `json:"timestamp"`
	TokenDigest string `json:"tokenDigest"`
}

type validateTokenResponse struct {
	TokenValid       bool   `json:"tokenValid"`
	ActivationID     string `json:"activationId,omitempty"`
	UserID           string `json:"userId,omitempty"`
	ApplicationID    uint   `json:"applicationId,omitempty"`
	SignatureType    string `json:"signatureType,omitempty"`
	ActivationStatus string `json:"activationStatus,omitempty"`
}

// Validate handles POST /v3/token/validate.
func (h *TokenHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateTokenRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	resp, err := h.service.ValidateToken(r.Context(), req.TokenID, req.Nonce, req.Timestamp, req.TokenDigest)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, validateTokenResponse{
		TokenValid:       resp.TokenValid,
		ActivationID:     resp.ActivationID,
		UserID:           resp.UserID,
		ApplicationID:    resp.ApplicationID,
		SignatureType:    string(resp.SignatureType),
		ActivationStatus: string(resp.ActivationStatus),
	})
}

type removeTokenRequest struct {
	TokenID      string `json:"tokenId"`
	ActivationID string `json:"activationId"`
}

type removeTokenResponse struct {
	TokenID string `json:"tokenId"`
	Removed bool   `json:"removed"`
}

// Remove handles POST /v3/token/remove.
func (h *TokenHandler) Remove(w http.ResponseWriter, r *http.Request) {
	var req removeTokenRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	if err := h.service.RemoveToken(r.Context(), req.TokenID, req.ActivationID); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, removeTokenResponse{TokenID: req.TokenID, Removed: true})
}
