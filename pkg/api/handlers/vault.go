package handlers

import (
	"net/http"

	"github.com/marmos91/trustd/pkg/powerauth/crypto"
	"github.com/marmos91/trustd/pkg/powerauth/service"
)

// VaultHandler handles the secure vault endpoint.
type VaultHandler struct {
	service *service.Service
}

// NewVaultHandler creates a new VaultHandler.
func NewVaultHandler(svc *service.Service) *VaultHandler {
	return &VaultHandler{service: svc}
}

type vaultUnlockRequest struct {
	ActivationID   string `json:"activationId"`
	ApplicationKey string `json:"applicationKey"`
	Data           string `json:"data"`
	Signature      string `json:"signature"`
	SignatureType  string `json:"signatureType"`
	Reason         string `json:"reason,omitempty"`
}

type vaultUnlockResponse struct {
	ActivationID                string `json:"activationId"`
	UserID                      string `json:"userId,omitempty"`
	ActivationStatus            string `json:"activationStatus"`
	BlockedReason               string `json:"blockedReason,omitempty"`
	SignatureValid              bool   `json:"signatureValid"`
	RemainingAttempts           uint32 `json:"remainingAttempts"`
	EncryptedVaultEncryptionKey string `json:"encryptedVaultEncryptionKey,omitempty"`
}

// Unlock handles POST /v3/vault/unlock. The vault key is released only with a
// valid signature; an invalid one still burns a counter value.
func (h *VaultHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	var req vaultUnlockRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	resp, err := h.service.VaultUnlock(r.Context(), service.VerifySignatureRequest{
		ActivationID:   req.ActivationID,
		ApplicationKey: req.ApplicationKey,
		Data:           []byte(req.Data),
		Signature:      req.Signature,
		SignatureType:  crypto.SignatureType(req.SignatureType),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeOK(w, vaultUnlockResponse{
		ActivationID:                resp.ActivationID,
		UserID:                      resp.UserID,
		ActivationStatus:            string(resp.ActivationStatus),
		BlockedReason:               resp.BlockedReason,
		SignatureValid:              resp.SignatureValid,
		RemainingAttempts:           resp.RemainingAttempts,
		EncryptedVaultEncryptionKey: resp.EncryptedVaultEncryptionKey,
	})
}
