package handlers

import (
	"net/http"
	"time"

	"github.com/marmos91/trustd/pkg/powerauth/model"
	"github.com/marmos91/trustd/pkg/powerauth/service"
	"github.com/marmos91/trustd/pkg/powerauth/store"
)

// ActivationHandler handles the activation lifecycle endpoints.
type ActivationHandler struct {
	service *service.Service
}

// NewActivationHandler creates a new ActivationHandler.
func NewActivationHandler(svc *service.Service) *ActivationHandler {
	return &ActivationHandler{service: svc}
}

type initActivationRequest struct {
	UserID                    string     `json:"userId"`
	ApplicationID             uint       `json:"applicationId"`
	ActivationOtpValidation   string     `json:"activationOtpValidation,omitempty"`
	ActivationOtp             string     `json:"activationOtp,omitempty"`
	MaxFailureCount           *uint32    `json:"maxFailureCount,omitempty"`
	TimestampActivationExpire *time.Time `json:"timestampActivationExpire,omitempty"`
	Version                   int        `json:"version,omitempty"`
}

type initActivationResponse struct {
	ActivationID        string `json:"activationId"`
	UserID              string `json:"userId"`
	ActivationCode      string `json:"activationCode,omitempty"`
	ActivationIDShort   string `json:"activationIdShort,omitempty"`
	ActivationOtp       string `json:"activationOtp,omitempty"`
	ActivationSignature string `json:"activationSignature"`
}

// Init handles POST /v3/activation/init.
func (h *ActivationHandler) Init(w http.ResponseWriter, r *http.Request) {
	var req initActivationRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	resp, err := h.service.InitActivation(r.Context(), service.InitActivationRequest{
		UserID:                  req.UserID,
		ApplicationID:           req.ApplicationID,
		Version:                 req.Version,
		MaxFailedAttempts:       req.MaxFailureCount,
		ActivationExpire:        req.TimestampActivationExpire,
		ActivationOtp:           req.ActivationOtp,
		ActivationOtpValidation: model.OtpValidation(req.ActivationOtpValidation),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeOK(w, initActivationResponse{
		ActivationID:        resp.ActivationID,
		UserID:              resp.UserID,
		ActivationCode:      resp.ActivationCode,
		ActivationIDShort:   resp.ActivationIDShort,
		ActivationOtp:       resp.ActivationOtp,
		ActivationSignature: resp.ActivationSignature,
	})
}

type prepareActivationRequest struct {
	ActivationCode     string `json:"activationCode"`
	ApplicationKey     string `json:"applicationKey"`
	EphemeralPublicKey string `json:"ephemeralPublicKey"`
	EncryptedData      string `json:"encryptedData"`
	MAC                string `json:"mac"`
}

type prepareActivationResponse struct {
	ActivationID       string `json:"activationId"`
	ActivationStatus   string `json:"activationStatus"`
	EphemeralPublicKey string `json:"ephemeralPublicKey"`
	EncryptedData      string `json:"encryptedData"`
	MAC                string `json:"mac"`
}

// Prepare handles POST /v3/activation/prepare.
func (h *ActivationHandler) Prepare(w http.ResponseWriter, r *http.Request) {
	var req prepareActivationRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	resp, err := h.service.PrepareActivation(r.Context(), service.PrepareActivationRequest{
		ActivationCode:     req.ActivationCode,
		ApplicationKey:     req.ApplicationKey,
		EphemeralPublicKey: req.EphemeralPublicKey,
		EncryptedData:      req.EncryptedData,
		MAC:                req.MAC,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeOK(w, prepareActivationResponse{
		ActivationID:       resp.ActivationID,
		ActivationStatus:   string(resp.ActivationStatus),
		EphemeralPublicKey: resp.EphemeralPublicKey,
		EncryptedData:      resp.EncryptedData,
		MAC:                resp.MAC,
	})
}

type commitActivationRequest struct {
	ActivationID   string  `json:"activationId"`
	ActivationOtp  string  `json:"activationOtp,omitempty"`
	ExternalUserID *string `json:"externalUserId,omitempty"`
}

type commitActivationResponse struct {
	ActivationID string `json:"activationId"`
	Activated    bool   `json:"activated"`
}

// Commit handles POST /v3/activation/commit.
func (h *ActivationHandler) Commit(w http.ResponseWriter, r *http.Request) {
	var req commitActivationRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	if err := h.service.CommitActivation(r.Context(), req.ActivationID, req.ActivationOtp, req.ExternalUserID); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, commitActivationResponse{ActivationID: req.ActivationID, Activated: true})
}

type activationIDRequest struct {
	ActivationID   string  `json:"activationId"`
	ExternalUserID *string `json:"externalUserId,omitempty"`
}

type activationStatusResponse struct {
	ActivationID      string    `json:"activationId"`
	ActivationStatus  string    `json:"activationStatus"`
	BlockedReason     string    `json:"blockedReason,omitempty"`
	ActivationName    string    `json:"activationName,omitempty"`
	UserID            string    `json:"userId,omitempty"`
	ApplicationID     uint      `json:"applicationId,omitempty"`
	Version           int       `json:"version,omitempty"`
	FailedAttempts    uint32    `json:"failedAttempts"`
	MaxFailedAttempts uint32    `json:"maxFailedAttempts"`
	ActivationFlags   []string  `json:"activationFlags,omitempty"`
	TimestampCreated  time.Time `json:"timestampCreated"`
	TimestampLastUsed time.Time `json:"timestampLastUsed"`
}

// Status handles POST /v3/activation/status.
func (h *ActivationHandler) Status(w http.ResponseWriter, r *http.Request) {
	var req activationIDRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	resp, err := h.service.GetActivationStatus(r.Context(), req.ActivationID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeOK(w, activationStatusResponse{
		ActivationID:      resp.ActivationID,
		ActivationStatus:  string(resp.ActivationStatus),
		BlockedReason:     resp.BlockedReason,
		ActivationName:    resp.ActivationName,
		UserID:            resp.UserID,
		ApplicationID:     resp.ApplicationID,
		Version:           resp.Version,
		FailedAttempts:    resp.FailedAttempts,
		MaxFailedAttempts: resp.MaxFailedAttempts,
		ActivationFlags:   resp.ActivationFlags,
		TimestampCreated:  resp.TimestampCreated,
		TimestampLastUsed: resp.TimestampLastUsed,
	})
}

type removedResponse struct {
	ActivationID string `json:"activationId"`
	Removed      bool   `json:"removed"`
}

// Remove handles POST /v3/activation/remove.
func (h *ActivationHandler) Remove(w http.ResponseWriter, r *http.Request) {
	var req activationIDRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	if err := h.service.RemoveActivation(r.Context(), req.ActivationID, req.ExternalUserID); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, removedResponse{ActivationID: req.ActivationID, Removed: true})
}

type blockActivationRequest struct {
	ActivationID   string  `json:"activationId"`
	Reason         string  `json:"reason,omitempty"`
	ExternalUserID *string `json:"externalUserId,omitempty"`
}

type blockActivationResponse struct {
	ActivationID     string `json:"activationId"`
	ActivationStatus string `json:"activationStatus"`
	BlockedReason    string `json:"blockedReason,omitempty"`
}

// Block handles POST /v3/activation/block.
func (h *ActivationHandler) Block(w http.ResponseWriter, r *http.Request) {
	var req blockActivationRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	if err := h.service.BlockActivation(r.Context(), req.ActivationID, req.Reason, req.ExternalUserID); err != nil {
		writeError(w, err)
		return
	}

	status, err := h.service.GetActivationStatus(r.Context(), req.ActivationID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, blockActivationResponse{
		ActivationID:     req.ActivationID,
		ActivationStatus: string(status.ActivationStatus),
		BlockedReason:    status.BlockedReason,
	})
}

// Unblock handles POST /v3/activation/unblock.
func (h *ActivationHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	var req activationIDRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	if err := h.service.UnblockActivation(r.Context(), req.ActivationID, req.ExternalUserID); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, blockActivationResponse{
		ActivationID:     req.ActivationID,
		ActivationStatus: string(model.StatusActive),
	})
}

type updateOtpRequest struct {
	ActivationID   string  `json:"activationId"`
	ActivationOtp  string  `json:"activationOtp"`
	ExternalUserID *string `json:"externalUserId,omitempty"`
}

type updateOtpResponse struct {
	ActivationID string `json:"activationId"`
	Updated      bool   `json:"updated"`
}

// UpdateOtp handles POST /v3/activation/otp/update.
func (h *ActivationHandler) UpdateOtp(w http.ResponseWriter, r *http.Request) {
	var req updateOtpRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	if err := h.service.UpdateActivationOtp(r.Context(), req.ActivationID, req.ActivationOtp, req.ExternalUserID); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, updateOtpResponse{ActivationID: req.ActivationID, Updated: true})
}

type listActivationsRequest struct {
	UserID        string `json:"userId"`
	ApplicationID *uint  `json:"applicationId,omitempty"`
}

type activationListItem struct {
	ActivationID      string    `json:"activationId"`
	ActivationStatus  string    `json:"activationStatus"`
	BlockedReason     string    `json:"blockedReason,omitempty"`
	ActivationName    string    `json:"activationName,omitempty"`
	UserID            string    `json:"userId"`
	ApplicationID     uint      `json:"applicationId"`
	Version           int       `json:"version"`
	TimestampCreated  time.Time `json:"timestampCreated"`
	TimestampLastUsed time.Time `json:"timestampLastUsed"`
}

type activationListResponse struct {
	Activations []activationListItem `json:"activations"`
}

// List handles POST /v3/activation/list.
func (h *ActivationHandler) List(w http.ResponseWriter, r *http.Request) {
	var req listActivationsRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	activations, err := h.service.ListActivations(r.Context(), req.UserID, req.ApplicationID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, activationListResponse{Activations: activationsToItems(activations)})
}

type lookupActivationsRequest struct {
	UserIDs                 []string   `json:"userIds,omitempty"`
	ApplicationIDs          []uint     `json:"applicationIds,omitempty"`
	ActivationStatus        string     `json:"activationStatus,omitempty"`
	TimestampLastUsedBefore *time.Time `json:"timestampLastUsedBefore,omitempty"`
}

// Lookup handles POST /v3/activation/lookup.
func (h *ActivationHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	var req lookupActivationsRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	activations, err := h.service.LookupActivations(r.Context(), store.LookupFilter{
		UserIDs:                 req.UserIDs,
		ApplicationIDs:          req.ApplicationIDs,
		Status:                  model.ActivationStatus(req.ActivationStatus),
		TimestampLastUsedBefore: req.TimestampLastUsedBefore,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, activationListResponse{Activations: activationsToItems(activations)})
}

type activationHistoryRequest struct {
	ActivationID  string     `json:"activationId"`
	TimestampFrom *time.Time `json:"timestampFrom,omitempty"`
	TimestampTo   *time.Time `json:"timestampTo,omitempty"`
}

type activationHistoryItem struct {
	ActivationID     string    `json:"activationId"`
	ActivationStatus string    `json:"activationStatus"`
	ExternalUserID   *string   `json:"externalUserId,omitempty"`
	TimestampCreated time.Time `json:"timestampCreated"`
}

type activationHistoryResponse struct {
	Items []activationHistoryItem `json:"items"`
}

// History handles POST /v3/activation/history.
func (h *ActivationHandler) History(w http.ResponseWriter, r *http.Request) {
	var req activationHistoryRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	entries, err := h.service.ActivationHistory(r.Context(), req.ActivationID, req.TimestampFrom, req.TimestampTo)
	if err != nil {
		writeError(w, err)
		return
	}

	items := make([]activationHistoryItem, len(entries))
	for i, e := range entries {
		items[i] = activationHistoryItem{
			ActivationID:     e.ActivationID,
			ActivationStatus: string(e.Status),
			ExternalUserID:   e.ExternalUserID,
			TimestampCreated: e.TimestampCreated,
		}
	}
	writeOK(w, activationHistoryResponse{Items: items})
}

func activationsToItems(activations []*model.Activation) []activationListItem {
	items := make([]activationListItem, len(activations))
	for i, a := range activations {
		item := activationListItem{
			ActivationID:      a.ActivationID,
			ActivationStatus:  string(a.ActivationStatus),
			UserID:            a.UserID,
			ApplicationID:     a.ApplicationID,
			Version:           a.Version,
			TimestampCreated:  a.TimestampCreated,
			TimestampLastUsed: a.TimestampLastUsed,
		}
		if a.BlockedReason != nil {
			item.BlockedReason = *a.BlockedReason
		}
		if a.ActivationName != nil {
			item.ActivationName = *a.ActivationName
		}
		items[i] = item
	}
	return items
}
