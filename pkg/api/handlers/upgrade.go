package handlers

import (
	"net/http"

	"github.com/marmos91/trustd/pkg/powerauth/service"
)

// UpgradeHandler handles version 2 to 3 migration endpoints.
type UpgradeHandler struct {
	service *service.Service
}

// NewUpgradeHandler creates a new UpgradeHandler.
func NewUpgradeHandler(svc *service.Service) *UpgradeHandler {
	return &UpgradeHandler{service: svc}
}

type upgradeRequest struct {
	ActivationID string `json:"activationId"`
}

type startUpgradeResponse struct {
	ActivationID string `json:"activationId"`
	CtrData      string `json:"ctrData"`
}

// Start handles POST /v3/upgrade/start.
func (h *UpgradeHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req upgradeRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	resp, err := h.service.StartUpgrade(r.Context(), req.ActivationID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, startUpgradeResponse{ActivationID: resp.ActivationID, CtrData: resp.CtrData})
}

type commitUpgradeResponse struct {
	ActivationID string `json:"activationId"`
	Committed    bool   `json:"committed"`
}

// Commit handles POST /v3/upgrade/commit.
func (h *UpgradeHandler) Commit(w http.ResponseWriter, r *http.Request) {
	var req upgradeRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	if err := h.service.CommitUpgrade(r.Context(), req.ActivationID); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, commitUpgradeResponse{ActivationID: req.ActivationID, Committed: true})
}
