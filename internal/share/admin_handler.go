package share

import (
	"net/http"

	"github.com/droplite/service/internal/response"
)

// AdminHandler exposes operator maintenance endpoints.
type AdminHandler struct {
	sweeper *Sweeper
}

func NewAdminHandler(sweeper *Sweeper) *AdminHandler {
	return &AdminHandler{sweeper: sweeper}
}

type sweepResponse struct {
	Success bool         `json:"success" example:"true"`
	Result  *SweepResult `json:"result"`
}

// Sweep godoc
//
//	@Summary		Run a sweep
//	@Description	Deletes expired files and retries pending orphan-blob deletes.
//	@Tags			admin
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	sweepResponse
//	@Failure		401	{object}	response.Envelope
//	@Router			/admin/sweep [post]
func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	response.OK(w, sweepResponse{Success: true, Result: h.sweeper.RunOnce(r.Context())})
}

// Reconcile godoc
//
//	@Summary		Reconcile blob storage
//	@Description	Deletes stored blobs that no file record references.
//	@Tags			admin
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	sweepResponse
//	@Failure		401	{object}	response.Envelope
//	@Router			/admin/reconcile [post]
func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	response.OK(w, sweepResponse{Success: true, Result: h.sweeper.Reconcile(r.Context())})
}
