package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/channelworks/partner-sync-api/internal/dto"
	"github.com/channelworks/partner-sync-api/internal/models"
	"github.com/channelworks/partner-sync-api/internal/service"
	appErrors "github.com/channelworks/partner-sync-api/pkg/errors"
	"github.com/channelworks/partner-sync-api/pkg/jobs"
	"github.com/channelworks/partner-sync-api/pkg/response"
)

type syncService interface {
	Preflight() error
	Status(ctx context.Context) (service.StatusReport, error)
	RecentRuns(ctx context.Context, limit int) ([]models.SyncRun, error)
	RunByID(ctx context.Context, id string) (*models.SyncRun, error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// SyncPayload is the job payload carried from the trigger endpoint to the
// background chain runner.
type SyncPayload struct {
	Types []models.SyncType
	Mode  models.SyncMode
}

// SyncHandler exposes the sync trigger, status, and audit endpoints.
type SyncHandler struct {
	service  syncService
	queue    jobEnqueuer
	validate *validator.Validate
}

// NewSyncHandler builds a new handler.
func NewSyncHandler(service syncService, queue jobEnqueuer, validate *validator.Validate) *SyncHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &SyncHandler{service: service, queue: queue, validate: validate}
}

// Trigger godoc
// @Summary Trigger a sync chain
// @Tags Sync
// @Accept json
// @Produce json
// @Param payload body dto.TriggerSyncRequest false "Sync selection"
// @Success 202 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /sync/runs [post]
func (h *SyncHandler) Trigger(c *gin.Context) {
	var req dto.TriggerSyncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid sync request payload"))
			return
		}
	}
	if err := h.validate.Struct(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid sync request"))
		return
	}

	if err := h.service.Preflight(); err != nil {
		response.Error(c, err)
		return
	}

	mode := models.SyncModeIncremental
	if req.Mode == string(models.SyncModeFull) {
		mode = models.SyncModeFull
	}
	types := make([]models.SyncType, 0, len(req.Types))
	for _, raw := range req.Types {
		types = append(types, models.SyncType(raw))
	}

	jobID := uuid.NewString()
	err := h.queue.Enqueue(jobs.Job{
		ID:      jobID,
		Type:    "sync_chain",
		Payload: SyncPayload{Types: types, Mode: mode},
	})
	if err != nil {
		response.Error(c, appErrors.From(appErrors.ErrInternal, err))
		return
	}

	response.Accepted(c, dto.TriggerSyncResponse{
		JobID: jobID,
		Types: req.Types,
		Mode:  string(mode),
	})
}

// Status godoc
// @Summary Engine status
// @Tags Sync
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /sync/status [get]
func (h *SyncHandler) Status(c *gin.Context) {
	report, err := h.service.Status(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// ListRuns godoc
// @Summary List sync runs
// @Tags Sync
// @Produce json
// @Param limit query int false "Maximum rows"
// @Success 200 {object} response.Envelope
// @Router /sync/runs [get]
func (h *SyncHandler) ListRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := h.service.RecentRuns(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, runs, nil)
}

// GetRun godoc
// @Summary Get one sync run
// @Tags Sync
// @Produce json
// @Param id path string true "Run id"
// @Success 200 {object} response.Envelope
// @Router /sync/runs/{id} [get]
func (h *SyncHandler) GetRun(c *gin.Context) {
	run, err := h.service.RunByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, run, nil)
}
