package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/channelworks/partner-sync-api/internal/dto"
	"github.com/channelworks/partner-sync-api/internal/service"
	appErrors "github.com/channelworks/partner-sync-api/pkg/errors"
	"github.com/channelworks/partner-sync-api/pkg/response"
)

type offboardingService interface {
	OffboardContact(ctx context.Context, contactID string) error
	OffboardContacts(ctx context.Context, contactIDs []string) service.BatchResult
	OffboardPartner(ctx context.Context, partnerID string) error
	OffboardPartners(ctx context.Context, partnerIDs []string) service.BatchResult
	OffboardPartnerContacts(ctx context.Context, partnerID string) (service.BatchResult, error)
}

// OffboardingHandler exposes manual offboarding endpoints.
type OffboardingHandler struct {
	service  offboardingService
	validate *validator.Validate
}

// NewOffboardingHandler builds a new handler.
func NewOffboardingHandler(service offboardingService, validate *validator.Validate) *OffboardingHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &OffboardingHandler{service: service, validate: validate}
}

// OffboardContact godoc
// @Summary Offboard one contact
// @Tags Offboarding
// @Produce json
// @Param id path string true "Contact id"
// @Success 204
// @Router /offboarding/contacts/{id} [post]
func (h *OffboardingHandler) OffboardContact(c *gin.Context) {
	if err := h.service.OffboardContact(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// OffboardContactBatch godoc
// @Summary Offboard a batch of contacts
// @Tags Offboarding
// @Accept json
// @Produce json
// @Param payload body dto.OffboardBatchRequest true "Contact ids"
// @Success 200 {object} response.Envelope
// @Router /offboarding/contacts [post]
func (h *OffboardingHandler) OffboardContactBatch(c *gin.Context) {
	var req dto.OffboardBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid offboarding payload"))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid offboarding request"))
		return
	}
	result := h.service.OffboardContacts(c.Request.Context(), req.IDs)
	response.JSON(c, http.StatusOK, result, nil)
}

// OffboardPartnerBatch godoc
// @Summary Offboard a batch of partners
// @Tags Offboarding
// @Accept json
// @Produce json
// @Param payload body dto.OffboardBatchRequest true "Partner ids"
// @Success 200 {object} response.Envelope
// @Router /offboarding/partners [post]
func (h *OffboardingHandler) OffboardPartnerBatch(c *gin.Context) {
	var req dto.OffboardBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid offboarding payload"))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid offboarding request"))
		return
	}
	result := h.service.OffboardPartners(c.Request.Context(), req.IDs)
	response.JSON(c, http.StatusOK, result, nil)
}

// OffboardPartner godoc
// @Summary Offboard a partner
// @Tags Offboarding
// @Produce json
// @Param id path string true "Partner id"
// @Param contacts query bool false "Also offboard the partner's contacts"
// @Success 200 {object} response.Envelope
// @Router /offboarding/partners/{id} [post]
func (h *OffboardingHandler) OffboardPartner(c *gin.Context) {
	partnerID := c.Param("id")

	var result *service.BatchResult
	if c.Query("contacts") == "true" {
		batch, err := h.service.OffboardPartnerContacts(c.Request.Context(), partnerID)
		if err != nil {
			response.Error(c, err)
			return
		}
		result = &batch
	}

	if err := h.service.OffboardPartner(c.Request.Context(), partnerID); err != nil {
		response.Error(c, err)
		return
	}

	if result != nil {
		response.JSON(c, http.StatusOK, result, nil)
		return
	}
	response.NoContent(c)
}
