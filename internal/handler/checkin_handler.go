package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gympoint/gympoint-api/internal/models"
	"github.com/gympoint/gympoint-api/internal/service"
	appErrors "github.com/gympoint/gympoint-api/pkg/errors"
	"github.com/gympoint/gympoint-api/pkg/response"
)

type checkinEngine interface {
	Attempt(ctx context.Context, studentID string, req service.CheckinRequest) (*models.Checkin, error)
	History(ctx context.Context, studentID string) ([]models.Checkin, error)
	ExportHistory(ctx context.Context, studentID, format string) ([]byte, string, error)
}

type checkinMetrics interface {
	ObserveCheckinDecision(outcome string)
}

// CheckinHandler exposes check-in endpoints.
type CheckinHandler struct {
	checkins checkinEngine
	metrics  checkinMetrics
}

// NewCheckinHandler constructs CheckinHandler. metrics may be nil.
func NewCheckinHandler(checkins checkinEngine, metrics checkinMetrics) *CheckinHandler {
	return &CheckinHandler{checkins: checkins, metrics: metrics}
}

// Create godoc
// @Summary Attempt a gym check-in
// @Tags Checkins
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body service.CheckinRequest true "Check-in payload"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/checkins [post]
func (h *CheckinHandler) Create(c *gin.Context) {
	var req service.CheckinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	checkin, err := h.checkins.Attempt(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.observe(appErrors.FromError(err).Code)
		response.Error(c, err)
		return
	}
	h.observe("ADMITTED")
	response.Created(c, checkin)
}

// List godoc
// @Summary List a student's check-ins, newest first
// @Tags Checkins
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/checkins [get]
func (h *CheckinHandler) List(c *gin.Context) {
	checkins, err := h.checkins.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, checkins, nil)
}

// Export godoc
// @Summary Export a student's check-in history
// @Tags Checkins
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Student ID"
// @Param format query string false "csv or pdf"
// @Success 200 {file} binary
// @Router /students/{id}/checkins/export [get]
func (h *CheckinHandler) Export(c *gin.Context) {
	studentID := c.Param("id")
	format := c.DefaultQuery("format", "csv")
	payload, contentType, err := h.checkins.ExportHistory(c.Request.Context(), studentID, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	ext := "csv"
	if contentType == "application/pdf" {
		ext = "pdf"
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="checkins-%s.%s"`, studentID, ext))
	c.Data(http.StatusOK, contentType, payload)
}

func (h *CheckinHandler) observe(outcome string) {
	if h.metrics != nil {
		h.metrics.ObserveCheckinDecision(outcome)
	}
}
