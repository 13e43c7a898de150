package consultation

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Ken-Miura/career-change-supporter-sub006/internal/validation"
)

// Handler provides HTTP endpoints for consultation records.
type Handler struct {
	service *Service
}

// NewHandler creates a new consultation handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up consultation routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/consultations/:consultation_id", h.GetConsultation)
	r.POST("/consultations/:consultation_id/entry", h.RecordEntry)
	r.GET("/consultants/:consultant_id/consultations", h.ListByConsultant)
}

// GetConsultation handles GET /consultations/:consultation_id
func (h *Handler) GetConsultation(c *gin.Context) {
	id, ok := validation.ParsePositiveID(c.Param("consultation_id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "consultation id must be a positive integer",
		})
		return
	}

	consultation, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrConsultationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "consultation not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "unexpected error occurred",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"consultation": consultation})
}

type recordEntryRequest struct {
	AsConsultant bool `json:"asConsultant"`
}

// RecordEntry handles POST /consultations/:consultation_id/entry
func (h *Handler) RecordEntry(c *gin.Context) {
	id, ok := validation.ParsePositiveID(c.Param("consultation_id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "consultation id must be a positive integer",
		})
		return
	}

	var req recordEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "invalid request body",
		})
		return
	}

	err := h.service.RecordEntry(c.Request.Context(), id, req.AsConsultant)
	if err != nil {
		switch {
		case errors.Is(err, ErrConsultationNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "consultation not found",
			})
		case errors.Is(err, ErrAlreadyEntered):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "already_entered",
				"message": "entry already recorded for this party",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "unexpected error occurred",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{})
}

// ListByConsultant handles GET /consultants/:consultant_id/consultations
func (h *Handler) ListByConsultant(c *gin.Context) {
	id, ok := validation.ParsePositiveID(c.Param("consultant_id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "consultant id must be a positive integer",
		})
		return
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	items, err := h.service.ListByConsultant(c.Request.Context(), id, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "unexpected error occurred",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"consultations": items})
}
