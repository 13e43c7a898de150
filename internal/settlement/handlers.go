package settlement

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Ken-Miura/career-change-supporter-sub006/internal/adminauth"
	"github.com/Ken-Miura/career-change-supporter-sub006/internal/validation"
)

// Handler provides HTTP endpoints for settlement operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new settlement handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the consultant-facing settlement routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/consultation-requests/acceptance", h.AcceptRequest)
}

// RegisterAdminRoutes sets up the back-office settlement routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/awaiting-payments", h.ListAwaitingPayments)
	r.GET("/awaiting-payments/neglect-candidates", h.ListNeglectCandidates)
	r.GET("/awaiting-withdrawals", h.ListAwaitingWithdrawals)

	r.POST("/awaiting-payments/:consultation_id/payment-confirmation", h.ConfirmPayment)
	r.POST("/awaiting-payments/:consultation_id/neglect", h.NeglectPayment)
	r.POST("/awaiting-payments/:consultation_id/refund", h.RefundAwaitingPayment)
	r.POST("/awaiting-payments/:consultation_id/stop", h.StopSettlement)

	r.POST("/stopped-settlements/:settlement_id/resume", h.ResumeStoppedSettlement)
	r.POST("/stopped-settlements/:settlement_id/refund", h.RefundStoppedSettlement)

	r.POST("/awaiting-withdrawals/:consultation_id/payout-confirmation", h.PayWithdrawal)
	r.POST("/awaiting-withdrawals/:consultation_id/refund", h.RefundAwaitingWithdrawal)
}

// AcceptRequest handles POST /consultation-requests/acceptance
func (h *Handler) AcceptRequest(c *gin.Context) {
	var req AcceptRequestInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    CodeInvalidAcceptRequest,
			"message": "invalid request body",
		})
		return
	}
	if errs := validation.Validate(
		validation.PositiveID("user_account_id", req.UserAccountID),
		validation.PositiveID("consultant_id", req.ConsultantID),
		validation.Required("charge_id", req.ChargeID),
		validation.MaxLength("charge_id", req.ChargeID, 255),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    CodeInvalidAcceptRequest,
			"message": errs.Error(),
		})
		return
	}
	if !validation.IsValidFeePerHourInYen(req.FeePerHourInYen) {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    CodeInvalidFeePerHourInYen,
			"message": "fee per hour in yen is out of range",
		})
		return
	}

	consultation, err := h.service.AcceptRequest(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalidFee) {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    CodeInvalidFeePerHourInYen,
				"message": "fee per hour in yen does not match the charge",
			})
			return
		}
		writeUnexpected(c)
		return
	}

	c.JSON(http.StatusOK, gin.H{"consultation": consultation})
}

// ConfirmPayment handles POST /awaiting-payments/:consultation_id/payment-confirmation
func (h *Handler) ConfirmPayment(c *gin.Context) {
	h.decide(c, "consultation_id", CodeConsultationIDNotPositive, h.service.ConfirmPayment)
}

// NeglectPayment handles POST /awaiting-payments/:consultation_id/neglect
func (h *Handler) NeglectPayment(c *gin.Context) {
	h.decide(c, "consultation_id", CodeConsultationIDNotPositive, h.service.NeglectPayment)
}

// RefundAwaitingPayment handles POST /awaiting-payments/:consultation_id/refund
func (h *Handler) RefundAwaitingPayment(c *gin.Context) {
	h.decide(c, "consultation_id", CodeConsultationIDNotPositive, h.service.RefundAwaitingPayment)
}

// StopSettlement handles POST /awaiting-payments/:consultation_id/stop
func (h *Handler) StopSettlement(c *gin.Context) {
	consultationID, ok := validation.ParsePositiveID(c.Param("consultation_id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    CodeConsultationIDNotPositive,
			"message": "consultation id must be a positive integer",
		})
		return
	}

	settlementID, err := h.service.StopSettlement(c.Request.Context(), consultationID, adminauth.AdminAccountID(c))
	if err != nil {
		writeDecisionError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"settlementId": settlementID})
}

// ResumeStoppedSettlement handles POST /stopped-settlements/:settlement_id/resume
func (h *Handler) ResumeStoppedSettlement(c *gin.Context) {
	h.decide(c, "settlement_id", CodeSettlementIDNotPositive, h.service.ResumeStoppedSettlement)
}

// RefundStoppedSettlement handles POST /stopped-settlements/:settlement_id/refund
func (h *Handler) RefundStoppedSettlement(c *gin.Context) {
	h.decide(c, "settlement_id", CodeSettlementIDNotPositive, h.service.RefundStoppedSettlement)
}

// PayWithdrawal handles POST /awaiting-withdrawals/:consultation_id/payout-confirmation
func (h *Handler) PayWithdrawal(c *gin.Context) {
	h.decide(c, "consultation_id", CodeConsultationIDNotPositive, h.service.PayWithdrawal)
}

// RefundAwaitingWithdrawal handles POST /awaiting-withdrawals/:consultation_id/refund
func (h *Handler) RefundAwaitingWithdrawal(c *gin.Context) {
	h.decide(c, "consultation_id", CodeConsultationIDNotPositive, h.service.RefundAwaitingWithdrawal)
}

// decide parses the path ID, runs one admin decision and writes the uniform
// success or error response.
func (h *Handler) decide(c *gin.Context, param string, badIDCode int,
	op func(ctx context.Context, id, adminAccountID int64) error) {

	id, ok := validation.ParsePositiveID(c.Param(param))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    badIDCode,
			"message": param + " must be a positive integer",
		})
		return
	}

	if err := op(c.Request.Context(), id, adminauth.AdminAccountID(c)); err != nil {
		writeDecisionError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{})
}

// ListAwaitingPayments handles GET /awaiting-payments
func (h *Handler) ListAwaitingPayments(c *gin.Context) {
	limit, offset := pageParams(c)
	items, err := h.service.ListAwaitingPayments(c.Request.Context(), limit, offset)
	if err != nil {
		writeUnexpected(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"awaitingPayments": items})
}

// ListNeglectCandidates handles GET /awaiting-payments/neglect-candidates
func (h *Handler) ListNeglectCandidates(c *gin.Context) {
	limit, _ := pageParams(c)
	items, err := h.service.ListNeglectCandidates(c.Request.Context(), limit)
	if err != nil {
		writeUnexpected(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"neglectCandidates": items})
}

// ListAwaitingWithdrawals handles GET /awaiting-withdrawals
func (h *Handler) ListAwaitingWithdrawals(c *gin.Context) {
	limit, offset := pageParams(c)
	items, err := h.service.ListAwaitingWithdrawals(c.Request.Context(), limit, offset)
	if err != nil {
		writeUnexpected(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"awaitingWithdrawals": items})
}

func pageParams(c *gin.Context) (limit, offset int) {
	limit = 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}
	if o := c.Query("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed > 0 {
			offset = parsed
		}
	}
	return limit, offset
}

func writeDecisionError(c *gin.Context, err error) {
	if errors.Is(err, ErrCreditFacilitiesExpired) {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    CodeCreditFacilitiesAlreadyExpired,
			"message": "credit facilities of the charge have already expired",
		})
		return
	}
	writeUnexpected(c)
}

func writeUnexpected(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, gin.H{
		"code":    CodeUnexpectedError,
		"message": "unexpected error occurred",
	})
}
