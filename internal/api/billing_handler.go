package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"cvtor/internal/api/middleware"
	"cvtor/internal/billing"
)

const maxWebhookBodyBytes = int64(65536)

// BillingHandler exposes Stripe and FedaPay checkout and webhook endpoints.
type BillingHandler struct {
	stripe  *billing.Stripe
	fedapay *billing.FedaPay
	logger  *slog.Logger
}

// NewBillingHandler builds a BillingHandler.
func NewBillingHandler(stripe *billing.Stripe, fedapay *billing.FedaPay, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{stripe: stripe, fedapay: fedapay, logger: logger}
}

// StripeCheckout opens a premium subscription checkout session.
func (h *BillingHandler) StripeCheckout(c *gin.Context) {
	user := middleware.CurrentUser(c)
	if user == nil {
		AbortUnauthorized(c)
		return
	}

	checkout, err := h.stripe.CreateCheckout(c.Request.Context(), user)
	if err != nil {
		h.replyStripeError(c, err)
		return
	}
	c.JSON(http.StatusOK, checkout)
}

// StripePortal returns a link to the Stripe customer portal.
func (h *BillingHandler) StripePortal(c *gin.Context) {
	user := middleware.CurrentUser(c)
	if user == nil {
		AbortUnauthorized(c)
		return
	}

	url, err := h.stripe.CreatePortal(c.Request.Context(), user)
	if err != nil {
		h.replyStripeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"portal_url": url})
}

// StripeWebhook verifies and applies a Stripe event.
func (h *BillingHandler) StripeWebhook(c *gin.Context) {
	logger := loggerFromContext(c, h.logger)

	payload, err := readWebhookBody(c)
	if err != nil {
		BadRequest(c, "Invalid payload")
		return
	}

	event, err := h.stripe.ConstructEvent(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, billing.ErrWebhookSecretMissing) {
			Internal(c, "Webhook secret not configured")
			return
		}
		logger.Warn("stripe webhook rejected", slog.Any("error", err))
		BadRequest(c, "Invalid signature")
		return
	}

	outcome, err := h.stripe.HandleEvent(c.Request.Context(), event)
	if err != nil {
		logger.Error("stripe webhook failed", slog.String("event_id", event.ID), slog.Any("error", err))
		Internal(c, "failed to process event")
		return
	}
	c.JSON(http.StatusOK, outcome)
}

type fedaPayCheckoutRequest struct {
	Plan   string `json:"plan"`
	Amount int64  `json:"amount"`
}

// FedaPayCheckout creates a FedaPay transaction and returns its payment page.
func (h *BillingHandler) FedaPayCheckout(c *gin.Context) {
	user := middleware.CurrentUser(c)
	if user == nil {
		AbortUnauthorized(c)
		return
	}

	var req fedaPayCheckoutRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, err.Error())
			return
		}
	}
	plan := strings.ToLower(strings.TrimSpace(req.Plan))
	if plan == "" {
		plan = "premium"
	}
	if req.Amount < 0 {
		BadRequest(c, "amount must be positive")
		return
	}

	checkout, err := h.fedapay.CreateCheckout(c.Request.Context(), user, plan, req.Amount)
	if err != nil {
		h.replyFedaPayError(c, err)
		return
	}
	c.JSON(http.StatusOK, checkout)
}

// FedaPayTransaction reports a transaction's current state.
func (h *BillingHandler) FedaPayTransaction(c *gin.Context) {
	tx, err := h.fedapay.Transaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.replyFedaPayError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// FedaPayWebhook verifies and applies a FedaPay event.
func (h *BillingHandler) FedaPayWebhook(c *gin.Context) {
	logger := loggerFromContext(c, h.logger)

	payload, err := readWebhookBody(c)
	if err != nil {
		BadRequest(c, "Invalid payload")
		return
	}

	event, err := h.fedapay.ParseEvent(payload, c.GetHeader(billing.FedaPaySignatureHeader))
	if err != nil {
		if errors.Is(err, billing.ErrWebhookSecretMissing) {
			logger.Error("fedapay webhook received without a configured secret")
			Internal(c, "Webhook secret not configured")
			return
		}
		logger.Warn("fedapay webhook rejected", slog.Any("error", err))
		if errors.Is(err, billing.ErrInvalidSignature) {
			BadRequest(c, "Invalid signature")
			return
		}
		BadRequest(c, "Invalid payload")
		return
	}

	outcome, err := h.fedapay.HandleEvent(c.Request.Context(), event)
	if err != nil {
		logger.Error("fedapay webhook failed", slog.Any("error", err))
		Internal(c, "failed to process event")
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func readWebhookBody(c *gin.Context) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes)
	return io.ReadAll(c.Request.Body)
}

func (h *BillingHandler) replyStripeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, billing.ErrNotConfigured):
		Internal(c, "Stripe is not configured")
	case errors.Is(err, billing.ErrPriceNotConfigured):
		Internal(c, "Stripe price ID not configured")
	case errors.Is(err, billing.ErrNoCustomer):
		BadRequest(c, "No Stripe customer found")
	default:
		loggerFromContext(c, h.logger).Error("stripe request failed", slog.Any("error", err))
		BadRequest(c, err.Error())
	}
}

func (h *BillingHandler) replyFedaPayError(c *gin.Context, err error) {
	if errors.Is(err, billing.ErrNotConfigured) {
		Internal(c, "FedaPay is not configured")
		return
	}
	loggerFromContext(c, h.logger).Error("fedapay request failed", slog.Any("error", err))
	BadRequest(c, err.Error())
}
