package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/client"
	"github.com/stripe/stripe-go/v75/webhook"

	"cvtor/internal/config"
	"cvtor/internal/database"
	"cvtor/internal/metrics"
)

// ProviderStripe names Stripe in the billing ledger.
const ProviderStripe = "stripe"

var (
	// ErrPriceNotConfigured means STRIPE_PREMIUM_PRICE_ID is missing.
	ErrPriceNotConfigured = errors.New("billing: stripe price id not configured")
	// ErrNoCustomer means the account never went through checkout.
	ErrNoCustomer = errors.New("billing: no stripe customer")
	// ErrWebhookSecretMissing means webhooks cannot be verified.
	ErrWebhookSecretMissing = errors.New("billing: webhook secret not configured")
	// ErrInvalidSignature covers malformed payloads and bad signatures.
	ErrInvalidSignature = errors.New("billing: invalid webhook signature")
)

// StripeGateway is the subset of the Stripe API used for subscriptions.
type StripeGateway interface {
	CreateCustomer(ctx context.Context, email string, userID uint) (string, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*Checkout, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}

// CheckoutRequest describes one subscription checkout.
type CheckoutRequest struct {
	CustomerID string
	PriceID    string
	SuccessURL string
	CancelURL  string
	UserID     uint
}

// Checkout is a created hosted checkout.
type Checkout struct {
	URL       string `json:"checkout_url"`
	SessionID string `json:"session_id"`
}

type stripeAPI struct {
	api *client.API
}

// NewStripeGateway wraps a keyed Stripe client.
func NewStripeGateway(secretKey string) StripeGateway {
	return &stripeAPI{api: client.New(secretKey, nil)}
}

func (s *stripeAPI) CreateCustomer(ctx context.Context, email string, userID uint) (string, error) {
	params := &stripe.CustomerParams{Email: stripe.String(email)}
	params.Context = ctx
	params.AddMetadata("user_id", strconv.FormatUint(uint64(userID), 10))
	cust, err := s.api.Customers.New(params)
	if err != nil {
		return "", err
	}
	return cust.ID, nil
}

func (s *stripeAPI) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	params := &stripe.CheckoutSessionParams{
		Customer:           stripe.String(req.CustomerID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)},
		},
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	params.Context = ctx
	params.AddMetadata("user_id", strconv.FormatUint(uint64(req.UserID), 10))
	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, err
	}
	return &Checkout{URL: sess.URL, SessionID: sess.ID}, nil
}

func (s *stripeAPI) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx
	sess, err := s.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", err
	}
	return sess.URL, nil
}

// Stripe runs checkout and reconciles Stripe webhooks into subscription state.
type Stripe struct {
	cfg           config.StripeConfig
	frontendURL   string
	gateway       StripeGateway
	subscriptions *Subscriptions
	logger        *slog.Logger
}

// NewStripe creates the Stripe service. gateway may be nil when Stripe is not configured.
func NewStripe(cfg config.StripeConfig, frontendURL string, gateway StripeGateway, subs *Subscriptions, logger *slog.Logger) *Stripe {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stripe{
		cfg:           cfg,
		frontendURL:   strings.TrimRight(frontendURL, "/"),
		gateway:       gateway,
		subscriptions: subs,
		logger:        logger,
	}
}

// Enabled reports whether checkout can be attempted.
func (s *Stripe) Enabled() bool {
	return s.gateway != nil && s.cfg.Enabled()
}

// CreateCheckout opens a premium subscription checkout, creating the customer first when needed.
func (s *Stripe) CreateCheckout(ctx context.Context, user *database.User) (*Checkout, error) {
	if !s.Enabled() {
		return nil, ErrNotConfigured
	}

	if user.StripeCustomerID == nil || *user.StripeCustomerID == "" {
		customerID, err := s.gateway.CreateCustomer(ctx, user.Email, user.ID)
		if err != nil {
			return nil, fmt.Errorf("create stripe customer: %w", err)
		}
		if err := s.subscriptions.SetStripeCustomer(ctx, user.ID, customerID); err != nil {
			return nil, err
		}
		user.StripeCustomerID = &customerID
	}

	if strings.TrimSpace(s.cfg.PremiumPriceID) == "" {
		return nil, ErrPriceNotConfigured
	}

	return s.gateway.CreateCheckoutSession(ctx, CheckoutRequest{
		CustomerID: *user.StripeCustomerID,
		PriceID:    s.cfg.PremiumPriceID,
		SuccessURL: s.frontendURL + "/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  s.frontendURL + "/pricing",
		UserID:     user.ID,
	})
}

// CreatePortal returns a billing portal URL for an existing customer.
func (s *Stripe) CreatePortal(ctx context.Context, user *database.User) (string, error) {
	if !s.Enabled() {
		return "", ErrNotConfigured
	}
	if user.StripeCustomerID == nil || *user.StripeCustomerID == "" {
		return "", ErrNoCustomer
	}
	return s.gateway.CreatePortalSession(ctx, *user.StripeCustomerID, s.frontendURL+"/dashboard")
}

// ConstructEvent verifies the Stripe-Signature header and decodes the event.
func (s *Stripe) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	if strings.TrimSpace(s.cfg.WebhookSecret) == "" {
		return stripe.Event{}, ErrWebhookSecretMissing
	}
	event, err := webhook.ConstructEventWithOptions(
		payload,
		signature,
		s.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return event, nil
}

// HandleEvent applies a verified event. Business anomalies become an Outcome; only
// storage failures are returned as errors so the provider retries them.
func (s *Stripe) HandleEvent(ctx context.Context, event stripe.Event) (Outcome, error) {
	outcome, err := s.handle(ctx, event)
	if err != nil {
		metrics.ObserveBillingEvent(ProviderStripe, StatusError)
		return Outcome{}, err
	}
	metrics.ObserveBillingEvent(ProviderStripe, outcome.Status)
	return outcome, nil
}

func (s *Stripe) handle(ctx context.Context, event stripe.Event) (Outcome, error) {
	log := s.logger.With(slog.String("event_id", event.ID), slog.String("event_type", string(event.Type)))

	switch event.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			log.WarnContext(ctx, "stripe checkout session undecodable", slog.Any("error", err))
			return Outcome{Status: StatusError, Reason: "invalid_payload"}, nil
		}
		rawUserID := session.Metadata["user_id"]
		if rawUserID == "" {
			log.InfoContext(ctx, "stripe checkout without user_id", slog.String("session_id", session.ID))
			return ignored("missing_user_id"), nil
		}
		userID, err := strconv.ParseUint(rawUserID, 10, 64)
		if err != nil || userID == 0 {
			log.WarnContext(ctx, "stripe checkout with invalid user_id", slog.String("user_id", rawUserID))
			return Outcome{Status: StatusError, Reason: "invalid_user_id"}, nil
		}
		var subscriptionID string
		if session.Subscription != nil {
			subscriptionID = session.Subscription.ID
		}
		return s.apply(ctx, log, Change{
			Provider:       ProviderStripe,
			EventID:        event.ID,
			EventType:      string(event.Type),
			UserID:         uint(userID),
			Plan:           database.PlanPremium,
			SubscriptionID: &subscriptionID,
		})

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			log.WarnContext(ctx, "stripe subscription undecodable", slog.Any("error", err))
			return Outcome{Status: StatusError, Reason: "invalid_payload"}, nil
		}
		if sub.ID == "" {
			return ignored("missing_subscription_id"), nil
		}
		cleared := ""
		return s.apply(ctx, log, Change{
			Provider:        ProviderStripe,
			EventID:         event.ID,
			EventType:       string(event.Type),
			SubscriptionRef: sub.ID,
			Plan:            database.PlanFree,
			SubscriptionID:  &cleared,
		})

	default:
		return Outcome{Status: StatusSuccess}, nil
	}
}

func (s *Stripe) apply(ctx context.Context, log *slog.Logger, change Change) (Outcome, error) {
	userID, err := s.subscriptions.Apply(ctx, change)
	switch {
	case errors.Is(err, ErrUserNotFound):
		log.WarnContext(ctx, "billing event for unknown user",
			slog.Uint64("user_id", uint64(change.UserID)),
			slog.String("subscription_id", change.SubscriptionRef),
		)
		return ignored("user_not_found"), nil
	case errors.Is(err, ErrDuplicateEvent):
		log.InfoContext(ctx, "billing event replayed")
		return Outcome{Status: StatusDuplicate}, nil
	case err != nil:
		return Outcome{}, err
	}
	log.InfoContext(ctx, "subscription updated", slog.Uint64("user_id", uint64(userID)), slog.String("plan", change.Plan))
	return Outcome{Status: StatusSuccess}, nil
}
