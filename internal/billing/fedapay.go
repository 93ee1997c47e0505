package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"cvtor/internal/config"
	"cvtor/internal/database"
	"cvtor/internal/metrics"
)

// ProviderFedaPay names FedaPay in the billing ledger.
const ProviderFedaPay = "fedapay"

// ErrInvalidPayload means a webhook body could not be decoded.
var ErrInvalidPayload = errors.New("billing: invalid webhook payload")

// FedaPayCheckout is returned to the client after creating a transaction.
type FedaPayCheckout struct {
	CheckoutURL   string `json:"checkout_url"`
	TransactionID int64  `json:"transaction_id"`
	Token         string `json:"token"`
}

// FedaPayEvent is a webhook delivery. Older payloads use type/data, newer ones name/entity.
type FedaPayEvent struct {
	ID     json.RawMessage `json:"id"`
	Type   string          `json:"type"`
	Name   string          `json:"name"`
	Data   *fedaPayEntity  `json:"data"`
	Entity *fedaPayEntity  `json:"entity"`
}

type fedaPayEntity struct {
	ID             json.RawMessage `json:"id"`
	Metadata       map[string]any  `json:"metadata"`
	CustomMetadata map[string]any  `json:"custom_metadata"`
}

func (e FedaPayEvent) kind() string {
	if e.Type != "" {
		return e.Type
	}
	return e.Name
}

func (e FedaPayEvent) entity() fedaPayEntity {
	if e.Data != nil {
		return *e.Data
	}
	if e.Entity != nil {
		return *e.Entity
	}
	return fedaPayEntity{}
}

func (e fedaPayEntity) metadata(key string) string {
	for _, src := range []map[string]any{e.Metadata, e.CustomMetadata} {
		switch value := src[key].(type) {
		case string:
			return strings.TrimSpace(value)
		case float64:
			return strconv.FormatFloat(value, 'f', -1, 64)
		}
	}
	return ""
}

func rawID(raw json.RawMessage) string {
	return strings.Trim(strings.TrimSpace(string(raw)), `"`)
}

// FedaPay runs FedaPay checkout and reconciles its webhooks.
type FedaPay struct {
	cfg           config.FedaPayConfig
	frontendURL   string
	gateway       FedaPayGateway
	subscriptions *Subscriptions
	logger        *slog.Logger
	now           func() time.Time
}

// NewFedaPay creates the FedaPay service. gateway may be nil when FedaPay is not configured.
func NewFedaPay(cfg config.FedaPayConfig, frontendURL string, gateway FedaPayGateway, subs *Subscriptions, logger *slog.Logger) *FedaPay {
	if logger == nil {
		logger = slog.Default()
	}
	return &FedaPay{
		cfg:           cfg,
		frontendURL:   strings.TrimRight(frontendURL, "/"),
		gateway:       gateway,
		subscriptions: subs,
		logger:        logger,
		now:           time.Now,
	}
}

// Enabled reports whether FedaPay calls can be attempted.
func (f *FedaPay) Enabled() bool {
	return f.gateway != nil && f.cfg.Enabled()
}

// CreateCheckout creates a transaction for plan and returns its payment page.
func (f *FedaPay) CreateCheckout(ctx context.Context, user *database.User, plan string, amount int64) (*FedaPayCheckout, error) {
	if !f.Enabled() {
		return nil, ErrNotConfigured
	}
	if amount <= 0 {
		amount = f.cfg.DefaultAmount
	}
	currency := f.cfg.Currency
	if currency == "" {
		currency = "XOF"
	}

	firstName := user.FullName
	if firstName == "" {
		firstName, _, _ = strings.Cut(user.Email, "@")
	}

	tx, err := f.gateway.CreateTransaction(ctx, FedaPayTransactionRequest{
		Description: fmt.Sprintf("Abonnement %s - CVtor", strings.ToUpper(plan)),
		Amount:      amount,
		Currency:    map[string]string{"iso": currency},
		CallbackURL: f.frontendURL + "/success?provider=fedapay",
		Customer:    FedaPayCustomer{Email: user.Email, FirstName: firstName, LastName: ""},
		Metadata: map[string]string{
			"user_id": strconv.FormatUint(uint64(user.ID), 10),
			"plan":    plan,
		},
	})
	if err != nil {
		return nil, err
	}

	token, err := f.gateway.GenerateToken(ctx, tx.ID)
	if err != nil {
		return nil, err
	}
	return &FedaPayCheckout{CheckoutURL: token.URL, TransactionID: tx.ID, Token: token.Token}, nil
}

// Transaction fetches the status of a transaction.
func (f *FedaPay) Transaction(ctx context.Context, id string) (*FedaPayTransaction, error) {
	if !f.Enabled() {
		return nil, ErrNotConfigured
	}
	return f.gateway.GetTransaction(ctx, id)
}

// ParseEvent verifies the signature header and decodes the body. Without a
// webhook secret every delivery is refused.
func (f *FedaPay) ParseEvent(payload []byte, signature string) (FedaPayEvent, error) {
	secret := strings.TrimSpace(f.cfg.WebhookSecret)
	if secret == "" {
		return FedaPayEvent{}, ErrWebhookSecretMissing
	}
	if err := VerifyFedaPaySignature(secret, payload, signature, f.now()); err != nil {
		return FedaPayEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	var event FedaPayEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return FedaPayEvent{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return event, nil
}

// HandleEvent applies a decoded event.
func (f *FedaPay) HandleEvent(ctx context.Context, event FedaPayEvent) (Outcome, error) {
	outcome, err := f.handle(ctx, event)
	if err != nil {
		metrics.ObserveBillingEvent(ProviderFedaPay, StatusError)
		return Outcome{}, err
	}
	metrics.ObserveBillingEvent(ProviderFedaPay, outcome.Status)
	return outcome, nil
}

func (f *FedaPay) handle(ctx context.Context, event FedaPayEvent) (Outcome, error) {
	entity := event.entity()
	transactionID := rawID(entity.ID)
	log := f.logger.With(slog.String("event_type", event.kind()), slog.String("transaction_id", transactionID))

	switch event.kind() {
	case "transaction.approved":
		rawUserID := entity.metadata("user_id")
		if rawUserID == "" {
			log.InfoContext(ctx, "fedapay transaction without user_id")
			return ignored("missing_user_id"), nil
		}
		userID, err := strconv.ParseUint(rawUserID, 10, 64)
		if err != nil || userID == 0 {
			log.WarnContext(ctx, "fedapay transaction with invalid user_id", slog.String("user_id", rawUserID))
			return Outcome{Status: StatusError, Reason: "invalid_user_id"}, nil
		}
		plan := entity.metadata("plan")
		if plan == "" {
			plan = database.PlanPremium
		}
		if !strings.EqualFold(plan, database.PlanPremium) {
			log.WarnContext(ctx, "fedapay transaction for unknown plan", slog.String("plan", plan))
			return ignored("unknown_plan"), nil
		}

		eventID := rawID(event.ID)
		if eventID == "" && transactionID != "" {
			eventID = "transaction:" + transactionID
		}
		_, err = f.subscriptions.Apply(ctx, Change{
			Provider:  ProviderFedaPay,
			EventID:   eventID,
			EventType: event.kind(),
			UserID:    uint(userID),
			Plan:      database.PlanPremium,
		})
		switch {
		case errors.Is(err, ErrUserNotFound):
			log.WarnContext(ctx, "fedapay transaction for unknown user", slog.Uint64("user_id", userID))
			return ignored("user_not_found"), nil
		case errors.Is(err, ErrDuplicateEvent):
			log.InfoContext(ctx, "fedapay event replayed")
			return Outcome{Status: StatusDuplicate}, nil
		case err != nil:
			return Outcome{}, err
		}
		log.InfoContext(ctx, "subscription updated", slog.Uint64("user_id", userID), slog.String("plan", database.PlanPremium))
		return Outcome{Status: StatusSuccess}, nil

	case "transaction.declined":
		log.InfoContext(ctx, "fedapay transaction declined")
		return Outcome{Status: StatusSuccess}, nil

	default:
		return Outcome{Status: StatusSuccess}, nil
	}
}
