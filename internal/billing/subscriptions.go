package billing

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cvtor/internal/database"
)

// Webhook outcome statuses returned to providers.
const (
	StatusSuccess   = "success"
	StatusIgnored   = "ignored"
	StatusError     = "error"
	StatusDuplicate = "duplicate"
)

var (
	// ErrUserNotFound means the event could not be matched to an account.
	ErrUserNotFound = errors.New("billing: user not found")
	// ErrDuplicateEvent means the event was already applied.
	ErrDuplicateEvent = errors.New("billing: event already processed")
	// ErrNotConfigured means the provider credentials are missing.
	ErrNotConfigured = errors.New("billing: provider not configured")
)

// Outcome is the body acknowledged to a webhook sender.
type Outcome struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func ignored(reason string) Outcome { return Outcome{Status: StatusIgnored, Reason: reason} }

// Change assigns a plan to one account. Applying the same change twice leaves the same state.
type Change struct {
	Provider  string
	EventID   string
	EventType string
	// UserID selects the account; when zero the account is found by SubscriptionRef.
	UserID          uint
	SubscriptionRef string
	Plan            string
	// SubscriptionID replaces the stored Stripe subscription id when non-nil; an empty value clears it.
	SubscriptionID *string
}

// Subscriptions applies billing changes to user records.
type Subscriptions struct {
	db *gorm.DB
}

// NewSubscriptions creates a Subscriptions store.
func NewSubscriptions(db *gorm.DB) *Subscriptions {
	return &Subscriptions{db: db}
}

// Apply records the event and updates the account in one transaction.
func (s *Subscriptions) Apply(ctx context.Context, change Change) (uint, error) {
	var userID uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user database.User
		query := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id")
		var err error
		switch {
		case change.UserID != 0:
			err = query.First(&user, change.UserID).Error
		case change.SubscriptionRef != "":
			err = query.Where("stripe_subscription_id = ?", change.SubscriptionRef).First(&user).Error
		default:
			return ErrUserNotFound
		}
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return fmt.Errorf("load user: %w", err)
		}
		userID = user.ID

		if change.EventID != "" {
			event := database.BillingEvent{
				Provider:  change.Provider,
				EventID:   change.EventID,
				EventType: change.EventType,
				UserID:    user.ID,
				Plan:      change.Plan,
			}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&event)
			if res.Error != nil {
				return fmt.Errorf("record billing event: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return ErrDuplicateEvent
			}
		}

		updates := map[string]any{"subscription_plan": change.Plan}
		if change.SubscriptionID != nil {
			if *change.SubscriptionID == "" {
				updates["stripe_subscription_id"] = nil
			} else {
				updates["stripe_subscription_id"] = *change.SubscriptionID
			}
		}
		if err := tx.Model(&database.User{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("update subscription: %w", err)
		}
		return nil
	})
	return userID, err
}

// SetStripeCustomer stores the Stripe customer id of an account.
func (s *Subscriptions) SetStripeCustomer(ctx context.Context, userID uint, customerID string) error {
	err := s.db.WithContext(ctx).Model(&database.User{}).
		Where("id = ?", userID).
		Update("stripe_customer_id", customerID).Error
	if err != nil {
		return fmt.Errorf("store stripe customer: %w", err)
	}
	return nil
}
