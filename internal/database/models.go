package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Subscription plan values stored on User.SubscriptionPlan.
const (
	PlanFree    = "free"
	PlanPremium = "premium"
)

// User is an account. Deleting it removes its resumes.
type User struct {
	gorm.Model
	Email                string   `gorm:"uniqueIndex;size:255;not null"`
	PasswordHash         string   `gorm:"size:255;not null"`
	FullName             string   `gorm:"size:255"`
	IsActive             bool     `gorm:"default:true"`
	IsAdmin              bool     `gorm:"default:false"`
	SubscriptionPlan     string   `gorm:"size:16;default:free;not null"`
	StripeCustomerID     *string  `gorm:"size:255"`
	StripeSubscriptionID *string  `gorm:"size:255;index"`
	Resumes              []Resume `gorm:"constraint:OnDelete:CASCADE"`
}

// Resume is a saved document owned by exactly one user.
type Resume struct {
	gorm.Model
	UserID       uint           `gorm:"index;not null"`
	Title        string         `gorm:"size:255;not null"`
	TemplateName string         `gorm:"size:128;not null"`
	Data         datatypes.JSON `gorm:"not null"`
	IsPublic     bool           `gorm:"default:false"`
}

// Category groups catalog templates.
type Category struct {
	ID          uint   `gorm:"primaryKey"`
	Name        string `gorm:"uniqueIndex;size:128;not null"`
	Slug        string `gorm:"uniqueIndex;size:128;not null"`
	Description string `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Template is a catalog entry pointing at an on-disk bundle by slug.
type Template struct {
	ID           uint      `gorm:"primaryKey"`
	Title        string    `gorm:"size:255;not null"`
	Slug         string    `gorm:"uniqueIndex;size:128;not null"`
	Description  string    `gorm:"type:text"`
	Price        float64   `gorm:"default:0"`
	ThumbnailURL string    `gorm:"size:1024"`
	TemplateData string    `gorm:"type:text"`
	IsActive     bool      `gorm:"default:true"`
	CategoryID   *uint     `gorm:"index"`
	Category     *Category `gorm:"constraint:OnDelete:SET NULL"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// BillingEvent records every provider event that changed subscription state.
// The unique (provider, event_id) pair makes webhook replays detectable.
type BillingEvent struct {
	ID        uint   `gorm:"primaryKey"`
	Provider  string `gorm:"size:32;not null;uniqueIndex:idx_billing_event"`
	EventID   string `gorm:"size:255;not null;uniqueIndex:idx_billing_event"`
	EventType string `gorm:"size:128"`
	UserID    uint   `gorm:"index"`
	Plan      string `gorm:"size:16"`
	CreatedAt time.Time
}
