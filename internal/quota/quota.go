package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cvtor/internal/database"
)

// FreeLimit is the number of resumes a free account may keep.
const FreeLimit = 3

// LimitMessage is shown when a free account hits FreeLimit.
const LimitMessage = "Quota exceeded. Free plan allows 3 CVs. Upgrade to Premium for unlimited CVs."

var (
	// ErrLimitReached is returned when the plan does not allow another resume.
	ErrLimitReached = errors.New("resume quota reached")
	// ErrUserNotFound is returned when the owner row is missing.
	ErrUserNotFound = errors.New("user not found")
)

// Plan is a subscription level.
type Plan string

// Known plans.
const (
	Free    Plan = database.PlanFree
	Premium Plan = database.PlanPremium
)

// ParsePlan maps a stored value to a Plan; anything unknown counts as Free.
func ParsePlan(value string) Plan {
	if strings.EqualFold(strings.TrimSpace(value), string(Premium)) {
		return Premium
	}
	return Free
}

// CanCreate reports whether an account on plan with count resumes may create one more.
func CanCreate(plan Plan, count int64) bool {
	if plan == Premium {
		return true
	}
	return count < FreeLimit
}

// MaxResumes returns the ceiling for plan, or nil when unlimited.
func MaxResumes(plan Plan) *int {
	if plan == Premium {
		return nil
	}
	limit := FreeLimit
	return &limit
}

// Status is the quota summary returned to clients.
type Status struct {
	SubscriptionPlan Plan  `json:"subscription_plan"`
	CurrentCount     int64 `json:"current_count"`
	MaxResumes       *int  `json:"max_resumes"`
	CanCreateMore    bool  `json:"can_create_more"`
}

// StatusFor summarises the quota of an account.
func StatusFor(plan Plan, count int64) Status {
	return Status{
		SubscriptionPlan: plan,
		CurrentCount:     count,
		MaxResumes:       MaxResumes(plan),
		CanCreateMore:    CanCreate(plan, count),
	}
}

// Gate enforces the quota against the database.
type Gate struct {
	db *gorm.DB
}

// NewGate creates a Gate.
func NewGate(db *gorm.DB) *Gate {
	return &Gate{db: db}
}

// Status loads the current quota of userID.
func (g *Gate) Status(ctx context.Context, userID uint) (Status, error) {
	var user database.User
	if err := g.db.WithContext(ctx).Select("id", "subscription_plan").First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Status{}, ErrUserNotFound
		}
		return Status{}, fmt.Errorf("load user: %w", err)
	}
	count, err := countResumes(g.db.WithContext(ctx), userID)
	if err != nil {
		return Status{}, err
	}
	return StatusFor(ParsePlan(user.SubscriptionPlan), count), nil
}

// Create inserts resume for its owner if the owner's plan allows it.
// The owner row is locked for the duration of the transaction, so concurrent
// creations for the same account are serialised and cannot both pass the check.
func (g *Gate) Create(ctx context.Context, resume *database.Resume) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user database.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "subscription_plan").
			First(&user, resume.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return fmt.Errorf("lock user: %w", err)
		}

		count, err := countResumes(tx, resume.UserID)
		if err != nil {
			return err
		}
		if !CanCreate(ParsePlan(user.SubscriptionPlan), count) {
			return ErrLimitReached
		}

		if err := tx.Create(resume).Error; err != nil {
			return fmt.Errorf("create resume: %w", err)
		}
		return nil
	})
}

func countResumes(db *gorm.DB, userID uint) (int64, error) {
	var count int64
	if err := db.Model(&database.Resume{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count resumes: %w", err)
	}
	return count, nil
}
