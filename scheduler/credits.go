package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreditLedger checks and deducts the credits a dispatch costs.
type CreditLedger interface {
	Balance(ctx context.Context, userID string) (float64, error)
	Deduct(ctx context.Context, userID string, amount float64) error
}

// UserCredit is a row of the user_credits table.
type UserCredit struct {
	UserID           string    `gorm:"column:user_id;primaryKey" json:"userId"`
	CreditsRemaining float64   `gorm:"column:credits_remaining" json:"creditsRemaining"`
	UpdatedAt        time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

// TableName implements gorm's tabler.
func (UserCredit) TableName() string {
	return "user_credits"
}

// GormCreditLedger is the CreditLedger backed by the user_credits table.
type GormCreditLedger struct {
	db *gorm.DB
}

// NewGormCreditLedger creates a ledger over db.
func NewGormCreditLedger(db *gorm.DB) *GormCreditLedger {
	return &GormCreditLedger{db: db}
}

// Balance returns the remaining credits; a user without a row has none.
func (l *GormCreditLedger) Balance(ctx context.Context, userID string) (float64, error) {
	var row UserCredit
	err := l.db.WithContext(ctx).Where("user_id = ?", userID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load credits for %s: %w", userID, err)
	}
	return row.CreditsRemaining, nil
}

// Deduct subtracts amount in a single UPDATE, never going below zero.
func (l *GormCreditLedger) Deduct(ctx context.Context, userID string, amount float64) error {
	res := l.db.WithContext(ctx).
		Model(&UserCredit{}).
		Where("user_id = ? AND credits_remaining >= ?", userID, amount).
		Updates(map[string]any{
			"credits_remaining": gorm.Expr("credits_remaining - ?", amount),
			"updated_at":        time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("deduct credits for %s: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("deduct credits for %s: insufficient balance", userID)
	}
	return nil
}

// Grant adds credits, creating the row when absent.
func (l *GormCreditLedger) Grant(ctx context.Context, userID string, amount float64) error {
	row := UserCredit{UserID: userID, CreditsRemaining: amount, UpdatedAt: time.Now().UTC()}
	err := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"credits_remaining": gorm.Expr("user_credits.credits_remaining + ?", amount),
				"updated_at":        row.UpdatedAt,
			}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("grant credits to %s: %w", userID, err)
	}
	return nil
}
