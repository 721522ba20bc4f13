package settlement

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status values for a SettlementRecord. Exactly one actor moves a record out
// of pending; completed implies units were computed and a device command was
// attempted.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// SettlementRecord is the unit-crediting obligation tied to a payment.
// PaymentIntentID and CheckoutRequestID are nil for manual credits that
// bypass the gateway entirely.
type SettlementRecord struct {
	ID                int64            `gorm:"primaryKey"`
	UserID            *int64           `gorm:"column:user_id"`
	MeterID           string           `gorm:"column:meter_id;not null;index"`
	PaymentIntentID   *int64           `gorm:"column:payment_intent_id"`
	CheckoutRequestID *string          `gorm:"column:checkout_request_id;index"`
	Amount            decimal.Decimal  `gorm:"column:amount;type:decimal(12,2);not null"`
	UnitsAdded        *decimal.Decimal `gorm:"column:units_added;type:decimal(12,2)"`
	BalanceBefore     *decimal.Decimal `gorm:"column:balance_before;type:decimal(12,2)"`
	BalanceAfter      *decimal.Decimal `gorm:"column:balance_after;type:decimal(12,2)"`
	Status            string           `gorm:"column:status;default:pending"`
	Description       string           `gorm:"column:description"`
	CreatedAt         time.Time        `gorm:"column:created_at;default:now()"`
	UpdatedAt         time.Time        `gorm:"column:updated_at;default:now()"`
}

func (SettlementRecord) TableName() string {
	return "settlement_records"
}

func (s *SettlementRecord) IsTerminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}
