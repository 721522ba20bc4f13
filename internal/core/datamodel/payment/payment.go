package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status values for a PaymentIntent. Transitions are one-way: pending may
// move to success or failed, terminal states never change again.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// PaymentIntent records one push-payment attempt. CheckoutRequestID is the
// gateway's correlation key and is how every later actor (callback, poller,
// reaper) finds the row.
type PaymentIntent struct {
	ID                   int64           `gorm:"primaryKey"`
	MerchantRequestID    string          `gorm:"column:merchant_request_id"`
	CheckoutRequestID    string          `gorm:"column:checkout_request_id;not null;uniqueIndex"`
	Amount               decimal.Decimal `gorm:"column:amount;type:decimal(12,2);not null"`
	PhoneNumber          string          `gorm:"column:phone_number;not null"`
	Status               string          `gorm:"column:status;default:pending"`
	ResponseCode         *string         `gorm:"column:response_code"`
	ResponseDescription  *string         `gorm:"column:response_description"`
	ReceiptNumber        *string         `gorm:"column:receipt_number"`
	TransactionTimestamp *time.Time      `gorm:"column:transaction_timestamp"`
	CallbackReceived     bool            `gorm:"column:callback_received;default:false"`
	CreatedAt            time.Time       `gorm:"column:created_at;default:now()"`
	UpdatedAt            time.Time       `gorm:"column:updated_at;default:now()"`
}

func (PaymentIntent) TableName() string {
	return "payment_intents"
}

func (p *PaymentIntent) IsTerminal() bool {
	return p.Status == StatusSuccess || p.Status == StatusFailed
}

// CanTransition reports whether a status change is allowed.
func CanTransition(from, to string) bool {
	if from != StatusPending {
		return false
	}
	return to == StatusSuccess || to == StatusFailed
}
