package settlement

import (
	errors "github.com/frahmantamala/energy-settlement/internal"
	"github.com/frahmantamala/energy-settlement/internal/core/common/validation"
	"github.com/shopspring/decimal"
)

// PurchaseRequest is a customer buying energy units for a meter.
type PurchaseRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	PhoneNumber string          `json:"phone_number"`
	MeterID     string          `json:"meter_id"`
	UserID      *int64          `json:"user_id,omitempty"`
	Description string          `json:"description,omitempty"`
}

func (r *PurchaseRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("amount", r.Amount).Required().PositiveAmount(errors.ErrCodeInvalidAmount)
	validator.Field("phone_number", r.PhoneNumber).Required().PhoneNumber(errors.ErrCodeInvalidPhone)
	validator.Field("meter_id", r.MeterID).Required()

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// ManualCreditRequest credits a meter directly, bypassing the gateway.
type ManualCreditRequest struct {
	MeterID     string          `json:"meter_id"`
	Amount      decimal.Decimal `json:"amount"`
	UserID      *int64          `json:"user_id,omitempty"`
	Description string          `json:"description,omitempty"`
}

func (r *ManualCreditRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("amount", r.Amount).Required().PositiveAmount(errors.ErrCodeInvalidAmount)
	validator.Field("meter_id", r.MeterID).Required()

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// Settlement outcomes as seen by the caller. TimedOutPending is non-final:
// the payment may still resolve via callback or a later status check.
const (
	OutcomeSucceeded       = "succeeded"
	OutcomeDeviceFailed    = "succeeded_with_device_failure"
	OutcomeDeclined        = "declined"
	OutcomeTimedOutPending = "timed_out_pending"
)

type SettlementResponse struct {
	Outcome             string  `json:"outcome"`
	CheckoutRequestID   string  `json:"checkout_request_id,omitempty"`
	MerchantRequestID   string  `json:"merchant_request_id,omitempty"`
	MeterID             string  `json:"meter_id,omitempty"`
	Amount              string  `json:"amount,omitempty"`
	UnitsAdded          *string `json:"units_added,omitempty"`
	ReceiptNumber       *string `json:"receipt_number,omitempty"`
	BalanceBefore       *string `json:"balance_before,omitempty"`
	BalanceAfter        *string `json:"balance_after,omitempty"`
	DeviceUpdateSuccess *bool   `json:"device_update_success,omitempty"`
	Message             string  `json:"message,omitempty"`
}
