package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeSettlementCompleted = "settlement.completed"
	EventTypeSettlementFailed    = "settlement.failed"
	EventTypeDeviceCreditFailed  = "device.credit_failed"
)

type SettlementCompletedEvent struct {
	BaseEvent
	SettlementID      int64  `json:"settlement_id"`
	CheckoutRequestID string `json:"checkout_request_id"`
	MeterID           string `json:"meter_id"`
	Amount            string `json:"amount"`
	UnitsAdded        string `json:"units_added"`
	ReceiptNumber     string `json:"receipt_number"`
}

func NewSettlementCompletedEvent(settlementID int64, checkoutRequestID, meterID, amount, unitsAdded, receiptNumber string) *SettlementCompletedEvent {
	return &SettlementCompletedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeSettlementCompleted,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"settlement_id":       settlementID,
				"checkout_request_id": checkoutRequestID,
				"meter_id":            meterID,
				"amount":              amount,
				"units_added":         unitsAdded,
				"receipt_number":      receiptNumber,
			},
		},
		SettlementID:      settlementID,
		CheckoutRequestID: checkoutRequestID,
		MeterID:           meterID,
		Amount:            amount,
		UnitsAdded:        unitsAdded,
		ReceiptNumber:     receiptNumber,
	}
}

type SettlementFailedEvent struct {
	BaseEvent
	SettlementID      int64  `json:"settlement_id"`
	CheckoutRequestID string `json:"checkout_request_id"`
	MeterID           string `json:"meter_id"`
	Amount            string `json:"amount"`
	FailureReason     string `json:"failure_reason"`
}

func NewSettlementFailedEvent(settlementID int64, checkoutRequestID, meterID, amount, failureReason string) *SettlementFailedEvent {
	return &SettlementFailedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeSettlementFailed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"settlement_id":       settlementID,
				"checkout_request_id": checkoutRequestID,
				"meter_id":            meterID,
				"amount":              amount,
				"failure_reason":      failureReason,
			},
		},
		SettlementID:      settlementID,
		CheckoutRequestID: checkoutRequestID,
		MeterID:           meterID,
		Amount:            amount,
		FailureReason:     failureReason,
	}
}

// DeviceCreditFailedEvent flags a settlement whose money moved but whose
// device command failed; operators reconcile these manually.
type DeviceCreditFailedEvent struct {
	BaseEvent
	SettlementID int64  `json:"settlement_id"`
	MeterID      string `json:"meter_id"`
	UnitsAdded   string `json:"units_added"`
	Reason       string `json:"reason"`
}

func NewDeviceCreditFailedEvent(settlementID int64, meterID, unitsAdded, reason string) *DeviceCreditFailedEvent {
	return &DeviceCreditFailedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeDeviceCreditFailed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"settlement_id": settlementID,
				"meter_id":      meterID,
				"units_added":   unitsAdded,
				"reason":        reason,
			},
		},
		SettlementID: settlementID,
		MeterID:      meterID,
		UnitsAdded:   unitsAdded,
		Reason:       reason,
	}
}
