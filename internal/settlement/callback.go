package settlement

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	paymentmodel "github.com/frahmantamala/energy-settlement/internal/core/datamodel/payment"
	settlementmodel "github.com/frahmantamala/energy-settlement/internal/core/datamodel/settlement"
	"github.com/frahmantamala/energy-settlement/internal/core/events"
)

// Gateway result codes the callback classifies specially. Anything non-zero
// is a failure; the cancellation codes are only distinguished for logging.
const (
	resultCodeSuccess = 0
)

var cancellationCodes = map[int]bool{
	1031: true, // request cancelled
	1032: true, // cancelled by user
}

type callbackEnvelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []metadataItem `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

type metadataItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value"`
}

// metadataValue is the tagged union for callback metadata values, which
// arrive as numbers, strings, or nothing depending on the field.
type metadataKind int

const (
	metadataNull metadataKind = iota
	metadataNumber
	metadataString
)

type metadataValue struct {
	kind metadataKind
	num  float64
	str  string
}

func parseMetadataValue(raw json.RawMessage) metadataValue {
	if len(raw) == 0 || string(raw) == "null" {
		return metadataValue{kind: metadataNull}
	}

	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return metadataValue{kind: metadataNumber, num: num}
	}

	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return metadataValue{kind: metadataString, str: str}
	}

	return metadataValue{kind: metadataNull}
}

func (v metadataValue) asString() string {
	switch v.kind {
	case metadataNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case metadataString:
		return v.str
	default:
		return ""
	}
}

// parseTransactionTimestamp normalizes the TransactionDate metadata value to
// a fixed-width 14-digit string before parsing as yyyyMMddHHmmss. The value
// arrives as either a number or a string; a defective one is dropped rather
// than failing the whole callback.
func parseTransactionTimestamp(v metadataValue) *time.Time {
	raw := v.asString()
	if raw == "" {
		return nil
	}

	raw = strings.TrimSpace(raw)
	if len(raw) < 14 {
		raw = strings.Repeat("0", 14-len(raw)) + raw
	} else if len(raw) > 14 {
		raw = raw[:14]
	}

	t, err := time.Parse("20060102150405", raw)
	if err != nil {
		return nil
	}
	return &t
}

// CallbackProcessor consumes the gateway's webhook payload and resolves the
// matching intent and settlement. It never errors upstream; the webhook
// response is always HTTP 200 to stop gateway retries.
type CallbackProcessor struct {
	intents     IntentRepository
	settlements SettlementRepository
	eventBus    *events.EventBus
	logger      *slog.Logger
}

func NewCallbackProcessor(intents IntentRepository, settlements SettlementRepository, eventBus *events.EventBus, logger *slog.Logger) *CallbackProcessor {
	return &CallbackProcessor{
		intents:     intents,
		settlements: settlements,
		eventBus:    eventBus,
		logger:      logger,
	}
}

// Process returns true when the payload was accepted, false for malformed
// payloads. Unknown or already-resolved intents are acknowledged anyway;
// re-delivery would not make them resolvable.
func (p *CallbackProcessor) Process(ctx context.Context, payload []byte) bool {
	var envelope callbackEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		p.logger.Error("malformed callback payload", "error", err)
		return false
	}

	cb := envelope.Body.StkCallback
	if cb.CheckoutRequestID == "" {
		p.logger.Error("callback missing checkout request id")
		return false
	}

	success := cb.ResultCode == resultCodeSuccess
	if cancellationCodes[cb.ResultCode] {
		p.logger.Info("payment cancelled by customer",
			"checkout_request_id", cb.CheckoutRequestID,
			"result_code", cb.ResultCode)
	}

	var receiptNumber *string
	var transactionTimestamp *time.Time
	if cb.CallbackMetadata != nil {
		for _, item := range cb.CallbackMetadata.Item {
			value := parseMetadataValue(item.Value)
			switch item.Name {
			case "MpesaReceiptNumber":
				if s := value.asString(); s != "" {
					receiptNumber = &s
				}
			case "TransactionDate":
				transactionTimestamp = parseTransactionTimestamp(value)
			}
		}
	}

	newStatus := paymentmodel.StatusFailed
	if success {
		newStatus = paymentmodel.StatusSuccess
	}
	if !paymentmodel.CanTransition(paymentmodel.StatusPending, newStatus) {
		p.logger.Error("illegal intent transition from callback",
			"checkout_request_id", cb.CheckoutRequestID,
			"to", newStatus)
		return false
	}

	resultCode := strconv.Itoa(cb.ResultCode)
	resultDesc := cb.ResultDesc
	callbackReceived := true

	updated, err := p.intents.UpdateIntentIfPending(cb.CheckoutRequestID, newStatus, IntentUpdate{
		ResponseCode:         &resultCode,
		ResponseDescription:  &resultDesc,
		ReceiptNumber:        receiptNumber,
		TransactionTimestamp: transactionTimestamp,
		CallbackReceived:     &callbackReceived,
	})
	if err != nil {
		p.logger.Error("failed to update intent from callback",
			"checkout_request_id", cb.CheckoutRequestID,
			"error", err)
		return false
	}
	if !updated {
		// already resolved by the poller or reaper; nothing left to do
		p.logger.Info("callback arrived for already-resolved intent",
			"checkout_request_id", cb.CheckoutRequestID)
		return true
	}

	p.logger.Info("intent resolved by callback",
		"checkout_request_id", cb.CheckoutRequestID,
		"status", newStatus,
		"result_code", cb.ResultCode)

	p.resolveSettlement(ctx, cb.CheckoutRequestID, success, resultDesc, receiptNumber)
	return true
}

func (p *CallbackProcessor) resolveSettlement(ctx context.Context, checkoutRequestID string, success bool, reason string, receiptNumber *string) {
	record, err := p.settlements.FindSettlementByCheckoutRequestID(checkoutRequestID)
	if err != nil {
		// manual and direct credits have no settlement record
		p.logger.Info("no settlement record for callback",
			"checkout_request_id", checkoutRequestID)
		return
	}

	newStatus := settlementmodel.StatusFailed
	if success {
		newStatus = settlementmodel.StatusCompleted
	}

	updated, err := p.settlements.UpdateSettlementIfPending(checkoutRequestID, newStatus, SettlementUpdate{
		Description: &reason,
	})
	if err != nil {
		p.logger.Error("failed to update settlement from callback",
			"checkout_request_id", checkoutRequestID,
			"error", err)
		return
	}
	if !updated {
		return
	}

	if success {
		receipt := ""
		if receiptNumber != nil {
			receipt = *receiptNumber
		}
		p.eventBus.Publish(ctx, events.NewSettlementCompletedEvent(
			record.ID, checkoutRequestID, record.MeterID, record.Amount.String(), "", receipt))
	} else {
		p.eventBus.Publish(ctx, events.NewSettlementFailedEvent(
			record.ID, checkoutRequestID, record.MeterID, record.Amount.String(), reason))
	}
}
