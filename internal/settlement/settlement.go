package settlement

import (
	"context"
	"time"

	paymentmodel "github.com/frahmantamala/energy-settlement/internal/core/datamodel/payment"
	settlementmodel "github.com/frahmantamala/energy-settlement/internal/core/datamodel/settlement"
	"github.com/frahmantamala/energy-settlement/internal/daraja"
	"github.com/frahmantamala/energy-settlement/internal/tuya"
	"github.com/shopspring/decimal"
)

// IntentUpdate carries the optional fields written alongside a status
// transition. Nil fields are left untouched.
type IntentUpdate struct {
	ResponseCode         *string
	ResponseDescription  *string
	ReceiptNumber        *string
	TransactionTimestamp *time.Time
	CallbackReceived     *bool
}

// IntentRepository persists PaymentIntents. All mutations are keyed by the
// gateway's checkout request id, never by row id, because the external
// actors that resolve a payment only know that key.
//
// UpdateIntentIfPending is the concurrency-critical contract: it must be a
// single conditional write (UPDATE ... WHERE status = 'pending') whose
// affected-row count reports whether this caller won the transition.
type IntentRepository interface {
	CreateIntent(intent *paymentmodel.PaymentIntent) error
	FindByCheckoutRequestID(checkoutRequestID string) (*paymentmodel.PaymentIntent, error)
	UpdateIntentIfPending(checkoutRequestID, newStatus string, fields IntentUpdate) (bool, error)
	FindStalledIntents(cutoff time.Time) ([]*paymentmodel.PaymentIntent, error)
}

// SettlementUpdate carries the optional fields written alongside a
// settlement status transition.
type SettlementUpdate struct {
	Description *string
}

// SettlementRepository persists SettlementRecords. UpdateSettlementIfPending
// follows the same conditional-write contract as the intent side;
// UpdateUnitsIfUnset is the exactly-once guard for the crediting step.
type SettlementRepository interface {
	CreateSettlement(record *settlementmodel.SettlementRecord) error
	FindSettlementByCheckoutRequestID(checkoutRequestID string) (*settlementmodel.SettlementRecord, error)
	FindSettlementByID(id int64) (*settlementmodel.SettlementRecord, error)
	UpdateSettlementIfPending(checkoutRequestID, newStatus string, fields SettlementUpdate) (bool, error)
	UpdateUnitsIfUnset(id int64, units decimal.Decimal) (bool, error)
	UpdateBalances(id int64, before, after *decimal.Decimal) error
}

// GatewayAPI is the push-payment gateway surface the pipeline depends on.
type GatewayAPI interface {
	Initiate(ctx context.Context, amount decimal.Decimal, phoneNumber, accountReference, description string) (*daraja.PushResult, error)
	QueryStatus(ctx context.Context, checkoutRequestID string) (*daraja.QueryResult, error)
}

// DeviceAPI is the cloud device-control surface the crediting step uses.
type DeviceAPI interface {
	GetDeviceDetails(ctx context.Context, meterID string) (*tuya.DeviceDetails, error)
	AddUnits(ctx context.Context, meterID string, units decimal.Decimal) (bool, error)
}

// RateCalculator converts a monetary amount into energy units.
type RateCalculator interface {
	UnitsFor(amount decimal.Decimal) decimal.Decimal
}
