package postgres

import (
	"time"

	paymentmodel "github.com/frahmantamala/energy-settlement/internal/core/datamodel/payment"
	settlementmodel "github.com/frahmantamala/energy-settlement/internal/core/datamodel/settlement"
	settlementpkg "github.com/frahmantamala/energy-settlement/internal/settlement"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type IntentRepository struct {
	db *gorm.DB
}

func NewIntentRepository(db *gorm.DB) settlementpkg.IntentRepository {
	return &IntentRepository{
		db: db,
	}
}

func (r *IntentRepository) CreateIntent(intent *paymentmodel.PaymentIntent) error {
	return r.db.Create(intent).Error
}

func (r *IntentRepository) FindByCheckoutRequestID(checkoutRequestID string) (*paymentmodel.PaymentIntent, error) {
	var intent paymentmodel.PaymentIntent
	err := r.db.Where("checkout_request_id = ?", checkoutRequestID).First(&intent).Error
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

// UpdateIntentIfPending performs the pending-to-terminal transition as a
// single conditional write. The WHERE clause on status is the arbiter when
// the callback, the poller, and the reaper race: exactly one of them
// affects a row.
func (r *IntentRepository) UpdateIntentIfPending(checkoutRequestID, newStatus string, fields settlementpkg.IntentUpdate) (bool, error) {
	updates := map[string]interface{}{
		"status":     newStatus,
		"updated_at": time.Now(),
	}

	if fields.ResponseCode != nil {
		updates["response_code"] = *fields.ResponseCode
	}
	if fields.ResponseDescription != nil {
		updates["response_description"] = *fields.ResponseDescription
	}
	if fields.ReceiptNumber != nil {
		updates["receipt_number"] = *fields.ReceiptNumber
	}
	if fields.TransactionTimestamp != nil {
		updates["transaction_timestamp"] = *fields.TransactionTimestamp
	}
	if fields.CallbackReceived != nil {
		updates["callback_received"] = *fields.CallbackReceived
	}

	result := r.db.Model(&paymentmodel.PaymentIntent{}).
		Where("checkout_request_id = ? AND status = ?", checkoutRequestID, paymentmodel.StatusPending).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *IntentRepository) FindStalledIntents(cutoff time.Time) ([]*paymentmodel.PaymentIntent, error) {
	var intents []*paymentmodel.PaymentIntent
	err := r.db.
		Where("status = ? AND callback_received = ? AND created_at < ?", paymentmodel.StatusPending, false, cutoff).
		Order("created_at ASC").
		Find(&intents).Error
	return intents, err
}

type SettlementRepository struct {
	db *gorm.DB
}

func NewSettlementRepository(db *gorm.DB) settlementpkg.SettlementRepository {
	return &SettlementRepository{
		db: db,
	}
}

func (r *SettlementRepository) CreateSettlement(record *settlementmodel.SettlementRecord) error {
	return r.db.Create(record).Error
}

func (r *SettlementRepository) FindSettlementByCheckoutRequestID(checkoutRequestID string) (*settlementmodel.SettlementRecord, error) {
	var record settlementmodel.SettlementRecord
	err := r.db.Where("checkout_request_id = ?", checkoutRequestID).First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *SettlementRepository) FindSettlementByID(id int64) (*settlementmodel.SettlementRecord, error) {
	var record settlementmodel.SettlementRecord
	err := r.db.First(&record, id).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *SettlementRepository) UpdateSettlementIfPending(checkoutRequestID, newStatus string, fields settlementpkg.SettlementUpdate) (bool, error) {
	updates := map[string]interface{}{
		"status":     newStatus,
		"updated_at": time.Now(),
	}

	if fields.Description != nil {
		updates["description"] = *fields.Description
	}

	result := r.db.Model(&settlementmodel.SettlementRecord{}).
		Where("checkout_request_id = ? AND status = ?", checkoutRequestID, settlementmodel.StatusPending).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// UpdateUnitsIfUnset is the exactly-once guard for crediting: only the
// caller whose write lands on a row with no units yet goes on to issue the
// device command.
func (r *SettlementRepository) UpdateUnitsIfUnset(id int64, units decimal.Decimal) (bool, error) {
	result := r.db.Model(&settlementmodel.SettlementRecord{}).
		Where("id = ? AND units_added IS NULL", id).
		Updates(map[string]interface{}{
			"units_added": units,
			"updated_at":  time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *SettlementRepository) UpdateBalances(id int64, before, after *decimal.Decimal) error {
	updates := map[string]interface{}{
		"updated_at": time.Now(),
	}
	if before != nil {
		updates["balance_before"] = *before
	}
	if after != nil {
		updates["balance_after"] = *after
	}
	return r.db.Model(&settlementmodel.SettlementRecord{}).Where("id = ?", id).Updates(updates).Error
}
