package settlement_test

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	paymentmodel "github.com/frahmantamala/energy-settlement/internal/core/datamodel/payment"
	settlementmodel "github.com/frahmantamala/energy-settlement/internal/core/datamodel/settlement"
	"github.com/frahmantamala/energy-settlement/internal/daraja"
	settlementPkg "github.com/frahmantamala/energy-settlement/internal/settlement"
	"github.com/frahmantamala/energy-settlement/internal/tuya"
	"github.com/shopspring/decimal"
)

// Mock intent repository with the same conditional-update semantics as the
// real store: a transition only lands when the row is still pending.
type mockIntentRepository struct {
	intents     map[string]*paymentmodel.PaymentIntent
	nextID      int64
	createError error
	findError   error
	updateError error
}

func newMockIntentRepository() *mockIntentRepository {
	return &mockIntentRepository{
		intents: make(map[string]*paymentmodel.PaymentIntent),
	}
}

func (m *mockIntentRepository) CreateIntent(intent *paymentmodel.PaymentIntent) error {
	if m.createError != nil {
		return m.createError
	}
	m.nextID++
	intent.ID = m.nextID
	intent.CreatedAt = time.Now()
	intent.UpdatedAt = time.Now()
	m.intents[intent.CheckoutRequestID] = intent
	return nil
}

func (m *mockIntentRepository) FindByCheckoutRequestID(checkoutRequestID string) (*paymentmodel.PaymentIntent, error) {
	if m.findError != nil {
		return nil, m.findError
	}
	intent, exists := m.intents[checkoutRequestID]
	if !exists {
		return nil, errors.New("intent not found")
	}
	copied := *intent
	return &copied, nil
}

func (m *mockIntentRepository) UpdateIntentIfPending(checkoutRequestID, newStatus string, fields settlementPkg.IntentUpdate) (bool, error) {
	if m.updateError != nil {
		return false, m.updateError
	}
	intent, exists := m.intents[checkoutRequestID]
	if !exists || intent.Status != paymentmodel.StatusPending {
		return false, nil
	}
	intent.Status = newStatus
	if fields.ResponseCode != nil {
		intent.ResponseCode = fields.ResponseCode
	}
	if fields.ResponseDescription != nil {
		intent.ResponseDescription = fields.ResponseDescription
	}
	if fields.ReceiptNumber != nil {
		intent.ReceiptNumber = fields.ReceiptNumber
	}
	if fields.TransactionTimestamp != nil {
		intent.TransactionTimestamp = fields.TransactionTimestamp
	}
	if fields.CallbackReceived != nil {
		intent.CallbackReceived = *fields.CallbackReceived
	}
	intent.UpdatedAt = time.Now()
	return true, nil
}

func (m *mockIntentRepository) FindStalledIntents(cutoff time.Time) ([]*paymentmodel.PaymentIntent, error) {
	if m.findError != nil {
		return nil, m.findError
	}
	var stalled []*paymentmodel.PaymentIntent
	for _, intent := range m.intents {
		if intent.Status == paymentmodel.StatusPending && !intent.CallbackReceived && intent.CreatedAt.Before(cutoff) {
			copied := *intent
			stalled = append(stalled, &copied)
		}
	}
	return stalled, nil
}

type mockSettlementRepository struct {
	records     map[int64]*settlementmodel.SettlementRecord
	nextID      int64
	createError error
	findError   error
	updateError error
}

func newMockSettlementRepository() *mockSettlementRepository {
	return &mockSettlementRepository{
		records: make(map[int64]*settlementmodel.SettlementRecord),
	}
}

func (m *mockSettlementRepository) CreateSettlement(record *settlementmodel.SettlementRecord) error {
	if m.createError != nil {
		return m.createError
	}
	m.nextID++
	record.ID = m.nextID
	record.CreatedAt = time.Now()
	record.UpdatedAt = time.Now()
	copied := *record
	m.records[record.ID] = &copied
	return nil
}

func (m *mockSettlementRepository) FindSettlementByCheckoutRequestID(checkoutRequestID string) (*settlementmodel.SettlementRecord, error) {
	if m.findError != nil {
		return nil, m.findError
	}
	for _, record := range m.records {
		if record.CheckoutRequestID != nil && *record.CheckoutRequestID == checkoutRequestID {
			copied := *record
			return &copied, nil
		}
	}
	return nil, errors.New("settlement not found")
}

func (m *mockSettlementRepository) FindSettlementByID(id int64) (*settlementmodel.SettlementRecord, error) {
	if m.findError != nil {
		return nil, m.findError
	}
	record, exists := m.records[id]
	if !exists {
		return nil, errors.New("settlement not found")
	}
	copied := *record
	return &copied, nil
}

func (m *mockSettlementRepository) UpdateSettlementIfPending(checkoutRequestID, newStatus string, fields settlementPkg.SettlementUpdate) (bool, error) {
	if m.updateError != nil {
		return false, m.updateError
	}
	for _, record := range m.records {
		if record.CheckoutRequestID == nil || *record.CheckoutRequestID != checkoutRequestID {
			continue
		}
		if record.Status != settlementmodel.StatusPending {
			return false, nil
		}
		record.Status = newStatus
		if fields.Description != nil {
			record.Description = *fields.Description
		}
		record.UpdatedAt = time.Now()
		return true, nil
	}
	return false, nil
}

func (m *mockSettlementRepository) UpdateUnitsIfUnset(id int64, units decimal.Decimal) (bool, error) {
	if m.updateError != nil {
		return false, m.updateError
	}
	record, exists := m.records[id]
	if !exists || record.UnitsAdded != nil {
		return false, nil
	}
	copiedUnits := units
	record.UnitsAdded = &copiedUnits
	record.UpdatedAt = time.Now()
	return true, nil
}

func (m *mockSettlementRepository) UpdateBalances(id int64, before, after *decimal.Decimal) error {
	record, exists := m.records[id]
	if !exists {
		return errors.New("settlement not found")
	}
	record.BalanceBefore = before
	record.BalanceAfter = after
	return nil
}

// Mock gateway with scripted responses. Initiate and QueryStatus each pop
// from their own queue; the last entry repeats once the queue drains.
type gatewayCall struct {
	push  *daraja.PushResult
	query *daraja.QueryResult
	err   error
}

type mockGateway struct {
	initiateQueue []gatewayCall
	queryQueue    []gatewayCall
	initiateCalls int
	queryCalls    int
}

func (m *mockGateway) Initiate(ctx context.Context, amount decimal.Decimal, phoneNumber, accountReference, description string) (*daraja.PushResult, error) {
	m.initiateCalls++
	call := popCall(&m.initiateQueue)
	return call.push, call.err
}

func (m *mockGateway) QueryStatus(ctx context.Context, checkoutRequestID string) (*daraja.QueryResult, error) {
	m.queryCalls++
	call := popCall(&m.queryQueue)
	return call.query, call.err
}

func popCall(queue *[]gatewayCall) gatewayCall {
	if len(*queue) == 0 {
		return gatewayCall{err: errors.New("no scripted response")}
	}
	call := (*queue)[0]
	if len(*queue) > 1 {
		*queue = (*queue)[1:]
	}
	return call
}

type mockDevice struct {
	balance       float64
	addUnitsCalls int
	detailsCalls  int
	addUnitsOK    bool
	addUnitsError error
	detailsError  error
}

func newMockDevice() *mockDevice {
	return &mockDevice{balance: 100, addUnitsOK: true}
}

func (m *mockDevice) GetDeviceDetails(ctx context.Context, meterID string) (*tuya.DeviceDetails, error) {
	m.detailsCalls++
	if m.detailsError != nil {
		return nil, m.detailsError
	}
	raw, _ := json.Marshal(m.balance)
	return &tuya.DeviceDetails{
		ID:     meterID,
		Online: true,
		Status: []tuya.DeviceStatus{{Code: "balance_energy", Value: raw}},
	}, nil
}

func (m *mockDevice) AddUnits(ctx context.Context, meterID string, units decimal.Decimal) (bool, error) {
	m.addUnitsCalls++
	if m.addUnitsError != nil {
		return false, m.addUnitsError
	}
	if m.addUnitsOK {
		units64, _ := units.Float64()
		m.balance += units64
	}
	return m.addUnitsOK, nil
}
