package settlement

import (
	"context"
	"log/slog"
	"time"

	errors "github.com/frahmantamala/energy-settlement/internal"
	paymentmodel "github.com/frahmantamala/energy-settlement/internal/core/datamodel/payment"
	settlementmodel "github.com/frahmantamala/energy-settlement/internal/core/datamodel/settlement"
	"github.com/frahmantamala/energy-settlement/internal/core/events"
	"github.com/frahmantamala/energy-settlement/internal/daraja"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
)

type Config struct {
	MaxInitiateRetries int
	ResolutionTimeout  time.Duration
	PollBaseWait       time.Duration
	PollMaxWait        time.Duration
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.MaxInitiateRetries <= 0 {
		cfg.MaxInitiateRetries = 3
	}
	if cfg.ResolutionTimeout <= 0 {
		cfg.ResolutionTimeout = 60 * time.Second
	}
	if cfg.PollBaseWait <= 0 {
		cfg.PollBaseWait = 3 * time.Second
	}
	if cfg.PollMaxWait <= 0 {
		cfg.PollMaxWait = 10 * time.Second
	}
	return cfg
}

// Service drives a purchase from payment initiation to device crediting.
// One call owns one settlement; concurrent resolutions by the callback
// processor, the reaper, or another status check are reconciled through the
// store's conditional updates, never in memory.
type Service struct {
	gateway     GatewayAPI
	device      DeviceAPI
	rates       RateCalculator
	intents     IntentRepository
	settlements SettlementRepository
	poller      *Poller
	eventBus    *events.EventBus
	logger      *slog.Logger
	cfg         Config

	// swapped out in tests
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) bool
	backoffUnit time.Duration
}

func NewService(gateway GatewayAPI, device DeviceAPI, rates RateCalculator, intents IntentRepository, settlements SettlementRepository, eventBus *events.EventBus, cfg Config, logger *slog.Logger) *Service {
	return &Service{
		gateway:     gateway,
		device:      device,
		rates:       rates,
		intents:     intents,
		settlements: settlements,
		poller:      NewPoller(gateway, intents, settlements, logger),
		eventBus:    eventBus,
		logger:      logger,
		cfg:         cfg.withDefaults(),
		now:         time.Now,
		sleep:       sleepCtx,
		backoffUnit: time.Second,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// CompletePayment runs the full pipeline: initiate the push payment, wait
// for resolution, and on success credit the meter. A timed-out wait returns
// a non-final response; the callback or reaper resolves the intent later.
func (s *Service) CompletePayment(ctx context.Context, req PurchaseRequest) (*SettlementResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	push, err := s.initiateWithRetry(ctx, req)
	if err != nil {
		s.logger.Error("payment initiation exhausted retries",
			"meter_id", req.MeterID,
			"error", err)
		return &SettlementResponse{
			Outcome: OutcomeDeclined,
			MeterID: req.MeterID,
			Amount:  req.Amount.String(),
			Message: err.Error(),
		}, nil
	}

	if push.CheckoutRequestID == "" {
		return &SettlementResponse{
			Outcome: OutcomeDeclined,
			MeterID: req.MeterID,
			Amount:  req.Amount.String(),
			Message: push.ResponseDescription,
		}, nil
	}

	intent := &paymentmodel.PaymentIntent{
		MerchantRequestID:   push.MerchantRequestID,
		CheckoutRequestID:   push.CheckoutRequestID,
		Amount:              req.Amount,
		PhoneNumber:         req.PhoneNumber,
		Status:              paymentmodel.StatusPending,
		ResponseCode:        &push.ResponseCode,
		ResponseDescription: &push.ResponseDescription,
	}
	if err := s.intents.CreateIntent(intent); err != nil {
		return nil, errors.NewInternalError("failed to persist payment intent", err)
	}

	if !push.Accepted() {
		// the gateway took the request but refused to prompt the customer;
		// the reaper will fail the intent if no callback ever lands
		return &SettlementResponse{
			Outcome:           OutcomeDeclined,
			CheckoutRequestID: push.CheckoutRequestID,
			MerchantRequestID: push.MerchantRequestID,
			MeterID:           req.MeterID,
			Amount:            req.Amount.String(),
			Message:           push.ResponseDescription,
		}, nil
	}

	description := req.Description
	if description == "" {
		description = "energy purchase"
	}
	record := &settlementmodel.SettlementRecord{
		UserID:            req.UserID,
		MeterID:           req.MeterID,
		PaymentIntentID:   &intent.ID,
		CheckoutRequestID: &intent.CheckoutRequestID,
		Amount:            req.Amount,
		Status:            settlementmodel.StatusPending,
		Description:       description,
	}
	if err := s.settlements.CreateSettlement(record); err != nil {
		return nil, errors.NewInternalError("failed to persist settlement record", err)
	}

	resolved := s.awaitResolution(ctx, push.CheckoutRequestID)
	if resolved == nil {
		s.logger.Warn("payment unresolved within wait budget",
			"checkout_request_id", push.CheckoutRequestID)
		return &SettlementResponse{
			Outcome:           OutcomeTimedOutPending,
			CheckoutRequestID: push.CheckoutRequestID,
			MerchantRequestID: push.MerchantRequestID,
			MeterID:           req.MeterID,
			Amount:            req.Amount.String(),
			Message:           "payment pending; it may still complete",
		}, nil
	}

	if resolved.Status == paymentmodel.StatusFailed {
		return s.declinedResponse(resolved, req.MeterID), nil
	}

	return s.credit(ctx, resolved)
}

// CheckAndProcess re-queries an existing intent outside the orchestration
// loop and, when it turns out successful, runs the crediting step alone.
// Crediting stays idempotent: units are computed at most once.
func (s *Service) CheckAndProcess(ctx context.Context, checkoutRequestID string) (*SettlementResponse, error) {
	if _, err := s.poller.QueryAndReconcile(ctx, checkoutRequestID); err != nil {
		if appErr, ok := errors.IsAppError(err); ok && appErr.Code == errors.ErrCodeIntentNotFound {
			return nil, err
		}
		// gateway unreachable or throttled; answer from local state
		s.logger.Warn("status query failed, answering from local state",
			"checkout_request_id", checkoutRequestID,
			"error", err)
	}

	intent, err := s.intents.FindByCheckoutRequestID(checkoutRequestID)
	if err != nil {
		return nil, errors.ErrIntentNotFound
	}

	switch intent.Status {
	case paymentmodel.StatusSuccess:
		return s.credit(ctx, intent)
	case paymentmodel.StatusFailed:
		return s.declinedResponse(intent, ""), nil
	default:
		return &SettlementResponse{
			Outcome:           OutcomeTimedOutPending,
			CheckoutRequestID: intent.CheckoutRequestID,
			MerchantRequestID: intent.MerchantRequestID,
			Amount:            intent.Amount.String(),
			Message:           "payment pending; it may still complete",
		}, nil
	}
}

// ManualCredit credits a meter directly without a payment, recording a
// completed settlement with no intent link.
func (s *Service) ManualCredit(ctx context.Context, req ManualCreditRequest) (*SettlementResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	units := s.rates.UnitsFor(req.Amount)
	description := req.Description
	if description == "" {
		description = "manual credit"
	}

	record := &settlementmodel.SettlementRecord{
		UserID:      req.UserID,
		MeterID:     req.MeterID,
		Amount:      req.Amount,
		UnitsAdded:  &units,
		Status:      settlementmodel.StatusCompleted,
		Description: description,
	}
	if err := s.settlements.CreateSettlement(record); err != nil {
		return nil, errors.NewInternalError("failed to persist settlement record", err)
	}

	return s.creditDevice(ctx, record, units, &SettlementResponse{
		MeterID: req.MeterID,
		Amount:  req.Amount.String(),
	}), nil
}

func (s *Service) initiateWithRetry(ctx context.Context, req PurchaseRequest) (*daraja.PushResult, error) {
	var result *daraja.PushResult
	busy := false

	attempt := 0
	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		// the gateway's "system busy" answer gets a slower track than
		// generic transient failures
		if busy {
			return time.Duration(attempt) * 2 * s.backoffUnit, false
		}
		return time.Duration(attempt) * s.backoffUnit, false
	})

	err := retry.Do(ctx, retry.WithMaxRetries(uint64(s.cfg.MaxInitiateRetries), backoff), func(ctx context.Context) error {
		res, err := s.gateway.Initiate(ctx, req.Amount, req.PhoneNumber, req.MeterID, req.Description)
		if err != nil {
			busy = daraja.IsBusy(err)
			if daraja.IsRetryable(err) {
				s.logger.Warn("payment initiation failed, retrying",
					"meter_id", req.MeterID,
					"attempt", attempt+1,
					"busy", busy,
					"error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// awaitResolution polls until the intent reaches a terminal state or the
// wall-clock budget runs out. Consecutive rate-limited polls stretch the
// wait linearly up to the cap; any other outcome resets it to the base.
func (s *Service) awaitResolution(ctx context.Context, checkoutRequestID string) *paymentmodel.PaymentIntent {
	deadline := s.now().Add(s.cfg.ResolutionTimeout)
	consecutiveRateLimits := 0

	for s.now().Before(deadline) {
		intent, err := s.intents.FindByCheckoutRequestID(checkoutRequestID)
		if err == nil && intent.IsTerminal() {
			return intent
		}

		_, pollErr := s.poller.QueryAndReconcile(ctx, checkoutRequestID)

		wait := s.cfg.PollBaseWait
		if pollErr != nil && daraja.IsRateLimited(pollErr) {
			wait = time.Duration(1+consecutiveRateLimits) * s.cfg.PollBaseWait
			if wait > s.cfg.PollMaxWait {
				wait = s.cfg.PollMaxWait
			}
			consecutiveRateLimits++
			s.logger.Warn("status query rate limited, backing off",
				"checkout_request_id", checkoutRequestID,
				"consecutive", consecutiveRateLimits,
				"wait", wait)
		} else {
			consecutiveRateLimits = 0
		}

		if !s.sleep(ctx, wait) {
			return nil
		}
	}

	// the final poll may have resolved it right at the deadline
	if intent, err := s.intents.FindByCheckoutRequestID(checkoutRequestID); err == nil && intent.IsTerminal() {
		return intent
	}
	return nil
}

// credit runs the crediting step for a successfully resolved intent. Units
// are computed and persisted at most once; whichever caller wins the
// conditional write issues the device command.
func (s *Service) credit(ctx context.Context, intent *paymentmodel.PaymentIntent) (*SettlementResponse, error) {
	resp := &SettlementResponse{
		Outcome:           OutcomeSucceeded,
		CheckoutRequestID: intent.CheckoutRequestID,
		MerchantRequestID: intent.MerchantRequestID,
		Amount:            intent.Amount.String(),
		ReceiptNumber:     intent.ReceiptNumber,
	}

	record, err := s.settlements.FindSettlementByCheckoutRequestID(intent.CheckoutRequestID)
	if err != nil {
		s.logger.Info("no settlement record to credit",
			"checkout_request_id", intent.CheckoutRequestID)
		return resp, nil
	}
	resp.MeterID = record.MeterID

	if record.UnitsAdded != nil && !record.UnitsAdded.IsZero() {
		// an earlier resolution already credited this settlement
		units := record.UnitsAdded.String()
		resp.UnitsAdded = &units
		return resp, nil
	}

	units := s.rates.UnitsFor(record.Amount)
	won, err := s.settlements.UpdateUnitsIfUnset(record.ID, units)
	if err != nil {
		return nil, errors.NewInternalError("failed to persist computed units", err)
	}
	if !won {
		// lost the race to a concurrent status check
		if fresh, err := s.settlements.FindSettlementByID(record.ID); err == nil && fresh.UnitsAdded != nil {
			unitsStr := fresh.UnitsAdded.String()
			resp.UnitsAdded = &unitsStr
		}
		return resp, nil
	}

	return s.creditDevice(ctx, record, units, resp), nil
}

// creditDevice issues the device command and records the outcome. A device
// failure never reverts the settlement: the money has moved, so the record
// stays completed and the failure is flagged for operator follow-up.
func (s *Service) creditDevice(ctx context.Context, record *settlementmodel.SettlementRecord, units decimal.Decimal, resp *SettlementResponse) *SettlementResponse {
	unitsStr := units.String()
	resp.UnitsAdded = &unitsStr

	var balanceBefore *decimal.Decimal
	if details, err := s.device.GetDeviceDetails(ctx, record.MeterID); err == nil {
		balanceBefore = details.EnergyBalance()
	}

	ok, err := s.device.AddUnits(ctx, record.MeterID, units)
	if err != nil || !ok {
		s.logger.Error("device credit failed after completed payment",
			"settlement_id", record.ID,
			"meter_id", record.MeterID,
			"units", unitsStr,
			"error", err)

		reason := "device command rejected"
		if err != nil {
			reason = err.Error()
		}
		s.eventBus.Publish(ctx, events.NewDeviceCreditFailedEvent(record.ID, record.MeterID, unitsStr, reason))

		success := false
		resp.Outcome = OutcomeDeviceFailed
		resp.DeviceUpdateSuccess = &success
		return resp
	}

	var balanceAfter *decimal.Decimal
	if details, err := s.device.GetDeviceDetails(ctx, record.MeterID); err == nil {
		balanceAfter = details.EnergyBalance()
	}

	if balanceBefore != nil || balanceAfter != nil {
		if err := s.settlements.UpdateBalances(record.ID, balanceBefore, balanceAfter); err != nil {
			s.logger.Error("failed to record device balances",
				"settlement_id", record.ID,
				"error", err)
		}
		if balanceBefore != nil {
			str := balanceBefore.String()
			resp.BalanceBefore = &str
		}
		if balanceAfter != nil {
			str := balanceAfter.String()
			resp.BalanceAfter = &str
		}
	}

	success := true
	resp.Outcome = OutcomeSucceeded
	resp.DeviceUpdateSuccess = &success

	s.logger.Info("meter credited",
		"settlement_id", record.ID,
		"meter_id", record.MeterID,
		"units", unitsStr)

	return resp
}

func (s *Service) declinedResponse(intent *paymentmodel.PaymentIntent, meterID string) *SettlementResponse {
	message := "payment declined"
	if intent.ResponseDescription != nil && *intent.ResponseDescription != "" {
		message = *intent.ResponseDescription
	}
	return &SettlementResponse{
		Outcome:           OutcomeDeclined,
		CheckoutRequestID: intent.CheckoutRequestID,
		MerchantRequestID: intent.MerchantRequestID,
		MeterID:           meterID,
		Amount:            intent.Amount.String(),
		Message:           message,
	}
}
