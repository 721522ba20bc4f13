package settlement_test

import (
	"context"
	"log/slog"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	paymentmodel "github.com/frahmantamala/energy-settlement/internal/core/datamodel/payment"
	settlementmodel "github.com/frahmantamala/energy-settlement/internal/core/datamodel/settlement"
	"github.com/frahmantamala/energy-settlement/internal/core/events"
	settlementPkg "github.com/frahmantamala/energy-settlement/internal/settlement"
	"github.com/shopspring/decimal"
)

var _ = Describe("Reaper", func() {
	var (
		reaper      *settlementPkg.Reaper
		intents     *mockIntentRepository
		settlements *mockSettlementRepository
	)

	seedIntent := func(checkoutRequestID string, age time.Duration, callbackReceived bool) {
		intent := &paymentmodel.PaymentIntent{
			CheckoutRequestID: checkoutRequestID,
			Amount:            decimal.NewFromInt(100),
			PhoneNumber:       "254712345678",
			Status:            paymentmodel.StatusPending,
		}
		Expect(intents.CreateIntent(intent)).To(Succeed())
		intents.intents[checkoutRequestID].CreatedAt = time.Now().Add(-age)
		intents.intents[checkoutRequestID].CallbackReceived = callbackReceived

		record := &settlementmodel.SettlementRecord{
			MeterID:           "meter-1",
			PaymentIntentID:   &intent.ID,
			CheckoutRequestID: &intent.CheckoutRequestID,
			Amount:            intent.Amount,
			Status:            settlementmodel.StatusPending,
		}
		Expect(settlements.CreateSettlement(record)).To(Succeed())
	}

	BeforeEach(func() {
		intents = newMockIntentRepository()
		settlements = newMockSettlementRepository()
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		reaper = settlementPkg.NewReaper(intents, settlements, events.NewEventBus(logger), logger)
	})

	Context("with a stalled intent past the timeout", func() {
		It("fails the intent and cascades to the settlement", func() {
			seedIntent("co-stale", 30*time.Minute, false)

			reaped, err := reaper.Reap(context.Background(), 10)

			Expect(err).ToNot(HaveOccurred())
			Expect(reaped).To(Equal(1))

			intent, err := intents.FindByCheckoutRequestID("co-stale")
			Expect(err).ToNot(HaveOccurred())
			Expect(intent.Status).To(Equal(paymentmodel.StatusFailed))

			record, err := settlements.FindSettlementByCheckoutRequestID("co-stale")
			Expect(err).ToNot(HaveOccurred())
			Expect(record.Status).To(Equal(settlementmodel.StatusFailed))
			Expect(record.Description).To(Equal("timed out waiting for callback"))
		})
	})

	Context("with intents that must survive the sweep", func() {
		It("leaves recent pending intents alone", func() {
			seedIntent("co-fresh", 2*time.Minute, false)

			reaped, err := reaper.Reap(context.Background(), 10)

			Expect(err).ToNot(HaveOccurred())
			Expect(reaped).To(Equal(0))

			intent, err := intents.FindByCheckoutRequestID("co-fresh")
			Expect(err).ToNot(HaveOccurred())
			Expect(intent.Status).To(Equal(paymentmodel.StatusPending))
		})

		It("skips intents whose callback already arrived", func() {
			seedIntent("co-cb", 30*time.Minute, true)

			reaped, err := reaper.Reap(context.Background(), 10)

			Expect(err).ToNot(HaveOccurred())
			Expect(reaped).To(Equal(0))
		})

		It("skips intents resolved between the scan and the update", func() {
			seedIntent("co-race", 30*time.Minute, false)
			// simulate a callback landing mid-sweep
			intents.intents["co-race"].Status = paymentmodel.StatusSuccess

			reaped, err := reaper.Reap(context.Background(), 10)

			Expect(err).ToNot(HaveOccurred())
			Expect(reaped).To(Equal(0))

			intent, err := intents.FindByCheckoutRequestID("co-race")
			Expect(err).ToNot(HaveOccurred())
			Expect(intent.Status).To(Equal(paymentmodel.StatusSuccess))
		})
	})

	Context("with several stalled intents", func() {
		It("reaps them all in one sweep", func() {
			seedIntent("co-a", 20*time.Minute, false)
			seedIntent("co-b", 40*time.Minute, false)
			seedIntent("co-c", time.Minute, false)

			reaped, err := reaper.Reap(context.Background(), 10)

			Expect(err).ToNot(HaveOccurred())
			Expect(reaped).To(Equal(2))
		})
	})
})
