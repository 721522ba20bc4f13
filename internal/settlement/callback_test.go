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

var _ = Describe("CallbackProcessor", func() {
	var (
		processor   *settlementPkg.CallbackProcessor
		intents     *mockIntentRepository
		settlements *mockSettlementRepository
		logger      *slog.Logger
	)

	seedPendingIntent := func(checkoutRequestID string) {
		intent := &paymentmodel.PaymentIntent{
			MerchantRequestID: "mr-1",
			CheckoutRequestID: checkoutRequestID,
			Amount:            decimal.NewFromInt(100),
			PhoneNumber:       "254712345678",
			Status:            paymentmodel.StatusPending,
		}
		Expect(intents.CreateIntent(intent)).To(Succeed())

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
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		processor = settlementPkg.NewCallbackProcessor(intents, settlements, events.NewEventBus(logger), logger)
	})

	Context("with a successful payment callback", func() {
		payload := []byte(`{
			"Body": {
				"stkCallback": {
					"MerchantRequestID": "mr-1",
					"CheckoutRequestID": "co-1",
					"ResultCode": 0,
					"ResultDesc": "The service request is processed successfully.",
					"CallbackMetadata": {
						"Item": [
							{"Name": "Amount", "Value": 100.00},
							{"Name": "MpesaReceiptNumber", "Value": "QK12XYZ9AB"},
							{"Name": "Balance"},
							{"Name": "TransactionDate", "Value": 20260110143015},
							{"Name": "PhoneNumber", "Value": 254712345678}
						]
					}
				}
			}
		}`)

		It("resolves the intent with receipt and transaction time", func() {
			seedPendingIntent("co-1")

			Expect(processor.Process(context.Background(), payload)).To(BeTrue())

			intent, err := intents.FindByCheckoutRequestID("co-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(intent.Status).To(Equal(paymentmodel.StatusSuccess))
			Expect(intent.CallbackReceived).To(BeTrue())
			Expect(intent.ReceiptNumber).ToNot(BeNil())
			Expect(*intent.ReceiptNumber).To(Equal("QK12XYZ9AB"))
			Expect(intent.TransactionTimestamp).ToNot(BeNil())
			Expect(*intent.TransactionTimestamp).To(Equal(time.Date(2026, 1, 10, 14, 30, 15, 0, time.UTC)))
		})

		It("completes the linked settlement", func() {
			seedPendingIntent("co-1")

			Expect(processor.Process(context.Background(), payload)).To(BeTrue())

			record, err := settlements.FindSettlementByCheckoutRequestID("co-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(record.Status).To(Equal(settlementmodel.StatusCompleted))
		})
	})

	Context("with a cancellation callback", func() {
		payload := []byte(`{
			"Body": {
				"stkCallback": {
					"MerchantRequestID": "mr-1",
					"CheckoutRequestID": "co-1",
					"ResultCode": 1032,
					"ResultDesc": "Request cancelled by user"
				}
			}
		}`)

		It("fails the intent and the settlement", func() {
			seedPendingIntent("co-1")

			Expect(processor.Process(context.Background(), payload)).To(BeTrue())

			intent, err := intents.FindByCheckoutRequestID("co-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(intent.Status).To(Equal(paymentmodel.StatusFailed))

			record, err := settlements.FindSettlementByCheckoutRequestID("co-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(record.Status).To(Equal(settlementmodel.StatusFailed))
			Expect(record.Description).To(Equal("Request cancelled by user"))
		})
	})

	Context("with defective metadata", func() {
		It("drops an unparseable transaction date but still resolves", func() {
			seedPendingIntent("co-1")
			payload := []byte(`{
				"Body": {
					"stkCallback": {
						"CheckoutRequestID": "co-1",
						"ResultCode": 0,
						"ResultDesc": "ok",
						"CallbackMetadata": {
							"Item": [{"Name": "TransactionDate", "Value": "not-a-date"}]
						}
					}
				}
			}`)

			Expect(processor.Process(context.Background(), payload)).To(BeTrue())

			intent, err := intents.FindByCheckoutRequestID("co-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(intent.Status).To(Equal(paymentmodel.StatusSuccess))
			Expect(intent.TransactionTimestamp).To(BeNil())
		})

		It("zero-pads a short transaction date before parsing", func() {
			seedPendingIntent("co-1")
			payload := []byte(`{
				"Body": {
					"stkCallback": {
						"CheckoutRequestID": "co-1",
						"ResultCode": 0,
						"ResultDesc": "ok",
						"CallbackMetadata": {
							"Item": [{"Name": "TransactionDate", "Value": "260110143015"}]
						}
					}
				}
			}`)

			Expect(processor.Process(context.Background(), payload)).To(BeTrue())

			intent, err := intents.FindByCheckoutRequestID("co-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(intent.TransactionTimestamp).ToNot(BeNil())
			Expect(intent.TransactionTimestamp.Year()).To(Equal(26))
		})
	})

	Context("with a malformed payload", func() {
		It("rejects invalid JSON", func() {
			Expect(processor.Process(context.Background(), []byte(`{"Body": `))).To(BeFalse())
		})

		It("rejects a payload without a checkout request id", func() {
			payload := []byte(`{"Body": {"stkCallback": {"ResultCode": 0}}}`)
			Expect(processor.Process(context.Background(), payload)).To(BeFalse())
		})
	})

	Context("when the intent was already resolved", func() {
		It("acknowledges without changing the terminal state", func() {
			seedPendingIntent("co-1")
			_, err := intents.UpdateIntentIfPending("co-1", paymentmodel.StatusFailed, settlementPkg.IntentUpdate{})
			Expect(err).ToNot(HaveOccurred())

			payload := []byte(`{
				"Body": {
					"stkCallback": {
						"CheckoutRequestID": "co-1",
						"ResultCode": 0,
						"ResultDesc": "ok"
					}
				}
			}`)

			Expect(processor.Process(context.Background(), payload)).To(BeTrue())

			intent, findErr := intents.FindByCheckoutRequestID("co-1")
			Expect(findErr).ToNot(HaveOccurred())
			Expect(intent.Status).To(Equal(paymentmodel.StatusFailed))
		})
	})
})
