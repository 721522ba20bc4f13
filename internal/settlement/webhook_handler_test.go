package settlement_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	paymentmodel "github.com/frahmantamala/energy-settlement/internal/core/datamodel/payment"
	"github.com/frahmantamala/energy-settlement/internal/core/events"
	settlementPkg "github.com/frahmantamala/energy-settlement/internal/settlement"
	"github.com/frahmantamala/energy-settlement/internal/transport"
	"github.com/shopspring/decimal"
)

var _ = Describe("WebhookHandler", func() {
	var (
		handler *settlementPkg.WebhookHandler
		intents *mockIntentRepository
	)

	post := func(payload string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback", bytes.NewBufferString(payload))
		rec := httptest.NewRecorder()
		handler.HandlePaymentCallback(rec, req)
		return rec
	}

	BeforeEach(func() {
		intents = newMockIntentRepository()
		settlements := newMockSettlementRepository()
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		processor := settlementPkg.NewCallbackProcessor(intents, settlements, events.NewEventBus(logger), logger)
		handler = settlementPkg.NewWebhookHandler(transport.NewBaseHandler(logger), processor, logger)
	})

	It("acknowledges a processable callback with result code 0", func() {
		Expect(intents.CreateIntent(&paymentmodel.PaymentIntent{
			CheckoutRequestID: "co-1",
			Amount:            decimal.NewFromInt(100),
			PhoneNumber:       "254712345678",
			Status:            paymentmodel.StatusPending,
		})).To(Succeed())

		rec := post(`{"Body": {"stkCallback": {"CheckoutRequestID": "co-1", "ResultCode": 0, "ResultDesc": "ok"}}}`)

		Expect(rec.Code).To(Equal(http.StatusOK))
		var ack map[string]interface{}
		Expect(json.Unmarshal(rec.Body.Bytes(), &ack)).To(Succeed())
		Expect(ack["ResultCode"]).To(BeEquivalentTo(0))
	})

	It("still answers 200 for a malformed payload", func() {
		rec := post(`not json at all`)

		Expect(rec.Code).To(Equal(http.StatusOK))
		var ack map[string]interface{}
		Expect(json.Unmarshal(rec.Body.Bytes(), &ack)).To(Succeed())
		Expect(ack["ResultCode"]).To(BeEquivalentTo(1))
	})

	It("still answers 200 for an unknown checkout request id", func() {
		rec := post(`{"Body": {"stkCallback": {"CheckoutRequestID": "co-unknown", "ResultCode": 0, "ResultDesc": "ok"}}}`)

		Expect(rec.Code).To(Equal(http.StatusOK))
	})
})
