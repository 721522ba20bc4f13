package settlement_test

import (
	"context"
	"log/slog"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	errorsPkg "github.com/frahmantamala/energy-settlement/internal"
	paymentmodel "github.com/frahmantamala/energy-settlement/internal/core/datamodel/payment"
	"github.com/frahmantamala/energy-settlement/internal/daraja"
	settlementPkg "github.com/frahmantamala/energy-settlement/internal/settlement"
	"github.com/shopspring/decimal"
)

var _ = Describe("Poller", func() {
	var (
		poller  *settlementPkg.Poller
		gateway *mockGateway
		intents *mockIntentRepository
	)

	seedIntent := func(status string) {
		Expect(intents.CreateIntent(&paymentmodel.PaymentIntent{
			CheckoutRequestID: "co-1",
			Amount:            decimal.NewFromInt(100),
			PhoneNumber:       "254712345678",
			Status:            paymentmodel.StatusPending,
		})).To(Succeed())
		if status != paymentmodel.StatusPending {
			_, err := intents.UpdateIntentIfPending("co-1", status, settlementPkg.IntentUpdate{})
			Expect(err).ToNot(HaveOccurred())
		}
	}

	BeforeEach(func() {
		gateway = &mockGateway{}
		intents = newMockIntentRepository()
		settlements := newMockSettlementRepository()
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		poller = settlementPkg.NewPoller(gateway, intents, settlements, logger)
	})

	It("short-circuits a terminal intent without calling the gateway", func() {
		seedIntent(paymentmodel.StatusSuccess)

		resolved, err := poller.QueryAndReconcile(context.Background(), "co-1")

		Expect(err).ToNot(HaveOccurred())
		Expect(resolved).To(BeTrue())
		Expect(gateway.queryCalls).To(Equal(0))
	})

	It("returns not found for an unknown checkout request id", func() {
		_, err := poller.QueryAndReconcile(context.Background(), "co-missing")

		Expect(err).To(HaveOccurred())
		appErr, ok := errorsPkg.IsAppError(err)
		Expect(ok).To(BeTrue())
		Expect(appErr.Code).To(Equal(errorsPkg.ErrCodeIntentNotFound))
		Expect(gateway.queryCalls).To(Equal(0))
	})

	It("propagates gateway errors and leaves the intent pending", func() {
		seedIntent(paymentmodel.StatusPending)
		gateway.queryQueue = []gatewayCall{{err: errorsPkg.NewExternalError("busy", errorsPkg.ErrCodeGatewayBusy)}}

		_, err := poller.QueryAndReconcile(context.Background(), "co-1")

		Expect(err).To(HaveOccurred())
		intent, findErr := intents.FindByCheckoutRequestID("co-1")
		Expect(findErr).ToNot(HaveOccurred())
		Expect(intent.Status).To(Equal(paymentmodel.StatusPending))
	})

	It("applies a failed outcome from the gateway", func() {
		seedIntent(paymentmodel.StatusPending)
		gateway.queryQueue = []gatewayCall{{query: &daraja.QueryResult{ResultCode: "1037", ResultDesc: "timeout"}}}

		resolved, err := poller.QueryAndReconcile(context.Background(), "co-1")

		Expect(err).ToNot(HaveOccurred())
		Expect(resolved).To(BeTrue())

		intent, findErr := intents.FindByCheckoutRequestID("co-1")
		Expect(findErr).ToNot(HaveOccurred())
		Expect(intent.Status).To(Equal(paymentmodel.StatusFailed))
	})
})
