package daraja

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	errors "github.com/frahmantamala/energy-settlement/internal"
	"github.com/shopspring/decimal"
)

const timestampLayout = "20060102150405"

type Config struct {
	BaseURL     string
	ShortCode   string
	Passkey     string
	CallbackURL string
	CountryCode string
	Timeout     time.Duration
}

// Client issues signed push-payment and status-query calls. Both are safe
// to retry: an initiate retry produces a new checkout request, a query is
// read-only.
type Client struct {
	cfg    Config
	client *http.Client
	tokens TokenProvider
	logger *slog.Logger
	now    func() time.Time
}

func NewClient(cfg Config, tokens TokenProvider, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if cfg.CountryCode == "" {
		cfg.CountryCode = "254"
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		tokens: tokens,
		logger: logger,
		now:    time.Now,
	}
}

// Password derives the request password: base64(shortCode + passkey + timestamp).
func Password(shortCode, passkey string, t time.Time) (password, timestamp string) {
	timestamp = t.Format(timestampLayout)
	password = base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
	return password, timestamp
}

// Initiate sends a push-payment prompt to the customer's phone. Gateway
// declines and malformed bodies come back as structured results; the error
// return is reserved for auth, transport and throttling failures.
func (c *Client) Initiate(ctx context.Context, amount decimal.Decimal, phoneNumber, accountReference, description string) (*PushResult, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	password, timestamp := Password(c.cfg.ShortCode, c.cfg.Passkey, c.now())
	phone := NormalizePhone(phoneNumber, c.cfg.CountryCode)

	body := stkPushRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   TransactionTypePayBill,
		Amount:            amount.Round(0).String(),
		PartyA:            phone,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  accountReference,
		TransactionDesc:   description,
	}

	c.logger.Info("initiating push payment",
		"phone", phone,
		"amount", body.Amount,
		"account_reference", accountReference)

	respBody, status, err := c.post(ctx, "/mpesa/stkpush/v1/processrequest", token, body)
	if err != nil {
		return nil, err
	}

	if status != http.StatusOK {
		return nil, c.classifyError(status, respBody)
	}

	var result PushResult
	if err := json.Unmarshal(respBody, &result); err != nil || result.CheckoutRequestID == "" && result.ResponseCode == "" {
		c.logger.Error("malformed push response body",
			"status", status,
			"body", string(respBody))
		return &PushResult{
			ResponseCode:        "1",
			ResponseDescription: "malformed gateway response",
		}, nil
	}

	c.logger.Info("push payment request accepted by gateway",
		"merchant_request_id", result.MerchantRequestID,
		"checkout_request_id", result.CheckoutRequestID,
		"response_code", result.ResponseCode)

	return &result, nil
}

// QueryStatus asks the gateway for the outcome of a previously initiated
// push. While the customer has not yet acted the gateway answers with a
// "system busy" error, surfaced here as a retryable error return.
func (c *Client) QueryStatus(ctx context.Context, checkoutRequestID string) (*QueryResult, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	password, timestamp := Password(c.cfg.ShortCode, c.cfg.Passkey, c.now())

	body := stkQueryRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutRequestID,
	}

	respBody, status, err := c.post(ctx, "/mpesa/stkpushquery/v1/query", token, body)
	if err != nil {
		return nil, err
	}

	if status != http.StatusOK {
		return nil, c.classifyError(status, respBody)
	}

	var result QueryResult
	if err := json.Unmarshal(respBody, &result); err != nil || result.ResultCode == "" && result.ResponseCode == "" {
		c.logger.Error("malformed query response body",
			"checkout_request_id", checkoutRequestID,
			"body", string(respBody))
		return &QueryResult{
			CheckoutRequestID: checkoutRequestID,
			ResultCode:        "1",
			ResultDesc:        "malformed gateway response",
		}, nil
	}

	return &result, nil
}

func (c *Client) post(ctx context.Context, path, token string, payload interface{}) ([]byte, int, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, errors.NewInternalError("failed to marshal gateway request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, 0, errors.NewInternalError("failed to build gateway request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, errors.NewExternalError("gateway request failed", errors.ErrCodeGatewayTimeout).WithCause(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, errors.NewExternalError("failed to read gateway response", errors.ErrCodeGatewayTimeout).WithCause(err)
	}

	return respBody, resp.StatusCode, nil
}

// classifyError maps a non-200 gateway answer onto the error taxonomy:
// throttling, retryable busy, or a terminal decline.
func (c *Client) classifyError(status int, body []byte) *errors.AppError {
	var gwErr gatewayErrorBody
	_ = json.Unmarshal(body, &gwErr)

	message := gwErr.ErrorMessage
	if message == "" {
		message = string(body)
	}

	c.logger.Warn("gateway returned error",
		"status", status,
		"error_code", gwErr.ErrorCode,
		"error_message", message)

	switch {
	case strings.Contains(message, RateLimitMarker):
		return errors.NewExternalError(message, errors.ErrCodeRateLimited)
	case gwErr.ErrorCode == ErrorCodeSystemBusy:
		return errors.NewExternalError(message, errors.ErrCodeGatewayBusy)
	case status >= http.StatusInternalServerError:
		return errors.NewExternalError(message, errors.ErrCodeGatewayTimeout)
	default:
		return errors.NewExternalError(message, errors.ErrCodeGatewayDeclined)
	}
}

// IsRateLimited reports whether err is the gateway's throttling signal.
func IsRateLimited(err error) bool {
	if appErr, ok := errors.IsAppError(err); ok {
		return appErr.Code == errors.ErrCodeRateLimited
	}
	return false
}

// IsRetryable reports whether the call may be retried with backoff.
func IsRetryable(err error) bool {
	if appErr, ok := errors.IsAppError(err); ok {
		switch appErr.Code {
		case errors.ErrCodeGatewayBusy, errors.ErrCodeGatewayTimeout, errors.ErrCodeRateLimited:
			return true
		}
	}
	return false
}

// IsBusy reports whether err is the gateway's "system busy" code, which gets
// its own backoff track during initiate retries.
func IsBusy(err error) bool {
	if appErr, ok := errors.IsAppError(err); ok {
		return appErr.Code == errors.ErrCodeGatewayBusy
	}
	return false
}
