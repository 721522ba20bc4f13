package tuya

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	errors "github.com/frahmantamala/energy-settlement/internal"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CommandChargeEnergy credits energy units to a prepaid meter.
const CommandChargeEnergy = "charge_energy"

type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// Client issues signed commands to the device cloud. Every request carries a
// fresh signature; the access token comes from the client's own cache.
//
// AddUnits carries no idempotency key: if the device accepts the command but
// the caller crashes before recording it, a retry credits the meter twice.
// The vendor API offers no token to close that window.
type Client struct {
	cfg    Config
	client *http.Client
	tokens *tokenProvider
	logger *slog.Logger
	now    func() time.Time
}

type DeviceDetails struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Online bool           `json:"online"`
	Status []DeviceStatus `json:"status"`
}

type DeviceStatus struct {
	Code  string          `json:"code"`
	Value json.RawMessage `json:"value"`
}

// EnergyBalance extracts the meter's reported energy balance from the
// status list, nil when the device does not report one.
func (d *DeviceDetails) EnergyBalance() *decimal.Decimal {
	for _, s := range d.Status {
		if s.Code != "balance_energy" {
			continue
		}
		var value float64
		if err := json.Unmarshal(s.Value, &value); err != nil {
			return nil
		}
		balance := decimal.NewFromFloat(value)
		return &balance
	}
	return nil
}

type commandRequest struct {
	Commands []command `json:"commands"`
}

type command struct {
	Code  string      `json:"code"`
	Value interface{} `json:"value"`
}

type apiResponse struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Msg     string          `json:"msg"`
	Result  json.RawMessage `json:"result"`
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}
	return &Client{
		cfg:    cfg,
		client: httpClient,
		tokens: newTokenProvider(cfg.BaseURL, cfg.ClientID, cfg.ClientSecret, httpClient),
		logger: logger,
		now:    time.Now,
	}
}

// GetDeviceDetails reads the device record, mostly to check it is online
// before attempting a credit.
func (c *Client) GetDeviceDetails(ctx context.Context, meterID string) (*DeviceDetails, error) {
	path := fmt.Sprintf("/v1.0/devices/%s", meterID)

	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, errors.NewExternalError(
			fmt.Sprintf("device lookup rejected: %s", resp.Msg), errors.ErrCodeDeviceCommand)
	}

	var details DeviceDetails
	if err := json.Unmarshal(resp.Result, &details); err != nil {
		return nil, errors.NewExternalError("malformed device details", errors.ErrCodeDeviceCommand).WithCause(err)
	}
	return &details, nil
}

// AddUnits sends a charge_energy command crediting units to the meter.
func (c *Client) AddUnits(ctx context.Context, meterID string, units decimal.Decimal) (bool, error) {
	path := fmt.Sprintf("/v1.0/devices/%s/commands", meterID)

	body, err := json.Marshal(commandRequest{
		Commands: []command{{Code: CommandChargeEnergy, Value: units.InexactFloat64()}},
	})
	if err != nil {
		return false, errors.NewInternalError("failed to marshal device command", err)
	}

	c.logger.Info("sending device credit command",
		"meter_id", meterID,
		"units", units.String())

	resp, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return false, err
	}
	if !resp.Success {
		c.logger.Error("device rejected credit command",
			"meter_id", meterID,
			"code", resp.Code,
			"msg", resp.Msg)
		return false, errors.NewExternalError(
			fmt.Sprintf("device command rejected: %s", resp.Msg), errors.ErrCodeDeviceCommand)
	}

	return true, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*apiResponse, error) {
	token, err := c.tokens.token(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, errors.NewInternalError("failed to build device request", err)
	}

	timestamp := strconv.FormatInt(c.now().UnixMilli(), 10)
	nonce := uuid.NewString()
	stringToSign := StringToSign(method, body, path)

	req.Header.Set("client_id", c.cfg.ClientID)
	req.Header.Set("sign", Sign(c.cfg.ClientID, c.cfg.ClientSecret, token, timestamp, nonce, stringToSign))
	req.Header.Set("t", timestamp)
	req.Header.Set("sign_method", "HMAC-SHA256")
	req.Header.Set("nonce", nonce)
	req.Header.Set("access_token", token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.NewExternalError("device request failed", errors.ErrCodeDeviceCommand).WithCause(err)
	}
	defer resp.Body.Close()

	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.NewExternalError("malformed device response", errors.ErrCodeDeviceCommand).WithCause(err)
	}

	return &parsed, nil
}
