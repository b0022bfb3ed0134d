package paygate

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sokoni-labs/sokoni-backend/pkg/config"
	pkgerrors "github.com/sokoni-labs/sokoni-backend/pkg/errors"
	"github.com/sokoni-labs/sokoni-backend/pkg/logger"
)

// Gateway status vocabulary mapped by the payments service.
const (
	StatusSuccessful = "successful"
	StatusFailed     = "failed"
	StatusPending    = "pending"
)

const (
	initiatePath = "/payments"
	verifyPath   = "/transactions/verify/"
	disbursePath = "/transfers"
)

var (
	errSecretKeyRequired     = errors.New("paygate secret key is required")
	errWebhookSecretRequired = errors.New("paygate webhook secret is required")
	errBaseURLRequired       = errors.New("paygate base url is required")
	errLoggerRequired        = errors.New("paygate logger is required")
)

// Client wraps the payment gateway's HTTP API with centralized auth, logging
// and error mapping. The gateway is a hosted mobile-money PSP; there is no SDK.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	secretKey     string
	webhookSecret string
	callbackURL   string
	returnURL     string
	currency      string
	logger        *logger.Logger
}

// NewClient initializes the gateway wrapper and validates the credentials.
func NewClient(cfg config.PaygateConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errBaseURLRequired
	}
	secretKey := strings.TrimSpace(cfg.SecretKey)
	if secretKey == "" {
		return nil, errSecretKeyRequired
	}
	webhookSecret := strings.TrimSpace(cfg.WebhookSecret)
	if webhookSecret == "" {
		return nil, errWebhookSecretRequired
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		httpClient:    &http.Client{Timeout: timeout},
		baseURL:       baseURL,
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		callbackURL:   strings.TrimSpace(cfg.CallbackURL),
		returnURL:     strings.TrimSpace(cfg.ReturnURL),
		currency:      cfg.Currency,
		logger:        logg,
	}, nil
}

// Currency returns the configured settlement currency.
func (c *Client) Currency() string {
	if c == nil {
		return ""
	}
	return c.currency
}

// Initiate creates a hosted checkout session for the combined cart amount.
func (c *Client) Initiate(ctx context.Context, params InitiateParams) (*InitiateResult, error) {
	currency := params.Currency
	if currency == "" {
		currency = c.currency
	}
	req := initiateRequest{
		TxRef:       params.TxRef,
		Amount:      amountToWire(params.AmountCents),
		Currency:    currency,
		RedirectURL: c.returnURL,
		CallbackURL: c.callbackURL,
		Customer: initiateCustomer{
			Email:       params.Email,
			PhoneNumber: params.PhoneNumber,
			Name:        params.FullName,
		},
		Custom: initiateCustom{
			Title:       params.Title,
			Description: params.Description,
		},
		Meta: map[string]any{
			"user_id":       params.UserID,
			"order_ids":     params.OrderIDs,
			"order_numbers": params.OrderNumbers,
		},
	}

	c.log(ctx, "request", "initiate_payment", map[string]any{
		"tx_ref":       params.TxRef,
		"amount_cents": params.AmountCents,
		"currency":     currency,
		"orders":       len(params.OrderIDs),
	})

	env, status, err := c.do(ctx, http.MethodPost, initiatePath, req)
	if err != nil {
		c.log(ctx, "error", "initiate_payment", map[string]any{"error": err.Error()})
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, c.httpError(ctx, "initiate_payment", status, env)
	}

	var data initiateData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decoding initiation response")
	}
	if data.Link == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway returned no checkout link")
	}
	txRef := data.TxRef
	if txRef == "" {
		txRef = params.TxRef
	}

	c.log(ctx, "response", "initiate_payment", map[string]any{"tx_ref": txRef})
	return &InitiateResult{TxRef: txRef, CheckoutURL: data.Link}, nil
}

// Verify fetches the gateway's authoritative status for a tx_ref. The gateway
// sometimes answers HTTP 400 with a fully-populated body; when status and
// tx_ref are present that body is treated as data, not as an error.
func (c *Client) Verify(ctx context.Context, txRef string) (*VerifyResult, error) {
	c.log(ctx, "request", "verify_payment", map[string]any{"tx_ref": txRef})

	env, status, err := c.do(ctx, http.MethodGet, verifyPath+txRef, nil)
	if err != nil {
		c.log(ctx, "error", "verify_payment", map[string]any{"error": err.Error()})
		return nil, err
	}

	var data verifyData
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decoding verification response")
		}
	}

	ok := status >= 200 && status < 300
	if !ok {
		// documented gateway quirk: 400 bodies can still carry the result
		if status != http.StatusBadRequest || data.Status == "" || data.TxRef == "" {
			return nil, c.httpError(ctx, "verify_payment", status, env)
		}
	}
	if data.TxRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway verification returned no tx_ref")
	}

	amountCents, err := amountFromWire(data.Amount)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decoding verification amount")
	}

	c.log(ctx, "response", "verify_payment", map[string]any{
		"tx_ref": data.TxRef,
		"status": data.Status,
	})
	return &VerifyResult{
		TxRef:            data.TxRef,
		Status:           strings.ToLower(data.Status),
		AmountCents:      amountCents,
		Currency:         data.Currency,
		Channel:          data.PaymentType,
		AuthorizationRef: data.AuthorizationRef,
	}, nil
}

// Disburse pushes a mobile-money payout. 404/403 responses mean the gateway
// rejected the transfer outright; callers treat those as definitive failures,
// anything else as unknown-outcome.
func (c *Client) Disburse(ctx context.Context, params DisburseParams) (*DisburseResult, error) {
	currency := params.Currency
	if currency == "" {
		currency = c.currency
	}
	req := disburseRequest{
		Reference:     params.TxRef,
		Amount:        amountToWire(params.AmountCents),
		Currency:      currency,
		AccountNumber: params.Phone,
		Network:       params.Network,
		Narration:     params.Narration,
	}

	c.log(ctx, "request", "disburse", map[string]any{
		"tx_ref":       params.TxRef,
		"amount_cents": params.AmountCents,
		"network":      params.Network,
		"phone":        redactPhone(params.Phone),
	})

	env, status, err := c.do(ctx, http.MethodPost, disbursePath, req)
	if err != nil {
		c.log(ctx, "error", "disburse", map[string]any{"error": err.Error()})
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, c.httpError(ctx, "disburse", status, env)
	}

	var data disburseData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decoding disbursement response")
	}
	reference := data.Reference
	if reference == "" {
		reference = params.TxRef
	}

	c.log(ctx, "response", "disburse", map[string]any{"reference": reference})
	return &DisburseResult{Reference: reference}, nil
}

// SignPayload computes the webhook HMAC-SHA256 hex digest over a raw body.
func (c *Client) SignPayload(body []byte) string {
	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a webhook signature in constant time.
func (c *Client) VerifySignature(body []byte, signature string) bool {
	if strings.TrimSpace(signature) == "" {
		return false
	}
	expected := c.SignPayload(body)
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature)))
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (*envelope, int, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding gateway request")
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building gateway request")
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "calling payment gateway")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading gateway response")
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, resp.StatusCode, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("decoding gateway response (http %d)", resp.StatusCode))
		}
	}
	return &env, resp.StatusCode, nil
}

func (c *Client) httpError(ctx context.Context, operation string, status int, env *envelope) error {
	message := "gateway request failed"
	if env != nil && env.Message != "" {
		message = env.Message
	}
	c.log(ctx, "error", operation, map[string]any{
		"http_status": status,
		"message":     message,
	})

	switch status {
	case http.StatusNotFound:
		return pkgerrors.New(pkgerrors.CodeNotFound, message)
	case http.StatusForbidden, http.StatusUnauthorized:
		return pkgerrors.New(pkgerrors.CodeForbidden, message)
	default:
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("%s (http %d)", message, status))
	}
}

func (c *Client) log(ctx context.Context, phase, operation string, fields map[string]any) {
	if c.logger == nil {
		return
	}
	entry := map[string]any{"gateway_phase": phase, "gateway_op": operation}
	for k, v := range fields {
		entry[k] = v
	}
	c.logger.Info(c.logger.WithFields(ctx, entry), "paygate "+operation)
}

func redactPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
