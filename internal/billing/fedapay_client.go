package billing

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
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	fedaPaySandboxURL = "https://sandbox-api.fedapay.com"
	fedaPayLiveURL    = "https://api.fedapay.com"

	// FedaPaySignatureHeader carries "t=<unix>,s=<hex hmac>".
	FedaPaySignatureHeader = "X-FEDAPAY-SIGNATURE"
	fedaPaySignatureMaxAge = 5 * time.Minute
)

// FedaPayCustomer is the payer attached to a transaction.
type FedaPayCustomer struct {
	Email     string `json:"email"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
}

// FedaPayTransactionRequest creates a transaction.
type FedaPayTransactionRequest struct {
	Description string            `json:"description"`
	Amount      int64             `json:"amount"`
	Currency    map[string]string `json:"currency"`
	CallbackURL string            `json:"callback_url"`
	Customer    FedaPayCustomer   `json:"customer"`
	Metadata    map[string]string `json:"custom_metadata"`
}

// FedaPayTransaction is the part of a transaction the service reads.
type FedaPayTransaction struct {
	ID          int64             `json:"id"`
	Status      string            `json:"status"`
	Amount      int64             `json:"amount"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"custom_metadata"`
}

// FedaPayToken is the hosted payment page of a transaction.
type FedaPayToken struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

// FedaPayGateway is the subset of the FedaPay API used for subscriptions.
type FedaPayGateway interface {
	CreateTransaction(ctx context.Context, req FedaPayTransactionRequest) (*FedaPayTransaction, error)
	GenerateToken(ctx context.Context, transactionID int64) (*FedaPayToken, error)
	GetTransaction(ctx context.Context, transactionID string) (*FedaPayTransaction, error)
}

// FedaPayClient talks to the FedaPay REST API.
type FedaPayClient struct {
	baseURL   string
	secretKey string
	http      *http.Client
}

// NewFedaPayClient creates a client for the sandbox or live environment.
func NewFedaPayClient(secretKey, environment string) *FedaPayClient {
	base := fedaPaySandboxURL
	if strings.EqualFold(environment, "live") {
		base = fedaPayLiveURL
	}
	return &FedaPayClient{
		baseURL:   base,
		secretKey: secretKey,
		http:      &http.Client{Timeout: 15 * time.Second},
	}
}

// WithBaseURL points the client at another host.
func (c *FedaPayClient) WithBaseURL(base string) *FedaPayClient {
	c.baseURL = strings.TrimRight(base, "/")
	return c
}

type fedaPayTransactionEnvelope struct {
	Transaction FedaPayTransaction `json:"v1/transaction"`
}

func (c *FedaPayClient) CreateTransaction(ctx context.Context, req FedaPayTransactionRequest) (*FedaPayTransaction, error) {
	var out fedaPayTransactionEnvelope
	if err := c.do(ctx, http.MethodPost, "/v1/transactions", req, &out); err != nil {
		return nil, err
	}
	return &out.Transaction, nil
}

func (c *FedaPayClient) GenerateToken(ctx context.Context, transactionID int64) (*FedaPayToken, error) {
	var out FedaPayToken
	path := fmt.Sprintf("/v1/transactions/%d/token", transactionID)
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *FedaPayClient) GetTransaction(ctx context.Context, transactionID string) (*FedaPayTransaction, error) {
	var out fedaPayTransactionEnvelope
	if err := c.do(ctx, http.MethodGet, "/v1/transactions/"+url.PathEscape(transactionID), nil, &out); err != nil {
		return nil, err
	}
	return &out.Transaction, nil
}

func (c *FedaPayClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode fedapay request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build fedapay request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fedapay request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
		return fmt.Errorf("fedapay status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode fedapay response: %w", err)
	}
	return nil
}

// SignFedaPayPayload builds a signature header value for payload at ts.
func SignFedaPayPayload(secret string, payload []byte, ts time.Time) string {
	unix := strconv.FormatInt(ts.Unix(), 10)
	return "t=" + unix + ",s=" + fedaPaySignature(secret, unix, payload)
}

// VerifyFedaPaySignature checks header against payload signed with secret.
func VerifyFedaPaySignature(secret string, payload []byte, header string, now time.Time) error {
	var ts, sig string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts = value
		case "s":
			sig = value
		}
	}
	if ts == "" || sig == "" {
		return errors.New("malformed signature header")
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid signature timestamp: %w", err)
	}
	if age := now.Sub(time.Unix(unix, 0)); age > fedaPaySignatureMaxAge || age < -fedaPaySignatureMaxAge {
		return errors.New("signature timestamp outside tolerance")
	}

	expected := fedaPaySignature(secret, ts, payload)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(sig))) {
		return errors.New("signature mismatch")
	}
	return nil
}

func fedaPaySignature(secret, ts string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
