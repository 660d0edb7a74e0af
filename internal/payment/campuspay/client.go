package campuspay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"hotspot-portal/status"
)

type ClientConfig struct {
	BaseURL   string `json:"baseUrl"`
	ClientID  string `json:"clientId"`
	ClientKey string `json:"clientKey"`
	HMACKey   string `json:"hmacKey"`
}

// Client talks to the campus-pay REST backend: token handshake, QR
// registration and transaction lookup. Requests are HMAC-signed.
type Client struct {
	baseURL   string
	clientID  string
	clientKey string
	hmacKey   string

	// accessToken authenticates calls; rotated by the refresher.
	accessToken string

	// mu guards accessToken.
	mu sync.Mutex

	hc *http.Client
}

func newClient(_ context.Context, c *ClientConfig) *Client {
	return &Client{
		baseURL:   c.BaseURL,
		clientID:  c.ClientID,
		clientKey: c.ClientKey,
		hmacKey:   c.HMACKey,

		hc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type connectResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// connect performs the credential handshake and returns a fresh access
// token.
func (c *Client) connect(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{
		"client_id":  c.clientID,
		"client_key": c.clientKey,
	})
	if err != nil {
		return "", err
	}

	var resp connectResponse
	if err := c.post(ctx, "/v1/auth/token", body, &resp, false); err != nil {
		return "", fmt.Errorf("campuspay connect: %w", err)
	}
	if resp.AccessToken == "" {
		return "", errors.New("campuspay connect: empty access token")
	}
	return resp.AccessToken, nil
}

func (c *Client) setAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

func (c *Client) token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

// refreshTokenLoop renews the access token ahead of expiry until ctx is
// cancelled.
func (c *Client) refreshTokenLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			token, err := c.connect(ctx)
			if err != nil {
				continue
			}
			c.setAccessToken(token)
		}
	}
}

type qrRequest struct {
	MerchantID     string          `json:"merchantId"`
	BillNumber     string          `json:"billNumber"`
	ReferenceLabel string          `json:"referenceLabel"`
	Amount         decimal.Decimal `json:"txnAmount"`
	Ccy            string          `json:"sourceCurrency"`
	Phone          string          `json:"phone,omitempty"`
}

type qrResponse struct {
	EMVCode string `json:"emvCode"`
}

// registerQR registers the pending bill and returns the EMV QR payload.
func (c *Client) registerQR(ctx context.Context, merchantID string, req *ConfirmationForm) (string, error) {
	body, err := json.Marshal(&qrRequest{
		MerchantID:     merchantID,
		BillNumber:     req.PurchaseID,
		ReferenceLabel: req.ReferenceLabel,
		Amount:         req.Amount,
		Ccy:            req.Ccy,
		Phone:          req.Phone,
	})
	if err != nil {
		return "", err
	}

	var resp qrResponse
	if err := c.post(ctx, "/v1/qr", body, &resp, true); err != nil {
		return "", fmt.Errorf("campuspay register qr: %w", err)
	}
	if resp.EMVCode == "" {
		return "", errors.New("campuspay register qr: empty emv code")
	}
	return resp.EMVCode, nil
}

type txnResponse struct {
	RefID      string          `json:"refNo"`
	BillNumber string          `json:"billNumber"`
	Payer      string          `json:"sourceName"`
	Amount     decimal.Decimal `json:"txnAmount"`
	Ccy        string          `json:"sourceCurrency"`
	State      string          `json:"state"`
	CreatedAt  string          `json:"txnDateTime"`
}

// checkTransaction looks up a bill's settlement state by purchase id.
func (c *Client) checkTransaction(ctx context.Context, purchaseID string) (*status.Transaction, error) {
	body, err := json.Marshal(map[string]string{"billNumber": purchaseID})
	if err != nil {
		return nil, err
	}

	var resp txnResponse
	if err := c.post(ctx, "/v1/transactions/check", body, &resp, true); err != nil {
		return nil, fmt.Errorf("campuspay check transaction: %w", err)
	}

	createdAt, err := time.ParseInLocation("2006-01-02 15:04:05", resp.CreatedAt, time.Local)
	if err != nil {
		createdAt = time.Now()
	}

	return &status.Transaction{
		RefID:      resp.RefID,
		PurchaseID: resp.BillNumber,
		Payer:      resp.Payer,
		Amount:     resp.Amount,
		Ccy:        resp.Ccy,
		Success:    resp.State == "settled",
		CreatedAt:  createdAt,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte, out any, authed bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-Id", c.clientID)
	req.Header.Set("X-Signature", Hmac256(body, []byte(c.hmacKey)))
	if authed {
		req.Header.Set("Authorization", "Bearer "+c.token())
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
