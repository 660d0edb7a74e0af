// Package campuspay is the campus mobile-money gateway adapter. A QR
// registration makes the bill payable; settlement results arrive over
// the gateway's PubNub channel and are forwarded to the transaction
// channel the orchestrator consumes.
package campuspay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	pubnub "github.com/pubnub/go/v7"
	"github.com/shopspring/decimal"

	"hotspot-portal/status"
)

type Config struct {
	BaseURL    string `json:"baseUrl"`
	MerchantID string `json:"merchantId"`
	ClientID   string `json:"clientId"`
	ClientKey  string `json:"clientKey"`
	HMACKey    string `json:"hmacKey"`
	Ccy        string `json:"ccy"`

	PNSubKey    string `json:"pn_subkey"`
	PNSubSecret string `json:"pn_subsecret"`
	PNUUID      string `json:"pn_uuid"`
	PNChannel   string `json:"pn_channel"`
}

// Enabled reports whether the gateway is configured at all; without a
// base URL the application falls back to the sandbox gateway.
func (c *Config) Enabled() bool {
	return c.BaseURL != ""
}

type CampusPay struct {
	merchantID string
	ccy        string

	sub    *subscribe
	client *Client
}

// ConfirmationForm is the client-level QR registration payload.
type ConfirmationForm struct {
	PurchaseID     string
	ReferenceLabel string
	Amount         decimal.Decimal
	Ccy            string
	Phone          string
}

// New connects to the campus-pay backend and starts the settlement
// subscription.
func New(ctx context.Context, cfg *Config) (*CampusPay, error) {
	client := newClient(ctx, &ClientConfig{
		BaseURL:   cfg.BaseURL,
		ClientID:  cfg.ClientID,
		ClientKey: cfg.ClientKey,
		HMACKey:   cfg.HMACKey,
	})

	token, err := client.connect(ctx)
	if err != nil {
		return nil, err
	}
	client.setAccessToken(token)

	go client.refreshTokenLoop(ctx)

	p := &CampusPay{
		merchantID: cfg.MerchantID,
		ccy:        cfg.Ccy,
		client:     client,
	}

	pnCfg := pubnub.NewConfigWithUserId(pubnub.UserId(cfg.PNUUID))
	pnCfg.SubscribeKey = cfg.PNSubKey
	pnCfg.SecretKey = cfg.PNSubSecret

	sub := &subscribe{
		pn:  pubnub.NewPubNub(pnCfg),
		lis: pubnub.NewListener(),
	}
	sub.pn.AddListener(sub.lis)
	sub.pn.Subscribe().Channels([]string{cfg.PNChannel}).Execute()
	go sub.processSubscription(ctx)
	p.sub = sub

	return p, nil
}

type subscribe struct {
	pn  *pubnub.PubNub
	lis *pubnub.Listener
	ch  chan *status.Transaction
}

// settlement is the wire shape published on the settlement channel.
type settlement struct {
	RefID      string          `json:"refNo"`
	BillNumber string          `json:"billNumber"`
	Payer      string          `json:"sourceName"`
	Amount     decimal.Decimal `json:"txnAmount"`
	Ccy        string          `json:"sourceCurrency"`
	State      string          `json:"state"`
	CreatedAt  string          `json:"txnDateTime"`
}

func (s *subscribe) processSubscription(ctx context.Context) {
	for {
		select {
		case st := <-s.lis.Status:
			switch st.Category {
			case pubnub.PNConnectedCategory:
				log.Println("campuspay: connected to pubnub")
			case pubnub.PNReconnectedCategory:
				log.Println("campuspay: reconnected to pubnub")
			case pubnub.PNDisconnectedCategory:
				log.Println("campuspay: disconnected from pubnub")
			default:
				log.Printf("campuspay: pubnub status category %v", st.Category)
			}

		case message := <-s.lis.Message:
			raw, ok := message.Message.(string)
			if !ok {
				continue
			}

			var p settlement
			if err := json.NewDecoder(strings.NewReader(raw)).Decode(&p); err != nil {
				log.Printf("campuspay: bad settlement payload: %v", err)
				continue
			}

			tran, err := p.toTransaction()
			if err != nil {
				log.Printf("campuspay: %v", err)
				continue
			}
			if s.ch != nil {
				s.ch <- tran
			}

		case <-ctx.Done():
			log.Println("campuspay: close subscribe")
			return
		}
	}
}

func (p *settlement) toTransaction() (*status.Transaction, error) {
	ts, err := time.ParseInLocation("2006-01-02 15:04:05", p.CreatedAt, time.Local)
	if err != nil {
		return nil, fmt.Errorf("settlement timestamp: %w", err)
	}

	return &status.Transaction{
		RefID:      p.RefID,
		PurchaseID: p.BillNumber,
		Payer:      p.Payer,
		Amount:     p.Amount,
		Ccy:        p.Ccy,
		Success:    p.State == "settled",
		CreatedAt:  ts,
	}, nil
}

// RequestConfirmation registers the bill and returns the EMV QR code.
func (p *CampusPay) RequestConfirmation(ctx context.Context, purchaseID, referenceLabel, phone string, amount decimal.Decimal) (string, error) {
	return p.client.registerQR(ctx, p.merchantID, &ConfirmationForm{
		PurchaseID:     purchaseID,
		ReferenceLabel: referenceLabel,
		Amount:         amount,
		Ccy:            p.ccy,
		Phone:          phone,
	})
}

// CheckTransaction polls the settlement state of a bill; used when a
// notification may have been missed.
func (p *CampusPay) CheckTransaction(ctx context.Context, purchaseID string) (*status.Transaction, error) {
	return p.client.checkTransaction(ctx, purchaseID)
}

// SetTransactionChannel sets the channel settlements are delivered on.
func (p *CampusPay) SetTransactionChannel(ch chan *status.Transaction) {
	p.sub.ch = ch
}

// Close stops the settlement subscription.
func (p *CampusPay) Close(_ context.Context) error {
	p.sub.pn.UnsubscribeAll()
	return nil
}
