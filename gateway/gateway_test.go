package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotspot-portal/config"
	"hotspot-portal/internal/payment"
	"hotspot-portal/internal/payment/campuspay"
	"hotspot-portal/internal/provision"
	"hotspot-portal/models"
	"hotspot-portal/services"
	"hotspot-portal/store"
)

const testHMACKey = "test-hmac-key"

type gatewayFixture struct {
	server    *Server
	store     *store.MemStore
	purchases *services.PurchaseService
	mock      redismock.ClientMock
}

func newGatewayFixture(t *testing.T, cfgMods ...func(*config.Config)) *gatewayFixture {
	t.Helper()

	st := store.NewMemStore()
	inventory := services.NewInventoryService(st, nil)
	remediation := services.NewRemediationLog(nil, nil, "ops", time.Hour)

	cfg := &config.Config{
		Environment:    "test",
		GatewayPort:    "0",
		WebhookHMACKey: testHMACKey,
		ReservationTTL: time.Minute,
		EnableMetrics:  true,
		CampusPay:      campuspay.Config{Ccy: "XOF"},
	}
	for _, mod := range cfgMods {
		mod(cfg)
	}

	db, mock := redismock.NewClientMock()

	purchases := services.NewPurchaseService(
		st, inventory, nil, nil, payment.NewSandbox(), provision.NewMemProvisioner(),
		remediation, nil, cfg)

	return &gatewayFixture{
		server:    New(cfg, purchases, db),
		store:     st,
		purchases: purchases,
		mock:      mock,
	}
}

func (f *gatewayFixture) createPendingPurchase(t *testing.T) *models.Purchase {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.store.CreateType(ctx, &models.TicketType{
		ID: "typ_1h", Name: "1h", Profile: "1h", IsActive: true,
	}))
	for _, err := range f.store.BulkInsert(ctx, []*models.Ticket{{
		ID: "tkt_1", Username: "wifi001", Password: "pw", TypeID: "typ_1h",
		State: models.TicketAvailable, Seq: 1,
	}}) {
		require.NoError(t, err)
	}

	purchase, _, err := f.purchases.CreatePurchase(ctx, services.CreatePurchaseRequest{
		TypeID:        "typ_1h",
		BuyerRef:      "buyer-a",
		PaymentMethod: models.PayMobileMoney,
	})
	require.NoError(t, err)
	return purchase
}

func (f *gatewayFixture) postWebhook(body []byte, signature string, headers ...map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("X-Signature", signature)
	}
	for _, h := range headers {
		for k, v := range h {
			req.Header.Set(k, v)
		}
	}
	rec := httptest.NewRecorder()
	f.server.echo.ServeHTTP(rec, req)
	return rec
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	f := newGatewayFixture(t)

	rec := f.postWebhook([]byte(`{"purchase_id":"pur_1","status":"success"}`), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newGatewayFixture(t)

	body := []byte(`{"purchase_id":"pur_1","status":"success"}`)
	rec := f.postWebhook(body, campuspay.Hmac256(body, []byte("wrong-key")))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookRefusedWithoutHMACKey(t *testing.T) {
	f := newGatewayFixture(t, func(cfg *config.Config) {
		cfg.WebhookHMACKey = ""
	})

	// An empty key must never verify; even an "empty key" signature is
	// refused outright.
	body := []byte(`{"purchase_id":"pur_1","status":"success"}`)
	rec := f.postWebhook(body, campuspay.Hmac256(body, []byte("")))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWebhookSharedSecretChecked(t *testing.T) {
	hash, err := campuspay.HashSecret("webhook-secret")
	require.NoError(t, err)

	f := newGatewayFixture(t, func(cfg *config.Config) {
		cfg.WebhookSecretHash = hash
	})
	purchase := f.createPendingPurchase(t)

	body, err := json.Marshal(models.PaymentNotification{
		PurchaseID:    purchase.ID,
		Status:        "success",
		TransactionID: "tx-webhook",
	})
	require.NoError(t, err)
	signature := campuspay.Hmac256(body, []byte(testHMACKey))

	// Valid HMAC alone is not enough once a shared secret is configured.
	rec := f.postWebhook(body, signature)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.postWebhook(body, signature, map[string]string{"X-Webhook-Secret": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.postWebhook(body, signature, map[string]string{"X-Webhook-Secret": "webhook-secret"})
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := f.store.GetPurchase(context.Background(), purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseConfirmed, stored.Outcome)
}

func TestWebhookAppliesSignedSettlement(t *testing.T) {
	f := newGatewayFixture(t)
	purchase := f.createPendingPurchase(t)

	body, err := json.Marshal(models.PaymentNotification{
		PurchaseID:    purchase.ID,
		Status:        "success",
		TransactionID: "tx-webhook",
		Timestamp:     time.Now(),
	})
	require.NoError(t, err)

	rec := f.postWebhook(body, campuspay.Hmac256(body, []byte(testHMACKey)))
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := f.store.GetPurchase(context.Background(), purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseConfirmed, stored.Outcome)
	assert.Equal(t, "tx-webhook", stored.PaymentRef)
}

func TestWebhookFailedSettlementReleasesTicket(t *testing.T) {
	f := newGatewayFixture(t)
	purchase := f.createPendingPurchase(t)

	body, err := json.Marshal(models.PaymentNotification{
		PurchaseID:    purchase.ID,
		Status:        "failed",
		TransactionID: "tx-webhook",
	})
	require.NoError(t, err)

	rec := f.postWebhook(body, campuspay.Hmac256(body, []byte(testHMACKey)))
	require.Equal(t, http.StatusOK, rec.Code)

	ticket, err := f.store.GetTicket(context.Background(), purchase.TicketID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketAvailable, ticket.State)
}

func TestWebhookRejectsUnparseablePayload(t *testing.T) {
	f := newGatewayFixture(t)

	body := []byte("not-json")
	rec := f.postWebhook(body, campuspay.Hmac256(body, []byte(testHMACKey)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthReportsRedisState(t *testing.T) {
	f := newGatewayFixture(t)
	f.mock.ExpectPing().SetVal("PONG")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	f.server.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsExposed(t *testing.T) {
	f := newGatewayFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	f.server.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Body.String())
}

func TestDevSettleDrivesSandbox(t *testing.T) {
	f := newGatewayFixture(t)
	purchase := f.createPendingPurchase(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.purchases.Run(ctx)

	body, err := json.Marshal(map[string]any{
		"purchase_id": purchase.ID,
		"success":     true,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/dev/settle", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Eventually(t, func() bool {
		stored, err := f.store.GetPurchase(context.Background(), purchase.ID)
		return err == nil && stored.Outcome == models.PurchaseConfirmed
	}, time.Second, 10*time.Millisecond)
}
