// Package gateway runs the standalone listener for payment provider
// callbacks and operational probes. It is a separate port from the
// portal API so the provider allowlist and the captive portal never
// share a surface.
package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"hotspot-portal/config"
	"hotspot-portal/internal/payment"
	"hotspot-portal/internal/payment/campuspay"
	"hotspot-portal/models"
	"hotspot-portal/security"
	"hotspot-portal/services"
	"hotspot-portal/status"
	"hotspot-portal/utils"
)

type Server struct {
	echo      *echo.Echo
	cfg       *config.Config
	purchases *services.PurchaseService
	redis     *redis.Client
}

func New(cfg *config.Config, purchases *services.PurchaseService, redisClient *redis.Client) *Server {
	s := &Server{
		echo:      echo.New(),
		cfg:       cfg,
		purchases: purchases,
		redis:     redisClient,
	}

	s.echo.Use(middleware.Recover())

	limiter := security.NewRateLimiter(redisClient)

	s.echo.POST("/webhooks/payment", s.handlePaymentWebhook, limiter.WebhookRateLimit())
	s.echo.GET("/health", s.handleHealth)
	if cfg.EnableMetrics {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}
	if cfg.Environment != "production" {
		s.echo.POST("/dev/settle", s.handleDevSettle)
	}

	return s
}

// Start blocks serving until ctx is cancelled, then drains in-flight
// requests.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.GatewayPort,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	slog.Info("gateway listening", "port", s.cfg.GatewayPort)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// handlePaymentWebhook is the provider's push channel for settlement
// results. The body is HMAC signed, optionally paired with a shared
// secret checked against its bcrypt hash; both are verified before
// anything is parsed into the purchase flow.
func (s *Server) handlePaymentWebhook(c echo.Context) error {
	if s.cfg.WebhookHMACKey == "" {
		// An empty key would verify any body signed with the empty
		// string; refuse to settle until the deployment is configured.
		slog.Error("webhook rejected: WEBHOOK_HMAC_KEY not set")
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "webhook not configured"})
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unreadable body"})
	}

	signature := c.Request().Header.Get("X-Signature")
	if !campuspay.VerifySignature(body, []byte(s.cfg.WebhookHMACKey), signature) {
		slog.Warn("webhook signature rejected", "remote", c.RealIP(), "error", status.ErrInvalidSignature)
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": status.ErrInvalidSignature.Error()})
	}

	if s.cfg.WebhookSecretHash != "" &&
		!campuspay.CompareSecret(s.cfg.WebhookSecretHash, c.Request().Header.Get("X-Webhook-Secret")) {
		slog.Warn("webhook shared secret rejected", "remote", c.RealIP())
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid shared secret"})
	}

	var notif models.PaymentNotification
	if err := json.Unmarshal(body, &notif); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}
	if notif.PurchaseID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "purchase_id required"})
	}

	success := notif.Status == "success" || notif.Status == "paid"
	err = s.purchases.HandlePaymentResult(c.Request().Context(), notif.PurchaseID, success, notif.TransactionID)
	if err != nil {
		slog.Error("webhook settlement", "purchase_id", notif.PurchaseID, "error", err)
		// 500 makes the provider retry; the handler is idempotent so a
		// replay is safe.
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "settlement failed"})
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) handleHealth(c echo.Context) error {
	checks := map[string]string{"gateway": "ok"}
	code := http.StatusOK

	if err := utils.RedisHealthCheck(s.redis); err != nil {
		checks["redis"] = err.Error()
		code = http.StatusServiceUnavailable
	} else {
		checks["redis"] = "ok"
	}

	return c.JSON(code, checks)
}

// handleDevSettle simulates a provider settlement in non-production
// environments, for driving the sandbox gateway end to end.
func (s *Server) handleDevSettle(c echo.Context) error {
	var req struct {
		PurchaseID string `json:"purchase_id"`
		Success    bool   `json:"success"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}

	sandbox, ok := s.purchases.Gateway.(*payment.Sandbox)
	if !ok {
		return c.JSON(http.StatusConflict, map[string]string{"error": "live gateway active"})
	}

	refID, _ := utils.GenerateCode(8)
	sandbox.Settle(req.PurchaseID, "dev-"+refID, req.Success)
	return c.JSON(http.StatusOK, map[string]string{"status": "queued"})
}
