package cmd

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	pubnub "github.com/pubnub/go"

	"hotspot-portal/config"
	"hotspot-portal/gateway"
	"hotspot-portal/handlers"
	"hotspot-portal/internal/payment"
	"hotspot-portal/internal/provision"
	_ "hotspot-portal/migrations"
	"hotspot-portal/monitoring"
	"hotspot-portal/services"
	"hotspot-portal/store"
	"hotspot-portal/utils"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	// Initialize Redis
	redisClient := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()

	// Initialize PubNub (buyer and operator notifications)
	pnConfig := pubnub.NewConfig()
	pnConfig.PublishKey = cfg.PubNubPublishKey
	pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
	pnConfig.SecretKey = cfg.PubNubSecretKey

	pn := pubnub.NewPubNub(pnConfig)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Payment gateway: live campus-pay when configured, sandbox
	// otherwise.
	var paymentGateway payment.Gateway
	if cfg.CampusPay.Enabled() {
		adapter, err := payment.NewCampusPayAdapter(ctx, &cfg.CampusPay)
		if err != nil {
			return err
		}
		paymentGateway = adapter
	} else {
		slog.Warn("campus-pay not configured, using sandbox gateway")
		paymentGateway = payment.NewSandbox()
	}
	defer paymentGateway.Close(ctx)

	// Router provisioner behind retry + breaker. The in-memory
	// provisioner stands in until a router binding is configured.
	var provisioner provision.Provisioner = provision.NewMemProvisioner()
	provisioner = provision.NewRetrier(provisioner, cfg.ProvisionRetries, cfg.ProvisionBackoff)

	// Initialize store and services
	st := store.NewDBXStore(app.DB())
	monitor := monitoring.NewMonitor(st)
	remediation := services.NewRemediationLog(redisClient, pn, cfg.OperatorChannel, cfg.RemediationTTL)
	inventoryService := services.NewInventoryService(st, monitor)
	importService := services.NewImportService(st)
	purchaseService := services.NewPurchaseService(
		st, inventoryService, redisClient, pn, paymentGateway, provisioner, remediation, monitor, cfg)
	sweeperService := services.NewSweeperService(
		st, inventoryService, purchaseService, provisioner, remediation, monitor,
		cfg.SweepInterval, cfg.DriftInterval)

	// Initialize handlers
	importHandler := handlers.NewImportHandler(app, importService)
	ticketTypeHandler := handlers.NewTicketTypeHandler(app, inventoryService)
	purchaseHandler := handlers.NewPurchaseHandler(app, purchaseService)
	adminHandler := handlers.NewAdminHandler(app, inventoryService, remediation)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	// Start background tasks
	go purchaseService.Run(ctx)
	if cfg.EnableSweeper {
		go sweeperService.Run(ctx)
	}
	if cfg.EnableMetrics {
		go monitor.Run(ctx, cfg.SweepInterval)
	}

	// Standalone gateway listener for provider callbacks and probes
	gatewayServer := gateway.New(cfg, purchaseService, redisClient)
	go func() {
		if err := gatewayServer.Start(ctx); err != nil {
			slog.Error("gateway listener", "error", err)
		}
	}()

	// Setup graceful shutdown
	go handleShutdown(cancel)

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		// Portal endpoints
		e.Router.GET("/api/ticket-types", ticketTypeHandler.ListTypes)
		e.Router.POST("/api/purchases", purchaseHandler.CreatePurchase)
		e.Router.GET("/api/purchases/{purchaseId}", purchaseHandler.GetPurchaseStatus)
		e.Router.POST("/api/purchases/{purchaseId}/cancel", purchaseHandler.CancelPurchase)
		e.Router.POST("/api/purchases/{purchaseId}/confirm-cash", purchaseHandler.ConfirmCash)

		// Admin endpoints
		e.Router.POST("/api/admin/tickets/import", importHandler.ImportCSV)
		e.Router.GET("/api/admin/inventory-stats", adminHandler.InventoryStats)
		e.Router.GET("/api/admin/remediation", adminHandler.ListRemediation)

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return e.JSON(503, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(200, map[string]string{"status": "healthy"})
		})

		log.Println("Server routes registered")

		return e.Next()
	})

	// Start server
	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
	return nil
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	cancel()
}
