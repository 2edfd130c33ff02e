package main

import (
	"context"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"crmchat/server/internal/campaign"
	"crmchat/server/internal/channel"
	"crmchat/server/internal/config"
	"crmchat/server/internal/database"
	"crmchat/server/internal/handlers"
	"crmchat/server/internal/middleware"
	"crmchat/server/internal/policy"
	"crmchat/server/internal/relay"
	"crmchat/server/internal/routes"
	"crmchat/server/internal/store"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

// openStore connects to Postgres when a database URL is configured and
// falls back to the in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (store.Store, func(), error) {
	if cfg.Database.URL == "" {
		log.Warn("No database configured, using in-memory store")
		return store.NewMemory(), func() {}, nil
	}

	if err := database.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns, log); err != nil {
		return nil, nil, err
	}
	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return nil, nil, err
	}

	pg := store.NewPostgres(database.Pool, log)
	listenCtx, cancel := context.WithCancel(ctx)
	go pg.Run(listenCtx)
	return pg, func() {
		cancel()
		database.Close()
	}, nil
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	if cfg.Relay.URL == "" {
		log.Warn("No relay URL configured, sends will fail")
	}
	relayClient := relay.New(cfg.Relay.URL, cfg.Relay.Timeout, log.Named("relay"))
	builder := cfg.TemplateBuilder()

	handlers.Init(&handlers.Services{
		Store:    st,
		Relay:    relayClient,
		Policy:   policy.New(cfg.Policy.AdminEmails, cfg.Policy.UnassignedReadable),
		Selector: channel.NewSelector(cfg.Messaging.Window),
		Builder:  builder,
		Campaign: &campaign.Runner{
			Sender:  relayClient,
			Builder: builder,
			Delay:   cfg.Campaign.Delay,
			Log:     log.Named("campaign"),
		},
		WebhookSecret: cfg.Relay.WebhookSecret,
		Log:           log,
	})

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "CRM chat API " + Version,
		ErrorHandler: handlers.ErrorHandler,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(middleware.RequestLogger(log.Named("http")))
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.Server.AllowOrigins, ","),
		AllowCredentials: true,
	}))

	// Setup routes
	routes.InitWebSocket()
	routes.SetupRoutes(app, []byte(cfg.Auth.JWTSecret))

	errc := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("port", cfg.Server.Port))
		errc <- app.Listen(":" + cfg.Server.Port)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	handlers.WSHub.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return app.ShutdownWithContext(shutdownCtx)
}
