package realtimeservice

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	service "qr-dine/internal/app/realtime"
	"qr-dine/internal/auth"
	"qr-dine/internal/ports"
	"qr-dine/internal/shared/broker"
	"qr-dine/internal/shared/config"
	"qr-dine/internal/shared/logger"
	"qr-dine/internal/shared/postgres"
	"qr-dine/internal/shared/rabbitmq"
)

func Run(ctx context.Context, port int, configPath string) error {
	// set up a new logger with a static request ID for startup logs
	logger := logger.NewLogger("realtime-service")
	ctx = logger.WithRequestID(ctx, "startup-001")

	// load a config from file
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		logger.Error(ctx, "config_load_failed", "Failed to load configuration", err)
		return err
	}

	// set up a Postgres connection pool
	pool, err := postgres.NewPool(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, "db_connection_failed", "Failed to initialize Postgres pool", err)
		return err
	}
	defer pool.Close()

	ordersRepo := postgres.NewOrdersRepo(pool)
	tablesRepo := postgres.NewTablesRepo(pool)
	notificationsRepo := postgres.NewNotificationsRepo(pool)

	// select the broker backend
	var bus ports.Broker
	switch cfg.Broker.Backend {
	case config.BrokerRabbitMQ:
		client, err := rabbitmq.ConnectRabbitMQ(ctx, cfg, logger)
		if err != nil {
			logger.Error(ctx, "rabbitmq_connection_failed", "Failed to connect to RabbitMQ", err)
			return err
		}
		defer client.Close()

		amqpBroker, err := rabbitmq.NewBroker(ctx, client, logger)
		if err != nil {
			logger.Error(ctx, "rabbitmq_connection_failed", "Failed to set up AMQP broker", err)
			return err
		}
		defer amqpBroker.Close()
		bus = amqpBroker
	default:
		bus = broker.NewMemory()
	}

	// wire the fanout core
	tokens := auth.NewManager(cfg.Auth.Secret)
	resolver := service.NewTableNameResolver(ordersRepo, tablesRepo, logger)
	notifier := service.NewNotifier(notificationsRepo, bus, logger)
	publisher := service.NewPublisher(ordersRepo, bus, resolver, notifier, logger)

	deps := service.SessionDeps{
		Broker:        bus,
		Orders:        ordersRepo,
		Notifications: notificationsRepo,
		Tokens:        tokens,
		Logger:        logger,
	}

	// routes
	mux := http.NewServeMux()
	service.NewHandler(logger, deps, publisher, resolver).Register(mux)

	// set up the server configurations
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,                                   // time to read headers
		IdleTimeout:       60 * time.Second,                                  // keep-alive window
		BaseContext:       func(net.Listener) context.Context { return ctx }, // pass base ctx to all handlers
	}
	// no WriteTimeout: WebSocket sessions hold their connection open

	// log service start
	logger.Info(ctx, "service_started", "Realtime Service started", map[string]any{
		"port": port, "broker": cfg.Broker.Backend,
	})

	// run server and wait for ctx cancellation
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	// wait for context cancellation or server error
	select {
	case <-ctx.Done():
		// graceful HTTP shutdown on context cancel
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
	case err := <-errCh:
		// server returned a terminal error at startup or during run
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}

	return nil
}
