package main

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/SamuelAtedla/heartcare/libs/config"
	"github.com/SamuelAtedla/heartcare/libs/db"
	"github.com/SamuelAtedla/heartcare/libs/httpx"
	"github.com/SamuelAtedla/heartcare/libs/kafkax"
	otelx "github.com/SamuelAtedla/heartcare/libs/otel"
	"github.com/SamuelAtedla/heartcare/libs/runtime"
	"github.com/SamuelAtedla/heartcare/services/billing-service/internal/handlers"
	"github.com/SamuelAtedla/heartcare/services/billing-service/internal/inbox"
	"github.com/SamuelAtedla/heartcare/services/billing-service/internal/outbox"
	"github.com/SamuelAtedla/heartcare/services/billing-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "billing-service")
	port, err := config.Port("PORT", "8084")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	if dir := config.String("MIGRATIONS_DIR", ""); dir != "" {
		n, err := db.Migrate(ctx, pool, dir)
		if err != nil {
			logger.Error("migrations failed", "err", err)
			panic(err)
		}
		if n > 0 {
			logger.Info("migrations applied", "count", n)
		}
	}

	brokers := config.String("KAFKA_BROKERS", "")
	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)

	repo := storage.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	inboxRepo := inbox.NewRepository(pool)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers: brokers,
	})
	go outboxPublisher.Run(ctx)

	billingHandler := handlers.New(repo, outboxRepo, logger, handlers.Config{
		StripeSecretKey:               config.String("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret:           config.String("STRIPE_WEBHOOK_SECRET", ""),
		StripeWebhookToleranceSeconds: config.Int("STRIPE_WEBHOOK_TOLERANCE_SECONDS", 300),
		CheckoutSuccessURL:            config.String("CHECKOUT_SUCCESS_URL", ""),
		CheckoutCancelURL:             config.String("CHECKOUT_CANCEL_URL", ""),
		Currency:                      config.String("BILLING_CURRENCY", "usd"),
	})

	groupID := config.String("KAFKA_GROUP_ID", "billing-service")
	requestedConsumer := kafkax.NewConsumer(kafkax.ConsumerConfig{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   "booking.appointment.requested.v1",
	}, inboxRepo, logger, billingHandler.HandleAppointmentRequested)
	go requestedConsumer.Run(ctx)

	refundConsumer := kafkax.NewConsumer(kafkax.ConsumerConfig{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   "billing.refund.requested.v1",
	}, inboxRepo, logger, billingHandler.HandleRefundRequested)
	go refundConsumer.Run(ctx)

	mux.HandleFunc("/api/v1/billing/checkout", billingHandler.Checkout)
	mux.HandleFunc("/api/v1/billing/webhooks/stripe", billingHandler.StripeWebhook)
	mux.HandleFunc("/api/v1/billing/webhooks/local", billingHandler.LocalWebhook)
	mux.HandleFunc("/api/v1/public/billing/session", billingHandler.SessionStatus)
	mux.HandleFunc("/api/v1/billing/admin/payments", billingHandler.AdminPayments)
	mux.HandleFunc("/api/v1/billing/admin/revenue", billingHandler.AdminRevenue)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "billing")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
