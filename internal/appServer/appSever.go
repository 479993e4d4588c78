package appServer

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ds124wfegd/tripseats/config"
	"github.com/ds124wfegd/tripseats/internal/database"
	"github.com/ds124wfegd/tripseats/internal/database/memory"
	repository "github.com/ds124wfegd/tripseats/internal/database/postgres"
	redisstore "github.com/ds124wfegd/tripseats/internal/database/redis"
	"github.com/ds124wfegd/tripseats/internal/fanout"
	"github.com/ds124wfegd/tripseats/internal/governor"
	"github.com/ds124wfegd/tripseats/internal/service"
	"github.com/ds124wfegd/tripseats/internal/transport"
	"github.com/ds124wfegd/tripseats/internal/worker"

	"github.com/ds124wfegd/tripseats/pkg/auth"
	"github.com/ds124wfegd/tripseats/pkg/broker"
	"github.com/ds124wfegd/tripseats/pkg/clock"
	"github.com/ds124wfegd/tripseats/pkg/payment"
	"github.com/ds124wfegd/tripseats/pkg/postgres"
	pkgredis "github.com/ds124wfegd/tripseats/pkg/redis"
	"github.com/ds124wfegd/tripseats/pkg/retry"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type Server struct {
	httpServer *http.Server
}

func (s *Server) Run(cfg *config.Config, handler http.Handler) error {
	s.httpServer = &http.Server{
		Addr:              cfg.GetServerAddress(),
		Handler:           handler,
		MaxHeaderBytes:    1 << 20,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 3 * time.Second,
		TLSConfig:         &tls.Config{MinVersion: tls.VersionTLS12},           // ban on outdate TLS certificate
		ErrorLog:          log.New(os.Stderr, "SERVER ERROR: ", log.LstdFlags), // os.Stderr can be replaced with ElsasticSearch in the feature
	}
	// WriteTimeout не задаём: /ws держит соединение открытым, запросы API ограничены middleware.Timeout
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func NewServer(cfg *config.Config) {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetOutput(os.Stdout)
	logrus.SetLevel(logrus.InfoLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis is shared by the redis store, the fan-out relay and the event DLQ
	var redisClient *goredis.Client
	if cfg.Storage.Driver == "redis" || cfg.Fanout.RedisRelay || cfg.Broker.DLQKey != "" {
		client, err := pkgredis.NewRedisClient(ctx, &cfg.Redis)
		switch {
		case err == nil:
			redisClient = client
			defer redisClient.Close()
		case cfg.Storage.Driver == "redis" || cfg.Fanout.RedisRelay:
			logrus.Fatalf("Failed to connect to Redis: %v", err)
		default:
			logrus.WithError(err).Warn("Redis is not available, failed events will only be logged")
		}
	}

	// Initialize seat store
	store, closeStore, err := newStore(ctx, cfg, redisClient)
	if err != nil {
		logrus.Fatalf("Failed to initialize seat store: %v", err)
	}
	defer closeStore()

	// Initialize event broker
	publisher, err := newPublisher(cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize event broker: %v", err)
	}
	defer publisher.Close()

	var deadLetters *broker.DeadLetters
	var dlqSink broker.DeadLetterSink
	if redisClient != nil && cfg.Broker.DLQKey != "" {
		deadLetters = broker.NewDeadLetters(redisClient, cfg.Broker.DLQKey)
		dlqSink = deadLetters
	}
	dispatcher := broker.NewDispatcher(publisher, retry.New(cfg.Broker.Retries, 200*time.Millisecond, retry.WithMaxDelay(5*time.Second)), dlqSink, 1024)
	go dispatcher.Run(context.Background())
	logrus.WithField("driver", cfg.Broker.Driver).Info("Event dispatcher started")

	// Real-time fan-out: with the relay every instance sees every seat update
	hub := fanout.NewHub()
	var seats service.SeatPublisher = hub
	if cfg.Fanout.RedisRelay {
		relay := fanout.NewRedisRelay(redisClient, cfg.Fanout.Channel, hub, cfg.Fanout.OutboundBuffer)
		seats = relay
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logrus.Errorf("Seat update relay stopped: %v", err)
			}
		}()
		logrus.WithField("channel", cfg.Fanout.Channel).Info("Seat update relay started")
	}

	// Initialize services
	clk := clock.NewSystem()
	notify := service.NewNotifier(seats, dispatcher)
	policy := service.NewStorePolicy(cfg.Booking.RetryAttempts, cfg.Booking.RetryBaseDelay, cfg.Booking.RetryMaxDelay)
	holds := service.NewHoldManager(store, clk, cfg.Booking.HoldTTL, notify)
	bookingService := service.NewBookingService(store, holds, payment.NewStatic(cfg.Payment.DeclinePrefix), policy, notify, cfg.Booking.MaxSeatsPerHold)
	refundService := service.NewRefundService(store, policy, clk, notify)
	fanoutService := fanout.NewService(hub, bookingService)

	gov := governor.New(auth.NewJWTVerifier(cfg.JWT.Secret, cfg.JWT.Issuer), clk, governor.Config{
		MaxConnectionsPerIdentity: cfg.Governor.MaxConnectionsPerIdentity,
		MaxAttempts:               cfg.Governor.MaxAttempts,
		AttemptWindow:             cfg.Governor.AttemptWindow,
		MaxRoomsPerConnection:     cfg.Governor.MaxRoomsPerConnection,
		IdleTimeout:               cfg.Governor.IdleTimeout,
	})

	// Initialize hold sweep worker
	sweepWorker := worker.NewHoldSweepWorker(holds, cfg.Worker.SweepInterval, cfg.Worker.ResyncInterval)
	go sweepWorker.Start(ctx)
	logrus.Info("Hold sweep worker started")

	// Initialize handlers
	handlers := transport.Handlers{
		Trips:    transport.NewTripHandler(bookingService),
		Bookings: transport.NewBookingHandler(bookingService),
		Refunds:  transport.NewRefundHandler(refundService),
		WS:       transport.NewWSHandler(gov, fanoutService, cfg.Fanout.OutboundBuffer),
		Health: transport.NewHealthHandler(cfg.Server.AppVersion, map[string]transport.StatsProvider{
			"fanout":   func() interface{} { return hub.Stats() },
			"governor": func() interface{} { return gov.Stats() },
			"worker":   func() interface{} { return sweepWorker.GetStats() },
		}),
	}
	if deadLetters != nil {
		handlers.Events = transport.NewEventHandler(deadLetters, dispatcher)
	}

	// Setup HTTP server
	if cfg.IsProduction() || cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := transport.InitRoutes(transport.RouterConfig{
		AllowOrigins:   cfg.Server.AllowOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
		TrustedProxies: cfg.Server.TrustedProxies,
	}, gov, handlers)

	srv := new(Server)
	go func() {
		if err := srv.Run(cfg, router); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("error occured while running http server: %s", err.Error())
		}
	}()

	logrus.WithField("address", cfg.GetServerAddress()).Print("App Started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	logrus.Print("App Shutting Down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.Timeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("error occured on server shutting down: %s", err.Error())
	}
	cancel()

	// события, поставленные в очередь до остановки, должны уйти в брокер или в DLQ
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logrus.Errorf("error occured on event dispatcher shutting down: %s", err.Error())
	}
}

func newStore(ctx context.Context, cfg *config.Config, redisClient *goredis.Client) (database.Store, func(), error) {
	switch cfg.Storage.Driver {
	case "postgres":
		db, err := postgres.NewPostgresDB(ctx, &cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.RunMigrations(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
		return repository.NewSeatRepository(db), closeDB(db), nil
	case "redis":
		if redisClient == nil {
			return nil, nil, fmt.Errorf("redis store requires a redis connection")
		}
		return redisstore.NewSeatStore(redisClient, cfg.Storage.KeyPrefix), func() {}, nil
	case "memory":
		logrus.Warn("Using in-memory seat store, state is lost on restart")
		return memory.NewStore(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

func closeDB(db *sql.DB) func() {
	return func() {
		if err := db.Close(); err != nil {
			logrus.WithError(err).Error("Failed to close database")
		}
	}
}

func newPublisher(cfg *config.Config) (broker.Publisher, error) {
	switch cfg.Broker.Driver {
	case "rabbitmq":
		rabbit, err := broker.NewRabbitMQ(broker.RabbitMQConfig{
			URL:      cfg.Broker.RabbitMQ.URL,
			Exchange: cfg.Broker.RabbitMQ.Exchange,
		})
		if err != nil {
			return nil, err
		}
		return rabbit, nil
	case "kafka":
		return broker.NewKafka(broker.KafkaConfig{
			Brokers: cfg.Broker.Kafka.Brokers,
			Topic:   cfg.Broker.Kafka.Topic,
		}), nil
	case "log":
		return broker.NewLogPublisher(), nil
	}
	return nil, fmt.Errorf("unknown broker driver %q", cfg.Broker.Driver)
}
