package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backend-stridetrack/internal/config"
	"backend-stridetrack/internal/db"
	"backend-stridetrack/internal/location"
	"backend-stridetrack/internal/logging"
	"backend-stridetrack/internal/server"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain

func main() {
	mainRunner(mainDepsProvider())
}

type mainDeps struct {
	loadConfig      func() (config.Config, error)
	connectPostgres func(config.Config) (*pgxpool.Pool, error)
	migrate         func(context.Context, db.Querier) error
	connectRedis    func(config.Config) (*redis.Client, error)
	connectMQTT     func(config.Config, logrus.FieldLogger) (mqtt.Client, error)
	notify          func(chan<- os.Signal, ...os.Signal)
	run             func(context.Context, config.Config, *pgxpool.Pool, *redis.Client, mqtt.Client, logrus.FieldLogger, <-chan os.Signal, ListenFunc) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadConfig:      config.Load,
		connectPostgres: db.ConnectPostgres,
		migrate:         db.Migrate,
		connectRedis:    db.ConnectRedis,
		connectMQTT: func(cfg config.Config, log logrus.FieldLogger) (mqtt.Client, error) {
			return location.ConnectMQTT(cfg.MQTTBroker, cfg.MQTTClientID, log)
		},
		notify: signal.Notify,
		run:    Run,
	}
}

func realMain(deps mainDeps) {
	cfg, err := deps.loadConfig()
	if err != nil {
		logrus.WithError(err).Error("config load failed")
		return
	}
	log := logging.New(cfg.LogLevel)

	pg, err := deps.connectPostgres(cfg)
	if err != nil {
		log.WithError(err).Error("postgres connection failed")
	}
	if pg != nil {
		if err := deps.migrate(context.Background(), pg); err != nil {
			log.WithError(err).Error("schema migration failed")
		}
	}

	rdb, err := deps.connectRedis(cfg)
	if err != nil {
		log.WithError(err).Warn("redis unavailable, streaming stays local to this instance")
	}

	mq, err := deps.connectMQTT(cfg, log)
	if err != nil {
		log.WithError(err).Error("mqtt connection failed")
	}

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(context.Background(), cfg, pg, rdb, mq, log, signals, nil); err != nil {
		log.WithError(err).Error("server exited with error")
	}
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

// Run starts the HTTP server and waits for termination signals.
func Run(ctx context.Context, cfg config.Config, pg *pgxpool.Pool, rdb *redis.Client, mq mqtt.Client, log logrus.FieldLogger, signals <-chan os.Signal, listen ListenFunc) error {
	if log == nil {
		log = logging.New(cfg.LogLevel)
	}

	var q db.Querier
	if pg != nil {
		q = pg
	}
	srv := server.NewServer(cfg, q, rdb, server.WithLogger(log), server.WithMQTT(mq))

	if listen == nil {
		listen = defaultListen
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv.App, cfg.ServerPort)
	}()

	select {
	case <-signals:
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			srv.Close()
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := shutdownFn(srv.App, shutdownCtx)
	srv.Close()
	if mq != nil {
		mq.Disconnect(250)
	}
	if pg != nil {
		pg.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	return err
}
