package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backend-travelalarm/internal/config"
	"backend-travelalarm/internal/db"
	"backend-travelalarm/internal/runner"
	"backend-travelalarm/internal/server"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain

func main() {
	mainRunner(mainDepsProvider())
}

type mainDeps struct {
	loadConfig      func() config.Config
	connectPostgres func(config.Config) (*pgxpool.Pool, error)
	connectRedis    func(config.Config) *redis.Client
	connectAMQP     func(config.Config) (*amqp.Connection, *amqp.Channel, error)
	notify          func(chan<- os.Signal, ...os.Signal)
	run             func(context.Context, config.Config, *pgxpool.Pool, *redis.Client, *amqp.Connection, *amqp.Channel, <-chan os.Signal, ListenFunc) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadConfig:      config.Load,
		connectPostgres: db.ConnectPostgres,
		connectRedis:    db.ConnectRedis,
		connectAMQP:     db.ConnectAMQP,
		notify:          signal.Notify,
		run:             Run,
	}
}

func realMain(deps mainDeps) {
	cfg := deps.loadConfig()

	pg, err := deps.connectPostgres(cfg)
	if err != nil {
		log.Printf("postgres connection failed: %v", err)
	}

	rdb := deps.connectRedis(cfg)

	amqpConn, amqpCh, err := deps.connectAMQP(cfg)
	if err != nil {
		log.Printf("amqp connection failed: %v", err)
	}

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(context.Background(), cfg, pg, rdb, amqpConn, amqpCh, signals, nil); err != nil {
		log.Printf("server exited with error: %v", err)
	}
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

// Run starts the HTTP server, resumes any trip that was being tracked
// when the process last stopped, and waits for termination signals.
func Run(ctx context.Context, cfg config.Config, pg *pgxpool.Pool, rdb *redis.Client, amqpConn *amqp.Connection, amqpCh *amqp.Channel, signals <-chan os.Signal, listen ListenFunc) error {
	srv := server.NewServer(cfg, pg, rdb, amqpCh)

	// Tracking state lives in the store, not in this process: a trip
	// that was active before a crash or restart picks up where it left
	// off, with already-reached checkpoints staying reached.
	if err := srv.Runner.Start(ctx); err != nil && !errors.Is(err, runner.ErrNoActiveTrip) {
		log.Printf("could not resume tracking: %v", err)
	}

	consumerCtx, cancelConsumer := context.WithCancel(ctx)
	defer cancelConsumer()
	if consumer, err := runner.NewFixConsumer(amqpCh, srv.Store, srv.Provider); err != nil {
		log.Printf("fix consumer unavailable: %v", err)
	} else if consumer != nil {
		go func() {
			if err := consumer.Run(consumerCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("fix consumer stopped: %v", err)
			}
		}()
	}

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
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := shutdownFn(srv.App, shutdownCtx); err != nil {
		return err
	}

	cancelConsumer()
	srv.Runner.Stop()
	srv.Dispatcher.Wait()
	srv.Monitor.Close()

	if amqpCh != nil {
		_ = amqpCh.Close()
	}
	if amqpConn != nil {
		_ = amqpConn.Close()
	}
	if pg != nil {
		pg.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	return nil
}
