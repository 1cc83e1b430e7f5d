package server

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"backend-travelalarm/internal/auth"
	"backend-travelalarm/internal/config"
	"backend-travelalarm/internal/geofence"
	"backend-travelalarm/internal/history"
	"backend-travelalarm/internal/notify"
	"backend-travelalarm/internal/progress"
	"backend-travelalarm/internal/runner"
	"backend-travelalarm/internal/stream"
	"backend-travelalarm/internal/trip"
)

type Server struct {
	App    *fiber.App
	Cfg    config.Config
	DB     *pgxpool.Pool
	Redis  *redis.Client
	Stream *stream.Hub

	Store       *trip.Store
	Monitor     *geofence.LocalMonitor
	Tracker     *progress.Tracker
	Coordinator *geofence.Coordinator
	Dispatcher  *notify.Dispatcher
	Provider    *runner.ChannelProvider
	Runner      *runner.Runner
	Recorder    *history.Recorder
}

// coordinatorRef breaks the construction cycle between the tracker
// (which refreshes geofences after each checkpoint) and the coordinator
// (which routes geofence transitions back into the tracker).
type coordinatorRef struct {
	c *geofence.Coordinator
}

func (r *coordinatorRef) Refresh(t *trip.Trip) error {
	return r.c.Refresh(t)
}

func NewServer(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client, amqpCh *amqp.Channel) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	hub := stream.NewHub(redisClient)
	store := trip.NewStore(redisClient)

	// A typed nil pool must not reach the recorder's interface field.
	recorder := history.NewRecorder(nil)
	if db != nil {
		recorder = history.NewRecorder(db)
	}

	alerter := notify.NewHubAlerter(hub)
	senders := map[trip.NotificationMethod]notify.Sender{
		trip.MethodInApp: notify.NewInAppSender(hub),
	}
	if pub, err := notify.NewGatewayPublisher(amqpCh); err != nil {
		log.Printf("server: notification gateway unavailable: %v", err)
	} else if pub != nil {
		senders[trip.MethodMessenger] = notify.NewGatewaySender(pub, trip.MethodMessenger)
		senders[trip.MethodSMS] = notify.NewGatewaySender(pub, trip.MethodSMS)
		senders[trip.MethodCall] = notify.NewGatewaySender(pub, trip.MethodCall)
		senders[trip.MethodEmail] = notify.NewGatewaySender(pub, trip.MethodEmail)
	}
	dispatcher := notify.NewDispatcher(alerter, senders, recorder)

	monitor := geofence.NewLocalMonitor()
	ref := &coordinatorRef{}
	tracker := progress.NewTracker(store, dispatcher, hub, ref, cfg.LowBatteryPct)
	coordinator := geofence.NewCoordinator(monitor, store, tracker)
	ref.c = coordinator

	provider := runner.NewChannelProvider()
	run := runner.New(store, tracker, coordinator, monitor, recorder, provider)
	svc := runner.NewService(store, run, coordinator, dispatcher, provider, recorder)

	s := &Server{
		App:         app,
		Cfg:         cfg,
		DB:          db,
		Redis:       redisClient,
		Stream:      hub,
		Store:       store,
		Monitor:     monitor,
		Tracker:     tracker,
		Coordinator: coordinator,
		Dispatcher:  dispatcher,
		Provider:    provider,
		Runner:      run,
		Recorder:    recorder,
	}

	registerRoutes(s, svc)
	return s
}

func registerRoutes(s *Server, svc *runner.Service) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	authSvc := auth.NewService(s.Cfg.JWTSecret, nil)
	if s.DB != nil {
		authSvc = auth.NewService(s.Cfg.JWTSecret, s.DB)
	}
	auth.RegisterRoutes(s.App.Group("/auth"), authSvc)

	trips := s.App.Group("/trips")
	trip.RegisterRoutes(trips, s.Store, s.Tracker, jwtMiddleware)
	runner.RegisterRoutes(trips, svc, jwtMiddleware)

	trip.RegisterContactRoutes(s.App.Group("/contacts"), s.Store, jwtMiddleware)
	trip.RegisterDataRoutes(s.App.Group("/data"), s.Store, jwtMiddleware)
	notify.RegisterRoutes(s.App.Group("/alarm"), s.Dispatcher.Alarm(), jwtMiddleware)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream)
}
