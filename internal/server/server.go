package server

import (
	"backend-stridetrack/internal/activity"
	"backend-stridetrack/internal/auth"
	"backend-stridetrack/internal/config"
	"backend-stridetrack/internal/db"
	"backend-stridetrack/internal/location"
	"backend-stridetrack/internal/recorder"
	"backend-stridetrack/internal/recording"
	"backend-stridetrack/internal/stream"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type Server struct {
	App        *fiber.App
	Cfg        config.Config
	DB         db.Querier
	Redis      *redis.Client
	Stream     *stream.Hub
	Recordings *recording.Manager

	log  logrus.FieldLogger
	mqtt location.MQTTClient
}

type Option func(*Server)

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Server) { s.log = log }
}

// WithMQTT sets the broker connection used when LOCATION_SOURCE is mqtt.
func WithMQTT(client location.MQTTClient) Option {
	return func(s *Server) { s.mqtt = client }
}

func NewServer(cfg config.Config, q db.Querier, redisClient *redis.Client, opts ...Option) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:   app,
		Cfg:   cfg,
		DB:    q,
		Redis: redisClient,
		log:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.Stream = stream.NewHub(redisClient, s.log.WithField("component", "stream"))
	s.Recordings = recording.NewManager(activity.NewService(q), s.Stream, recording.Options{
		SourceKind:  cfg.LocationSource,
		MQTT:        s.mqtt,
		TopicFormat: cfg.MQTTLocationTopic,
		Recorder: recorder.Options{
			TickInterval:  cfg.TickInterval,
			CaloriesPerKm: cfg.CaloriesPerKm,
		},
		Logger: s.log.WithField("component", "recording"),
	})

	registerRoutes(s)
	return s
}

// Close stops every recorder before the hub they broadcast to.
func (s *Server) Close() {
	s.Recordings.Close()
	s.Stream.Close()
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	auth.RegisterRoutes(s.App.Group("/auth"), auth.NewService(s.Cfg.JWTSecret, s.DB), s.Cfg.CookieSecure)
	activity.RegisterRoutes(s.App.Group("/activities"), activity.NewService(s.DB), jwtMiddleware)
	recording.RegisterRoutes(s.App.Group("/recordings"), s.Recordings, jwtMiddleware)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream, jwtMiddleware)
}
