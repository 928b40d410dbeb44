package server

import (
	"context"

	"github.com/IBM/sarama"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/AkashInfoDev/helpdesk-back-end/config"
	"github.com/AkashInfoDev/helpdesk-back-end/handlers"
	"github.com/AkashInfoDev/helpdesk-back-end/kafka"
	"github.com/AkashInfoDev/helpdesk-back-end/limiter"
	custommiddleware "github.com/AkashInfoDev/helpdesk-back-end/middleware"
	"github.com/AkashInfoDev/helpdesk-back-end/models"
	"github.com/AkashInfoDev/helpdesk-back-end/redis"
	"github.com/AkashInfoDev/helpdesk-back-end/services"
)

type Server struct {
	Echo   *echo.Echo
	DB     *gorm.DB
	Config *config.Config

	ChatHandler          *handlers.ChatHandler
	AgentHandler         *handlers.AgentHandler
	CannedHandler        *handlers.CannedHandler
	ChatWebSocketHandler *handlers.ChatWebSocketHandler

	limiterManager *limiter.Manager
	publisher      *kafka.EventPublisher
	consumer       *kafka.Consumer
	consumerCancel context.CancelFunc
}

func NewServer() *Server {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{})
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	if err := models.AutoMigrateAll(db); err != nil {
		log.Fatal("Failed to auto-migrate database:", err)
	}

	redisClient, err := redis.NewRedisClient(&cfg.Redis)
	if err != nil {
		log.Fatal("Failed to connect to redis:", err)
	}

	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	allowOrigins := cfg.Server.AllowOrigins
	if len(allowOrigins) == 0 {
		allowOrigins = []string{"http://localhost:5173"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     allowOrigins,
		AllowMethods:     []string{echo.GET, echo.POST, echo.PUT, echo.DELETE, echo.PATCH},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		AllowCredentials: true,
		ExposeHeaders:    []string{echo.HeaderContentLength},
		MaxAge:           86400,
	}))

	authService := services.NewAuthService(db, &cfg.Auth)
	sessionService := services.NewSessionService(db)
	presenceService := services.NewPresenceService(db, redisClient.Client)
	cannedService := services.NewCannedService(db)

	s := &Server{
		Echo:           e,
		DB:             db,
		Config:         &cfg,
		limiterManager: limiter.NewManager(redisClient.Client, &limiter.FixedWindowStrategy{}),
	}

	var publisher handlers.EventPublisher
	if cfg.Kafka.Enabled {
		s.setupKafka(&cfg.Kafka)
		if s.publisher != nil {
			publisher = s.publisher
		}
	}

	hub := handlers.NewHub()
	broker := handlers.NewBroker(hub, sessionService, presenceService, cannedService, publisher)

	s.ChatHandler = handlers.NewChatHandler(broker, sessionService)
	s.AgentHandler = handlers.NewAgentHandler(broker, presenceService)
	s.CannedHandler = handlers.NewCannedHandler(cannedService)
	s.ChatWebSocketHandler = handlers.NewChatWebSocketHandler(broker)

	authMiddleware := custommiddleware.AuthMiddleware(authService)
	s.SetupRoutes(authMiddleware)
	return s
}

// setupKafka wires the event publisher and, when a consumer group is
// configured, the audit consumer. Failures log and leave the realtime path
// running without the stream.
func (s *Server) setupKafka(cfg *config.KafkaConfig) {
	var (
		saramaCfg *sarama.Config
		err       error
	)
	switch cfg.Mechanism {
	case "SCRAM-SHA-256", "SCRAM-SHA-512":
		saramaCfg, err = kafka.NewSaramaConfigWithSCRAM(cfg, cfg.Mechanism)
	default:
		saramaCfg, err = kafka.NewSaramaConfig(cfg)
	}
	if err != nil {
		log.Errorf("Kafka config failed, continuing without event stream: %v", err)
		return
	}

	producer, err := kafka.NewProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		log.Errorf("Kafka producer failed, continuing without event stream: %v", err)
		return
	}
	s.publisher = kafka.NewEventPublisher(producer, cfg.Topic)

	if cfg.GroupID == "" {
		return
	}
	consumer, err := kafka.NewConsumer(cfg.Brokers, cfg.GroupID, []string{cfg.Topic}, saramaCfg, kafka.NewAuditHandler())
	if err != nil {
		log.Errorf("Kafka consumer failed, audit trail disabled: %v", err)
		return
	}
	s.consumer = consumer

	ctx, cancel := context.WithCancel(context.Background())
	s.consumerCancel = cancel
	go func() {
		if err := consumer.Start(ctx); err != nil {
			log.Errorf("Kafka consumer stopped: %v", err)
		}
	}()
}

func (s *Server) Start(addr string) {
	log.Fatal(s.Echo.Start(addr))
}

// Shutdown stops the HTTP listener and the kafka pieces.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.consumerCancel != nil {
		s.consumerCancel()
	}
	if s.consumer != nil {
		if err := s.consumer.Close(); err != nil {
			log.Errorf("Kafka consumer close failed: %v", err)
		}
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			log.Errorf("Kafka producer close failed: %v", err)
		}
	}
	return s.Echo.Shutdown(ctx)
}
