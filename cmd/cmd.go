package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mindsync-backend/internal/cache"
	"mindsync-backend/internal/config"
	"mindsync-backend/internal/gemini"
	"mindsync-backend/internal/handlers"
	"mindsync-backend/internal/middleware"
	"mindsync-backend/internal/realtime"
	"mindsync-backend/internal/repository"
	"mindsync-backend/internal/services"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// watchedTables feed the change stream
var watchedTables = []string{"messages", "groups"}

func Run() {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logger
	setupLogger(cfg.Log.Level)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Connect to database
	db, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Test database connection
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping database")
	}
	log.Info().Msg("Database connection established")

	// Connect to redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, serving without cache hits")
	} else {
		log.Info().Msg("Redis connection established")
	}
	queryCache := cache.New(rdb, cfg.Cache.StaleTime, cfg.Cache.GCTime)

	// Change feed
	broker := realtime.NewBroker(cfg.Realtime.BufferSize)
	listener, err := realtime.NewListener(db, broker, cfg.Realtime.Channel)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create change feed listener")
	}
	if err := listener.EnsureTriggers(ctx, watchedTables...); err != nil {
		log.Fatal().Err(err).Msg("Failed to install change feed triggers")
	}
	listenerDone := make(chan struct{})
	go func() {
		defer close(listenerDone)
		listener.Run(ctx)
	}()

	// Welcome text generator
	var generator services.WelcomeGenerator = gemini.Static{}
	if cfg.Gemini.APIKey != "" {
		client, err := gemini.NewClient(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Gemini client")
		}
		defer client.Close()
		generator = client
	} else {
		log.Warn().Msg("No Gemini API key configured, using the built-in welcome message")
	}

	// Avatar storage
	var images services.ImageStore = services.InlineImageStore{}
	if cfg.AWS.S3Bucket != "" {
		s3Store, err := services.NewS3ImageStore(ctx, cfg.AWS)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create S3 image store")
		}
		images = s3Store
	}

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	profileRepo := repository.NewProfileRepository(db)
	groupRepo := repository.NewGroupRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	questionRepo := repository.NewQuestionRepository(db)

	// Initialize services
	wsHub := services.NewWSHub()
	userService := services.NewUserService(userRepo, cfg.JWT.Secret)
	profileService := services.NewProfileService(profileRepo, userRepo, images, queryCache)
	questionService := services.NewQuestionService(questionRepo, queryCache)
	messageService := services.NewMessageService(messageRepo, profileRepo, groupRepo, queryCache, broker)
	welcomer := services.NewWelcomer(groupRepo, messageRepo, generator, queryCache)
	groupService := services.NewGroupService(groupRepo, messageRepo, profileRepo, welcomer, wsHub, queryCache)
	stopGroupWatch := groupService.Watch(broker)

	// Initialize handlers
	userHandler := handlers.NewUserHandler(userService)
	profileHandler := handlers.NewProfileHandler(profileService)
	questionHandler := handlers.NewQuestionHandler(questionService)
	groupHandler := handlers.NewGroupHandler(groupService, messageService)
	wsHandler := handlers.NewWebSocketHandler(wsHub, userService, groupService, messageService)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(userService))

		r.Get("/me", userHandler.GetMe)

		r.Get("/profile", profileHandler.GetProfile)
		r.Patch("/profile", profileHandler.UpdateProfile)
		r.Post("/profile/onboarding", profileHandler.CompleteOnboarding)
		r.Put("/profile/image", profileHandler.UploadImage)

		r.Get("/questions", questionHandler.GetQuestions)
		r.Put("/questions/{question_id}/answer", questionHandler.SubmitAnswer)

		r.Get("/groups", groupHandler.ListGroups)
		r.Get("/groups/{group_id}", groupHandler.GetGroup)
		r.Get("/groups/{group_id}/messages", groupHandler.GetMessages)
		r.Post("/groups/{group_id}/messages", groupHandler.SendMessage)
	})

	// WebSocket route
	r.Get("/ws", wsHandler.HandleWebSocket)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Shutdown HTTP server, then drop websocket connections it no longer tracks
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	wsHub.Close()

	// Let in-flight welcome messages land before the pool closes
	groupService.Wait()
	stopGroupWatch()

	stop()
	<-listenerDone

	log.Info().Msg("Server exited")
}

// setupLogger configures zerolog logger
func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// corsMiddleware handles CORS
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
