package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/loewenmaehne/revibe-music-sub000/internal/config"
	"github.com/loewenmaehne/revibe-music-sub000/internal/identity"
	"github.com/loewenmaehne/revibe-music-sub000/internal/resolver"
	"github.com/loewenmaehne/revibe-music-sub000/internal/room"
	"github.com/loewenmaehne/revibe-music-sub000/internal/ws"
	"github.com/loewenmaehne/revibe-music-sub000/pkg/database"
	"github.com/loewenmaehne/revibe-music-sub000/pkg/events"
	"github.com/loewenmaehne/revibe-music-sub000/pkg/redis"
)

const defaultUserinfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

func main() {
	cfg := config.Load()
	config.InitLogger(cfg.Env)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewMySQLDB(
		cfg.MySQLHost,
		cfg.MySQLPort,
		cfg.MySQLUser,
		cfg.MySQLPassword,
		cfg.MySQLDatabase,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("database connect failed")
	}

	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})

	var publisher events.Publisher = events.Noop{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaClient(cfg.KafkaBrokers, cfg.KafkaTopic)
	}
	defer publisher.Close()

	// The credential verifier: a shared HMAC secret keeps dev and tests off
	// the network, otherwise tokens are checked against the provider's
	// userinfo endpoint.
	var verifier identity.Verifier
	if cfg.IdentityJWTSecret != "" {
		verifier = identity.NewJWTVerifier(cfg.IdentityJWTSecret)
	} else {
		userinfoURL := cfg.IdentityUserinfoURL
		if userinfoURL == "" {
			userinfoURL = defaultUserinfoURL
		}
		verifier = identity.NewHTTPProvider(userinfoURL)
	}

	identitySvc := identity.NewService(verifier, db, redis.NewSessionCache(redisClient), cfg.SessionTTL)
	resolverClient := resolver.NewClient(cfg.ResolverBaseURL, cfg.ResolverAPIKey)
	directory := room.NewDirectory(db, redis.NewRoomCache(redisClient), publisher, resolverClient)
	wsHandler := ws.NewHandler(identitySvc, directory)

	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", wsHandler.HandleWebSocket)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown failed")
	}
	directory.CloseAll()
}
