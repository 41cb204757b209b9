package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/titovtima/songsServer/internal/app/artists"
	appaudio "github.com/titovtima/songsServer/internal/app/audio"
	"github.com/titovtima/songsServer/internal/app/lists"
	"github.com/titovtima/songsServer/internal/app/songs"
	"github.com/titovtima/songsServer/internal/app/users"
	"github.com/titovtima/songsServer/internal/audio"
	"github.com/titovtima/songsServer/internal/auth"
	"github.com/titovtima/songsServer/internal/config"
	"github.com/titovtima/songsServer/internal/httpapi"
	"github.com/titovtima/songsServer/internal/keyedmutex"
	"github.com/titovtima/songsServer/internal/mail"
	"github.com/titovtima/songsServer/internal/store"
)

type app struct {
	handler http.Handler
	cache   *audio.Cache
}

func newApp(ctx context.Context, cfg *config.Config, dataStore *store.Store, locks *keyedmutex.Map, logger zerolog.Logger) (*app, error) {
	objects, err := audio.NewS3Store(ctx, audio.S3Config{
		Endpoint:        cfg.Storage.S3Endpoint,
		Region:          cfg.Storage.S3Region,
		Bucket:          cfg.Storage.S3Bucket,
		AccessKeyID:     cfg.Storage.S3AccessKeyID,
		SecretAccessKey: cfg.Storage.S3SecretKey,
		UsePathStyle:    cfg.Storage.S3UsePathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}

	cache, err := audio.NewCache(objects, audio.Config{
		Dir:      cfg.Storage.CacheDir,
		MaxAge:   cfg.Storage.CacheMaxAge,
		Interval: cfg.Storage.SweepInterval,
		Locks:    locks,
		Logger:   logger.With().Str("component", "audio_cache").Logger(),
	})
	if err != nil {
		return nil, fmt.Errorf("audio cache: %w", err)
	}

	authSvc := auth.New(dataStore, newNotifier(cfg, logger), auth.Config{
		JWTSecret: []byte(cfg.Security.JWTSecret),
		JWTTTL:    cfg.Security.JWTTTL,
		Logger:    logger.With().Str("component", "auth").Logger(),
	})
	cache.AddJanitor(audio.Janitor{Name: "expired_action_tokens", Run: authSvc.PurgeExpiredActionTokens})

	server := httpapi.New(httpapi.Services{
		Auth:    authSvc,
		Users:   users.New(dataStore),
		Songs:   songs.New(dataStore),
		Artists: artists.New(dataStore),
		Lists:   lists.New(dataStore),
		Audio:   appaudio.New(dataStore, cache, logger.With().Str("component", "audio").Logger()),
	}, httpapi.Config{
		CORSOrigins:       cfg.CORS.AllowedOrigins,
		AuthRatePerMinute: cfg.Security.AuthRatePerMinute,
		AuthRateBurst:     cfg.Security.AuthRateBurst,
		MaxAudioBytes:     cfg.Server.MaxAudioBytes,
		Logger:            logger,
	})

	return &app{handler: server.Routes(), cache: cache}, nil
}

func newNotifier(cfg *config.Config, logger zerolog.Logger) *mail.Notifier {
	var sender mail.Sender = mail.NopSender{Logger: logger}
	if cfg.Mail.RelayURL != "" {
		sender = mail.NewRelaySender(cfg.Mail.RelayURL, cfg.Mail.Sender, &http.Client{Timeout: 10 * time.Second})
	} else {
		logger.Warn().Msg("MAIL_RELAY_URL not set, password recovery mail will be dropped")
	}
	return mail.NewNotifier(sender, cfg.Mail.SiteHost)
}
