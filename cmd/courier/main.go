package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"url-courier/internal/bot"
	"url-courier/internal/config"
	"url-courier/internal/fetch"
	apphttp "url-courier/internal/http"
	"url-courier/internal/probe"
	"url-courier/internal/repository/sqlite"
	"url-courier/internal/storage"
	"url-courier/internal/task"
	"url-courier/internal/torrent"
	"url-courier/internal/transport/telegram"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	userRepo := sqlite.NewUserRepository(db)
	if err := userRepo.Init(ctx); err != nil {
		logger.Fatalf("init user repository: %v", err)
	}

	messenger := telegram.New(telegram.Settings{
		BotToken: cfg.Telegram.BotToken,
	}, nil, logrus.NewEntry(logger).WithField("component", "telegram"))

	dispatcher := buildDispatcher(cfg, logger)

	archiver, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		logger.Warnf("archival disabled: %v", err)
	}

	orchestrator := task.NewOrchestrator(
		task.NewStore(cfg.Task.Cooldown),
		dispatcher,
		messenger,
		userRepo,
		probe.NewFFProbe(logrus.NewEntry(logger).WithField("component", "probe")),
		archiver,
		logrus.NewEntry(logger).WithField("component", "task"),
		task.Config{
			MaxConcurrent:   cfg.Download.MaxConcurrent,
			RefreshInterval: cfg.Task.RefreshInterval,
			MaxEditFailures: cfg.Task.MaxEditFailures,
			LogChannelID:    cfg.Telegram.LogChat,
		},
	)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	apphttp.NewHandler(orchestrator, userRepo).RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	courier := bot.New(
		messenger,
		orchestrator,
		userRepo,
		logrus.NewEntry(logger).WithField("component", "bot"),
		cfg.Download.TorrentDir,
		cfg.Download.ThumbDir,
	)

	go func() {
		if err := courier.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Errorf("bot stopped: %v", err)
			stop()
		}
	}()

	logger.Info("courier is up")
	notifyOwner(ctx, messenger, cfg.Telegram.OwnerChat, "🚀 courier started")
	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	orchestrator.Shutdown(15 * time.Second)
	notifyOwner(shutdownCtx, messenger, cfg.Telegram.OwnerChat, "🛑 courier stopping")

	logger.Info("bye")
}

// notifyOwner pings the operator chat. Failures are ignored.
func notifyOwner(ctx context.Context, messenger *telegram.Client, chatID int64, text string) {
	if chatID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, _ = messenger.SendStatus(ctx, chatID, text)
}

func buildDispatcher(cfg config.Config, logger *logrus.Logger) *fetch.Dispatcher {
	direct := fetch.NewDirect(fetch.DirectConfig{
		Dir:       cfg.Download.DataDir,
		MaxSize:   cfg.Download.MaxFileSize,
		ChunkSize: int(cfg.Download.ChunkSize),
	}, logrus.NewEntry(logger).WithField("component", "direct"))

	media := fetch.NewMedia(cfg.Download.DataDir,
		logrus.NewEntry(logger).WithField("component", "media"))

	controller := torrent.NewController(
		torrent.NewAnacrolixEngine(cfg.Torrent.ListenPort),
		torrent.Config{
			DataDir:         cfg.Download.DataDir,
			MaxSize:         cfg.Download.MaxFileSize,
			MetadataTimeout: cfg.Torrent.MetadataTimeout,
			DownloadTimeout: cfg.Torrent.DownloadTimeout,
			PollInterval:    cfg.Torrent.PollInterval,
		},
		logrus.NewEntry(logger).WithField("component", "torrent"),
	)

	domains := cfg.Download.MediaDomains
	if len(domains) == 0 {
		domains = fetch.DefaultMediaDomains
	}
	return fetch.NewDispatcher(direct, media, controller, domains)
}

func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Service, error) {
	if cfg.Storage.Bucket == "" {
		return nil, fmt.Errorf("storage bucket is not configured")
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("archiving to s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Service(client, storage.Options{
		Bucket:    cfg.Storage.Bucket,
		KeyPrefix: cfg.Storage.KeyPrefix,
	}), nil
}
