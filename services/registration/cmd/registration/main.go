package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"foundersforum/internal/admintoken"
	"foundersforum/internal/util"
	"foundersforum/pkg/notify"
	"foundersforum/pkg/queue"
	"foundersforum/pkg/storage"
	"foundersforum/pkg/store"
	"foundersforum/services/registration/internal/app"
	"foundersforum/services/registration/internal/config"
	"foundersforum/services/registration/internal/server"
)

const shutdownTimeout = 20 * time.Second

func main() {
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	channels, closeNotifiers := buildNotifiers(cfg, logger)
	defer closeNotifiers()
	var notifier notify.Notifier = channels
	if len(channels) == 0 {
		notifier = notify.Nop{}
	} else if cfg.RedisAddr != "" {
		outbox, err := queue.NewRedisOutbox(queue.OutboxConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Channels: channels.Names(),
		})
		if err != nil {
			log.Fatalf("failed to init notification outbox: %v", err)
		}
		defer outbox.Close()
		outbox.Start(ctx, 1, func(ctx context.Context, job queue.Job) error {
			return channels.Deliver(ctx, job.Channel, job.Registration)
		})
		notifier = outbox
		logger.Info("confirmations delivered through redis outbox")
	}

	var tokens *admintoken.Manager
	if cfg.Admin.PasswordHash != "" {
		tokens, err = admintoken.NewManager(admintoken.Options{
			Secret: cfg.Admin.TokenSecret,
			Issuer: "foundersforum-registration",
			TTL:    time.Duration(cfg.Admin.TokenTTLSeconds) * time.Second,
		})
		if err != nil {
			log.Fatalf("failed to init admin tokens: %v", err)
		}
	}

	appCore, err := app.New(app.Config{
		Adapter: app.AdapterConfig{
			Live:        cfg.LiveStore(),
			DatabaseURL: cfg.DatabaseURL,
			Database: store.GormOptions{
				MaxOpenConns: cfg.DatabaseMaxConns,
				MaxIdleConns: cfg.DatabaseMaxConns / 2,
			},
			Storage: storage.MinioOptions{
				Endpoint:      cfg.Storage.Endpoint,
				AccessKey:     cfg.Storage.AccessKey,
				SecretKey:     cfg.Storage.SecretKey,
				Bucket:        cfg.Storage.Bucket,
				UseSSL:        cfg.Storage.UseSSL,
				PublicBaseURL: cfg.Storage.PublicBaseURL,
			},
			Simulation: store.MemoryOptions{
				Delay:         cfg.Simulation.Delay(),
				RetainInserts: cfg.Simulation.RetainInserts,
			},
		},
		MaxUploadBytes:    cfg.MaxUploadBytes,
		Notifier:          notifier,
		AdminPasswordHash: cfg.Admin.PasswordHash,
		AdminTokens:       tokens,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	appCore.LogStartup(logger)

	httpServer, err := server.New(server.Config{
		App:                      appCore,
		MaxUploadBytes:           cfg.MaxUploadBytes,
		CORSOrigin:               cfg.CORSOrigin,
		TrustedProxies:           trusted,
		RedisAddr:                cfg.RedisAddr,
		RedisPassword:            cfg.RedisPassword,
		SubmitRateLimitPerMinute: cfg.SubmitRateLimitPerMinute,
		SearchRateLimitPerMinute: cfg.SearchRateLimitPerMinute,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("registration server listening", "addr", addr, "mode", appCore.Mode())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down registration server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := appCore.Wait(shutdownCtx); err != nil {
			logger.Warn("pending notifications abandoned", "err", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
}

// buildNotifiers wires the optional confirmation channels. A channel that
// fails to initialize is logged and skipped.
func buildNotifiers(cfg config.FileConfig, logger *slog.Logger) (notify.Channels, func()) {
	var (
		out     = notify.Channels{}
		closers []func() error
	)
	if cfg.SMTP.Host != "" {
		mailer, err := notify.NewMailer(notify.SMTPConfig{
			Host:          cfg.SMTP.Host,
			Port:          cfg.SMTP.Port,
			Username:      cfg.SMTP.Username,
			Password:      cfg.SMTP.Password,
			From:          cfg.SMTP.From,
			SkipTLSVerify: cfg.SMTP.SkipTLSVerify,
			EventName:     cfg.Event.Name,
			EventDate:     cfg.Event.Date,
			EventVenue:    cfg.Event.Venue,
		})
		if err != nil {
			logger.Warn("confirmation mail disabled", "err", err)
		} else {
			out["mail"] = mailer
		}
	}
	if cfg.AMQP.URL != "" {
		publisher, err := notify.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			logger.Warn("registration events disabled", "err", err)
		} else {
			out["amqp"] = publisher
			closers = append(closers, publisher.Close)
		}
	}
	closeAll := func() {
		for _, c := range closers {
			_ = c()
		}
	}
	return out, closeAll
}
