// Command welcomebot runs the Telegram welcome bot: a Bot API ingestor
// feeding the durable event queue, the single consumer loop that moderates
// chats, and an operational HTTP server for health and metrics.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/ogavrilov/welcomebot/internal/config"
	"github.com/ogavrilov/welcomebot/internal/domain"
	"github.com/ogavrilov/welcomebot/internal/eventlog"
	"github.com/ogavrilov/welcomebot/internal/mtproto"
	"github.com/ogavrilov/welcomebot/internal/observability"
	"github.com/ogavrilov/welcomebot/internal/ops"
	"github.com/ogavrilov/welcomebot/internal/processor"
	"github.com/ogavrilov/welcomebot/internal/queue"
	"github.com/ogavrilov/welcomebot/internal/repo"
	"github.com/ogavrilov/welcomebot/internal/sysutil"
	"github.com/ogavrilov/welcomebot/internal/telegram"
)

const version = "1.0.0"

// drainGrace bounds how long the consumer may keep draining after a
// shutdown signal before its context is cancelled.
const drainGrace = 10 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("configuration invalid")
	}

	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	logger := log.With().Str("service", "welcomebot").Logger()

	defaults := domain.DefaultChatSettings()
	if cfg.DefaultChatSettingsJSON != "" {
		defaults, err = domain.ParseChatSettings([]byte(cfg.DefaultChatSettingsJSON))
		if err != nil {
			logger.Fatal().Err(err).Msg("DEFAULT_CHAT_SETTINGS_JSON invalid")
		}
	}

	queueDB := mustOpen(logger, cfg.QueueDBPath, cfg.OTEL.Enabled)
	if err := queue.Migrate(queueDB); err != nil {
		logger.Fatal().Err(err).Msg("queue migration failed")
	}
	eventlogDB := mustOpen(logger, cfg.EventLogDBPath, cfg.OTEL.Enabled)
	if err := eventlog.Migrate(eventlogDB); err != nil {
		logger.Fatal().Err(err).Msg("event log migration failed")
	}
	storeDB := mustOpen(logger, cfg.StoreDBPath, cfg.OTEL.Enabled)
	if err := repo.AutoMigrate(storeDB); err != nil {
		logger.Fatal().Err(err).Msg("store migration failed")
	}
	defer closeDB(queueDB)
	defer closeDB(eventlogDB)
	defer closeDB(storeDB)

	shutdownOTel, err := observability.SetupOTel(context.Background(), cfg.OTEL, version)
	if err != nil {
		logger.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOTel(ctx)
	}()

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot api login failed")
	}
	logger.Info().Str("username", bot.Self.UserName).Int64("bot_id", bot.Self.ID).Msg("authorized")

	q := queue.New(queueDB, logger, queue.Options{
		PollInterval: cfg.QueuePollInterval,
		MaxAttempts:  cfg.QueueMaxAttempts,
	})
	audit := eventlog.New(eventlogDB, logger)
	client := telegram.NewBotClient(bot, cfg.BotRateLimit, logger)
	ingest := telegram.NewIngestor(q, audit, logger)
	store := processor.NewGormStore(storeDB, defaults)

	// Reactions and other updates the Bot API does not deliver arrive through
	// the MTProto session when one is linked in and enabled.
	var relay *mtproto.Relay
	if cfg.MTProtoEnabled {
		src, err := mtproto.Open(context.Background(), cfg.MTProtoSessionPath, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("mtproto session failed")
		}
		relay = mtproto.NewRelay(src, q, audit, logger)
	}

	proc := processor.New(processor.Config{
		CommandPrefix:    cfg.CommandPrefix,
		RootAdminUserID:  domain.UserID(cfg.RootAdminUserID),
		BotUserID:        domain.UserID(bot.Self.ID),
		PeriodicInterval: cfg.PeriodicInterval,
		PollTimeout:      cfg.QueuePollTimeout,
	}, store, q, client, logger)

	opsServer := ops.NewServer(ops.Options{
		Port:    cfg.OpsPort,
		GinMode: cfg.GinMode,
		Databases: map[string]*gorm.DB{
			"queue":    queueDB,
			"eventlog": eventlogDB,
			"store":    storeDB,
		},
		LastPeriodic:   proc.LastPeriodic,
		MaxPeriodicAge: 10 * cfg.PeriodicInterval,
	}, logger)

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// The consumer gets its own context so it can drain the queue after a
	// signal: the Stop event ends the loop cleanly, the grace timer is the
	// backstop.
	procCtx, cancelProc := context.WithCancel(context.Background())
	defer cancelProc()

	updateCfg := tgbotapi.NewUpdate(0)
	updateCfg.Timeout = 30
	updates := bot.GetUpdatesChan(updateCfg)

	g, gctx := errgroup.WithContext(sigCtx)
	g.Go(func() error {
		err := ingest.Run(gctx, updates)
		if err == context.Canceled {
			return nil
		}
		return err
	})
	if relay != nil {
		g.Go(func() error {
			err := relay.Run(gctx)
			if err == context.Canceled {
				return nil
			}
			return err
		})
	}
	g.Go(func() error { return opsServer.Run(gctx) })
	g.Go(func() error {
		err := proc.Run(procCtx)
		if err == context.Canceled {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		bot.StopReceivingUpdates()
		putCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := q.Put(putCtx, domain.Stop{RecvTimestamp: domain.Now()}); err != nil {
			logger.Error().Err(err).Msg("stop event enqueue failed, cancelling consumer")
			cancelProc()
			return nil
		}
		time.AfterFunc(drainGrace, cancelProc)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("exited with error")
	}
	logger.Info().Msg("bye")
}

func mustOpen(logger zerolog.Logger, path string, trace bool) *gorm.DB {
	db, err := repo.OpenSQLite(path, trace)
	if err != nil {
		logger.Fatal().Err(err).Str("path", path).Msg("open database failed")
	}
	return db
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
