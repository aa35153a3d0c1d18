// Command pollbot wires the poll lifecycle engine's concrete collaborators
// together: configuration, persistence, the chat-platform adapter, the
// scheduler, the lifecycle services, the safeguard loop, the recovery
// orchestrator, and the thin HTMX dashboard.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/pollbot/pollbot/internal/archive"
	"github.com/pollbot/pollbot/internal/cache"
	"github.com/pollbot/pollbot/internal/chatplatform"
	"github.com/pollbot/pollbot/internal/closing"
	"github.com/pollbot/pollbot/internal/config"
	"github.com/pollbot/pollbot/internal/notifier"
	"github.com/pollbot/pollbot/internal/opening"
	"github.com/pollbot/pollbot/internal/poll"
	"github.com/pollbot/pollbot/internal/reaction"
	"github.com/pollbot/pollbot/internal/recovery"
	"github.com/pollbot/pollbot/internal/render"
	"github.com/pollbot/pollbot/internal/reopening"
	"github.com/pollbot/pollbot/internal/safeguard"
	"github.com/pollbot/pollbot/internal/scheduler"
	"github.com/pollbot/pollbot/internal/screenshot"
	"github.com/pollbot/pollbot/internal/store"
	"github.com/pollbot/pollbot/internal/timez"
	"github.com/pollbot/pollbot/internal/voteengine"
	"github.com/pollbot/pollbot/internal/web"
)

// shutdownGrace bounds how long graceful shutdown waits for in-flight
// requests before the process terminates anyway.
const shutdownGrace = 30 * time.Second

// projectedVoterCapacity is the denominator for the role-ping "on_update"
// threshold (first vote, then every quarter of this). There is no per-poll
// capacity field in the data model, so this is a fleet-wide estimate rather
// than something read per poll.
const projectedVoterCapacity = 40

func main() {
	if err := run(); err != nil {
		zerolog.New(os.Stderr).With().Timestamp().Logger().Fatal().Err(err).Msg("pollbot: fatal startup error")
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg.Logging)
	log.Info().Str("db_path", cfg.DB.Path).Str("web_addr", cfg.Web.Addr).Msg("pollbot: config loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cacheDir := "cache"
	st, err := store.Open(ctx, cfg.DB.Path, cacheDir, log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("pollbot: failed to close store")
		}
	}()
	log.Info().Str("path", cfg.DB.Path).Msg("pollbot: database opened")

	chat := chatplatform.NewHTTPClient(cfg.Chat.BaseURL, cfg.Chat.Token)

	var cacheStore cache.Store
	cacheStore = cache.NewFallback(nil, log) // no remote cache backend wired yet; falls straight to in-process
	if cfg.Cache.URL == "" {
		cacheStore = cache.NewInProcess()
	}

	notify := notifier.New(chat, chatplatform.UserID(cfg.Owner.UserID), log)
	archiver := archive.New(cfg.Archive.Directory)

	signingKey, err := hex.DecodeString(cfg.Screen.SigningKeyHex)
	if err != nil || len(signingKey) == 0 {
		log.Warn().Msg("pollbot: no screenshot signing key configured, generating an ephemeral one (tokens won't survive a restart)")
		signingKey = ephemeralKey()
	}
	shots := screenshot.New(cacheStore, signingKey)

	resolveVoterName := func(ctx context.Context, userID string) string {
		u, err := st.GetUser(ctx, userID)
		if err != nil || u.Username == "" {
			return userID
		}
		return u.Username
	}

	sched := scheduler.New(timez.Location("UTC"), log)

	// The opening/closing/reopening services close over scheduler calls as
	// plain funcs rather than depending on *scheduler.Scheduler directly, so
	// none of those packages need to know about cron.Schedule's shape.
	var closeSvc *closing.Service
	var openSvc *opening.Service

	scheduleOpenJob := func(p *poll.Poll) {
		sched.Schedule(scheduler.JobID(scheduler.JobOpen, p.ID), p.OpenTime, func(ctx context.Context, pollID int64) error {
			_, err := openSvc.Open(ctx, pollID, opening.ReasonScheduled, "")
			return err
		}, p.ID)
	}
	scheduleCloseJob := func(p *poll.Poll) {
		sched.Schedule(scheduler.JobID(scheduler.JobClose, p.ID), p.CloseTime, func(ctx context.Context, pollID int64) error {
			_, err := closeSvc.Close(ctx, pollID, closing.ReasonScheduled)
			return err
		}, p.ID)
	}
	cancelCloseJob := func(pollID int64) {
		sched.Cancel(scheduler.JobID(scheduler.JobClose, pollID))
	}

	openSvc = opening.New(st, chat, cacheStore, notify, log, scheduleCloseJob)
	closeSvc = closing.New(st, chat, cacheStore, archiver, resolveVoterName, log, cancelCloseJob)
	reopenSvc := reopening.New(st, chat, cacheStore, log, scheduleCloseJob)

	onUpdateHook := func(p *poll.Poll, totalVoters int) {
		content := render.RolePingContent(p.RolePing, "update")
		if content == "" {
			return
		}
		embed := chatplatform.Embed{Description: "Poll update: new votes have come in."}
		if _, err := chat.PostMessage(ctx, chatplatform.ChannelID(p.ChannelID), embed, content); err != nil {
			log.Warn().Err(err).Int64("poll_id", p.ID).Int("total_voters", totalVoters).Msg("pollbot: on_update role ping failed")
		}
	}
	votes := voteengine.New(st, voteengine.WithOnUpdateHook(projectedVoterCapacity, onUpdateHook))

	guard := safeguard.New(st, chat, votes, log)
	reactions := reaction.New(st, chat, votes, log)

	orchestrator := recovery.New(st, chat, openSvc, closeSvc, archiver, resolveVoterName, scheduleOpenJob, scheduleCloseJob, log)
	report, err := orchestrator.Run(ctx)
	if err != nil {
		return err
	}
	log.Info().
		Int("scheduled_opened", report.ScheduledOpened).
		Int("active_closed", report.ActiveClosed).
		Int("closed_repaired", report.ClosedRepaired).
		Int("messages_missing_deleted", report.MessagesMissingDeleted).
		Int("archives_backfilled", report.ArchivesBackfilled).
		Int("passes", report.Passes).
		Float64("confidence", report.Confidence).
		Dur("duration", report.Duration).
		Msg("pollbot: startup recovery complete")

	sched.Start()
	go guard.Run(ctx)

	if cfg.Chat.GatewayURL != "" {
		gateway := chatplatform.NewGateway(cfg.Chat.GatewayURL, cfg.Chat.Token, log)
		go func() {
			if err := gateway.Listen(ctx, func(ctx context.Context, ev chatplatform.ReactionAddEvent) error {
				return reactions.HandleReactionAdd(ctx, ev)
			}); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("pollbot: reaction gateway stopped")
			}
		}()
	} else {
		log.Warn().Msg("pollbot: no chat gateway URL configured, relying solely on the safeguard sweep for vote collection")
	}

	webHandler := web.NewHandler(st, openSvc, reopenSvc, shots, archiver, log)
	mux := http.NewServeMux()
	web.RegisterRoutes(mux, webHandler)
	srv := &http.Server{
		Addr:              cfg.Web.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.Web.Addr).Msg("pollbot: web dashboard starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("pollbot: web server error")
		}
	}()

	log.Info().Msg("pollbot: ready")
	<-ctx.Done()
	log.Info().Msg("pollbot: shutdown signal received")

	sched.Stop(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("pollbot: web server shutdown error")
	}

	log.Info().Msg("pollbot: shutdown complete")
	return nil
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var writer = os.Stderr
	base := zerolog.New(writer).With().Timestamp().Logger().Level(level)
	if cfg.JSON {
		return base
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339}).With().Timestamp().Logger().Level(level)
}

func ephemeralKey() []byte {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic(err)
	}
	return key
}
