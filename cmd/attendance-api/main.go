// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package main is the attendance session service. It consumes platform
// webhook events, signed check-ins and dashboard poll snapshots from NATS,
// reconciles them into per-participant session state, and broadcasts live
// attendance updates.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/robfig/cron/v3"

	"github.com/Solodarko/attendance-session-service/internal/domain"
	"github.com/Solodarko/attendance-session-service/internal/domain/models"
	"github.com/Solodarko/attendance-session-service/internal/handlers"
	"github.com/Solodarko/attendance-session-service/internal/infrastructure/messaging"
	"github.com/Solodarko/attendance-session-service/internal/infrastructure/platform"
	"github.com/Solodarko/attendance-session-service/internal/infrastructure/tokens"
	"github.com/Solodarko/attendance-session-service/internal/infrastructure/webhook"
	"github.com/Solodarko/attendance-session-service/internal/logging"
	"github.com/Solodarko/attendance-session-service/internal/service"
	"github.com/Solodarko/attendance-session-service/pkg/constants"
)

func main() {
	env := parseEnv()
	flags := parseFlags(env.Port)

	logging.InitStructureLogConfig()

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	gracefulCloseWG := sync.WaitGroup{}

	// Setup NATS connection
	natsConn, err := setupNATS(ctx, env, &gracefulCloseWG, done)
	if err != nil {
		slog.With(logging.ErrKey, err).Error("error setting up NATS")
		return
	}

	// Get the key-value stores for the service.
	repos, err := getKeyValueStores(ctx, natsConn)
	if err != nil {
		slog.With(logging.ErrKey, err).Error("error getting key-value stores")
		return
	}

	// Infrastructure collaborators.
	messageBuilder := messaging.NewMessageBuilder(natsConn)
	tokenService := tokens.NewCheckinTokenService(env.CheckinTokenSecret)
	webhookValidator := webhook.NewZoomWebhookValidator(env.WebhookSecret)
	platformController := platform.NewZoomController(platform.Config{
		AccountID:    env.Zoom.AccountID,
		ClientID:     env.Zoom.ClientID,
		ClientSecret: env.Zoom.ClientSecret,
	})

	// Core services.
	resolver := service.NewIdentityResolver()
	registry := service.NewSessionRegistry(repos.Session, resolver, messageBuilder)
	scheduler := service.NewTerminationScheduler(repos.Meeting, registry, resolver, platformController, messageBuilder)
	reaper := service.NewStaleSessionReaper(repos.Meeting, registry, env.StaleGrace, env.DisconnectGrace)
	statsBroadcaster := service.NewStatisticsBroadcaster(repos.Meeting, registry, messageBuilder)

	// Message handlers.
	webhookHandler := handlers.NewWebhookHandler(repos.Meeting, registry, scheduler, webhookValidator)
	checkinHandler := handlers.NewCheckinHandler(repos.Meeting, registry, tokenService, messageBuilder)
	pollHandler := handlers.NewPollHandler(repos.Meeting, registry)

	subjectHandlers := map[string]domain.MessageHandler{
		models.WebhookMeetingStartedSubject:    webhookHandler,
		models.WebhookMeetingEndedSubject:      webhookHandler,
		models.WebhookParticipantJoinedSubject: webhookHandler,
		models.WebhookParticipantLeftSubject:   webhookHandler,
		models.CheckinSubject:                  checkinHandler,
		models.CheckoutSubject:                 checkinHandler,
		models.HeartbeatSubject:                checkinHandler,
		models.PollSnapshotSubject:             pollHandler,
	}

	ready := func() bool {
		if !natsConn.IsConnected() {
			return false
		}
		for _, handler := range subjectHandlers {
			if !handler.HandlerReady() {
				return false
			}
		}
		return true
	}

	httpServer := setupHealthServer(flags, ready, &gracefulCloseWG)

	// Re-arm termination timers for meetings that were active when the
	// previous instance stopped, then start the periodic sweeps.
	rearmActiveMeetings(ctx, repos.Meeting, scheduler)

	sweeps := cron.New()
	scheduleSweep(ctx, sweeps, constants.TerminationSweepSchedule, "termination sweep", scheduler.Sweep)
	scheduleSweep(ctx, sweeps, constants.ReaperSweepSchedule, "stale session sweep", reaper.Sweep)
	scheduleSweep(ctx, sweeps, constants.StatisticsBroadcastSchedule, "statistics broadcast", func(ctx context.Context) {
		_ = statsBroadcaster.Sweep(ctx)
	})
	sweeps.Start()

	// Create NATS subscriptions for the service.
	err = createNatsSubscriptions(ctx, subjectHandlers, natsConn)
	if err != nil {
		slog.With(logging.ErrKey, err).Error("error creating NATS subscriptions")
		return
	}

	slog.InfoContext(ctx, "attendance service started")

	// This next line blocks until SIGINT or SIGTERM is received.
	<-done

	gracefulShutdown(ctx, httpServer, natsConn, sweeps, scheduler, &gracefulCloseWG, cancel)
}

// rearmActiveMeetings restores termination timers after a restart. The sweep
// would catch expired meetings anyway; re-arming keeps termination latency
// low for the rest.
func rearmActiveMeetings(ctx context.Context, meetingRepo domain.MeetingRepository, scheduler *service.TerminationScheduler) {
	meetings, err := meetingRepo.ListByStatus(ctx, models.MeetingStatusActive)
	if err != nil {
		slog.ErrorContext(ctx, "error listing active meetings to re-arm", logging.ErrKey, err)
		return
	}
	for _, meeting := range meetings {
		scheduler.Arm(ctx, meeting)
	}
	if len(meetings) > 0 {
		slog.InfoContext(ctx, "re-armed termination timers", "count", len(meetings))
	}
}

// scheduleSweep registers a periodic job, logging rather than failing when
// the schedule expression is rejected.
func scheduleSweep(ctx context.Context, sweeps *cron.Cron, schedule, name string, job func(context.Context)) {
	_, err := sweeps.AddFunc(schedule, func() {
		job(logging.AppendCtx(ctx, slog.String("job", name)))
	})
	if err != nil {
		slog.ErrorContext(ctx, "error scheduling periodic job", "job", name, logging.ErrKey, err)
	}
}

// gracefulShutdown stops the sweeps and timers, drains NATS and shuts down
// the health server, waiting for in-flight work to finish.
func gracefulShutdown(
	ctx context.Context,
	httpServer *http.Server,
	natsConn *nats.Conn,
	sweeps *cron.Cron,
	scheduler *service.TerminationScheduler,
	gracefulCloseWG *sync.WaitGroup,
	cancel context.CancelFunc,
) {
	slog.InfoContext(ctx, "shutting down attendance service")

	<-sweeps.Stop().Done()
	scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.With(logging.ErrKey, err).Error("error shutting down http server")
	}
	gracefulCloseWG.Done()

	// Drain allows in-flight NATS handlers to finish before the connection
	// closes; the closed handler releases the wait group.
	if err := natsConn.Drain(); err != nil {
		slog.With(logging.ErrKey, err).Error("error draining NATS connection")
		natsConn.Close()
	}

	cancel()
	gracefulCloseWG.Wait()
}
