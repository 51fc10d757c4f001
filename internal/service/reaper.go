// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/Solodarko/attendance-session-service/internal/domain"
	"github.com/Solodarko/attendance-session-service/internal/domain/models"
	"github.com/Solodarko/attendance-session-service/internal/logging"
	"github.com/Solodarko/attendance-session-service/pkg/constants"
)

// StaleSessionReaper closes sessions whose liveness signal stopped without a
// leave event, such as a crashed client or a dropped webhook. It periodically
// scans the active sessions of every active meeting and closes the ones whose
// last heartbeat aged past the grace period. Sessions kept alive over the
// real-time channel get a much shorter grace, since that channel reports
// disconnects promptly.
type StaleSessionReaper struct {
	meetingRepo domain.MeetingRepository
	registry    *SessionRegistry

	staleGrace      time.Duration
	disconnectGrace time.Duration

	nowFunc func() time.Time
}

// NewStaleSessionReaper creates a new StaleSessionReaper. Non-positive grace
// periods fall back to the defaults.
func NewStaleSessionReaper(
	meetingRepo domain.MeetingRepository,
	registry *SessionRegistry,
	staleGrace time.Duration,
	disconnectGrace time.Duration,
) *StaleSessionReaper {
	if staleGrace <= 0 {
		staleGrace = constants.DefaultStaleGracePeriod
	}
	if disconnectGrace <= 0 {
		disconnectGrace = constants.DefaultDisconnectGracePeriod
	}
	return &StaleSessionReaper{
		meetingRepo:     meetingRepo,
		registry:        registry,
		staleGrace:      staleGrace,
		disconnectGrace: disconnectGrace,
		nowFunc:         time.Now,
	}
}

// ServiceReady checks if the reaper is ready for use.
func (r *StaleSessionReaper) ServiceReady() bool {
	return r.meetingRepo != nil && r.registry != nil
}

// Sweep runs one reaping pass over every active meeting. Errors on one
// meeting or session are logged and never abort the rest of the pass, so the
// schedule keeps its cadence no matter what a single meeting does.
func (r *StaleSessionReaper) Sweep(ctx context.Context) {
	if !r.ServiceReady() {
		slog.ErrorContext(ctx, "stale session reaper not initialized", logging.PriorityCritical())
		return
	}

	meetings, err := r.meetingRepo.ListByStatus(ctx, models.MeetingStatusActive)
	if err != nil {
		slog.ErrorContext(ctx, "error listing active meetings", logging.ErrKey, err)
		return
	}

	for _, meeting := range meetings {
		if meeting == nil {
			continue
		}
		meetingCtx := logging.AppendCtx(ctx, slog.String("meeting_uid", meeting.UID))
		r.reapMeeting(meetingCtx, meeting)
	}
}

// reapMeeting closes the expired sessions of one meeting. The registry
// re-checks the heartbeat under the per-key lock, so a session renewed
// between the snapshot and the close survives.
func (r *StaleSessionReaper) reapMeeting(ctx context.Context, meeting *models.Meeting) {
	now := r.nowFunc()

	for _, state := range r.registry.ActiveSessions(ctx, meeting) {
		grace, reason := r.graceFor(state)
		cutoff := now.Add(-grace)
		if state.LastHeartbeat.After(cutoff) {
			continue
		}

		closed, err := r.registry.CloseStale(ctx, meeting, state.CanonicalID, cutoff, reason)
		if err != nil {
			slog.ErrorContext(ctx, "error closing stale session",
				"canonical_id", state.CanonicalID, logging.ErrKey, err)
			continue
		}
		if closed {
			slog.InfoContext(ctx, "closed stale session",
				"canonical_id", state.CanonicalID,
				"close_reason", reason,
				"last_heartbeat", state.LastHeartbeat,
			)
		}
	}
}

// graceFor picks the grace period and close reason based on how the session's
// liveness was reported. Token-sourced sessions renew over the real-time
// channel, so silence there means a disconnect rather than a missed poll.
func (r *StaleSessionReaper) graceFor(state *models.ParticipantSessionState) (time.Duration, models.CloseReason) {
	span := state.OpenSpan()
	if span != nil && span.Source == models.SourceToken {
		return r.disconnectGrace, models.CloseReasonDisconnected
	}
	return r.staleGrace, models.CloseReasonStale
}
