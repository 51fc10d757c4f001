// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Solodarko/attendance-session-service/internal/domain"
	"github.com/Solodarko/attendance-session-service/internal/domain/models"
	"github.com/Solodarko/attendance-session-service/internal/logging"
)

// TerminationScheduler force-terminates meetings that have run past their
// scheduled duration. Every activated meeting gets a one-shot timer armed at
// its computed expiry, and a periodic sweep re-scans active meetings so a
// meeting whose timer was lost to a restart is still caught.
type TerminationScheduler struct {
	meetingRepo domain.MeetingRepository
	registry    *SessionRegistry
	resolver    *IdentityResolver
	platform    domain.PlatformController
	broadcaster domain.SessionBroadcaster

	mu     sync.Mutex
	timers map[string]*time.Timer

	nowFunc func() time.Time
}

// NewTerminationScheduler creates a new TerminationScheduler.
func NewTerminationScheduler(
	meetingRepo domain.MeetingRepository,
	registry *SessionRegistry,
	resolver *IdentityResolver,
	platform domain.PlatformController,
	broadcaster domain.SessionBroadcaster,
) *TerminationScheduler {
	return &TerminationScheduler{
		meetingRepo: meetingRepo,
		registry:    registry,
		resolver:    resolver,
		platform:    platform,
		broadcaster: broadcaster,
		timers:      make(map[string]*time.Timer),
		nowFunc:     time.Now,
	}
}

// ServiceReady checks if the scheduler is ready for use.
func (s *TerminationScheduler) ServiceReady() bool {
	return s.meetingRepo != nil &&
		s.registry != nil &&
		s.resolver != nil &&
		s.platform != nil &&
		s.broadcaster != nil
}

// Arm schedules the one-shot termination timer for an activated meeting.
// Re-arming replaces any previous timer, so an actual start time learned
// after scheduling shifts the expiry. A meeting without a positive duration
// never expires and is not armed.
func (s *TerminationScheduler) Arm(ctx context.Context, meeting *models.Meeting) {
	if meeting.Duration <= 0 {
		return
	}

	remaining := meeting.ScheduledEndTime().Sub(s.nowFunc())
	if remaining < 0 {
		remaining = 0
	}

	s.mu.Lock()
	if existing, ok := s.timers[meeting.UID]; ok {
		existing.Stop()
	}
	uid := meeting.UID
	s.timers[uid] = time.AfterFunc(remaining, func() {
		// The timer fires on its own goroutine; build a fresh context so the
		// meeting uid travels with every log line.
		fireCtx := logging.AppendCtx(context.Background(), slog.String("meeting_uid", uid))
		if err := s.Terminate(fireCtx, uid); err != nil {
			slog.ErrorContext(fireCtx, "scheduled termination failed", logging.ErrKey, err)
		}
	})
	s.mu.Unlock()

	slog.InfoContext(ctx, "armed termination timer",
		"meeting_uid", meeting.UID,
		"expires_at", meeting.ScheduledEndTime(),
	)
}

// Disarm cancels the pending termination timer, used when the meeting ends
// on its own before expiry.
func (s *TerminationScheduler) Disarm(meetingUID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.timers[meetingUID]; ok {
		timer.Stop()
		delete(s.timers, meetingUID)
	}
}

// Stop cancels every pending timer during shutdown.
func (s *TerminationScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for uid, timer := range s.timers {
		timer.Stop()
		delete(s.timers, uid)
	}
}

// Terminate force-terminates a meeting: every open session is closed with
// the termination close reason, the meeting record moves to terminated, the
// platform is asked to end the call, and final statistics are broadcast.
// Terminating a meeting that already reached a terminal status is a no-op,
// so the timer and the sweep can both fire without double-closing anything.
func (s *TerminationScheduler) Terminate(ctx context.Context, meetingUID string) error {
	if !s.ServiceReady() {
		slog.ErrorContext(ctx, "termination scheduler not initialized", logging.PriorityCritical())
		return domain.NewUnavailableError("termination scheduler not initialized")
	}

	meeting, revision, err := s.meetingRepo.GetWithRevision(ctx, meetingUID)
	if err != nil {
		slog.ErrorContext(ctx, "error getting meeting from store", logging.ErrKey, err)
		return err
	}
	if meeting.IsFinal() {
		slog.DebugContext(ctx, "meeting already finalized, skipping termination", "status", meeting.Status)
		return nil
	}

	return s.finish(ctx, meeting, revision, models.MeetingStatusTerminated, true)
}

// Complete finalizes a meeting that ended on its own signal. Open sessions
// are closed with the termination close reason, but the platform is not
// asked to end a call that already ended.
func (s *TerminationScheduler) Complete(ctx context.Context, meetingUID string, endedAt time.Time) error {
	if !s.ServiceReady() {
		slog.ErrorContext(ctx, "termination scheduler not initialized", logging.PriorityCritical())
		return domain.NewUnavailableError("termination scheduler not initialized")
	}

	meeting, revision, err := s.meetingRepo.GetWithRevision(ctx, meetingUID)
	if err != nil {
		slog.ErrorContext(ctx, "error getting meeting from store", logging.ErrKey, err)
		return err
	}
	if meeting.IsFinal() {
		slog.DebugContext(ctx, "meeting already finalized, skipping completion", "status", meeting.Status)
		return nil
	}

	meeting.ActualEndTime = &endedAt
	return s.finish(ctx, meeting, revision, models.MeetingStatusEnded, false)
}

// finish runs the shared finalization path for both forced termination and
// natural completion.
func (s *TerminationScheduler) finish(ctx context.Context, meeting *models.Meeting, revision uint64, status models.MeetingStatus, endPlatform bool) error {
	s.Disarm(meeting.UID)

	closed, err := s.registry.ForceCloseAll(ctx, meeting, models.CloseReasonMeetingTerminated)
	if err != nil {
		slog.ErrorContext(ctx, "error force-closing sessions", logging.ErrKey, err)
		return err
	}
	if closed > 0 {
		slog.InfoContext(ctx, "force-closed open sessions", "meeting_uid", meeting.UID, "closed", closed)
	}

	if !meeting.CanTransitionTo(status) {
		return domain.NewConflictError("illegal meeting status transition",
			errors.New(string(meeting.Status)+" -> "+string(status)))
	}
	meeting.Status = status
	if meeting.ActualEndTime == nil {
		now := s.nowFunc()
		meeting.ActualEndTime = &now
	}
	if err := s.meetingRepo.Update(ctx, meeting, revision); err != nil {
		slog.ErrorContext(ctx, "error updating meeting status in store", logging.ErrKey, err)
		return err
	}

	// Ending the platform call is best effort. The interesting outcome, the
	// closed attendance record, is already committed.
	if endPlatform && meeting.PlatformMeetingID != "" {
		if err := s.platform.EndMeeting(ctx, meeting.PlatformMeetingID); err != nil {
			slog.WarnContext(ctx, "failed to end platform meeting",
				"platform_meeting_id", meeting.PlatformMeetingID, logging.ErrKey, err)
		}
	}

	stats := ComputeStatistics(meeting.UID, s.registry.Snapshot(ctx, meeting), meeting.Duration, meeting.Threshold(), s.nowFunc())
	if err := s.broadcaster.PublishStatistics(ctx, stats); err != nil {
		slog.ErrorContext(ctx, "failed to publish final statistics", logging.ErrKey, err)
	}

	s.resolver.Forget(meeting.UID)

	slog.InfoContext(ctx, "meeting finalized",
		"meeting_uid", meeting.UID,
		"status", status,
		"sessions_closed", closed,
	)
	return nil
}

// Sweep scans active meetings for passed expiry and terminates them. It backs
// the periodic safety-net schedule that catches timers lost to a restart.
// Failures on one meeting are logged and do not stop the rest of the pass.
func (s *TerminationScheduler) Sweep(ctx context.Context) {
	if !s.ServiceReady() {
		slog.ErrorContext(ctx, "termination scheduler not initialized", logging.PriorityCritical())
		return
	}

	meetings, err := s.meetingRepo.ListByStatus(ctx, models.MeetingStatusActive)
	if err != nil {
		slog.ErrorContext(ctx, "error listing active meetings", logging.ErrKey, err)
		return
	}

	now := s.nowFunc()
	for _, meeting := range meetings {
		if meeting == nil || !meeting.Expired(now) {
			continue
		}
		sweepCtx := logging.AppendCtx(ctx, slog.String("meeting_uid", meeting.UID))
		slog.InfoContext(sweepCtx, "sweep found expired meeting", "expired_at", meeting.ScheduledEndTime())
		if err := s.Terminate(sweepCtx, meeting.UID); err != nil {
			slog.ErrorContext(sweepCtx, "sweep termination failed", logging.ErrKey, err)
		}
	}
}
