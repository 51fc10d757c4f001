// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Solodarko/attendance-session-service/internal/domain"
	"github.com/Solodarko/attendance-session-service/internal/domain/models"
	"github.com/Solodarko/attendance-session-service/internal/logging"
	"github.com/Solodarko/attendance-session-service/pkg/concurrent"
	"github.com/Solodarko/attendance-session-service/pkg/constants"
	"github.com/Solodarko/attendance-session-service/pkg/utils"
)

// SessionRegistry owns the live participant session state for every tracked
// meeting. All mutations for one (meeting, participant) pair are serialized
// through a per-key lock; events for different participants proceed
// concurrently. The in-memory state is authoritative while the process lives;
// the session repository is a write-behind mirror used to hydrate a meeting
// after a restart, and broadcast deltas are published after each committed
// mutation. Neither persistence nor broadcast failures roll a mutation back.
type SessionRegistry struct {
	sessionRepo domain.SessionRepository
	resolver    *IdentityResolver
	broadcaster domain.SessionBroadcaster

	mu       sync.Mutex
	meetings map[string]*meetingSessions

	nowFunc func() time.Time
}

// meetingSessions holds the state map and per-participant locks of one meeting.
type meetingSessions struct {
	mu       sync.Mutex
	hydrated bool
	states   map[string]*models.ParticipantSessionState
	locks    map[string]*sync.Mutex
}

// NewSessionRegistry creates a new SessionRegistry.
func NewSessionRegistry(
	sessionRepo domain.SessionRepository,
	resolver *IdentityResolver,
	broadcaster domain.SessionBroadcaster,
) *SessionRegistry {
	return &SessionRegistry{
		sessionRepo: sessionRepo,
		resolver:    resolver,
		broadcaster: broadcaster,
		meetings:    make(map[string]*meetingSessions),
		nowFunc:     time.Now,
	}
}

// ServiceReady checks if the registry is ready for use.
func (r *SessionRegistry) ServiceReady() bool {
	return r.sessionRepo != nil && r.resolver != nil && r.broadcaster != nil
}

// sessionsFor returns the per-meeting session table, hydrating it from the
// persistence mirror the first time the meeting is touched.
func (r *SessionRegistry) sessionsFor(ctx context.Context, meetingUID string) *meetingSessions {
	r.mu.Lock()
	ms := r.meetings[meetingUID]
	if ms == nil {
		ms = &meetingSessions{
			states: make(map[string]*models.ParticipantSessionState),
			locks:  make(map[string]*sync.Mutex),
		}
		r.meetings[meetingUID] = ms
	}
	r.mu.Unlock()

	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.hydrated {
		return ms
	}
	// Hydration happens at most once per meeting per process lifetime. A
	// failed load is logged and the meeting starts empty; the mirror is
	// never allowed to gate live ingestion.
	ms.hydrated = true
	states, err := r.sessionRepo.ListByMeeting(ctx, meetingUID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to hydrate session states from store",
			"meeting_uid", meetingUID, logging.ErrKey, err)
		return ms
	}
	for _, state := range states {
		if state != nil && state.CanonicalID != "" {
			ms.states[state.CanonicalID] = state
		}
	}
	if len(states) > 0 {
		slog.InfoContext(ctx, "hydrated session states from store",
			"meeting_uid", meetingUID, "count", len(states))
	}
	return ms
}

// keyLock returns the mutex serializing mutations of one participant's state.
func (ms *meetingSessions) keyLock(canonicalID string) *sync.Mutex {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	lock := ms.locks[canonicalID]
	if lock == nil {
		lock = &sync.Mutex{}
		ms.locks[canonicalID] = lock
	}
	return lock
}

// getState returns the state pointer for a participant, creating it when
// create is set. Callers must already hold the participant's key lock.
func (ms *meetingSessions) getState(meetingUID, canonicalID string, create bool, now time.Time) *models.ParticipantSessionState {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	state := ms.states[canonicalID]
	if state == nil && create {
		state = &models.ParticipantSessionState{
			MeetingUID:  meetingUID,
			CanonicalID: canonicalID,
			CreatedAt:   utils.TimePtr(now),
		}
		ms.states[canonicalID] = state
	}
	return state
}

// cloneState copies a state so it can be persisted and broadcast after the
// per-key lock is released.
func cloneState(state *models.ParticipantSessionState) *models.ParticipantSessionState {
	if state == nil {
		return nil
	}
	clone := *state
	clone.Spans = make([]models.SessionSpan, len(state.Spans))
	copy(clone.Spans, state.Spans)
	return &clone
}

// applyIdentity records newly observed raw identifiers on the state. Token
// claims take precedence over anything already recorded from raw payloads.
func applyIdentity(state *models.ParticipantSessionState, ids models.RawIdentifiers, unidentified bool) {
	if ids.TokenSubjectID != "" {
		state.TokenSubjectID = ids.TokenSubjectID
	}
	if ids.PlatformParticipantID != "" {
		state.PlatformParticipantID = ids.PlatformParticipantID
	}
	if email := ids.NormalizedEmail(); email != "" && state.Email == "" {
		state.Email = email
	}
	if ids.DisplayName != "" {
		if state.DisplayName == "" || ids.TokenSubjectID != "" {
			state.DisplayName = ids.DisplayName
		}
	}
	if unidentified {
		state.Unidentified = true
	}
}

// ApplyJoin opens a new session span for the event's participant. A join for
// a participant who already has an open span carries no new interval
// information and collapses into a heartbeat.
func (r *SessionRegistry) ApplyJoin(ctx context.Context, meeting *models.Meeting, event models.SessionEvent) (*models.ParticipantSessionState, error) {
	if !r.ServiceReady() {
		slog.ErrorContext(ctx, "session registry not initialized", logging.PriorityCritical())
		return nil, domain.NewUnavailableError("session registry not initialized")
	}

	resolution := r.resolver.Resolve(meeting.UID, event.RawIdentifiers)
	ctx = logging.AppendCtx(ctx, slog.String("canonical_id", resolution.CanonicalID))

	ms := r.sessionsFor(ctx, meeting.UID)
	lock := ms.keyLock(resolution.CanonicalID)
	lock.Lock()

	now := r.nowFunc()
	state := ms.getState(meeting.UID, resolution.CanonicalID, true, now)
	applyIdentity(state, event.RawIdentifiers, resolution.Unidentified)

	action := models.DeltaJoined
	if state.OpenSpan() != nil {
		// Duplicate join. The open span already covers this moment.
		state.LastHeartbeat = laterOf(state.LastHeartbeat, event.Timestamp)
		action = models.DeltaHeartbeat
		slog.DebugContext(ctx, "duplicate join collapsed into heartbeat", "source", event.Source)
	} else {
		state.Spans = append(state.Spans, models.SessionSpan{
			UID:      uuid.New().String(),
			JoinTime: event.Timestamp,
			Source:   event.Source,
		})
		state.IsActive = true
		state.LastHeartbeat = laterOf(state.LastHeartbeat, event.Timestamp)
	}
	state.UpdatedAt = utils.TimePtr(now)
	ComputeAttendance(state, meeting.Duration, meeting.Threshold(), now)
	clone := cloneState(state)
	lock.Unlock()

	r.commit(ctx, clone, action)
	return clone, nil
}

// ApplyLeave closes the participant's open span at the event timestamp. A
// leave with no matching open span is rejected, except when the source
// reported its own duration bookkeeping, in which case a closed span is
// back-dated to recover the missed join.
func (r *SessionRegistry) ApplyLeave(ctx context.Context, meeting *models.Meeting, event models.SessionEvent, reason models.CloseReason) (*models.ParticipantSessionState, error) {
	if !r.ServiceReady() {
		slog.ErrorContext(ctx, "session registry not initialized", logging.PriorityCritical())
		return nil, domain.NewUnavailableError("session registry not initialized")
	}

	resolution := r.resolver.Resolve(meeting.UID, event.RawIdentifiers)
	ctx = logging.AppendCtx(ctx, slog.String("canonical_id", resolution.CanonicalID))

	ms := r.sessionsFor(ctx, meeting.UID)
	lock := ms.keyLock(resolution.CanonicalID)
	lock.Lock()

	now := r.nowFunc()
	state := ms.getState(meeting.UID, resolution.CanonicalID, false, now)
	span := state.OpenSpan()

	if span == nil {
		if event.ReportedDurationSeconds <= 0 {
			lock.Unlock()
			slog.WarnContext(ctx, "leave event without an active session", "source", event.Source)
			return nil, domain.NewNotFoundError("no active session to leave")
		}
		// The join was never seen but the source tells us how long the
		// participant was connected. Record the interval anyway.
		state = ms.getState(meeting.UID, resolution.CanonicalID, true, now)
		applyIdentity(state, event.RawIdentifiers, resolution.Unidentified)
		joinTime := event.Timestamp.Add(-time.Duration(event.ReportedDurationSeconds) * time.Second)
		span = &models.SessionSpan{
			UID:      uuid.New().String(),
			JoinTime: joinTime,
			Source:   event.Source,
		}
		state.Spans = append(state.Spans, *span)
		span = &state.Spans[len(state.Spans)-1]
		slog.InfoContext(ctx, "recovered missed join from reported duration",
			"reported_duration_seconds", event.ReportedDurationSeconds, "source", event.Source)
	} else {
		applyIdentity(state, event.RawIdentifiers, resolution.Unidentified)
	}

	leaveTime := event.Timestamp
	if leaveTime.Before(span.JoinTime) {
		leaveTime = span.JoinTime
	}
	span.LeaveTime = utils.TimePtr(leaveTime)
	span.CloseReason = reason
	span.DurationMinutes = SpanDuration(*span, now)
	state.IsActive = state.OpenSpan() != nil
	state.UpdatedAt = utils.TimePtr(now)
	ComputeAttendance(state, meeting.Duration, meeting.Threshold(), now)
	clone := cloneState(state)
	lock.Unlock()

	r.commit(ctx, clone, models.DeltaLeft)
	return clone, nil
}

// ApplyHeartbeat renews the liveness timestamp of an active session.
func (r *SessionRegistry) ApplyHeartbeat(ctx context.Context, meeting *models.Meeting, event models.SessionEvent) (*models.ParticipantSessionState, error) {
	if !r.ServiceReady() {
		slog.ErrorContext(ctx, "session registry not initialized", logging.PriorityCritical())
		return nil, domain.NewUnavailableError("session registry not initialized")
	}

	resolution := r.resolver.Resolve(meeting.UID, event.RawIdentifiers)
	ctx = logging.AppendCtx(ctx, slog.String("canonical_id", resolution.CanonicalID))

	ms := r.sessionsFor(ctx, meeting.UID)
	lock := ms.keyLock(resolution.CanonicalID)
	lock.Lock()

	now := r.nowFunc()
	state := ms.getState(meeting.UID, resolution.CanonicalID, false, now)
	if state.OpenSpan() == nil {
		lock.Unlock()
		return nil, domain.NewNotFoundError("no active session to renew")
	}
	state.LastHeartbeat = laterOf(state.LastHeartbeat, event.Timestamp)
	state.UpdatedAt = utils.TimePtr(now)
	ComputeAttendance(state, meeting.Duration, meeting.Threshold(), now)
	clone := cloneState(state)
	lock.Unlock()

	r.commit(ctx, clone, models.DeltaHeartbeat)
	return clone, nil
}

// Enrich merges a roster record into a participant's display data. Fields a
// token claim already populated are kept; the roster fills in the blanks plus
// the department, which only the roster knows.
func (r *SessionRegistry) Enrich(ctx context.Context, meeting *models.Meeting, canonicalID string, person *models.PersonRecord) {
	if person == nil {
		return
	}

	ms := r.sessionsFor(ctx, meeting.UID)
	lock := ms.keyLock(canonicalID)
	lock.Lock()

	now := r.nowFunc()
	state := ms.getState(meeting.UID, canonicalID, false, now)
	if state == nil {
		lock.Unlock()
		return
	}
	if state.DisplayName == "" && person.DisplayName != "" {
		state.DisplayName = person.DisplayName
	}
	if state.Email == "" && person.Email != "" {
		state.Email = person.Email
	}
	if person.Department != "" {
		state.Department = person.Department
	}
	state.UpdatedAt = utils.TimePtr(now)
	clone := cloneState(state)
	lock.Unlock()

	r.commit(ctx, clone, models.DeltaHeartbeat)
}

// CloseStale closes a session whose liveness expired, unless a concurrent
// event renewed it since the caller observed it. The heartbeat re-check under
// the per-key lock is what makes the reaper sweep race-free against live
// ingestion.
func (r *SessionRegistry) CloseStale(ctx context.Context, meeting *models.Meeting, canonicalID string, cutoff time.Time, reason models.CloseReason) (bool, error) {
	if !r.ServiceReady() {
		return false, domain.NewUnavailableError("session registry not initialized")
	}

	ms := r.sessionsFor(ctx, meeting.UID)
	lock := ms.keyLock(canonicalID)
	lock.Lock()

	now := r.nowFunc()
	state := ms.getState(meeting.UID, canonicalID, false, now)
	span := state.OpenSpan()
	if span == nil || state.LastHeartbeat.After(cutoff) {
		lock.Unlock()
		return false, nil
	}

	// Credit the interval up to the last proof of presence, not the sweep time.
	leaveTime := state.LastHeartbeat
	if leaveTime.Before(span.JoinTime) {
		leaveTime = span.JoinTime
	}
	span.LeaveTime = utils.TimePtr(leaveTime)
	span.CloseReason = reason
	span.DurationMinutes = SpanDuration(*span, now)
	state.IsActive = false
	state.UpdatedAt = utils.TimePtr(now)
	ComputeAttendance(state, meeting.Duration, meeting.Threshold(), now)
	clone := cloneState(state)
	lock.Unlock()

	r.commit(ctx, clone, models.DeltaLeft)
	return true, nil
}

// ForceCloseAll closes every open session of a meeting, used when the meeting
// is terminated. It is idempotent and fans out across a worker pool so a
// large meeting terminates promptly.
func (r *SessionRegistry) ForceCloseAll(ctx context.Context, meeting *models.Meeting, reason models.CloseReason) (int, error) {
	if !r.ServiceReady() {
		slog.ErrorContext(ctx, "session registry not initialized", logging.PriorityCritical())
		return 0, domain.NewUnavailableError("session registry not initialized")
	}

	ms := r.sessionsFor(ctx, meeting.UID)
	ms.mu.Lock()
	canonicalIDs := make([]string, 0, len(ms.states))
	for canonicalID := range ms.states {
		canonicalIDs = append(canonicalIDs, canonicalID)
	}
	ms.mu.Unlock()

	var closedCount int
	var countMu sync.Mutex
	functions := make([]func() error, 0, len(canonicalIDs))
	for _, canonicalID := range canonicalIDs {
		functions = append(functions, func() error {
			closed := r.forceClose(ctx, meeting, ms, canonicalID, reason)
			if closed {
				countMu.Lock()
				closedCount++
				countMu.Unlock()
			}
			return nil
		})
	}

	pool := concurrent.NewWorkerPool(constants.ForceCloseWorkerCount)
	errs := pool.RunAll(ctx, functions...)
	for _, err := range errs {
		if err != nil {
			slog.ErrorContext(ctx, "error force-closing session", logging.ErrKey, err)
		}
	}

	return closedCount, nil
}

// forceClose closes one participant's open span at the later of the last
// heartbeat and the span start. Already-closed sessions are skipped, which
// makes repeated termination sweeps harmless.
func (r *SessionRegistry) forceClose(ctx context.Context, meeting *models.Meeting, ms *meetingSessions, canonicalID string, reason models.CloseReason) bool {
	lock := ms.keyLock(canonicalID)
	lock.Lock()

	now := r.nowFunc()
	state := ms.getState(meeting.UID, canonicalID, false, now)
	span := state.OpenSpan()
	if span == nil {
		lock.Unlock()
		return false
	}

	leaveTime := laterOf(span.JoinTime, state.LastHeartbeat)
	span.LeaveTime = utils.TimePtr(leaveTime)
	span.CloseReason = reason
	span.DurationMinutes = SpanDuration(*span, now)
	state.IsActive = false
	state.UpdatedAt = utils.TimePtr(now)
	ComputeAttendance(state, meeting.Duration, meeting.Threshold(), now)
	clone := cloneState(state)
	lock.Unlock()

	r.commit(ctx, clone, models.DeltaTerminated)
	return true
}

// Snapshot returns a point-in-time copy of every participant state of a
// meeting with durations recomputed at the current instant, so open sessions
// show their running totals. Each state is cloned under its participant's key
// lock, the same lock every mutator holds, so a snapshot taken during live
// ingestion never observes a half-applied mutation.
func (r *SessionRegistry) Snapshot(ctx context.Context, meeting *models.Meeting) []*models.ParticipantSessionState {
	ms := r.sessionsFor(ctx, meeting.UID)

	ms.mu.Lock()
	canonicalIDs := make([]string, 0, len(ms.states))
	for canonicalID := range ms.states {
		canonicalIDs = append(canonicalIDs, canonicalID)
	}
	ms.mu.Unlock()

	now := r.nowFunc()
	states := make([]*models.ParticipantSessionState, 0, len(canonicalIDs))
	for _, canonicalID := range canonicalIDs {
		lock := ms.keyLock(canonicalID)
		lock.Lock()
		clone := cloneState(ms.getState(meeting.UID, canonicalID, false, now))
		lock.Unlock()
		if clone == nil {
			continue
		}
		ComputeAttendance(clone, meeting.Duration, meeting.Threshold(), now)
		states = append(states, clone)
	}

	return states
}

// ActiveSessions returns copies of the states that currently hold an open
// span, used by the reaper to find liveness candidates.
func (r *SessionRegistry) ActiveSessions(ctx context.Context, meeting *models.Meeting) []*models.ParticipantSessionState {
	states := r.Snapshot(ctx, meeting)
	active := make([]*models.ParticipantSessionState, 0, len(states))
	for _, state := range states {
		if state.IsActive {
			active = append(active, state)
		}
	}
	return active
}

// TrackedMeetings lists the meeting UIDs the registry currently holds state for.
func (r *SessionRegistry) TrackedMeetings() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	uids := make([]string, 0, len(r.meetings))
	for uid := range r.meetings {
		uids = append(uids, uid)
	}
	return uids
}

// commit mirrors a committed mutation to the session store and publishes the
// broadcast delta. Both run outside the per-key lock and neither failure
// affects the in-memory state.
func (r *SessionRegistry) commit(ctx context.Context, state *models.ParticipantSessionState, action models.DeltaAction) {
	if err := r.sessionRepo.Upsert(ctx, state); err != nil {
		slog.ErrorContext(ctx, "failed to mirror session state to store", logging.ErrKey, err)
	}

	delta := models.SessionDeltaMessage{
		MeetingUID:  state.MeetingUID,
		CanonicalID: state.CanonicalID,
		Action:      action,
		State:       state,
	}
	if err := r.broadcaster.PublishSessionDelta(ctx, delta); err != nil {
		slog.ErrorContext(ctx, "failed to publish session delta", logging.ErrKey, err)
	}
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
