// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Solodarko/attendance-session-service/internal/domain"
	"github.com/Solodarko/attendance-session-service/internal/domain/mocks"
	"github.com/Solodarko/attendance-session-service/internal/domain/models"
)

var registryTestBase = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func newTestRegistry(t *testing.T) (*SessionRegistry, *mocks.MockSessionRepository, *mocks.MockSessionBroadcaster) {
	t.Helper()

	sessionRepo := &mocks.MockSessionRepository{}
	sessionRepo.On("ListByMeeting", mock.Anything, mock.Anything).Return([]*models.ParticipantSessionState{}, nil)
	sessionRepo.On("Upsert", mock.Anything, mock.Anything).Return(nil)

	broadcaster := &mocks.MockSessionBroadcaster{}
	broadcaster.On("PublishSessionDelta", mock.Anything, mock.Anything).Return(nil)

	registry := NewSessionRegistry(sessionRepo, NewIdentityResolver(), broadcaster)
	registry.nowFunc = func() time.Time { return registryTestBase.Add(90 * time.Minute) }
	return registry, sessionRepo, broadcaster
}

func testMeeting() *models.Meeting {
	return &models.Meeting{
		UID:                 "meeting-1",
		PlatformMeetingID:   "123456789",
		Title:               "Board Call",
		StartTime:           registryTestBase,
		Duration:            60,
		AttendanceThreshold: 85,
		Status:              models.MeetingStatusActive,
	}
}

func joinEvent(participantID string, at time.Time) models.SessionEvent {
	return models.SessionEvent{
		MeetingUID: "meeting-1",
		Kind:       models.EventJoin,
		Timestamp:  at,
		Source:     models.SourceWebhook,
		RawIdentifiers: models.RawIdentifiers{
			PlatformParticipantID: participantID,
		},
	}
}

func leaveEvent(participantID string, at time.Time) models.SessionEvent {
	event := joinEvent(participantID, at)
	event.Kind = models.EventLeave
	return event
}

func TestSessionRegistryJoinThenLeave(t *testing.T) {
	registry, sessionRepo, broadcaster := newTestRegistry(t)
	ctx := context.Background()
	meeting := testMeeting()

	state, err := registry.ApplyJoin(ctx, meeting, joinEvent("p1", registryTestBase))
	require.NoError(t, err)
	assert.True(t, state.IsActive)
	assert.Len(t, state.Spans, 1)
	assert.Equal(t, models.AttendanceInProgress, state.AttendanceStatus)

	state, err = registry.ApplyLeave(ctx, meeting, leaveEvent("p1", registryTestBase.Add(51*time.Minute)), models.CloseReasonLeft)
	require.NoError(t, err)
	assert.False(t, state.IsActive)
	require.Len(t, state.Spans, 1)
	require.NotNil(t, state.Spans[0].LeaveTime)
	assert.Equal(t, models.CloseReasonLeft, state.Spans[0].CloseReason)
	assert.InDelta(t, 51.0, state.TotalDurationMinutes, 0.01)
	assert.Equal(t, 85, state.AttendancePercentage)
	assert.Equal(t, models.AttendancePresent, state.AttendanceStatus)

	sessionRepo.AssertCalled(t, "Upsert", mock.Anything, mock.Anything)
	broadcaster.AssertCalled(t, "PublishSessionDelta", mock.Anything, mock.MatchedBy(func(d models.SessionDeltaMessage) bool {
		return d.Action == models.DeltaLeft && d.CanonicalID == "p1"
	}))
}

func TestSessionRegistryDuplicateJoinCollapsesToHeartbeat(t *testing.T) {
	registry, _, broadcaster := newTestRegistry(t)
	ctx := context.Background()
	meeting := testMeeting()

	_, err := registry.ApplyJoin(ctx, meeting, joinEvent("p1", registryTestBase))
	require.NoError(t, err)

	state, err := registry.ApplyJoin(ctx, meeting, joinEvent("p1", registryTestBase.Add(5*time.Minute)))
	require.NoError(t, err)

	assert.Len(t, state.Spans, 1, "duplicate join must not open a second span")
	assert.Equal(t, registryTestBase.Add(5*time.Minute), state.LastHeartbeat)
	broadcaster.AssertCalled(t, "PublishSessionDelta", mock.Anything, mock.MatchedBy(func(d models.SessionDeltaMessage) bool {
		return d.Action == models.DeltaHeartbeat
	}))
}

func TestSessionRegistryRejoinAppendsSecondSpan(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	ctx := context.Background()
	meeting := testMeeting()

	_, err := registry.ApplyJoin(ctx, meeting, joinEvent("p1", registryTestBase))
	require.NoError(t, err)
	_, err = registry.ApplyLeave(ctx, meeting, leaveEvent("p1", registryTestBase.Add(10*time.Minute)), models.CloseReasonLeft)
	require.NoError(t, err)

	state, err := registry.ApplyJoin(ctx, meeting, joinEvent("p1", registryTestBase.Add(20*time.Minute)))
	require.NoError(t, err)
	require.Len(t, state.Spans, 2, "rejoin must open a second span, not reuse the closed one")
	assert.True(t, state.IsActive)
	assert.NotNil(t, state.Spans[0].LeaveTime, "the first span stays closed")
	assert.Nil(t, state.Spans[1].LeaveTime)

	state, err = registry.ApplyLeave(ctx, meeting, leaveEvent("p1", registryTestBase.Add(35*time.Minute)), models.CloseReasonLeft)
	require.NoError(t, err)
	require.Len(t, state.Spans, 2)
	assert.False(t, state.IsActive)
	assert.InDelta(t, 25.0, state.TotalDurationMinutes, 0.01, "disjoint spans of 10 and 15 minutes must sum")
}

func TestSessionRegistryLeaveWithoutSession(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	ctx := context.Background()
	meeting := testMeeting()

	_, err := registry.ApplyLeave(ctx, meeting, leaveEvent("ghost", registryTestBase), models.CloseReasonLeft)
	require.Error(t, err)
	assert.Equal(t, domain.ErrorTypeNotFound, domain.GetErrorType(err))
}

func TestSessionRegistryLeaveBackdatesMissedJoin(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	ctx := context.Background()
	meeting := testMeeting()

	event := leaveEvent("p9", registryTestBase.Add(30*time.Minute))
	event.ReportedDurationSeconds = 600

	state, err := registry.ApplyLeave(ctx, meeting, event, models.CloseReasonLeft)
	require.NoError(t, err)
	require.Len(t, state.Spans, 1)
	assert.Equal(t, registryTestBase.Add(20*time.Minute), state.Spans[0].JoinTime)
	assert.InDelta(t, 10.0, state.TotalDurationMinutes, 0.01)
	assert.False(t, state.IsActive)
}

func TestSessionRegistryHeartbeat(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	ctx := context.Background()
	meeting := testMeeting()

	_, err := registry.ApplyHeartbeat(ctx, meeting, joinEvent("p1", registryTestBase))
	require.Error(t, err, "heartbeat without an active session is rejected")
	assert.Equal(t, domain.ErrorTypeNotFound, domain.GetErrorType(err))

	_, err = registry.ApplyJoin(ctx, meeting, joinEvent("p1", registryTestBase))
	require.NoError(t, err)

	state, err := registry.ApplyHeartbeat(ctx, meeting, joinEvent("p1", registryTestBase.Add(10*time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, registryTestBase.Add(10*time.Minute), state.LastHeartbeat)
	assert.Len(t, state.Spans, 1)
}

func TestSessionRegistryCloseStale(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	ctx := context.Background()
	meeting := testMeeting()

	_, err := registry.ApplyJoin(ctx, meeting, joinEvent("p1", registryTestBase))
	require.NoError(t, err)

	// Heartbeat after the cutoff protects the session from the sweep.
	_, err = registry.ApplyHeartbeat(ctx, meeting, joinEvent("p1", registryTestBase.Add(40*time.Minute)))
	require.NoError(t, err)

	closed, err := registry.CloseStale(ctx, meeting, "p1", registryTestBase.Add(30*time.Minute), models.CloseReasonStale)
	require.NoError(t, err)
	assert.False(t, closed, "renewed session must survive the sweep")

	closed, err = registry.CloseStale(ctx, meeting, "p1", registryTestBase.Add(50*time.Minute), models.CloseReasonStale)
	require.NoError(t, err)
	assert.True(t, closed)

	// The interval is credited up to the last heartbeat, not the sweep time.
	states := registry.Snapshot(ctx, meeting)
	require.Len(t, states, 1)
	require.NotNil(t, states[0].Spans[0].LeaveTime)
	assert.Equal(t, registryTestBase.Add(40*time.Minute), *states[0].Spans[0].LeaveTime)
	assert.Equal(t, models.CloseReasonStale, states[0].Spans[0].CloseReason)

	// A second sweep finds nothing open.
	closed, err = registry.CloseStale(ctx, meeting, "p1", registryTestBase.Add(50*time.Minute), models.CloseReasonStale)
	require.NoError(t, err)
	assert.False(t, closed)
}

func TestSessionRegistryForceCloseAll(t *testing.T) {
	registry, _, broadcaster := newTestRegistry(t)
	ctx := context.Background()
	meeting := testMeeting()

	for i := 0; i < 5; i++ {
		_, err := registry.ApplyJoin(ctx, meeting, joinEvent(fmt.Sprintf("p%d", i), registryTestBase))
		require.NoError(t, err)
	}
	_, err := registry.ApplyLeave(ctx, meeting, leaveEvent("p0", registryTestBase.Add(10*time.Minute)), models.CloseReasonLeft)
	require.NoError(t, err)

	closed, err := registry.ForceCloseAll(ctx, meeting, models.CloseReasonMeetingTerminated)
	require.NoError(t, err)
	assert.Equal(t, 4, closed, "already-closed sessions are skipped")

	for _, state := range registry.Snapshot(ctx, meeting) {
		assert.False(t, state.IsActive)
	}

	// Termination is idempotent.
	closed, err = registry.ForceCloseAll(ctx, meeting, models.CloseReasonMeetingTerminated)
	require.NoError(t, err)
	assert.Equal(t, 0, closed)

	broadcaster.AssertCalled(t, "PublishSessionDelta", mock.Anything, mock.MatchedBy(func(d models.SessionDeltaMessage) bool {
		return d.Action == models.DeltaTerminated
	}))
}

func TestSessionRegistryHydratesFromStore(t *testing.T) {
	persisted := &models.ParticipantSessionState{
		MeetingUID:  "meeting-1",
		CanonicalID: "p1",
		DisplayName: "Persisted Person",
		Spans: []models.SessionSpan{
			{UID: "span-1", JoinTime: registryTestBase, Source: models.SourceWebhook},
		},
		IsActive:      true,
		LastHeartbeat: registryTestBase,
	}

	sessionRepo := &mocks.MockSessionRepository{}
	sessionRepo.On("ListByMeeting", mock.Anything, "meeting-1").Return([]*models.ParticipantSessionState{persisted}, nil)
	sessionRepo.On("Upsert", mock.Anything, mock.Anything).Return(nil)

	broadcaster := &mocks.MockSessionBroadcaster{}
	broadcaster.On("PublishSessionDelta", mock.Anything, mock.Anything).Return(nil)

	registry := NewSessionRegistry(sessionRepo, NewIdentityResolver(), broadcaster)
	registry.nowFunc = func() time.Time { return registryTestBase.Add(30 * time.Minute) }

	states := registry.Snapshot(context.Background(), testMeeting())
	require.Len(t, states, 1)
	assert.Equal(t, "Persisted Person", states[0].DisplayName)
	assert.True(t, states[0].IsActive)
	assert.InDelta(t, 30.0, states[0].TotalDurationMinutes, 0.01, "open span duration is recomputed at snapshot time")

	sessionRepo.AssertNumberOfCalls(t, "ListByMeeting", 1)
}

func TestSessionRegistryEnrichKeepsTokenClaims(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	ctx := context.Background()
	meeting := testMeeting()

	event := joinEvent("", registryTestBase)
	event.Source = models.SourceToken
	event.RawIdentifiers = models.RawIdentifiers{
		TokenSubjectID: "user-1",
		DisplayName:    "Claimed Name",
	}
	_, err := registry.ApplyJoin(ctx, meeting, event)
	require.NoError(t, err)

	registry.Enrich(ctx, meeting, "user-1", &models.PersonRecord{
		DisplayName: "Roster Name",
		Department:  "Engineering",
		Email:       "u1@example.com",
	})

	states := registry.Snapshot(ctx, meeting)
	require.Len(t, states, 1)
	assert.Equal(t, "Claimed Name", states[0].DisplayName, "token claim outranks the roster record")
	assert.Equal(t, "Engineering", states[0].Department)
	assert.Equal(t, "u1@example.com", states[0].Email)
}

func TestSessionRegistryConcurrentEvents(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	ctx := context.Background()
	meeting := testMeeting()

	const participants = 20
	var wg sync.WaitGroup
	for i := 0; i < participants; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("p%d", i)
			_, err := registry.ApplyJoin(ctx, meeting, joinEvent(id, registryTestBase))
			assert.NoError(t, err)
			_, err = registry.ApplyHeartbeat(ctx, meeting, joinEvent(id, registryTestBase.Add(time.Minute)))
			assert.NoError(t, err)
			_, err = registry.ApplyLeave(ctx, meeting, leaveEvent(id, registryTestBase.Add(30*time.Minute)), models.CloseReasonLeft)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	states := registry.Snapshot(ctx, meeting)
	require.Len(t, states, participants)
	for _, state := range states {
		assert.False(t, state.IsActive)
		assert.Len(t, state.Spans, 1)
		assert.InDelta(t, 30.0, state.TotalDurationMinutes, 0.01)
	}
}

func TestSessionRegistrySnapshotDuringIngestion(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	ctx := context.Background()
	meeting := testMeeting()

	const participants = 8
	const rounds = 50

	var wg sync.WaitGroup
	for i := 0; i < participants; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("p%d", i)
			for round := 0; round < rounds; round++ {
				at := registryTestBase.Add(time.Duration(round) * time.Minute)
				_, err := registry.ApplyJoin(ctx, meeting, joinEvent(id, at))
				assert.NoError(t, err)
				_, err = registry.ApplyHeartbeat(ctx, meeting, joinEvent(id, at))
				assert.NoError(t, err)
				_, err = registry.ApplyLeave(ctx, meeting, leaveEvent(id, at.Add(30*time.Second)), models.CloseReasonLeft)
				assert.NoError(t, err)
			}
		}(i)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		wg.Wait()
	}()

	// Snapshots run continuously against the live mutators above. Each
	// observed state must be internally consistent, never a torn read of a
	// half-applied mutation: at most one open span at any instant.
	for {
		for _, state := range registry.Snapshot(ctx, meeting) {
			open := 0
			for _, span := range state.Spans {
				if span.IsOpen() {
					open++
				}
			}
			assert.LessOrEqual(t, open, 1, "snapshot observed more than one open span")
		}
		select {
		case <-done:
			final := registry.Snapshot(ctx, meeting)
			require.Len(t, final, participants)
			for _, state := range final {
				assert.Len(t, state.Spans, rounds)
				assert.False(t, state.IsActive)
			}
			return
		default:
		}
	}
}
