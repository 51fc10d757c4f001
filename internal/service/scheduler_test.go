// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Solodarko/attendance-session-service/internal/domain/mocks"
	"github.com/Solodarko/attendance-session-service/internal/domain/models"
)

type schedulerFixture struct {
	scheduler   *TerminationScheduler
	registry    *SessionRegistry
	meetingRepo *mocks.MockMeetingRepository
	platform    *mocks.MockPlatformController
	broadcaster *mocks.MockSessionBroadcaster
}

func newSchedulerFixture(t *testing.T, meeting *models.Meeting) *schedulerFixture {
	t.Helper()

	sessionRepo := &mocks.MockSessionRepository{}
	sessionRepo.On("ListByMeeting", mock.Anything, mock.Anything).Return([]*models.ParticipantSessionState{}, nil)
	sessionRepo.On("Upsert", mock.Anything, mock.Anything).Return(nil)

	broadcaster := &mocks.MockSessionBroadcaster{}
	broadcaster.On("PublishSessionDelta", mock.Anything, mock.Anything).Return(nil)
	broadcaster.On("PublishStatistics", mock.Anything, mock.Anything).Return(nil)

	meetingRepo := &mocks.MockMeetingRepository{}
	meetingRepo.On("GetWithRevision", mock.Anything, meeting.UID).Return(meeting, uint64(7), nil)
	meetingRepo.On("Update", mock.Anything, mock.Anything, uint64(7)).Return(nil)

	platform := &mocks.MockPlatformController{}
	platform.On("EndMeeting", mock.Anything, meeting.PlatformMeetingID).Return(nil)

	resolver := NewIdentityResolver()
	registry := NewSessionRegistry(sessionRepo, resolver, broadcaster)
	registry.nowFunc = func() time.Time { return registryTestBase.Add(90 * time.Minute) }

	scheduler := NewTerminationScheduler(meetingRepo, registry, resolver, platform, broadcaster)
	scheduler.nowFunc = registry.nowFunc

	return &schedulerFixture{
		scheduler:   scheduler,
		registry:    registry,
		meetingRepo: meetingRepo,
		platform:    platform,
		broadcaster: broadcaster,
	}
}

func TestTerminationSchedulerTerminate(t *testing.T) {
	meeting := testMeeting()
	fixture := newSchedulerFixture(t, meeting)
	ctx := context.Background()

	_, err := fixture.registry.ApplyJoin(ctx, meeting, joinEvent("p1", registryTestBase))
	require.NoError(t, err)
	_, err = fixture.registry.ApplyJoin(ctx, meeting, joinEvent("p2", registryTestBase))
	require.NoError(t, err)

	err = fixture.scheduler.Terminate(ctx, meeting.UID)
	require.NoError(t, err)

	assert.Equal(t, models.MeetingStatusTerminated, meeting.Status)
	assert.NotNil(t, meeting.ActualEndTime)
	for _, state := range fixture.registry.Snapshot(ctx, meeting) {
		assert.False(t, state.IsActive)
		assert.Equal(t, models.CloseReasonMeetingTerminated, state.Spans[0].CloseReason)
	}

	fixture.meetingRepo.AssertCalled(t, "Update", mock.Anything, mock.Anything, uint64(7))
	fixture.platform.AssertCalled(t, "EndMeeting", mock.Anything, meeting.PlatformMeetingID)
	fixture.broadcaster.AssertCalled(t, "PublishStatistics", mock.Anything, mock.MatchedBy(func(s models.MeetingStatisticsMessage) bool {
		return s.MeetingUID == meeting.UID && s.TotalParticipants == 2
	}))
}

func TestTerminationSchedulerTerminateIsIdempotent(t *testing.T) {
	meeting := testMeeting()
	meeting.Status = models.MeetingStatusTerminated
	fixture := newSchedulerFixture(t, meeting)

	err := fixture.scheduler.Terminate(context.Background(), meeting.UID)
	require.NoError(t, err)

	fixture.meetingRepo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
	fixture.platform.AssertNotCalled(t, "EndMeeting", mock.Anything, mock.Anything)
}

func TestTerminationSchedulerPlatformFailureDoesNotBlockTermination(t *testing.T) {
	meeting := testMeeting()
	fixture := newSchedulerFixture(t, meeting)

	fixture.platform.ExpectedCalls = nil
	fixture.platform.On("EndMeeting", mock.Anything, meeting.PlatformMeetingID).
		Return(assert.AnError)

	err := fixture.scheduler.Terminate(context.Background(), meeting.UID)
	require.NoError(t, err, "platform errors are best effort")
	assert.Equal(t, models.MeetingStatusTerminated, meeting.Status)
}

func TestTerminationSchedulerComplete(t *testing.T) {
	meeting := testMeeting()
	fixture := newSchedulerFixture(t, meeting)
	ctx := context.Background()

	_, err := fixture.registry.ApplyJoin(ctx, meeting, joinEvent("p1", registryTestBase))
	require.NoError(t, err)

	endedAt := registryTestBase.Add(55 * time.Minute)
	err = fixture.scheduler.Complete(ctx, meeting.UID, endedAt)
	require.NoError(t, err)

	assert.Equal(t, models.MeetingStatusEnded, meeting.Status)
	require.NotNil(t, meeting.ActualEndTime)
	assert.Equal(t, endedAt, *meeting.ActualEndTime)
	fixture.platform.AssertNotCalled(t, "EndMeeting", mock.Anything, mock.Anything)
}

func TestTerminationSchedulerArmFiresAtExpiry(t *testing.T) {
	meeting := testMeeting()
	fixture := newSchedulerFixture(t, meeting)
	ctx := context.Background()

	updated := make(chan struct{})
	fixture.meetingRepo.ExpectedCalls = nil
	fixture.meetingRepo.On("GetWithRevision", mock.Anything, meeting.UID).Return(meeting, uint64(7), nil)
	fixture.meetingRepo.On("Update", mock.Anything, mock.Anything, uint64(7)).
		Run(func(mock.Arguments) { close(updated) }).
		Return(nil)

	// The meeting expired in the past relative to nowFunc, so the timer is
	// armed with zero delay and fires immediately.
	fixture.scheduler.Arm(ctx, meeting)

	select {
	case <-updated:
	case <-time.After(2 * time.Second):
		t.Fatal("termination timer never fired")
	}
	assert.Equal(t, models.MeetingStatusTerminated, meeting.Status)
}

func TestTerminationSchedulerDisarm(t *testing.T) {
	meeting := testMeeting()
	meeting.Duration = 600
	fixture := newSchedulerFixture(t, meeting)

	fixture.scheduler.Arm(context.Background(), meeting)
	fixture.scheduler.Disarm(meeting.UID)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, models.MeetingStatusActive, meeting.Status)
}

func TestTerminationSchedulerSweep(t *testing.T) {
	expired := testMeeting()
	stillRunning := &models.Meeting{
		UID:               "meeting-2",
		PlatformMeetingID: "987654321",
		StartTime:         registryTestBase.Add(80 * time.Minute),
		Duration:          60,
		Status:            models.MeetingStatusActive,
	}
	fixture := newSchedulerFixture(t, expired)
	fixture.meetingRepo.On("ListByStatus", mock.Anything, models.MeetingStatusActive).
		Return([]*models.Meeting{expired, stillRunning}, nil)

	fixture.scheduler.Sweep(context.Background())

	assert.Equal(t, models.MeetingStatusTerminated, expired.Status)
	assert.Equal(t, models.MeetingStatusActive, stillRunning.Status, "unexpired meetings are left alone")
}
