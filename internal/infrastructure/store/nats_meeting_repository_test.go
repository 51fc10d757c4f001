// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Solodarko/attendance-session-service/internal/domain"
	"github.com/Solodarko/attendance-session-service/internal/domain/models"
)

func storedMeeting(uid, platformID string, status models.MeetingStatus) *models.Meeting {
	return &models.Meeting{
		UID:               uid,
		PlatformMeetingID: platformID,
		Title:             "Weekly Sync",
		StartTime:         time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
		Duration:          60,
		Status:            status,
	}
}

func TestNatsMeetingRepositoryCreateAndGet(t *testing.T) {
	repo := NewNatsMeetingRepository(newMockNatsKeyValue())
	ctx := context.Background()

	meeting := storedMeeting("meeting-1", "123456789", models.MeetingStatusScheduled)
	require.NoError(t, repo.Create(ctx, meeting))

	got, revision, err := repo.GetWithRevision(ctx, "meeting-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), revision)
	assert.Equal(t, meeting.UID, got.UID)
	assert.Equal(t, meeting.PlatformMeetingID, got.PlatformMeetingID)
	assert.Equal(t, meeting.Status, got.Status)

	exists, err := repo.Exists(ctx, "meeting-1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.Exists(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestNatsMeetingRepositoryGetNotFound(t *testing.T) {
	repo := NewNatsMeetingRepository(newMockNatsKeyValue())

	_, err := repo.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, domain.ErrorTypeNotFound, domain.GetErrorType(err))
}

func TestNatsMeetingRepositoryUpdateRevisionConflict(t *testing.T) {
	repo := NewNatsMeetingRepository(newMockNatsKeyValue())
	ctx := context.Background()

	meeting := storedMeeting("meeting-1", "123456789", models.MeetingStatusScheduled)
	require.NoError(t, repo.Create(ctx, meeting))

	got, revision, err := repo.GetWithRevision(ctx, "meeting-1")
	require.NoError(t, err)

	got.Status = models.MeetingStatusActive
	require.NoError(t, repo.Update(ctx, got, revision))

	// Updating with the stale revision conflicts.
	got.Status = models.MeetingStatusEnded
	err = repo.Update(ctx, got, revision)
	require.Error(t, err)
	assert.Equal(t, domain.ErrorTypeConflict, domain.GetErrorType(err))
}

func TestNatsMeetingRepositoryGetByPlatformMeetingID(t *testing.T) {
	repo := NewNatsMeetingRepository(newMockNatsKeyValue())
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, storedMeeting("meeting-1", "111", models.MeetingStatusActive)))
	require.NoError(t, repo.Create(ctx, storedMeeting("meeting-2", "222", models.MeetingStatusScheduled)))

	got, err := repo.GetByPlatformMeetingID(ctx, "222")
	require.NoError(t, err)
	assert.Equal(t, "meeting-2", got.UID)

	_, err = repo.GetByPlatformMeetingID(ctx, "999")
	require.Error(t, err)
	assert.Equal(t, domain.ErrorTypeNotFound, domain.GetErrorType(err))

	_, err = repo.GetByPlatformMeetingID(ctx, "")
	require.Error(t, err)
	assert.Equal(t, domain.ErrorTypeValidation, domain.GetErrorType(err))
}

func TestNatsMeetingRepositoryListByStatus(t *testing.T) {
	repo := NewNatsMeetingRepository(newMockNatsKeyValue())
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, storedMeeting("meeting-1", "111", models.MeetingStatusActive)))
	require.NoError(t, repo.Create(ctx, storedMeeting("meeting-2", "222", models.MeetingStatusActive)))
	require.NoError(t, repo.Create(ctx, storedMeeting("meeting-3", "333", models.MeetingStatusEnded)))

	active, err := repo.ListByStatus(ctx, models.MeetingStatusActive)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	ended, err := repo.ListByStatus(ctx, models.MeetingStatusEnded)
	require.NoError(t, err)
	assert.Len(t, ended, 1)

	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestNatsMeetingRepositoryNotReady(t *testing.T) {
	repo := NewNatsMeetingRepository(nil)

	_, err := repo.Get(context.Background(), "meeting-1")
	require.Error(t, err)
	assert.Equal(t, domain.ErrorTypeUnavailable, domain.GetErrorType(err))

	err = repo.Create(context.Background(), storedMeeting("meeting-1", "111", models.MeetingStatusScheduled))
	require.Error(t, err)
	assert.Equal(t, domain.ErrorTypeUnavailable, domain.GetErrorType(err))
}

func TestNatsMeetingRepositoryCreateValidation(t *testing.T) {
	repo := NewNatsMeetingRepository(newMockNatsKeyValue())

	err := repo.Create(context.Background(), &models.Meeting{})
	require.Error(t, err)
	assert.Equal(t, domain.ErrorTypeValidation, domain.GetErrorType(err))
}
