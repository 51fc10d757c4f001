// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package domain

import (
	"context"

	"github.com/Solodarko/attendance-session-service/internal/domain/models"
)

// MeetingRepository defines the interface for meeting storage operations.
// This interface can be implemented by different storage backends (NATS, PostgreSQL, etc.)
type MeetingRepository interface {
	Create(ctx context.Context, meeting *models.Meeting) error
	Exists(ctx context.Context, meetingUID string) (bool, error)

	Get(ctx context.Context, meetingUID string) (*models.Meeting, error)
	GetWithRevision(ctx context.Context, meetingUID string) (*models.Meeting, uint64, error)
	GetByPlatformMeetingID(ctx context.Context, platformMeetingID string) (*models.Meeting, error)
	Update(ctx context.Context, meeting *models.Meeting, revision uint64) error

	ListAll(ctx context.Context) ([]*models.Meeting, error)
	ListByStatus(ctx context.Context, status models.MeetingStatus) ([]*models.Meeting, error)
}

// SessionRepository is the persistence mirror for participant session state.
// The in-memory registry is the system of record while the process lives;
// the mirror is updated after each in-memory commit and read back to hydrate
// a meeting after a restart.
type SessionRepository interface {
	Upsert(ctx context.Context, state *models.ParticipantSessionState) error
	Get(ctx context.Context, meetingUID, canonicalID string) (*models.ParticipantSessionState, error)
	ListByMeeting(ctx context.Context, meetingUID string) ([]*models.ParticipantSessionState, error)
}
