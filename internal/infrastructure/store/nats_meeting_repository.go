// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package store

import (
	"context"

	"github.com/Solodarko/attendance-session-service/internal/domain"
	"github.com/Solodarko/attendance-session-service/internal/domain/models"
)

// NatsMeetingRepository is the NATS KV store repository for meeting records.
// Meetings are keyed by their UID.
type NatsMeetingRepository struct {
	*NatsBaseRepository[models.Meeting]
}

// NewNatsMeetingRepository creates a new NATS KV store repository for meetings.
func NewNatsMeetingRepository(meetings INatsKeyValue) *NatsMeetingRepository {
	return &NatsMeetingRepository{
		NatsBaseRepository: NewNatsBaseRepository[models.Meeting](meetings, "meeting"),
	}
}

// Create stores a new meeting record.
func (r *NatsMeetingRepository) Create(ctx context.Context, meeting *models.Meeting) error {
	if meeting == nil || meeting.UID == "" {
		return domain.NewValidationError("meeting UID is required")
	}
	return r.Put(ctx, meeting.UID, meeting)
}

// Update replaces a meeting record with optimistic concurrency control.
func (r *NatsMeetingRepository) Update(ctx context.Context, meeting *models.Meeting, revision uint64) error {
	if meeting == nil || meeting.UID == "" {
		return domain.NewValidationError("meeting UID is required")
	}
	return r.NatsBaseRepository.Update(ctx, meeting.UID, meeting, revision)
}

// GetByPlatformMeetingID finds the meeting tracked for an external platform
// meeting id. The bucket only holds meetings still of interest, so a scan is
// acceptable; the webhook path that needs this lookup is not on a hot loop.
func (r *NatsMeetingRepository) GetByPlatformMeetingID(ctx context.Context, platformMeetingID string) (*models.Meeting, error) {
	if platformMeetingID == "" {
		return nil, domain.NewValidationError("platform meeting ID is required")
	}

	meetings, err := r.ListEntities(ctx)
	if err != nil {
		return nil, err
	}

	for _, meeting := range meetings {
		if meeting.PlatformMeetingID == platformMeetingID {
			return meeting, nil
		}
	}
	return nil, domain.NewNotFoundError("no meeting tracked for platform meeting id " + platformMeetingID)
}

// ListAll returns every tracked meeting record.
func (r *NatsMeetingRepository) ListAll(ctx context.Context) ([]*models.Meeting, error) {
	return r.ListEntities(ctx)
}

// ListByStatus returns the meetings currently in the given lifecycle status.
func (r *NatsMeetingRepository) ListByStatus(ctx context.Context, status models.MeetingStatus) ([]*models.Meeting, error) {
	meetings, err := r.ListEntities(ctx)
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.Meeting, 0, len(meetings))
	for _, meeting := range meetings {
		if meeting.Status == status {
			filtered = append(filtered, meeting)
		}
	}
	return filtered, nil
}

var _ domain.MeetingRepository = (*NatsMeetingRepository)(nil)
