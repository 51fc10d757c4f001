// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package store

import (
	"context"

	"github.com/Solodarko/attendance-session-service/internal/domain"
	"github.com/Solodarko/attendance-session-service/internal/domain/models"
)

// NatsSessionRepository is the NATS KV persistence mirror for participant
// session states. Keys combine the meeting UID and the canonical participant
// id; canonical ids can be email addresses, so keys are stored encoded.
// Upserts are last-write-wins: the in-memory registry already serializes
// writers per participant, so revision checking would only reject our own
// writes after a hydration race.
type NatsSessionRepository struct {
	*NatsBaseRepository[models.ParticipantSessionState]
	keyBuilder *KeyBuilder
}

// NewNatsSessionRepository creates a new NATS KV store repository for
// participant session states.
func NewNatsSessionRepository(sessions INatsKeyValue) *NatsSessionRepository {
	return &NatsSessionRepository{
		NatsBaseRepository: NewNatsBaseRepository[models.ParticipantSessionState](sessions, "session state"),
		keyBuilder:         NewKeyBuilder(),
	}
}

// Upsert writes the session state mirror entry for a participant.
func (r *NatsSessionRepository) Upsert(ctx context.Context, state *models.ParticipantSessionState) error {
	if state == nil || state.MeetingUID == "" || state.CanonicalID == "" {
		return domain.NewValidationError("session state requires meeting UID and canonical ID")
	}

	key, err := r.keyBuilder.SessionKeyEncoded(state.MeetingUID, state.CanonicalID)
	if err != nil {
		return domain.NewInternalError("failed to encode session state key", err)
	}
	return r.Put(ctx, key, state)
}

// Get retrieves one participant's session state.
func (r *NatsSessionRepository) Get(ctx context.Context, meetingUID, canonicalID string) (*models.ParticipantSessionState, error) {
	key, err := r.keyBuilder.SessionKeyEncoded(meetingUID, canonicalID)
	if err != nil {
		return nil, domain.NewInternalError("failed to encode session state key", err)
	}
	return r.NatsBaseRepository.Get(ctx, key)
}

// ListByMeeting retrieves every persisted session state of a meeting, used to
// hydrate the registry after a restart.
func (r *NatsSessionRepository) ListByMeeting(ctx context.Context, meetingUID string) ([]*models.ParticipantSessionState, error) {
	if meetingUID == "" {
		return nil, domain.NewValidationError("meeting UID is required")
	}
	pattern := r.keyBuilder.SessionMeetingPattern(meetingUID)
	return r.ListEntitiesEncoded(ctx, pattern, r.keyBuilder)
}

var _ domain.SessionRepository = (*NatsSessionRepository)(nil)
