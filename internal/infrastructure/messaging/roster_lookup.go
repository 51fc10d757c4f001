// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package messaging

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Solodarko/attendance-session-service/internal/domain"
	"github.com/Solodarko/attendance-session-service/internal/domain/models"
	"github.com/Solodarko/attendance-session-service/internal/logging"
)

// rosterRequestTimeout bounds the directory round trip. Enrichment is
// best-effort, so a slow directory must not hold up check-in handling.
const rosterRequestTimeout = 5 * time.Second

// rosterLookupReply wraps the directory's response. The directory signals a
// miss with an error field rather than an empty reply.
type rosterLookupReply struct {
	Error  string               `json:"error,omitempty"`
	Person *models.PersonRecord `json:"person,omitempty"`
}

// FindByEmailOrID implements domain.RosterLookup via NATS request-reply on
// the directory service's lookup subject.
func (m *MessageBuilder) FindByEmailOrID(ctx context.Context, email, externalID string) (*models.PersonRecord, error) {
	if email == "" && externalID == "" {
		return nil, domain.NewValidationError("email or external ID is required")
	}
	if m.NatsConn == nil || !m.NatsConn.IsConnected() {
		return nil, domain.NewUnavailableError("NATS connection is not available")
	}

	payload, err := json.Marshal(models.RosterLookupRequest{Email: email, ExternalID: externalID})
	if err != nil {
		return nil, domain.NewInternalError("failed to marshal roster lookup request", err)
	}

	msg, err := m.NatsConn.Request(models.RosterLookupSubject, payload, rosterRequestTimeout)
	if err != nil {
		slog.WarnContext(ctx, "roster lookup request failed", logging.ErrKey, err)
		return nil, domain.NewUnavailableError("roster lookup request failed", err)
	}

	var reply rosterLookupReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, domain.NewInternalError("invalid roster lookup reply", err)
	}
	if reply.Error != "" {
		return nil, domain.NewNotFoundError(reply.Error)
	}
	if reply.Person == nil {
		return nil, domain.NewNotFoundError("person not found in directory")
	}

	slog.DebugContext(ctx, "resolved person from directory", "external_id", reply.Person.ExternalID)
	return reply.Person, nil
}

var _ domain.RosterLookup = (*MessageBuilder)(nil)
