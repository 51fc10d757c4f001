// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package domain

import (
	"context"

	"github.com/Solodarko/attendance-session-service/internal/domain/models"
)

// Message represents a domain message interface
type Message interface {
	Subject() string
	Data() []byte
	Respond(data []byte) error
	HasReply() bool
}

// MessageHandler defines how the service handles incoming messages
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg Message)
	HandlerReady() bool
}

// SessionBroadcaster publishes real-time session state to subscribers of a
// meeting's live channel. Delivery is best-effort and at-most-once per
// subscriber; the broadcaster mirrors registry state, it never holds it.
type SessionBroadcaster interface {
	PublishSessionDelta(ctx context.Context, delta models.SessionDeltaMessage) error
	PublishStatistics(ctx context.Context, stats models.MeetingStatisticsMessage) error
}

// RosterLookup resolves a person against the external directory. It is used
// to enrich participant display data and never gates admission.
type RosterLookup interface {
	FindByEmailOrID(ctx context.Context, email, externalID string) (*models.PersonRecord, error)
}

// PlatformController ends a meeting at the external meeting platform.
// Calls are best-effort from the termination scheduler's perspective.
type PlatformController interface {
	EndMeeting(ctx context.Context, platformMeetingID string) error
}

// CheckinTokenVerifier verifies a signed check-in token and returns its
// claims. Verification covers the signature, the expiry and the meeting
// binding; an invalid token never produces a session event.
type CheckinTokenVerifier interface {
	Verify(token, meetingUID string) (*models.CheckinClaims, error)
}

// WebhookValidator validates incoming platform webhook payload signatures.
type WebhookValidator interface {
	ValidateSignature(body []byte, signature, timestamp string) error
	IsValidEvent(eventType string) bool
}
