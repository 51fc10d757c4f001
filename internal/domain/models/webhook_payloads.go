// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// WebhookEventMessage is the envelope for platform webhook events republished
// onto NATS by the webhook ingress. The ingress forwards the platform's
// signature headers and the raw request body so consumers on the shared
// broker can re-validate the payload before acting on it.
type WebhookEventMessage struct {
	EventType   string         `json:"event_type"`
	EventTS     int64          `json:"event_ts"`
	Payload     map[string]any `json:"payload"`
	Signature   string         `json:"signature,omitempty"`
	SignatureTS string         `json:"signature_ts,omitempty"`
	RawBody     []byte         `json:"raw_body,omitempty"`
}

// MeetingStartedPayload represents the payload for meeting.started webhook events
type MeetingStartedPayload struct {
	Object struct {
		UUID      string    `json:"uuid"`
		ID        string    `json:"id"` // Zoom sends as string in webhook events
		HostID    string    `json:"host_id"`
		Topic     string    `json:"topic"`
		Type      int       `json:"type"`
		StartTime time.Time `json:"start_time"`
		Timezone  string    `json:"timezone"`
		Duration  int       `json:"duration"`
	} `json:"object"`
}

// MeetingEndedPayload represents the payload for meeting.ended webhook events
type MeetingEndedPayload struct {
	Object struct {
		UUID      string    `json:"uuid"`
		ID        string    `json:"id"` // Zoom sends as string in webhook events
		HostID    string    `json:"host_id"`
		Topic     string    `json:"topic"`
		Type      int       `json:"type"`
		StartTime time.Time `json:"start_time"`
		EndTime   time.Time `json:"end_time"`
		Duration  int       `json:"duration"`
		Timezone  string    `json:"timezone"`
	} `json:"object"`
}

// ParticipantJoinedPayload represents the payload for
// meeting.participant_joined webhook events
type ParticipantJoinedPayload struct {
	Object struct {
		UUID        string    `json:"uuid"`
		ID          string    `json:"id"` // Zoom sends as string for participant events
		HostID      string    `json:"host_id"`
		Topic       string    `json:"topic"`
		Type        int       `json:"type"`
		StartTime   time.Time `json:"start_time"`
		Timezone    string    `json:"timezone"`
		Participant struct {
			UserID            string    `json:"user_id"`
			UserName          string    `json:"user_name"`
			ID                string    `json:"id"`
			JoinTime          time.Time `json:"join_time"`
			Email             string    `json:"email"`
			ParticipantUserID string    `json:"participant_user_id"`
		} `json:"participant"`
	} `json:"object"`
}

// ParticipantLeftPayload represents the payload for
// meeting.participant_left webhook events
type ParticipantLeftPayload struct {
	Object struct {
		UUID        string    `json:"uuid"`
		ID          string    `json:"id"` // Zoom sends as string for participant events
		HostID      string    `json:"host_id"`
		Topic       string    `json:"topic"`
		Type        int       `json:"type"`
		StartTime   time.Time `json:"start_time"`
		Timezone    string    `json:"timezone"`
		Participant struct {
			UserID            string    `json:"user_id"`
			UserName          string    `json:"user_name"`
			ID                string    `json:"id"`
			LeaveTime         time.Time `json:"leave_time"`
			LeaveReason       string    `json:"leave_reason"`
			Duration          int       `json:"duration"` // seconds
			Email             string    `json:"email"`
			ParticipantUserID string    `json:"participant_user_id"`
		} `json:"participant"`
	} `json:"object"`
}

// Helper methods to convert from WebhookEventMessage to typed payloads

func (w *WebhookEventMessage) toPayload(eventType string, out any) error {
	if w.EventType != eventType {
		return fmt.Errorf("invalid event type: expected %s, got %s", eventType, w.EventType)
	}

	data, err := json.Marshal(w.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal to %s payload: %w", eventType, err)
	}

	return nil
}

// ToMeetingStartedPayload converts the webhook event to a typed meeting started payload
func (w *WebhookEventMessage) ToMeetingStartedPayload() (*MeetingStartedPayload, error) {
	var payload MeetingStartedPayload
	if err := w.toPayload("meeting.started", &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// ToMeetingEndedPayload converts the webhook event to a typed meeting ended payload
func (w *WebhookEventMessage) ToMeetingEndedPayload() (*MeetingEndedPayload, error) {
	var payload MeetingEndedPayload
	if err := w.toPayload("meeting.ended", &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// ToParticipantJoinedPayload converts the webhook event to a typed participant joined payload
func (w *WebhookEventMessage) ToParticipantJoinedPayload() (*ParticipantJoinedPayload, error) {
	var payload ParticipantJoinedPayload
	if err := w.toPayload("meeting.participant_joined", &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// ToParticipantLeftPayload converts the webhook event to a typed participant left payload
func (w *WebhookEventMessage) ToParticipantLeftPayload() (*ParticipantLeftPayload, error) {
	var payload ParticipantLeftPayload
	if err := w.toPayload("meeting.participant_left", &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// PollSnapshotMessage is the envelope for periodic dashboard poll results:
// the set of participants the platform reports as currently connected.
type PollSnapshotMessage struct {
	MeetingUID   string              `json:"meeting_uid"`
	PolledAt     time.Time           `json:"polled_at"`
	Participants []PolledParticipant `json:"participants"`
}

// PolledParticipant is one currently-connected participant as reported by a
// dashboard poll.
type PolledParticipant struct {
	ParticipantID string `json:"participant_id"`
	UserName      string `json:"user_name,omitempty"`
	Email         string `json:"email,omitempty"`
}
