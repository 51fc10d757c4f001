// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/nats-io/nats.go"

	"github.com/Solodarko/attendance-session-service/internal/domain"
	"github.com/Solodarko/attendance-session-service/internal/domain/models"
	"github.com/Solodarko/attendance-session-service/internal/logging"
)

// INatsConn is the NATS connection interface the broadcaster and roster
// lookup need. It allows for mocking in tests.
type INatsConn interface {
	IsConnected() bool
	Publish(subj string, data []byte) error
	Request(subj string, data []byte, timeout time.Duration) (*nats.Msg, error)
}

// MessageBuilder publishes real-time attendance updates to the per-meeting
// live subjects. Delivery is fire-and-forget: subscribers that miss a delta
// catch up from the next one, and the registry remains the system of record.
type MessageBuilder struct {
	NatsConn INatsConn
}

// NewMessageBuilder creates a new MessageBuilder.
func NewMessageBuilder(natsConn INatsConn) *MessageBuilder {
	return &MessageBuilder{
		NatsConn: natsConn,
	}
}

// LiveMessage is the broadcast envelope published on the live subjects.
// Data is flattened to a plain map so dashboard consumers in any language
// can filter on it without this service's type definitions.
type LiveMessage struct {
	Action string         `json:"action"`
	Data   map[string]any `json:"data"`
	Tags   []string       `json:"tags,omitempty"`
}

// sendMessage sends the message to the NATS server.
func (m *MessageBuilder) sendMessage(ctx context.Context, subject string, data []byte) error {
	if m.NatsConn == nil || !m.NatsConn.IsConnected() {
		return domain.NewUnavailableError("NATS connection is not available")
	}
	err := m.NatsConn.Publish(subject, data)
	if err != nil {
		slog.ErrorContext(ctx, "error sending message to NATS", logging.ErrKey, err, "subject", subject)
		return err
	}
	slog.DebugContext(ctx, "sent message to NATS", "subject", subject)
	return nil
}

// flatten decodes a struct into the map form the broadcast envelope carries,
// honoring json tags.
func flatten(value any) (map[string]any, error) {
	var result map[string]any
	config := mapstructure.DecoderConfig{
		TagName: "json",
		Result:  &result,
	}
	decoder, err := mapstructure.NewDecoder(&config)
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(value); err != nil {
		return nil, err
	}
	return result, nil
}

// sendLiveMessage shapes and publishes one broadcast envelope.
func (m *MessageBuilder) sendLiveMessage(ctx context.Context, subject, action string, data any, tags []string) error {
	payload, err := flatten(data)
	if err != nil {
		slog.ErrorContext(ctx, "error shaping broadcast payload", logging.ErrKey, err, "subject", subject)
		return err
	}

	message := LiveMessage{
		Action: action,
		Data:   payload,
		Tags:   tags,
	}

	messageBytes, err := json.Marshal(message)
	if err != nil {
		slog.ErrorContext(ctx, "error marshalling message into JSON", logging.ErrKey, err, "subject", subject)
		return err
	}

	return m.sendMessage(ctx, subject, messageBytes)
}

// PublishSessionDelta publishes a session state change on the meeting's live
// session subject.
func (m *MessageBuilder) PublishSessionDelta(ctx context.Context, delta models.SessionDeltaMessage) error {
	subject := fmt.Sprintf("%s.%s", models.LiveSessionSubjectPrefix, delta.MeetingUID)

	var tags []string
	if delta.State != nil {
		tags = delta.State.Tags()
	}
	return m.sendLiveMessage(ctx, subject, string(delta.Action), delta, tags)
}

// PublishStatistics publishes aggregate attendance statistics on the
// meeting's live statistics subject.
func (m *MessageBuilder) PublishStatistics(ctx context.Context, stats models.MeetingStatisticsMessage) error {
	subject := fmt.Sprintf("%s.%s", models.LiveStatisticsSubjectPrefix, stats.MeetingUID)
	return m.sendLiveMessage(ctx, subject, "statistics", stats, nil)
}

var _ domain.SessionBroadcaster = (*MessageBuilder)(nil)
