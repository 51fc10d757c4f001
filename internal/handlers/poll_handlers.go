// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Solodarko/attendance-session-service/internal/domain"
	"github.com/Solodarko/attendance-session-service/internal/domain/models"
	"github.com/Solodarko/attendance-session-service/internal/logging"
	"github.com/Solodarko/attendance-session-service/internal/service"
)

// PollHandler consumes periodic dashboard poll snapshots listing the
// participants the platform currently reports as connected. Unseen
// participants get a join, known active ones get a heartbeat. Participants
// missing from a snapshot are never closed here; polls can flap, so expiry is
// the reaper's job.
type PollHandler struct {
	meetingRepo domain.MeetingRepository
	registry    *service.SessionRegistry
}

// NewPollHandler creates a new PollHandler.
func NewPollHandler(meetingRepo domain.MeetingRepository, registry *service.SessionRegistry) *PollHandler {
	return &PollHandler{
		meetingRepo: meetingRepo,
		registry:    registry,
	}
}

// HandlerReady checks if the handler's collaborators are ready.
func (h *PollHandler) HandlerReady() bool {
	return h.meetingRepo != nil && h.registry != nil && h.registry.ServiceReady()
}

// HandleMessage implements domain.MessageHandler.
func (h *PollHandler) HandleMessage(ctx context.Context, msg domain.Message) {
	subject := msg.Subject()
	ctx = logging.AppendCtx(ctx, slog.String("subject", subject))

	if subject != models.PollSnapshotSubject {
		slog.WarnContext(ctx, "unknown subject")
		return
	}

	if err := h.HandlePollSnapshot(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "error handling poll snapshot", logging.ErrKey, err)
	}
}

// HandlePollSnapshot applies one poll snapshot to the session registry.
func (h *PollHandler) HandlePollSnapshot(ctx context.Context, msg domain.Message) error {
	var snapshot models.PollSnapshotMessage
	if err := json.Unmarshal(msg.Data(), &snapshot); err != nil {
		return domain.NewValidationError("invalid poll snapshot message", err)
	}
	if snapshot.MeetingUID == "" {
		return domain.NewValidationError("poll snapshot missing meeting_uid")
	}

	ctx = logging.AppendCtx(ctx, slog.String("meeting_uid", snapshot.MeetingUID))

	meeting, err := h.meetingRepo.Get(ctx, snapshot.MeetingUID)
	if err != nil {
		if domain.GetErrorType(err) == domain.ErrorTypeNotFound {
			slog.WarnContext(ctx, "poll snapshot for unknown meeting ignored")
			return nil
		}
		slog.ErrorContext(ctx, "error getting meeting from store", logging.ErrKey, err)
		return err
	}
	if meeting.IsFinal() {
		slog.DebugContext(ctx, "poll snapshot for finalized meeting ignored", "status", meeting.Status)
		return nil
	}

	polledAt := snapshot.PolledAt
	if polledAt.IsZero() {
		polledAt = time.Now().UTC()
	}

	for _, participant := range snapshot.Participants {
		if participant.ParticipantID == "" && participant.Email == "" {
			slog.WarnContext(ctx, "polled participant with no identifier skipped")
			continue
		}

		event := models.SessionEvent{
			MeetingUID: meeting.UID,
			Kind:       models.EventHeartbeat,
			Timestamp:  polledAt,
			Source:     models.SourcePoll,
			RawIdentifiers: models.RawIdentifiers{
				PlatformParticipantID: participant.ParticipantID,
				Email:                 participant.Email,
				DisplayName:           participant.UserName,
			},
		}

		// A heartbeat only lands on an active session. Anyone else in the
		// snapshot is connected but untracked, so they join here.
		if _, err := h.registry.ApplyHeartbeat(ctx, meeting, event); err != nil {
			if domain.GetErrorType(err) != domain.ErrorTypeNotFound {
				slog.ErrorContext(ctx, "error applying poll heartbeat", logging.ErrKey, err)
				continue
			}
			event.Kind = models.EventJoin
			if _, err := h.registry.ApplyJoin(ctx, meeting, event); err != nil {
				slog.ErrorContext(ctx, "error applying poll join", logging.ErrKey, err)
			}
		}
	}

	slog.DebugContext(ctx, "applied poll snapshot", "participants", len(snapshot.Participants))
	return nil
}

var _ domain.MessageHandler = (*PollHandler)(nil)
