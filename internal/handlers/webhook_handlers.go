// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Solodarko/attendance-session-service/internal/domain"
	"github.com/Solodarko/attendance-session-service/internal/domain/models"
	"github.com/Solodarko/attendance-session-service/internal/logging"
	"github.com/Solodarko/attendance-session-service/internal/service"
	"github.com/Solodarko/attendance-session-service/pkg/utils"
)

// WebhookHandler consumes platform webhook events republished on NATS by the
// webhook ingress. Meeting lifecycle events drive the meeting record and the
// termination scheduler; participant events become session events for the
// registry.
type WebhookHandler struct {
	meetingRepo domain.MeetingRepository
	registry    *service.SessionRegistry
	scheduler   *service.TerminationScheduler
	validator   domain.WebhookValidator
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(
	meetingRepo domain.MeetingRepository,
	registry *service.SessionRegistry,
	scheduler *service.TerminationScheduler,
	validator domain.WebhookValidator,
) *WebhookHandler {
	return &WebhookHandler{
		meetingRepo: meetingRepo,
		registry:    registry,
		scheduler:   scheduler,
		validator:   validator,
	}
}

// HandlerReady checks if the handler's collaborators are ready.
func (h *WebhookHandler) HandlerReady() bool {
	return h.meetingRepo != nil &&
		h.registry != nil && h.registry.ServiceReady() &&
		h.scheduler != nil && h.scheduler.ServiceReady() &&
		h.validator != nil
}

// HandleMessage implements domain.MessageHandler.
func (h *WebhookHandler) HandleMessage(ctx context.Context, msg domain.Message) {
	subject := msg.Subject()
	ctx = logging.AppendCtx(ctx, slog.String("subject", subject))
	slog.DebugContext(ctx, "handling webhook message")

	handlers := map[string]func(ctx context.Context, msg domain.Message) error{
		models.WebhookMeetingStartedSubject:    h.HandleMeetingStarted,
		models.WebhookMeetingEndedSubject:      h.HandleMeetingEnded,
		models.WebhookParticipantJoinedSubject: h.HandleParticipantJoined,
		models.WebhookParticipantLeftSubject:   h.HandleParticipantLeft,
	}

	handler, ok := handlers[subject]
	if !ok {
		slog.WarnContext(ctx, "unknown subject")
		return
	}

	if err := handler(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "error handling webhook message", logging.ErrKey, err)
	}
}

// parseWebhookEvent decodes the NATS message into the webhook envelope and
// re-validates it. The ingress already checked the signature, but any
// producer can publish on the shared broker, so envelopes carrying signature
// headers are verified again before their payload is trusted.
func (h *WebhookHandler) parseWebhookEvent(msg domain.Message) (*models.WebhookEventMessage, error) {
	var event models.WebhookEventMessage
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		return nil, domain.NewValidationError("invalid webhook event message", err)
	}

	if !h.validator.IsValidEvent(event.EventType) {
		return nil, domain.NewValidationError("unsupported webhook event type: " + event.EventType)
	}

	if event.Signature != "" {
		if err := h.validator.ValidateSignature(event.RawBody, event.Signature, event.SignatureTS); err != nil {
			return nil, err
		}
	}

	return &event, nil
}

// HandleMeetingStarted activates the meeting record and arms the termination
// timer. A started event for a meeting no record exists for registers one
// from the payload, so attendance is tracked even when the meeting was never
// scheduled through this service.
func (h *WebhookHandler) HandleMeetingStarted(ctx context.Context, msg domain.Message) error {
	event, err := h.parseWebhookEvent(msg)
	if err != nil {
		return err
	}
	payload, err := event.ToMeetingStartedPayload()
	if err != nil {
		return domain.NewValidationError("invalid meeting started payload", err)
	}

	ctx = logging.AppendCtx(ctx, slog.String("platform_meeting_id", payload.Object.ID))

	meeting, err := h.meetingRepo.GetByPlatformMeetingID(ctx, payload.Object.ID)
	if err != nil {
		if domain.GetErrorType(err) != domain.ErrorTypeNotFound {
			slog.ErrorContext(ctx, "error getting meeting from store", logging.ErrKey, err)
			return err
		}
		meeting, err = h.registerMeeting(ctx, payload)
		if err != nil {
			return err
		}
	}

	ctx = logging.AppendCtx(ctx, slog.String("meeting_uid", meeting.UID))

	if meeting.IsFinal() {
		slog.WarnContext(ctx, "started event for finalized meeting ignored", "status", meeting.Status)
		return nil
	}

	startedAt := payload.Object.StartTime
	if startedAt.IsZero() {
		startedAt = time.Unix(event.EventTS/1000, 0).UTC()
	}

	if meeting.Status != models.MeetingStatusActive {
		current, revision, err := h.meetingRepo.GetWithRevision(ctx, meeting.UID)
		if err != nil {
			slog.ErrorContext(ctx, "error getting meeting revision", logging.ErrKey, err)
			return err
		}
		current.Status = models.MeetingStatusActive
		current.ActualStartTime = &startedAt
		if err := h.meetingRepo.Update(ctx, current, revision); err != nil {
			slog.ErrorContext(ctx, "error activating meeting", logging.ErrKey, err)
			return err
		}
		meeting = current
	}

	h.scheduler.Arm(ctx, meeting)
	slog.InfoContext(ctx, "meeting activated", "started_at", startedAt)
	return nil
}

// registerMeeting creates a meeting record from a started event payload.
func (h *WebhookHandler) registerMeeting(ctx context.Context, payload *models.MeetingStartedPayload) (*models.Meeting, error) {
	now := time.Now().UTC()
	meeting := &models.Meeting{
		UID:               uuid.New().String(),
		PlatformMeetingID: payload.Object.ID,
		Title:             payload.Object.Topic,
		StartTime:         payload.Object.StartTime,
		Duration:          payload.Object.Duration,
		Status:            models.MeetingStatusScheduled,
		CreatedAt:         &now,
	}
	if err := h.meetingRepo.Create(ctx, meeting); err != nil {
		slog.ErrorContext(ctx, "error registering meeting from webhook", logging.ErrKey, err)
		return nil, err
	}
	slog.InfoContext(ctx, "registered meeting from started event", "meeting_uid", meeting.UID)
	return meeting, nil
}

// HandleMeetingEnded finalizes the meeting on the platform's own end signal.
func (h *WebhookHandler) HandleMeetingEnded(ctx context.Context, msg domain.Message) error {
	event, err := h.parseWebhookEvent(msg)
	if err != nil {
		return err
	}
	payload, err := event.ToMeetingEndedPayload()
	if err != nil {
		return domain.NewValidationError("invalid meeting ended payload", err)
	}

	ctx = logging.AppendCtx(ctx, slog.String("platform_meeting_id", payload.Object.ID))

	meeting, err := h.meetingRepo.GetByPlatformMeetingID(ctx, payload.Object.ID)
	if err != nil {
		if domain.GetErrorType(err) == domain.ErrorTypeNotFound {
			slog.WarnContext(ctx, "ended event for unknown meeting ignored")
			return nil
		}
		slog.ErrorContext(ctx, "error getting meeting from store", logging.ErrKey, err)
		return err
	}

	endedAt := payload.Object.EndTime
	if endedAt.IsZero() {
		endedAt = time.Unix(event.EventTS/1000, 0).UTC()
	}
	return h.scheduler.Complete(ctx, meeting.UID, endedAt)
}

// HandleParticipantJoined opens a session span for the joining participant.
func (h *WebhookHandler) HandleParticipantJoined(ctx context.Context, msg domain.Message) error {
	event, err := h.parseWebhookEvent(msg)
	if err != nil {
		return err
	}
	payload, err := event.ToParticipantJoinedPayload()
	if err != nil {
		return domain.NewValidationError("invalid participant joined payload", err)
	}

	meeting, err := h.activeMeeting(ctx, payload.Object.ID)
	if err != nil || meeting == nil {
		return err
	}

	participant := payload.Object.Participant
	joinTime := participant.JoinTime
	if joinTime.IsZero() {
		joinTime = time.Unix(event.EventTS/1000, 0).UTC()
	}

	sessionEvent := models.SessionEvent{
		MeetingUID: meeting.UID,
		Kind:       models.EventJoin,
		Timestamp:  joinTime,
		Source:     models.SourceWebhook,
		RawIdentifiers: models.RawIdentifiers{
			PlatformParticipantID: platformParticipantID(participant.ParticipantUserID, participant.ID, participant.UserID),
			Email:                 participant.Email,
			DisplayName:           participant.UserName,
		},
	}

	_, err = h.registry.ApplyJoin(ctx, meeting, sessionEvent)
	return err
}

// HandleParticipantLeft closes the participant's session span. A leave whose
// join was never seen is recovered from the payload's reported duration; a
// leave with neither is logged and dropped.
func (h *WebhookHandler) HandleParticipantLeft(ctx context.Context, msg domain.Message) error {
	event, err := h.parseWebhookEvent(msg)
	if err != nil {
		return err
	}
	payload, err := event.ToParticipantLeftPayload()
	if err != nil {
		return domain.NewValidationError("invalid participant left payload", err)
	}

	meeting, err := h.activeMeeting(ctx, payload.Object.ID)
	if err != nil || meeting == nil {
		return err
	}

	participant := payload.Object.Participant
	leaveTime := participant.LeaveTime
	if leaveTime.IsZero() {
		leaveTime = time.Unix(event.EventTS/1000, 0).UTC()
	}

	sessionEvent := models.SessionEvent{
		MeetingUID: meeting.UID,
		Kind:       models.EventLeave,
		Timestamp:  leaveTime,
		Source:     models.SourceWebhook,
		RawIdentifiers: models.RawIdentifiers{
			PlatformParticipantID: platformParticipantID(participant.ParticipantUserID, participant.ID, participant.UserID),
			Email:                 participant.Email,
			DisplayName:           participant.UserName,
		},
		ReportedDurationSeconds: participant.Duration,
	}

	_, err = h.registry.ApplyLeave(ctx, meeting, sessionEvent, models.CloseReasonLeft)
	if err != nil && domain.GetErrorType(err) == domain.ErrorTypeNotFound {
		slog.WarnContext(ctx, "leave event had no session to close", logging.ErrKey, err)
		return nil
	}
	return err
}

// activeMeeting resolves the meeting record for a participant event. Events
// for unknown or finalized meetings are dropped with a warning rather than
// failing, because the platform keeps sending trailing events after an end.
func (h *WebhookHandler) activeMeeting(ctx context.Context, platformMeetingID string) (*models.Meeting, error) {
	ctx = logging.AppendCtx(ctx, slog.String("platform_meeting_id", platformMeetingID))

	meeting, err := h.meetingRepo.GetByPlatformMeetingID(ctx, platformMeetingID)
	if err != nil {
		if domain.GetErrorType(err) == domain.ErrorTypeNotFound {
			slog.WarnContext(ctx, "participant event for unknown meeting ignored")
			return nil, nil
		}
		slog.ErrorContext(ctx, "error getting meeting from store", logging.ErrKey, err)
		return nil, err
	}
	if meeting.IsFinal() {
		slog.WarnContext(ctx, "participant event for finalized meeting ignored", "status", meeting.Status)
		return nil, nil
	}
	return meeting, nil
}

// platformParticipantID picks the most stable identifier the payload carries.
// The per-account user id survives rejoins, the registrant id survives
// renames, and the connection-scoped user id is the fallback.
func platformParticipantID(participantUserID, registrantID, connectionUserID string) string {
	return utils.CoalesceString(participantUserID, registrantID, connectionUserID)
}

var _ domain.MessageHandler = (*WebhookHandler)(nil)
