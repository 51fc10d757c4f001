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

// clockSkewTolerance bounds how far a client-reported timestamp may drift
// from the server clock before it is replaced with the server time.
const clockSkewTolerance = 5 * time.Minute

// CheckinHandler serves the request/reply check-in, check-out and heartbeat
// subjects. Every request carries a signed token; an invalid token is
// rejected with an unauthorized reply and produces no session event. New
// check-ins are enriched from the directory roster on a best-effort basis.
type CheckinHandler struct {
	meetingRepo domain.MeetingRepository
	registry    *service.SessionRegistry
	verifier    domain.CheckinTokenVerifier
	roster      domain.RosterLookup
}

// NewCheckinHandler creates a new CheckinHandler.
func NewCheckinHandler(
	meetingRepo domain.MeetingRepository,
	registry *service.SessionRegistry,
	verifier domain.CheckinTokenVerifier,
	roster domain.RosterLookup,
) *CheckinHandler {
	return &CheckinHandler{
		meetingRepo: meetingRepo,
		registry:    registry,
		verifier:    verifier,
		roster:      roster,
	}
}

// HandlerReady checks if the handler's collaborators are ready.
func (h *CheckinHandler) HandlerReady() bool {
	return h.meetingRepo != nil &&
		h.registry != nil && h.registry.ServiceReady() &&
		h.verifier != nil &&
		h.roster != nil
}

// HandleMessage implements domain.MessageHandler.
func (h *CheckinHandler) HandleMessage(ctx context.Context, msg domain.Message) {
	subject := msg.Subject()
	ctx = logging.AppendCtx(ctx, slog.String("subject", subject))
	slog.DebugContext(ctx, "handling check-in message")

	handlers := map[string]func(ctx context.Context, msg domain.Message) *models.CheckinResponse{
		models.CheckinSubject:   h.HandleCheckin,
		models.CheckoutSubject:  h.HandleCheckout,
		models.HeartbeatSubject: h.HandleHeartbeat,
	}

	handler, ok := handlers[subject]
	if !ok {
		slog.WarnContext(ctx, "unknown subject")
		h.respond(ctx, msg, &models.CheckinResponse{Success: false, Reason: "unknown subject"})
		return
	}

	h.respond(ctx, msg, handler(ctx, msg))
}

// respond marshals and sends the reply when one is expected.
func (h *CheckinHandler) respond(ctx context.Context, msg domain.Message, response *models.CheckinResponse) {
	if !msg.HasReply() {
		return
	}
	data, err := json.Marshal(response)
	if err != nil {
		slog.ErrorContext(ctx, "error marshaling check-in response", logging.ErrKey, err)
		data = nil
	}
	if err := msg.Respond(data); err != nil {
		slog.ErrorContext(ctx, "error responding to NATS message", logging.ErrKey, err)
	}
}

// HandleCheckin opens a session span for the token's subject.
func (h *CheckinHandler) HandleCheckin(ctx context.Context, msg domain.Message) *models.CheckinResponse {
	meeting, event, response := h.authorize(ctx, msg, models.EventJoin)
	if response != nil {
		return response
	}

	state, err := h.registry.ApplyJoin(ctx, meeting, *event)
	if err != nil {
		slog.ErrorContext(ctx, "error applying check-in", logging.ErrKey, err)
		return rejection(meeting.UID, err)
	}

	// Roster enrichment is best effort and never gates the check-in.
	h.enrich(ctx, meeting, state, event.RawIdentifiers)

	return &models.CheckinResponse{
		Success:     true,
		MeetingUID:  meeting.UID,
		CanonicalID: state.CanonicalID,
		State:       state,
	}
}

// HandleCheckout closes the subject's open session span.
func (h *CheckinHandler) HandleCheckout(ctx context.Context, msg domain.Message) *models.CheckinResponse {
	meeting, event, response := h.authorize(ctx, msg, models.EventLeave)
	if response != nil {
		return response
	}

	state, err := h.registry.ApplyLeave(ctx, meeting, *event, models.CloseReasonLeft)
	if err != nil {
		if domain.GetErrorType(err) == domain.ErrorTypeNotFound {
			return &models.CheckinResponse{
				Success:    false,
				Reason:     "no active session to leave",
				MeetingUID: meeting.UID,
			}
		}
		slog.ErrorContext(ctx, "error applying check-out", logging.ErrKey, err)
		return rejection(meeting.UID, err)
	}

	return &models.CheckinResponse{
		Success:     true,
		MeetingUID:  meeting.UID,
		CanonicalID: state.CanonicalID,
		State:       state,
	}
}

// HandleHeartbeat renews the subject's liveness timestamp.
func (h *CheckinHandler) HandleHeartbeat(ctx context.Context, msg domain.Message) *models.CheckinResponse {
	meeting, event, response := h.authorize(ctx, msg, models.EventHeartbeat)
	if response != nil {
		return response
	}

	state, err := h.registry.ApplyHeartbeat(ctx, meeting, *event)
	if err != nil {
		if domain.GetErrorType(err) == domain.ErrorTypeNotFound {
			return &models.CheckinResponse{
				Success:    false,
				Reason:     "no active session to renew",
				MeetingUID: meeting.UID,
			}
		}
		slog.ErrorContext(ctx, "error applying heartbeat", logging.ErrKey, err)
		return rejection(meeting.UID, err)
	}

	return &models.CheckinResponse{
		Success:     true,
		MeetingUID:  meeting.UID,
		CanonicalID: state.CanonicalID,
		State:       state,
	}
}

// authorize parses the request, verifies the token and resolves the meeting.
// A non-nil response means the request was rejected.
func (h *CheckinHandler) authorize(ctx context.Context, msg domain.Message, kind models.EventKind) (*models.Meeting, *models.SessionEvent, *models.CheckinResponse) {
	var request models.CheckinRequest
	if err := json.Unmarshal(msg.Data(), &request); err != nil {
		slog.WarnContext(ctx, "invalid check-in request", logging.ErrKey, err)
		return nil, nil, &models.CheckinResponse{Success: false, Reason: "invalid request"}
	}
	if request.MeetingUID == "" || request.Token == "" {
		return nil, nil, &models.CheckinResponse{Success: false, Reason: "meeting_uid and token are required"}
	}

	ctx = logging.AppendCtx(ctx, slog.String("meeting_uid", request.MeetingUID))

	claims, err := h.verifier.Verify(request.Token, request.MeetingUID)
	if err != nil {
		slog.WarnContext(ctx, "check-in token rejected", logging.ErrKey, err)
		return nil, nil, &models.CheckinResponse{
			Success:    false,
			Reason:     "invalid token",
			MeetingUID: request.MeetingUID,
		}
	}

	meeting, err := h.meetingRepo.Get(ctx, request.MeetingUID)
	if err != nil {
		if domain.GetErrorType(err) == domain.ErrorTypeNotFound {
			return nil, nil, &models.CheckinResponse{
				Success:    false,
				Reason:     "meeting not found",
				MeetingUID: request.MeetingUID,
			}
		}
		slog.ErrorContext(ctx, "error getting meeting from store", logging.ErrKey, err)
		return nil, nil, rejection(request.MeetingUID, err)
	}
	if meeting.IsFinal() {
		return nil, nil, &models.CheckinResponse{
			Success:    false,
			Reason:     "meeting has ended",
			MeetingUID: request.MeetingUID,
		}
	}

	event := &models.SessionEvent{
		MeetingUID: meeting.UID,
		Kind:       kind,
		Timestamp:  h.eventTime(request.Timestamp),
		Source:     models.SourceToken,
		RawIdentifiers: models.RawIdentifiers{
			TokenSubjectID: claims.SubjectID,
			Email:          claims.Email,
			DisplayName:    claims.DisplayName,
		},
	}
	return meeting, event, nil
}

// eventTime uses the client-reported timestamp when it is within the skew
// tolerance and the server clock otherwise.
func (h *CheckinHandler) eventTime(reported *time.Time) time.Time {
	now := time.Now().UTC()
	if reported == nil {
		return now
	}
	if reported.Before(now.Add(-clockSkewTolerance)) || reported.After(now.Add(clockSkewTolerance)) {
		return now
	}
	return *reported
}

// enrich merges roster display data into a freshly checked-in state.
func (h *CheckinHandler) enrich(ctx context.Context, meeting *models.Meeting, state *models.ParticipantSessionState, ids models.RawIdentifiers) {
	if state.Department != "" {
		return
	}
	person, err := h.roster.FindByEmailOrID(ctx, ids.NormalizedEmail(), ids.TokenSubjectID)
	if err != nil {
		slog.WarnContext(ctx, "roster lookup failed", logging.ErrKey, err)
		return
	}
	if person == nil {
		return
	}
	h.registry.Enrich(ctx, meeting, state.CanonicalID, person)
}

// rejection maps an internal error to a generic failure reply without leaking
// error details to the caller.
func rejection(meetingUID string, err error) *models.CheckinResponse {
	reason := "internal error"
	if domain.GetErrorType(err) == domain.ErrorTypeUnavailable {
		reason = "service unavailable"
	}
	return &models.CheckinResponse{
		Success:    false,
		Reason:     reason,
		MeetingUID: meetingUID,
	}
}

var _ domain.MessageHandler = (*CheckinHandler)(nil)
