// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package models

import (
	"fmt"
	"strings"
	"time"
)

// SessionSource identifies which ingestion path produced a session event.
type SessionSource string

// SessionSource constants.
const (
	SourceWebhook SessionSource = "webhook"
	SourceToken   SessionSource = "token"
	SourcePoll    SessionSource = "poll"
	SourceManual  SessionSource = "manual"
)

// CloseReason records why a session span was closed.
type CloseReason string

// CloseReason constants.
const (
	// CloseReasonLeft is set when the participant left on their own signal.
	CloseReasonLeft CloseReason = "left"
	// CloseReasonDisconnected is set when an abrupt real-time channel
	// disconnect went unrenewed within the short grace window.
	CloseReasonDisconnected CloseReason = "disconnected"
	// CloseReasonStale is set when the liveness heartbeat aged past the
	// regular grace period.
	CloseReasonStale CloseReason = "stale"
	// CloseReasonMeetingTerminated is set when the termination scheduler
	// force-closed the whole meeting.
	CloseReasonMeetingTerminated CloseReason = "meeting_terminated"
)

// AttendanceStatus is the derived presence verdict for a participant.
type AttendanceStatus string

// AttendanceStatus constants.
const (
	// AttendanceInProgress applies while the participant has an open span.
	AttendanceInProgress AttendanceStatus = "in_progress"
	// AttendancePresent applies once the accumulated percentage meets the threshold.
	AttendancePresent AttendanceStatus = "present"
	// AttendanceAbsent applies otherwise.
	AttendanceAbsent AttendanceStatus = "absent"
)

// SessionSpan represents a single contiguous join-to-leave interval.
// Participants can have multiple spans if they join and leave multiple times.
// A span is immutable once closed.
type SessionSpan struct {
	UID             string        `json:"uid"`
	JoinTime        time.Time     `json:"join_time"`
	LeaveTime       *time.Time    `json:"leave_time,omitempty"`
	Source          SessionSource `json:"source"`
	CloseReason     CloseReason   `json:"close_reason,omitempty"`
	DurationMinutes float64       `json:"duration_minutes"`
}

// IsOpen reports whether the span has not been closed yet.
func (s *SessionSpan) IsOpen() bool {
	return s != nil && s.LeaveTime == nil
}

// RawIdentifiers carries the source-specific identity fields of an event
// before resolution to a canonical identity.
type RawIdentifiers struct {
	TokenSubjectID        string `json:"token_subject_id,omitempty"`
	PlatformParticipantID string `json:"platform_participant_id,omitempty"`
	Email                 string `json:"email,omitempty"`
	DisplayName           string `json:"display_name,omitempty"`
}

// Empty reports whether no identifying field is present at all.
func (r RawIdentifiers) Empty() bool {
	return r.TokenSubjectID == "" && r.PlatformParticipantID == "" && r.Email == ""
}

// NormalizedEmail returns the email lowercased and trimmed for
// case-insensitive matching.
func (r RawIdentifiers) NormalizedEmail() string {
	return strings.ToLower(strings.TrimSpace(r.Email))
}

// EventKind is the kind of a session event.
type EventKind string

// EventKind constants.
const (
	EventJoin      EventKind = "join"
	EventLeave     EventKind = "leave"
	EventHeartbeat EventKind = "heartbeat"
)

// SessionEvent is the common shape every ingestion adapter translates its
// source payload into before handing it to the session registry.
type SessionEvent struct {
	MeetingUID     string         `json:"meeting_uid"`
	Kind           EventKind      `json:"kind"`
	Timestamp      time.Time      `json:"timestamp"`
	Source         SessionSource  `json:"source"`
	RawIdentifiers RawIdentifiers `json:"raw_identifiers"`
	// ReportedDurationSeconds is set when a leave event carries the source's
	// own duration bookkeeping, used to back-date a missed join.
	ReportedDurationSeconds int `json:"reported_duration_seconds,omitempty"`
}

// ParticipantSessionState is the live aggregate of one participant's
// attendance within one meeting. It is created on the first join event and
// only ever closed, never deleted.
type ParticipantSessionState struct {
	MeetingUID            string        `json:"meeting_uid"`
	CanonicalID           string        `json:"canonical_id"`
	DisplayName           string        `json:"display_name,omitempty"`
	Email                 string        `json:"email,omitempty"`
	Department            string        `json:"department,omitempty"`
	TokenSubjectID        string        `json:"token_subject_id,omitempty"`
	PlatformParticipantID string        `json:"platform_participant_id,omitempty"`
	Unidentified          bool          `json:"unidentified"`
	Spans                 []SessionSpan `json:"spans,omitempty"`
	IsActive              bool          `json:"is_active"`
	LastHeartbeat         time.Time     `json:"last_heartbeat"`

	// Cached derived fields, recomputed after every mutation.
	TotalDurationMinutes float64          `json:"total_duration_minutes"`
	AttendancePercentage int              `json:"attendance_percentage"`
	AttendanceStatus     AttendanceStatus `json:"attendance_status"`

	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// OpenSpan returns the currently open span, or nil when every span is closed.
// The registry's invariant is that at most one open span exists at a time.
func (p *ParticipantSessionState) OpenSpan() *SessionSpan {
	if p == nil {
		return nil
	}
	for i := range p.Spans {
		if p.Spans[i].IsOpen() {
			return &p.Spans[i]
		}
	}
	return nil
}

// Tags generates a consistent set of tags for the participant session state,
// used to enrich broadcast messages for search and filtering.
func (p *ParticipantSessionState) Tags() []string {
	tags := []string{}

	if p == nil {
		return nil
	}

	if p.CanonicalID != "" {
		tags = append(tags, p.CanonicalID)
		tags = append(tags, fmt.Sprintf("canonical_id:%s", p.CanonicalID))
	}

	if p.MeetingUID != "" {
		tags = append(tags, fmt.Sprintf("meeting_uid:%s", p.MeetingUID))
	}

	if p.Email != "" {
		tags = append(tags, fmt.Sprintf("email:%s", p.Email))
	}

	if p.DisplayName != "" {
		tags = append(tags, fmt.Sprintf("display_name:%s", p.DisplayName))
	}

	return tags
}

// PersonRecord is the read-only roster lookup result used to enrich
// participant display data. It never gates admission.
type PersonRecord struct {
	DisplayName string `json:"display_name"`
	Department  string `json:"department,omitempty"`
	ExternalID  string `json:"external_id"`
	Email       string `json:"email,omitempty"`
}
