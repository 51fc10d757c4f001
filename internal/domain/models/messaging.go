// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package models

// NATS subjects that the attendance service handles messages about.
const (
	// AttendanceAPIQueue is the queue group name for the attendance API subscriptions.
	AttendanceAPIQueue = "attendance-api.queue"

	// Platform webhook event subjects - mirrors the actual Zoom webhook event names.
	// These are published by the webhook ingress after signature validation.
	WebhookMeetingStartedSubject    = "attendance.webhook.zoom.meeting.started"
	WebhookMeetingEndedSubject      = "attendance.webhook.zoom.meeting.ended"
	WebhookParticipantJoinedSubject = "attendance.webhook.zoom.meeting.participant_joined"
	WebhookParticipantLeftSubject   = "attendance.webhook.zoom.meeting.participant_left"

	// CheckinSubject is the request/reply subject for signed-token check-ins.
	CheckinSubject = "attendance.checkin"

	// CheckoutSubject is the request/reply subject for signed-token check-outs.
	CheckoutSubject = "attendance.checkout"

	// HeartbeatSubject is the subject for signed-token liveness renewals.
	HeartbeatSubject = "attendance.heartbeat"

	// PollSnapshotSubject is the subject for periodic dashboard poll snapshots
	// of currently connected participants.
	PollSnapshotSubject = "attendance.poll.snapshot"

	// RosterLookupSubject is the request/reply subject for the external
	// directory lookup used to enrich participant display data.
	RosterLookupSubject = "directory.person.lookup"
)

// Per-meeting broadcast subject prefixes. The meeting UID is appended as the
// final token, e.g. attendance.live.sessions.<meeting_uid>.
const (
	LiveSessionSubjectPrefix    = "attendance.live.sessions"
	LiveStatisticsSubjectPrefix = "attendance.live.stats"
)

// DeltaAction is a type for the action of a session delta message.
type DeltaAction string

// DeltaAction constants for session delta messages.
const (
	// DeltaJoined is published when a participant opens a new session span.
	DeltaJoined DeltaAction = "joined"
	// DeltaLeft is published when a participant's open span is closed.
	DeltaLeft DeltaAction = "left"
	// DeltaHeartbeat is published when a liveness signal is renewed,
	// including duplicate joins collapsed into heartbeats.
	DeltaHeartbeat DeltaAction = "heartbeat"
	// DeltaTerminated is published for each participant closed by force-termination.
	DeltaTerminated DeltaAction = "terminated"
)

// SessionDeltaMessage is the schema for real-time session state updates
// published to subscribers of a meeting's live channel.
type SessionDeltaMessage struct {
	MeetingUID  string                   `json:"meeting_uid"`
	CanonicalID string                   `json:"canonical_id"`
	Action      DeltaAction              `json:"action"`
	State       *ParticipantSessionState `json:"state,omitempty"`
}

// MeetingStatisticsMessage is the schema for aggregate attendance statistics
// published on the per-meeting statistics subject.
type MeetingStatisticsMessage struct {
	MeetingUID        string  `json:"meeting_uid"`
	TotalParticipants int     `json:"total_participants"`
	PresentCount      int     `json:"present_count"`
	AbsentCount       int     `json:"absent_count"`
	InProgressCount   int     `json:"in_progress_count"`
	AveragePercentage float64 `json:"average_percentage"`
}

// RosterLookupRequest is the request schema for the directory lookup subject.
type RosterLookupRequest struct {
	Email      string `json:"email,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
}
