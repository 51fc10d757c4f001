// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package models

import (
	"fmt"
	"time"
)

// MeetingStatus is the lifecycle status of a tracked meeting.
type MeetingStatus string

// MeetingStatus constants. Transitions only move forward:
// scheduled -> active -> ended or terminated.
const (
	MeetingStatusScheduled  MeetingStatus = "scheduled"
	MeetingStatusActive     MeetingStatus = "active"
	MeetingStatusEnded      MeetingStatus = "ended"
	MeetingStatusTerminated MeetingStatus = "terminated"
)

// DefaultAttendanceThreshold is the minimum attendance percentage required
// for a participant to be counted present, used when a meeting does not
// configure its own.
const DefaultAttendanceThreshold = 85

// Meeting represents a tracked meeting and its lifecycle state.
// Once the status reaches ended or terminated the record is immutable.
type Meeting struct {
	UID                 string        `json:"uid"`
	PlatformMeetingID   string        `json:"platform_meeting_id"`
	Title               string        `json:"title,omitempty"`
	StartTime           time.Time     `json:"start_time"`
	Duration            int           `json:"duration"` // minutes
	AttendanceThreshold int           `json:"attendance_threshold"`
	Status              MeetingStatus `json:"status"`
	CreatedAt           *time.Time    `json:"created_at,omitempty"`
	ActualStartTime     *time.Time    `json:"actual_start_time,omitempty"`
	ActualEndTime       *time.Time    `json:"actual_end_time,omitempty"`
}

// Threshold returns the meeting's attendance threshold, falling back to the
// default when unset.
func (m *Meeting) Threshold() int {
	if m == nil || m.AttendanceThreshold <= 0 {
		return DefaultAttendanceThreshold
	}
	return m.AttendanceThreshold
}

// ScheduledEndTime returns the time at which the meeting should be
// force-terminated, based on the actual start time when known and the
// scheduled start otherwise.
func (m *Meeting) ScheduledEndTime() time.Time {
	start := m.StartTime
	if m.ActualStartTime != nil {
		start = *m.ActualStartTime
	}
	return start.Add(time.Duration(m.Duration) * time.Minute)
}

// Expired reports whether the meeting's computed expiry has passed.
func (m *Meeting) Expired(now time.Time) bool {
	if m.Duration <= 0 {
		return false
	}
	return !now.Before(m.ScheduledEndTime())
}

// IsFinal reports whether the meeting has reached a terminal status.
func (m *Meeting) IsFinal() bool {
	return m.Status == MeetingStatusEnded || m.Status == MeetingStatusTerminated
}

// CanTransitionTo reports whether the status transition is a legal forward move.
// Re-applying a terminal status to itself is allowed so that termination stays
// idempotent.
func (m *Meeting) CanTransitionTo(next MeetingStatus) bool {
	if m.Status == next {
		return next == MeetingStatusTerminated || next == MeetingStatusEnded
	}
	switch m.Status {
	case MeetingStatusScheduled:
		return next == MeetingStatusActive || next == MeetingStatusEnded || next == MeetingStatusTerminated
	case MeetingStatusActive:
		return next == MeetingStatusEnded || next == MeetingStatusTerminated
	default:
		return false
	}
}

// Tags generates a consistent set of tags for the meeting,
// used to enrich broadcast messages for search and filtering.
func (m *Meeting) Tags() []string {
	tags := []string{}

	if m == nil {
		return nil
	}

	if m.UID != "" {
		tags = append(tags, m.UID)
		tags = append(tags, fmt.Sprintf("meeting_uid:%s", m.UID))
	}

	if m.PlatformMeetingID != "" {
		tags = append(tags, fmt.Sprintf("platform_meeting_id:%s", m.PlatformMeetingID))
	}

	if m.Title != "" {
		tags = append(tags, fmt.Sprintf("title:%s", m.Title))
	}

	return tags
}
