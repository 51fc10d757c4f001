// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"math"
	"time"

	"github.com/Solodarko/attendance-session-service/internal/domain/models"
)

// The attendance calculator is a set of pure functions over a participant
// session snapshot and the meeting's (duration, threshold) pair. It is
// deterministic and side-effect-free so the registry, the reaper, the
// scheduler's final tally and the broadcaster can all share it.

// SpanDuration returns the duration of a single span in minutes. Open spans
// are measured against the provided now. Negative intervals clamp to zero so
// out-of-order timestamps never produce negative durations.
func SpanDuration(span models.SessionSpan, now time.Time) float64 {
	end := now
	if span.LeaveTime != nil {
		end = *span.LeaveTime
	}
	d := end.Sub(span.JoinTime)
	if d < 0 {
		return 0
	}
	return d.Minutes()
}

// TotalDuration returns the accumulated attendance duration in minutes:
// the sum of all closed spans plus elapsed-since-join for an open span.
func TotalDuration(state *models.ParticipantSessionState, now time.Time) float64 {
	var total float64
	for _, span := range state.Spans {
		total += SpanDuration(span, now)
	}
	return total
}

// AttendancePercentage computes the rounded attendance percentage, clamped
// to 100. A meeting with no positive duration counts 100 while the
// participant is active and 0 otherwise.
func AttendancePercentage(totalMinutes float64, meetingDuration int, active bool) int {
	if meetingDuration <= 0 {
		if active {
			return 100
		}
		return 0
	}

	pct := int(math.Round(totalMinutes / float64(meetingDuration) * 100))
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return pct
}

// ResolveStatus derives the attendance status from the computed figures.
// An active participant is always in progress; otherwise presence requires
// meeting the threshold with a non-zero accumulated duration.
func ResolveStatus(active bool, percentage int, totalMinutes float64, threshold int) models.AttendanceStatus {
	if active {
		return models.AttendanceInProgress
	}
	if percentage >= threshold && totalMinutes > 0 {
		return models.AttendancePresent
	}
	return models.AttendanceAbsent
}

// ComputeAttendance recomputes the cached derived fields of a participant
// session state in place.
func ComputeAttendance(state *models.ParticipantSessionState, meetingDuration, threshold int, now time.Time) {
	state.TotalDurationMinutes = TotalDuration(state, now)
	state.AttendancePercentage = AttendancePercentage(state.TotalDurationMinutes, meetingDuration, state.IsActive)
	state.AttendanceStatus = ResolveStatus(state.IsActive, state.AttendancePercentage, state.TotalDurationMinutes, threshold)
}

// ComputeStatistics aggregates attendance figures across all participants of
// a meeting for the statistics broadcast.
func ComputeStatistics(meetingUID string, states []*models.ParticipantSessionState, meetingDuration, threshold int, now time.Time) models.MeetingStatisticsMessage {
	stats := models.MeetingStatisticsMessage{
		MeetingUID:        meetingUID,
		TotalParticipants: len(states),
	}

	var pctSum float64
	for _, state := range states {
		total := TotalDuration(state, now)
		pct := AttendancePercentage(total, meetingDuration, state.IsActive)
		pctSum += float64(pct)

		switch ResolveStatus(state.IsActive, pct, total, threshold) {
		case models.AttendanceInProgress:
			stats.InProgressCount++
		case models.AttendancePresent:
			stats.PresentCount++
		case models.AttendanceAbsent:
			stats.AbsentCount++
		}
	}

	if len(states) > 0 {
		stats.AveragePercentage = math.Round(pctSum/float64(len(states))*100) / 100
	}

	return stats
}
