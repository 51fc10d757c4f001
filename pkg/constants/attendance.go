// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package constants holds tunables and shared identifiers for the attendance service.
package constants

import "time"

// Attendance tracking tunables.
const (
	// DefaultStaleGracePeriod is how long a session may go without a
	// liveness signal before the reaper closes it as stale.
	DefaultStaleGracePeriod = 10 * time.Minute

	// DefaultDisconnectGracePeriod is the shorter window applied to abrupt
	// real-time channel disconnects.
	DefaultDisconnectGracePeriod = 30 * time.Second

	// TerminationSweepSchedule re-scans active meetings for passed expiry;
	// the per-meeting one-shot timer is only a latency optimization.
	TerminationSweepSchedule = "@every 1m"

	// ReaperSweepSchedule drives the stale-session reaper.
	ReaperSweepSchedule = "@every 2m"

	// StatisticsBroadcastSchedule drives the periodic aggregate statistics
	// publication for active meetings.
	StatisticsBroadcastSchedule = "@every 30s"

	// ForceCloseWorkerCount bounds the fan-out when force-closing all open
	// spans of a meeting.
	ForceCloseWorkerCount = 10
)
