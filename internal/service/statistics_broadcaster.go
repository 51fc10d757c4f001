// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/Solodarko/attendance-session-service/internal/domain"
	"github.com/Solodarko/attendance-session-service/internal/domain/models"
	"github.com/Solodarko/attendance-session-service/internal/logging"
)

// StatisticsBroadcaster periodically publishes aggregate attendance figures
// for every active meeting so dashboards can render live counters without
// recomputing them from individual session deltas.
type StatisticsBroadcaster struct {
	meetingRepo domain.MeetingRepository
	registry    *SessionRegistry
	broadcaster domain.SessionBroadcaster
	nowFunc     func() time.Time
}

// NewStatisticsBroadcaster creates a new StatisticsBroadcaster.
func NewStatisticsBroadcaster(
	meetingRepo domain.MeetingRepository,
	registry *SessionRegistry,
	broadcaster domain.SessionBroadcaster,
) *StatisticsBroadcaster {
	return &StatisticsBroadcaster{
		meetingRepo: meetingRepo,
		registry:    registry,
		broadcaster: broadcaster,
		nowFunc:     time.Now,
	}
}

// ServiceReady checks if the broadcaster's collaborators are ready.
func (b *StatisticsBroadcaster) ServiceReady() bool {
	return b.meetingRepo != nil &&
		b.registry != nil && b.registry.ServiceReady() &&
		b.broadcaster != nil
}

// Sweep publishes statistics for every active meeting. Per-meeting failures
// are logged and the pass continues.
func (b *StatisticsBroadcaster) Sweep(ctx context.Context) error {
	meetings, err := b.meetingRepo.ListByStatus(ctx, models.MeetingStatusActive)
	if err != nil {
		slog.ErrorContext(ctx, "error listing active meetings for statistics broadcast", logging.ErrKey, err)
		return err
	}

	now := b.nowFunc()
	for _, meeting := range meetings {
		mctx := logging.AppendCtx(ctx, slog.String("meeting_uid", meeting.UID))

		states := b.registry.Snapshot(mctx, meeting)
		if len(states) == 0 {
			continue
		}

		stats := ComputeStatistics(meeting.UID, states, meeting.Duration, meeting.Threshold(), now)
		if err := b.broadcaster.PublishStatistics(mctx, stats); err != nil {
			slog.ErrorContext(mctx, "error publishing meeting statistics", logging.ErrKey, err)
		}
	}

	return nil
}
