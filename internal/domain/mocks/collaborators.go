// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/Solodarko/attendance-session-service/internal/domain/models"
)

// MockSessionBroadcaster implements domain.SessionBroadcaster for testing
type MockSessionBroadcaster struct {
	mock.Mock
}

func (m *MockSessionBroadcaster) PublishSessionDelta(ctx context.Context, delta models.SessionDeltaMessage) error {
	args := m.Called(ctx, delta)
	return args.Error(0)
}

func (m *MockSessionBroadcaster) PublishStatistics(ctx context.Context, stats models.MeetingStatisticsMessage) error {
	args := m.Called(ctx, stats)
	return args.Error(0)
}

// MockRosterLookup implements domain.RosterLookup for testing
type MockRosterLookup struct {
	mock.Mock
}

func (m *MockRosterLookup) FindByEmailOrID(ctx context.Context, email, externalID string) (*models.PersonRecord, error) {
	args := m.Called(ctx, email, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PersonRecord), args.Error(1)
}

// MockPlatformController implements domain.PlatformController for testing
type MockPlatformController struct {
	mock.Mock
}

func (m *MockPlatformController) EndMeeting(ctx context.Context, platformMeetingID string) error {
	args := m.Called(ctx, platformMeetingID)
	return args.Error(0)
}

// MockCheckinTokenVerifier implements domain.CheckinTokenVerifier for testing
type MockCheckinTokenVerifier struct {
	mock.Mock
}

func (m *MockCheckinTokenVerifier) Verify(token, meetingUID string) (*models.CheckinClaims, error) {
	args := m.Called(token, meetingUID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CheckinClaims), args.Error(1)
}

// MockWebhookValidator implements domain.WebhookValidator for testing
type MockWebhookValidator struct {
	mock.Mock
}

func (m *MockWebhookValidator) ValidateSignature(body []byte, signature, timestamp string) error {
	args := m.Called(body, signature, timestamp)
	return args.Error(0)
}

func (m *MockWebhookValidator) IsValidEvent(eventType string) bool {
	args := m.Called(eventType)
	return args.Bool(0)
}

// MockMessage implements domain.Message for testing
type MockMessage struct {
	mock.Mock
}

func (m *MockMessage) Subject() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockMessage) Data() []byte {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]byte)
}

func (m *MockMessage) Respond(data []byte) error {
	args := m.Called(data)
	return args.Error(0)
}

func (m *MockMessage) HasReply() bool {
	args := m.Called()
	return args.Bool(0)
}
