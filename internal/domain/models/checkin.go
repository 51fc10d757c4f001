// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package models

import "time"

// CheckinRequest is the request schema for the check-in, check-out and
// heartbeat subjects. The token is the signed bearer token minted for the
// participant (the payload behind the meeting's QR code).
type CheckinRequest struct {
	MeetingUID string `json:"meeting_uid"`
	Token      string `json:"token"`
	// Timestamp is the client-reported event time; the server time is used
	// when absent or unreasonable.
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// CheckinClaims is the verified content of a check-in token: who the token
// was minted for and which meeting it is bound to.
type CheckinClaims struct {
	SubjectID   string `json:"subject_id"`
	MeetingUID  string `json:"meeting_uid"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
}

// CheckinResponse is the reply schema for the check-in/check-out subjects.
// Rejections carry an explicit reason rather than a generic failure.
type CheckinResponse struct {
	Success     bool   `json:"success"`
	Reason      string `json:"reason,omitempty"`
	MeetingUID  string `json:"meeting_uid,omitempty"`
	CanonicalID string `json:"canonical_id,omitempty"`

	State *ParticipantSessionState `json:"state,omitempty"`
}
