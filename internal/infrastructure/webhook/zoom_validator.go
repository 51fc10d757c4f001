// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package webhook validates platform webhook payloads before they are turned
// into session events.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/Solodarko/attendance-session-service/internal/domain"
)

// replayTolerance bounds how old a webhook timestamp may be. Zoom signs the
// request timestamp into the signature, so rejecting stale timestamps also
// rejects replayed payloads.
const replayTolerance = 300 * time.Second

// ZoomWebhookValidator validates Zoom webhook signatures and event types.
type ZoomWebhookValidator struct {
	secretToken string
	nowFunc     func() time.Time
}

// NewZoomWebhookValidator creates a validator for the given webhook secret.
func NewZoomWebhookValidator(secretToken string) *ZoomWebhookValidator {
	return &ZoomWebhookValidator{
		secretToken: secretToken,
		nowFunc:     time.Now,
	}
}

// ValidateSignature checks the HMAC signature Zoom sends with each webhook
// request. The signed message is "v0:<timestamp>:<body>" and the signature
// header carries the hex digest prefixed with "v0=".
func (v *ZoomWebhookValidator) ValidateSignature(body []byte, signature, timestamp string) error {
	if v.secretToken == "" {
		return domain.NewInternalError("webhook secret token not configured")
	}
	if signature == "" {
		return domain.NewValidationError("missing webhook signature")
	}
	if timestamp == "" {
		return domain.NewValidationError("missing webhook timestamp")
	}

	if err := v.checkTimestamp(timestamp); err != nil {
		return err
	}

	message := fmt.Sprintf("v0:%s:%s", timestamp, body)

	h := hmac.New(sha256.New, []byte(v.secretToken))
	h.Write([]byte(message))
	expected := "v0=" + hex.EncodeToString(h.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return domain.NewUnauthorizedError("webhook signature does not match expected signature")
	}

	return nil
}

// checkTimestamp rejects timestamps outside the replay tolerance window.
func (v *ZoomWebhookValidator) checkTimestamp(timestamp string) error {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return domain.NewValidationError("invalid webhook timestamp", err)
	}

	age := v.nowFunc().Sub(time.Unix(ts, 0))
	if age > replayTolerance || age < -replayTolerance {
		return domain.NewUnauthorizedError("webhook timestamp outside allowed window")
	}

	return nil
}

// IsValidEvent reports whether the event type is one the service consumes.
func (v *ZoomWebhookValidator) IsValidEvent(eventType string) bool {
	validEvents := map[string]bool{
		"meeting.started":            true,
		"meeting.ended":              true,
		"meeting.participant_joined": true,
		"meeting.participant_left":   true,
	}

	return validEvents[eventType]
}

var _ domain.WebhookValidator = (*ZoomWebhookValidator)(nil)
