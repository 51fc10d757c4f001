// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package store

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
)

// KeyPrefixSession prefixes participant session state keys.
const KeyPrefixSession = "session"

// KeyBuilder builds consistent NATS KV keys. Canonical participant ids can
// contain characters NATS rejects in keys (an email address, for one), so
// session keys are base64-encoded per path segment.
type KeyBuilder struct{}

// NewKeyBuilder creates a new key builder.
func NewKeyBuilder() *KeyBuilder {
	return &KeyBuilder{}
}

// SessionKey builds the decoded form of a session state key
// (e.g. "session/meeting-uid/canonical-id").
func (kb *KeyBuilder) SessionKey(meetingUID, canonicalID string) string {
	return fmt.Sprintf("%s/%s/%s", KeyPrefixSession, meetingUID, canonicalID)
}

// SessionKeyEncoded builds the encoded session state key actually stored.
func (kb *KeyBuilder) SessionKeyEncoded(meetingUID, canonicalID string) (string, error) {
	return kb.EncodeKey(kb.SessionKey(meetingUID, canonicalID))
}

// SessionMeetingPattern is the decoded-key substring matching every session
// of one meeting.
func (kb *KeyBuilder) SessionMeetingPattern(meetingUID string) string {
	return fmt.Sprintf("/%s/%s/", KeyPrefixSession, meetingUID)
}

// EncodeKey encodes a key for the NATS KV store.
// From https://github.com/ripienaar/encodedkv
//
// NATS limitations: https://docs.nats.io/nats-concepts/jetstream/key-value-store#notes
func (kb *KeyBuilder) EncodeKey(key string) (string, error) {
	res := []string{}
	for _, part := range strings.Split(strings.TrimPrefix(key, "/"), "/") {
		if part == ">" || part == "*" {
			res = append(res, part)
			continue
		}

		dst := make([]byte, base64.StdEncoding.EncodedLen(len(part)))
		base64.StdEncoding.Encode(dst, []byte(part))
		res = append(res, string(dst))
	}

	if len(res) == 0 {
		return "", nats.ErrInvalidKey
	}

	return strings.Join(res, "."), nil
}

// DecodeKey decodes a key from the NATS KV store.
// From https://github.com/ripienaar/encodedkv
//
// NATS limitations: https://docs.nats.io/nats-concepts/jetstream/key-value-store#notes
func (kb *KeyBuilder) DecodeKey(key string) (string, error) {
	res := []string{}
	for _, part := range strings.Split(key, ".") {
		k, err := base64.StdEncoding.DecodeString(part)
		if err != nil {
			return "", err
		}

		res = append(res, string(k))
	}

	if len(res) == 0 {
		return "", nats.ErrInvalidKey
	}

	return fmt.Sprintf("/%s", strings.Join(res, "/")), nil
}
