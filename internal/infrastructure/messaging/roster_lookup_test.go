// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package messaging

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Solodarko/attendance-session-service/internal/domain"
	"github.com/Solodarko/attendance-session-service/internal/domain/models"
)

func TestFindByEmailOrID(t *testing.T) {
	conn := newMockNatsConn()
	conn.requestReply = []byte(`{"person":{"display_name":"Alice Example","department":"Engineering","external_id":"emp-42","email":"alice@example.com"}}`)
	builder := NewMessageBuilder(conn)

	person, err := builder.FindByEmailOrID(context.Background(), "alice@example.com", "emp-42")
	require.NoError(t, err)
	assert.Equal(t, "Alice Example", person.DisplayName)
	assert.Equal(t, "Engineering", person.Department)
	assert.Equal(t, "emp-42", person.ExternalID)

	requests := conn.requested[models.RosterLookupSubject]
	require.Len(t, requests, 1)

	var req map[string]string
	require.NoError(t, json.Unmarshal(requests[0], &req))
	assert.Equal(t, "alice@example.com", req["email"])
	assert.Equal(t, "emp-42", req["external_id"])
}

func TestFindByEmailOrIDNotFound(t *testing.T) {
	conn := newMockNatsConn()
	conn.requestReply = []byte(`{"error":"person not found"}`)
	builder := NewMessageBuilder(conn)

	person, err := builder.FindByEmailOrID(context.Background(), "ghost@example.com", "")
	assert.Nil(t, person)
	require.Error(t, err)
	assert.Equal(t, domain.ErrorTypeNotFound, domain.GetErrorType(err))
}

func TestFindByEmailOrIDTimeout(t *testing.T) {
	conn := newMockNatsConn()
	conn.requestError = nats.ErrTimeout
	builder := NewMessageBuilder(conn)

	_, err := builder.FindByEmailOrID(context.Background(), "alice@example.com", "")
	require.Error(t, err)
	assert.Equal(t, domain.ErrorTypeUnavailable, domain.GetErrorType(err))
}

func TestFindByEmailOrIDValidation(t *testing.T) {
	builder := NewMessageBuilder(newMockNatsConn())

	_, err := builder.FindByEmailOrID(context.Background(), "", "")
	assert.Equal(t, domain.ErrorTypeValidation, domain.GetErrorType(err))
}

func TestFindByEmailOrIDDisconnected(t *testing.T) {
	conn := newMockNatsConn()
	conn.connected = false
	builder := NewMessageBuilder(conn)

	_, err := builder.FindByEmailOrID(context.Background(), "alice@example.com", "")
	assert.Equal(t, domain.ErrorTypeUnavailable, domain.GetErrorType(err))
}
