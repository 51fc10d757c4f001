// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Solodarko/attendance-session-service/internal/domain"
)

func newTestController(baseURL string) *ZoomController {
	controller := NewZoomController(Config{
		BaseURL:        baseURL,
		Timeout:        2 * time.Second,
		MaxRetries:     2,
		InitialBackoff: 5 * time.Millisecond,
	})
	controller.authDisabled = true
	return controller
}

func TestEndMeeting(t *testing.T) {
	var gotPath, gotMethod string
	var gotBody map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	controller := newTestController(server.URL)
	err := controller.EndMeeting(context.Background(), "123456789")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/meetings/123456789/status", gotPath)
	assert.Equal(t, map[string]string{"action": "end"}, gotBody)
}

func TestEndMeetingNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	controller := newTestController(server.URL)
	err := controller.EndMeeting(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, domain.ErrorTypeNotFound, domain.GetErrorType(err))
}

func TestEndMeetingRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	controller := newTestController(server.URL)
	err := controller.EndMeeting(context.Background(), "123456789")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEndMeetingDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	controller := newTestController(server.URL)
	err := controller.EndMeeting(context.Background(), "123456789")
	require.Error(t, err)
	assert.Equal(t, domain.ErrorTypeUnauthorized, domain.GetErrorType(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestEndMeetingValidation(t *testing.T) {
	controller := newTestController("http://localhost:1")
	err := controller.EndMeeting(context.Background(), "")
	assert.Equal(t, domain.ErrorTypeValidation, domain.GetErrorType(err))
}
