// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/recall-engine/internal/pipeline"
	"github.com/pdiddy/recall-engine/pkg/types"
)

type fakeHandler struct {
	answer *types.InstantAnswer
	got    []types.IncomingMessage
}

func (f *fakeHandler) Handle(_ context.Context, msg types.IncomingMessage, onResult pipeline.ResultFunc) {
	f.got = append(f.got, msg)
	onResult(msg, f.answer)
}

func post(t *testing.T, h Handler, body string) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	app := New(types.ServerConfig{}, h, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var out map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestPostMessage_Question(t *testing.T) {
	h := &fakeHandler{answer: &types.InstantAnswer{SummaryText: "Use bcrypt.", Confidence: 0.9}}
	resp, out := post(t, h, `{"text":"How do I hash passwords?","author":"bob","room":"Techline","timestamp":"2026-02-01T10:00:00Z"}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, h.got, 1)
	assert.Equal(t, time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC), h.got[0].Timestamp.UTC())

	var private types.InstantAnswer
	require.NoError(t, json.Unmarshal(out["private"], &private))
	assert.Equal(t, "Use bcrypt.", private.SummaryText)

	var public types.IncomingMessage
	require.NoError(t, json.Unmarshal(out["public"], &public))
	assert.Equal(t, "bob", public.Author)
	assert.Equal(t, "How do I hash passwords?", public.Text)
}

func TestPostMessage_NoAnswer(t *testing.T) {
	h := &fakeHandler{}
	resp, out := post(t, h, `{"text":"morning all","author":"bob","room":"Techline"}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "null", string(out["private"]))
	require.Len(t, h.got, 1)
	assert.False(t, h.got[0].Timestamp.IsZero(), "missing timestamp is filled in")
}

func TestPostMessage_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "bad json", body: `{"text":`, want: "invalid JSON body"},
		{name: "no text", body: `{"text":"  ","room":"Techline"}`, want: "text is required"},
		{name: "no room", body: `{"text":"hi"}`, want: "room is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &fakeHandler{}
			resp, out := post(t, h, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, string(out["error"]), tt.want)
			assert.Empty(t, h.got)
		})
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]Check
		wantCode   int
		wantStatus string
	}{
		{name: "no checks", wantCode: http.StatusOK, wantStatus: "ok"},
		{
			name:       "store up",
			checks:     map[string]Check{"store": func(context.Context) error { return nil }},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name: "redis down",
			checks: map[string]Check{
				"store": func(context.Context) error { return nil },
				"cache": func(context.Context) error { return errors.New("connection refused") },
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "degraded",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := New(types.ServerConfig{}, &fakeHandler{}, tt.checks, nil)
			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
			require.NoError(t, err)
			defer resp.Body.Close()

			var body struct {
				Status       string            `json:"status"`
				Dependencies map[string]string `json:"dependencies"`
			}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.wantCode, resp.StatusCode)
			assert.Equal(t, tt.wantStatus, body.Status)
			assert.Len(t, body.Dependencies, len(tt.checks))
		})
	}
}
