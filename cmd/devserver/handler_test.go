// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer() *httptest.Server {
	echo := NewEchoResponder()
	echo.Delay = 0
	return httptest.NewServer(setupRouter(newChatHandler(echo)))
}

func postChat(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+"/api/chat", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStreamChatEchoesOverSSE(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	resp := postChat(t, srv.URL, `{"session_id":"s1","message":"hello there","conversation":[]}`)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(raw)

	assert.Contains(t, body, "data: ")
	assert.Contains(t, body, "hello there")
	assert.Contains(t, body, "event: message")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(body), "data: [DONE]"),
		"stream should end with the terminator, got tail %q", tail(body, 40))
}

func TestStreamChatRejectsMissingMessage(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	resp := postChat(t, srv.URL, `{"session_id":"s1"}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStreamChatRateLimitsPerClient(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	var rejected bool
	for i := 0; i < 6; i++ {
		resp := postChat(t, srv.URL, `{"message":"hi"}`)
		if resp.StatusCode == http.StatusTooManyRequests {
			rejected = true
		}
		resp.Body.Close()
	}
	assert.True(t, rejected, "burst beyond the limiter should see a 429")
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
