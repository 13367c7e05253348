// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// =============================================================================
// WIRE TYPES
// =============================================================================

// chatRequest mirrors the client's wire format.
type chatRequest struct {
	SessionID    string         `json:"session_id"`
	Message      string         `json:"message" binding:"required"`
	Ask          string         `json:"ask"`
	Conversation []historyEntry `json:"conversation"`
	Metadata     metadata       `json:"metadata"`
}

type historyEntry struct {
	ID        int    `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

type metadata struct {
	URL       string `json:"url"`
	Timestamp string `json:"timestamp"`
	UserAgent string `json:"user_agent"`
	PageTitle string `json:"page_title"`
}

// =============================================================================
// CHAT HANDLER
// =============================================================================

// chatHandler streams replies over SSE, rate limited per client IP.
type chatHandler struct {
	responder Responder

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newChatHandler(r Responder) *chatHandler {
	return &chatHandler{
		responder: r,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// limiterFor returns the per-IP limiter: one request per 2s, burst 3,
// matching what the production endpoint enforces.
func (h *chatHandler) limiterFor(ip string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()

	l, ok := h.limiters[ip]
	if !ok {
		l = rate.NewLimiter(rate.Every(2*time.Second), 3)
		h.limiters[ip] = l
	}
	return l
}

// rateLimit rejects over-limit clients with 429 before any body work.
func (h *chatHandler) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.limiterFor(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{"code": "rate_limited", "message": "slow down"},
			})
			return
		}
		c.Next()
	}
}

// StreamChat answers a chat request with an SSE stream.
func (h *chatHandler) StreamChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "bad_request", "message": err.Error()},
		})
		return
	}

	logrus.WithFields(logrus.Fields{
		"session": req.SessionID,
		"history": len(req.Conversation),
		"has_ask": req.Ask != "",
	}).Debug("chat request")

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	w := newSSEWriter(c.Writer)
	// A leading metadata record; the client is expected to drop it.
	w.Meta("event", "message")
	if err := h.responder.Respond(c.Request.Context(), &req, w); err != nil {
		// Headers are already out; all we can do is log and stop the
		// stream without the terminator so the client sees a truncation.
		logrus.WithError(err).Warn("responder failed mid-stream")
		return
	}
	w.Done()
}
