// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// =============================================================================
// SSE WRITER
// =============================================================================

// sseWriter frames chunks the way the site endpoint does: one data: line
// per chunk, flushed immediately, terminated by [DONE].
type sseWriter struct {
	w       io.Writer
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	flusher, _ := w.(http.Flusher)
	return &sseWriter{w: w, flusher: flusher}
}

// Chunk writes one data: record. Newlines inside a chunk would break the
// framing, so they are sent as separate records.
func (s *sseWriter) Chunk(text string) error {
	for _, part := range strings.Split(text, "\n") {
		if _, err := fmt.Fprintf(s.w, "data: %s\n\n", part); err != nil {
			return err
		}
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// Meta writes a non-data record such as "event:" or "id:". The client drops
// these, which makes them useful for exercising its framing tolerance.
func (s *sseWriter) Meta(field, value string) error {
	if _, err := fmt.Fprintf(s.w, "%s: %s\n\n", field, value); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// Done writes the stream terminator.
func (s *sseWriter) Done() {
	fmt.Fprint(s.w, "data: [DONE]\n\n")
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// =============================================================================
// RESPONDERS
// =============================================================================

// Responder produces the reply stream for one chat request.
type Responder interface {
	Respond(ctx context.Context, req *chatRequest, w *sseWriter) error
}

// -----------------------------------------------------------------------------
// Echo responder
// -----------------------------------------------------------------------------

// EchoResponder streams a canned reply word by word. It exists so the
// client can be exercised end to end without any API credentials.
type EchoResponder struct {
	// Delay between chunks; long enough to see streaming, short enough
	// not to annoy.
	Delay time.Duration
}

// NewEchoResponder creates an echo responder with a 40ms chunk delay.
func NewEchoResponder() *EchoResponder {
	return &EchoResponder{Delay: 40 * time.Millisecond}
}

// Respond streams an echo of the question.
func (e *EchoResponder) Respond(ctx context.Context, req *chatRequest, w *sseWriter) error {
	question := req.Ask
	if question == "" {
		question = req.Message
	}

	reply := fmt.Sprintf("You asked: %q. This is the devserver echo; "+
		"set OPENAI_API_KEY to talk to a real model. "+
		"Your conversation has %d earlier messages.",
		question, len(req.Conversation))

	for _, word := range strings.Fields(reply) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.Delay):
		}
		if err := w.Chunk(word + " "); err != nil {
			return err
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// OpenAI responder
// -----------------------------------------------------------------------------

// OpenAIResponder proxies the request to an OpenAI-compatible API and
// relays the delta stream.
type OpenAIResponder struct {
	client *openai.Client
	model  string
}

// NewOpenAIResponder creates a proxy responder. baseURL and model are
// optional; model defaults to gpt-4o-mini.
func NewOpenAIResponder(apiKey, baseURL, model string) *OpenAIResponder {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	logrus.WithField("model", model).Info("proxy mode")
	return &OpenAIResponder{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

const systemPrompt = "You are a helpful assistant embedded in a personal " +
	"blog. Answer questions about the site's posts concisely."

// Respond converts the wire request into a chat completion stream.
func (o *OpenAIResponder) Respond(ctx context.Context, req *chatRequest, w *sseWriter) error {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Conversation)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, entry := range req.Conversation {
		if entry.Content == "" {
			continue
		}
		role := openai.ChatMessageRoleUser
		if entry.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: entry.Content,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Message,
	})

	stream, err := o.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		response, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if len(response.Choices) == 0 {
			continue
		}
		if delta := response.Choices[0].Delta.Content; delta != "" {
			if err := w.Chunk(delta); err != nil {
				return err
			}
		}
	}
}
