// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nvalden/sitechat/internal/chatbot"
	"github.com/nvalden/sitechat/internal/model"
)

// =============================================================================
// FAKES
// =============================================================================

// chanResponse feeds chunks from a channel; closing the channel ends the
// stream with finalErr (io.EOF by default).
type chanResponse struct {
	ch       chan string
	finalErr error
}

func newChanResponse() *chanResponse {
	return &chanResponse{ch: make(chan string)}
}

func (r *chanResponse) Recv(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case s, ok := <-r.ch:
		if !ok {
			if r.finalErr != nil {
				return "", r.finalErr
			}
			return "", io.EOF
		}
		return s, nil
	}
}

func (r *chanResponse) Close() error { return nil }

// scriptedResponse yields a fixed chunk sequence then EOF.
type scriptedResponse struct {
	chunks []string
	pos    int
}

func (r *scriptedResponse) Recv(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if r.pos >= len(r.chunks) {
		return "", io.EOF
	}
	chunk := r.chunks[r.pos]
	r.pos++
	return chunk, nil
}

func (r *scriptedResponse) Close() error { return nil }

type sendRecord struct {
	req chatbot.Request
	ctx context.Context
}

// fakeTransport records every send and delegates the response to next.
type fakeTransport struct {
	mu        sync.Mutex
	sessionID string
	resets    int
	sends     []sendRecord
	next      func(r chatbot.Request) (Response, error)
}

func newFakeTransport(next func(r chatbot.Request) (Response, error)) *fakeTransport {
	return &fakeTransport{sessionID: "sess-0", next: next}
}

func (t *fakeTransport) Send(ctx context.Context, r chatbot.Request) (Response, error) {
	t.mu.Lock()
	t.sends = append(t.sends, sendRecord{req: r, ctx: ctx})
	next := t.next
	t.mu.Unlock()
	return next(r)
}

func (t *fakeTransport) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

func (t *fakeTransport) ResetSession() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resets++
	t.sessionID = fmt.Sprintf("sess-%d", t.resets)
	return t.sessionID
}

func (t *fakeTransport) sendCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sends)
}

func (t *fakeTransport) send(i int) sendRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sends[i]
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.StallTimeout = -1
	return cfg
}

// =============================================================================
// SENDING
// =============================================================================

func TestSendMessageEndToEnd(t *testing.T) {
	transport := newFakeTransport(func(chatbot.Request) (Response, error) {
		return &scriptedResponse{chunks: []string{"Hi", " there", "!"}}, nil
	})
	m := NewManagerWithTransport(transport, testConfig())

	if !m.SendMessage("Hello") {
		t.Fatal("SendMessage refused a valid send")
	}
	m.Wait()

	msgs := m.Messages()
	// Greeting plus exactly two new messages.
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if msgs[1].Role != model.RoleUser || msgs[1].Content != "Hello" {
		t.Errorf("user message = %q (%s)", msgs[1].Content, msgs[1].Role)
	}
	if msgs[2].Role != model.RoleAssistant || msgs[2].Content != "Hi there!" {
		t.Errorf("assistant message = %q (%s)", msgs[2].Content, msgs[2].Role)
	}
	if msgs[2].IsStreaming {
		t.Error("assistant message still marked streaming")
	}
	if m.IsTyping() {
		t.Error("typing flag not reset")
	}

	// History sent to the transport excludes the new user turn.
	req := transport.send(0).req
	if req.Message != "Hello" {
		t.Errorf("request message = %q", req.Message)
	}
	if len(req.Conversation) != 1 {
		t.Fatalf("history length = %d, want 1 (greeting only)", len(req.Conversation))
	}
}

func TestSendMessageBlankIsNoop(t *testing.T) {
	transport := newFakeTransport(func(chatbot.Request) (Response, error) {
		return &scriptedResponse{}, nil
	})
	m := NewManagerWithTransport(transport, testConfig())

	if m.SendMessage("") || m.SendMessage("   \n\t") {
		t.Error("blank send was accepted")
	}
	if transport.sendCount() != 0 {
		t.Errorf("blank send reached the transport")
	}
}

func TestSendMessageWhileTypingIsNoop(t *testing.T) {
	resp := newChanResponse()
	transport := newFakeTransport(func(chatbot.Request) (Response, error) {
		return resp, nil
	})
	m := NewManagerWithTransport(transport, testConfig())

	if !m.SendMessage("first") {
		t.Fatal("first send refused")
	}
	waitFor(t, m.IsTyping, "typing flag")

	if m.SendMessage("second") {
		t.Error("second send accepted while first in flight")
	}
	if got := transport.sendCount(); got != 1 {
		t.Errorf("transport saw %d sends, want 1", got)
	}

	close(resp.ch)
	m.Wait()
}

func TestChunkOrderingAndIncrementalGrowth(t *testing.T) {
	resp := newChanResponse()
	transport := newFakeTransport(func(chatbot.Request) (Response, error) {
		return resp, nil
	})
	m := NewManagerWithTransport(transport, testConfig())
	m.SendMessage("go")

	chunks := []string{"alpha ", "beta ", "gamma"}
	var want strings.Builder
	for _, c := range chunks {
		resp.ch <- c
		want.WriteString(c)

		// Each increment must be visible before the stream completes.
		expect := want.String()
		waitFor(t, func() bool {
			msgs := m.Messages()
			last := msgs[len(msgs)-1]
			return last.IsStreaming && last.Content == expect
		}, "chunk "+c)
	}

	close(resp.ch)
	m.Wait()

	msgs := m.Messages()
	last := msgs[len(msgs)-1]
	if last.Content != want.String() {
		t.Errorf("final content = %q, want %q", last.Content, want.String())
	}
	if last.IsStreaming {
		t.Error("message still streaming after EOF")
	}
}

func TestSingleStreamingMessage(t *testing.T) {
	resp := newChanResponse()
	transport := newFakeTransport(func(chatbot.Request) (Response, error) {
		return resp, nil
	})
	m := NewManagerWithTransport(transport, testConfig())
	m.SendMessage("go")

	resp.ch <- "a"
	resp.ch <- "b"
	waitFor(t, func() bool {
		msgs := m.Messages()
		return msgs[len(msgs)-1].Content == "ab"
	}, "chunks applied")

	streaming := 0
	for _, msg := range m.Messages() {
		if msg.IsStreaming {
			streaming++
		}
	}
	if streaming != 1 {
		t.Errorf("%d streaming messages, want 1", streaming)
	}

	close(resp.ch)
	m.Wait()
}

// =============================================================================
// CANCELLATION
// =============================================================================

func TestAbortProducesNoErrorMessage(t *testing.T) {
	resp := newChanResponse()
	transport := newFakeTransport(func(chatbot.Request) (Response, error) {
		return resp, nil
	})
	m := NewManagerWithTransport(transport, testConfig())
	m.SendMessage("go")

	resp.ch <- "par"
	waitFor(t, func() bool {
		msgs := m.Messages()
		return msgs[len(msgs)-1].Content == "par"
	}, "partial chunk")

	before := len(m.Messages())
	m.CancelActive()
	m.Wait()

	msgs := m.Messages()
	if len(msgs) != before {
		t.Fatalf("message count changed on abort: %d -> %d", before, len(msgs))
	}
	if last := msgs[len(msgs)-1]; last.Content != "par" {
		t.Errorf("partial content = %q, want %q", last.Content, "par")
	}
	if m.IsTyping() {
		t.Error("typing flag not reset after abort")
	}
}

func TestNewSendCancelsPrior(t *testing.T) {
	first := newChanResponse()
	second := &scriptedResponse{chunks: []string{"fresh"}}
	responses := []Response{first, second}
	var n int
	transport := newFakeTransport(func(chatbot.Request) (Response, error) {
		r := responses[n]
		n++
		return r, nil
	})
	m := NewManagerWithTransport(transport, testConfig())

	m.SendMessage("one")
	first.ch <- "stale "
	waitFor(t, func() bool {
		msgs := m.Messages()
		return msgs[len(msgs)-1].Content == "stale "
	}, "first chunk")

	m.CancelActive()
	m.Wait()

	if !m.SendMessage("two") {
		t.Fatal("second send refused")
	}

	// The first request's context must be dead before the second starts.
	firstCtx := transport.send(0).ctx
	select {
	case <-firstCtx.Done():
	default:
		t.Error("first request context not cancelled")
	}

	m.Wait()
	msgs := m.Messages()
	last := msgs[len(msgs)-1]
	if last.Content != "fresh" {
		t.Errorf("final content = %q, want %q", last.Content, "fresh")
	}

	// The superseded stream must not have grown its message.
	for _, msg := range msgs {
		if strings.HasPrefix(msg.Content, "stale") && msg.Content != "stale " {
			t.Errorf("superseded message grew after new send: %q", msg.Content)
		}
	}
}

func TestCloseAbortsAndRefusesSends(t *testing.T) {
	resp := newChanResponse()
	transport := newFakeTransport(func(chatbot.Request) (Response, error) {
		return resp, nil
	})
	m := NewManagerWithTransport(transport, testConfig())
	m.SendMessage("go")
	waitFor(t, m.IsTyping, "typing flag")

	m.Close()
	if m.IsTyping() {
		t.Error("typing flag set after Close")
	}
	if m.SendMessage("again") {
		t.Error("send accepted after Close")
	}
}

// =============================================================================
// FAILURES
// =============================================================================

func TestTransportErrorAppendsFailureNotice(t *testing.T) {
	transport := newFakeTransport(func(chatbot.Request) (Response, error) {
		return nil, errors.New("boom")
	})
	m := NewManagerWithTransport(transport, testConfig())
	m.SendMessage("go")
	m.Wait()

	msgs := m.Messages()
	last := msgs[len(msgs)-1]
	if last.Role != model.RoleAssistant || last.Content != FailureNotice {
		t.Errorf("last message = %q (%s), want failure notice", last.Content, last.Role)
	}
	if m.IsTyping() {
		t.Error("typing flag not reset after failure")
	}
}

func TestMidStreamErrorKeepsPartialAndAppendsNotice(t *testing.T) {
	resp := newChanResponse()
	resp.finalErr = errors.New("connection reset")
	transport := newFakeTransport(func(chatbot.Request) (Response, error) {
		return resp, nil
	})
	m := NewManagerWithTransport(transport, testConfig())
	m.SendMessage("go")

	resp.ch <- "partial answer"
	waitFor(t, func() bool {
		msgs := m.Messages()
		return msgs[len(msgs)-1].Content == "partial answer"
	}, "partial chunk")

	close(resp.ch)
	m.Wait()

	msgs := m.Messages()
	last := msgs[len(msgs)-1]
	if last.Content != FailureNotice {
		t.Fatalf("last message = %q, want failure notice", last.Content)
	}
	partial := msgs[len(msgs)-2]
	if partial.Content != "partial answer" {
		t.Errorf("partial message = %q, want untouched partial", partial.Content)
	}
}

func TestStallTimeoutFailsTheSend(t *testing.T) {
	resp := newChanResponse()
	transport := newFakeTransport(func(chatbot.Request) (Response, error) {
		return resp, nil
	})
	cfg := testConfig()
	cfg.StallTimeout = 30 * time.Millisecond
	m := NewManagerWithTransport(transport, cfg)

	m.SendMessage("go")
	m.Wait()

	msgs := m.Messages()
	if last := msgs[len(msgs)-1]; last.Content != FailureNotice {
		t.Errorf("last message = %q, want failure notice after stall", last.Content)
	}
	if m.IsTyping() {
		t.Error("typing flag not reset after stall")
	}
}

// =============================================================================
// CONTEXT ATTACHMENT
// =============================================================================

func TestContextRoundTrip(t *testing.T) {
	transport := newFakeTransport(func(chatbot.Request) (Response, error) {
		return &scriptedResponse{chunks: []string{"ok"}}, nil
	})
	m := NewManagerWithTransport(transport, testConfig())

	m.SetContext("the quoted passage")
	m.SendMessage("what does this mean?")
	m.Wait()

	want := "About this text: \"the quoted passage\"\n\nwhat does this mean?"
	req := transport.send(0).req
	if req.Message != want {
		t.Errorf("request message = %q, want %q", req.Message, want)
	}
	if req.Ask != "the quoted passage" {
		t.Errorf("request ask = %q", req.Ask)
	}

	msgs := m.Messages()
	if msgs[1].Content != want {
		t.Errorf("user message = %q, want %q", msgs[1].Content, want)
	}

	// The attachment is cleared by the caller, never automatically.
	if _, ok := m.Context(); !ok {
		t.Error("context cleared implicitly after send")
	}
	m.ClearContext()
	if _, ok := m.Context(); ok {
		t.Error("context still held after ClearContext")
	}
}

func TestSendWithoutContextOmitsAsk(t *testing.T) {
	transport := newFakeTransport(func(chatbot.Request) (Response, error) {
		return &scriptedResponse{}, nil
	})
	m := NewManagerWithTransport(transport, testConfig())
	m.SendMessage("plain question")
	m.Wait()

	req := transport.send(0).req
	if req.Ask != "" {
		t.Errorf("ask = %q, want empty", req.Ask)
	}
	if req.Message != "plain question" {
		t.Errorf("message = %q", req.Message)
	}
}

// =============================================================================
// STATE OPERATIONS
// =============================================================================

func TestClearMessagesResetsToGreeting(t *testing.T) {
	transport := newFakeTransport(func(chatbot.Request) (Response, error) {
		return &scriptedResponse{chunks: []string{"answer"}}, nil
	})
	cfg := testConfig()
	cfg.Greeting = "welcome back"
	m := NewManagerWithTransport(transport, cfg)

	m.SendMessage("hello")
	m.Wait()
	m.ClearMessages()

	msgs := m.Messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages after clear, want 1", len(msgs))
	}
	if msgs[0].Role != model.RoleAssistant || msgs[0].Content != "welcome back" {
		t.Errorf("greeting = %q (%s)", msgs[0].Content, msgs[0].Role)
	}
}

func TestClearMessagesDropsLateChunks(t *testing.T) {
	resp := newChanResponse()
	transport := newFakeTransport(func(chatbot.Request) (Response, error) {
		return resp, nil
	})
	m := NewManagerWithTransport(transport, testConfig())
	m.SendMessage("hello")

	resp.ch <- "partial "
	waitFor(t, func() bool {
		msgs := m.Messages()
		return msgs[len(msgs)-1].IsStreaming
	}, "streaming reply")

	m.ClearMessages()

	// Chunks from the pre-clear reply must not repopulate the conversation.
	resp.ch <- "stale"
	close(resp.ch)
	m.Wait()

	msgs := m.Messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages after clear, want greeting only", len(msgs))
	}
	if m.IsTyping() {
		t.Error("typing flag not reset after the superseded stream ended")
	}
}

func TestHistoryEviction(t *testing.T) {
	transport := newFakeTransport(func(chatbot.Request) (Response, error) {
		return &scriptedResponse{chunks: []string{"reply"}}, nil
	})
	cfg := testConfig()
	cfg.MaxMessages = 3
	m := NewManagerWithTransport(transport, cfg)

	for i := 0; i < 3; i++ {
		m.SendMessage(fmt.Sprintf("question %d", i))
		m.Wait()
	}

	msgs := m.Messages()
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	// The newest turn survives; the greeting and early turns were evicted.
	if msgs[len(msgs)-2].Content != "question 2" {
		t.Errorf("second-newest = %q, want latest question", msgs[len(msgs)-2].Content)
	}
	if msgs[len(msgs)-1].Content != "reply" {
		t.Errorf("newest = %q, want latest reply", msgs[len(msgs)-1].Content)
	}
}

func TestSnapshotConversationDuringStream(t *testing.T) {
	resp := newChanResponse()
	transport := newFakeTransport(func(chatbot.Request) (Response, error) {
		return resp, nil
	})
	m := NewManagerWithTransport(transport, testConfig())
	m.SendMessage("go")

	// Snapshot continuously while chunks land; the race detector flags any
	// unlocked read of the live conversation.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			resp.ch <- "x"
		}
		close(resp.ch)
	}()

	for {
		snap := m.SnapshotConversation()
		for _, msg := range snap.Messages {
			if msg.IsStreaming {
				t.Fatal("snapshot carries live streaming state")
			}
			_ = msg.Content
		}
		select {
		case <-done:
			m.Wait()
			final := m.SnapshotConversation()
			last := final.Messages[len(final.Messages)-1]
			if last.Content != strings.Repeat("x", 200) {
				t.Errorf("final snapshot content length = %d, want 200", len(last.Content))
			}
			return
		default:
		}
	}
}

func TestRestoreMessages(t *testing.T) {
	resp := newChanResponse()
	transport := newFakeTransport(func(chatbot.Request) (Response, error) {
		return resp, nil
	})
	m := NewManagerWithTransport(transport, testConfig())

	saved := []*model.Message{
		model.NewUserMessage("earlier question"),
		model.NewMessage(model.RoleAssistant, "earlier answer"),
	}
	if err := m.RestoreMessages(saved); err != nil {
		t.Fatalf("RestoreMessages: %v", err)
	}

	msgs := m.Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Content != "earlier question" || msgs[1].Content != "earlier answer" {
		t.Errorf("restored contents = %q, %q", msgs[0].Content, msgs[1].Content)
	}

	// Restoring is refused mid-send.
	m.SendMessage("next")
	waitFor(t, m.IsTyping, "typing flag")
	if err := m.RestoreMessages(saved); !errors.Is(err, ErrSendInFlight) {
		t.Errorf("restore during send = %v, want ErrSendInFlight", err)
	}

	close(resp.ch)
	m.Wait()
}

func TestResetSession(t *testing.T) {
	resp := newChanResponse()
	transport := newFakeTransport(func(chatbot.Request) (Response, error) {
		return resp, nil
	})
	m := NewManagerWithTransport(transport, testConfig())

	if m.SessionID() != "sess-0" {
		t.Fatalf("session id = %q", m.SessionID())
	}

	m.SendMessage("go")
	waitFor(t, m.IsTyping, "typing flag")
	if _, err := m.ResetSession(); !errors.Is(err, ErrSendInFlight) {
		t.Errorf("ResetSession during send = %v, want ErrSendInFlight", err)
	}

	close(resp.ch)
	m.Wait()

	id, err := m.ResetSession()
	if err != nil {
		t.Fatalf("ResetSession() error = %v", err)
	}
	if id == "sess-0" {
		t.Error("session id not rotated")
	}
}

func TestWindowVisibility(t *testing.T) {
	transport := newFakeTransport(func(chatbot.Request) (Response, error) {
		return &scriptedResponse{}, nil
	})
	m := NewManagerWithTransport(transport, testConfig())

	if m.IsOpen() {
		t.Error("window open initially")
	}
	m.OpenChat()
	if !m.IsOpen() {
		t.Error("OpenChat did not open")
	}
	m.CloseChat()
	if m.IsOpen() {
		t.Error("CloseChat did not close")
	}
	if !m.ToggleOpen() || !m.IsOpen() {
		t.Error("ToggleOpen did not open")
	}
}

func TestCloseChatDoesNotCancelStream(t *testing.T) {
	resp := newChanResponse()
	transport := newFakeTransport(func(chatbot.Request) (Response, error) {
		return resp, nil
	})
	m := NewManagerWithTransport(transport, testConfig())
	m.OpenChat()
	m.SendMessage("go")

	resp.ch <- "still "
	m.CloseChat()
	resp.ch <- "streaming"

	waitFor(t, func() bool {
		msgs := m.Messages()
		return msgs[len(msgs)-1].Content == "still streaming"
	}, "stream to continue while minimized")

	close(resp.ch)
	m.Wait()
}

func TestOnChangeFires(t *testing.T) {
	transport := newFakeTransport(func(chatbot.Request) (Response, error) {
		return &scriptedResponse{chunks: []string{"x"}}, nil
	})
	var mu sync.Mutex
	calls := 0
	cfg := testConfig()
	cfg.OnChange = func() {
		mu.Lock()
		calls++
		mu.Unlock()
	}
	m := NewManagerWithTransport(transport, cfg)

	m.SendMessage("go")
	m.Wait()

	mu.Lock()
	defer mu.Unlock()
	if calls == 0 {
		t.Error("OnChange never fired")
	}
}
