// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nvalden/sitechat/internal/chatbot"
	"github.com/nvalden/sitechat/internal/model"
)

// Defaults for session behavior.
const (
	// DefaultGreeting opens every fresh conversation.
	DefaultGreeting = "Hi! I'm the site assistant. Ask me anything about the posts here."

	// FailureNotice is appended as an assistant message when a send fails
	// for any reason other than deliberate cancellation.
	FailureNotice = "Sorry, I ran into a problem answering that. Please try again in a moment."

	// DefaultStallTimeout bounds the wait for each individual chunk. A
	// stream that stalls longer is treated as failed instead of holding
	// the typing state forever.
	DefaultStallTimeout = 2 * time.Minute
)

var (
	// ErrSendInFlight is returned by ResetSession while a send is active.
	ErrSendInFlight = errors.New("send in flight")

	// ErrStreamStalled indicates no chunk arrived within the stall timeout.
	ErrStreamStalled = errors.New("stream stalled")
)

// =============================================================================
// TRANSPORT BOUNDARY
// =============================================================================

// Response is one streamed reply, consumed chunk by chunk until io.EOF.
type Response interface {
	Recv(ctx context.Context) (string, error)
	Close() error
}

// Transport issues one network exchange per user turn. It never mutates
// session state; *chatbot.Client backs it in production.
type Transport interface {
	Send(ctx context.Context, r chatbot.Request) (Response, error)
	SessionID() string
	ResetSession() string
}

// clientTransport adapts chatbot.Client's concrete stream to Response.
type clientTransport struct {
	c *chatbot.Client
}

func (t clientTransport) Send(ctx context.Context, r chatbot.Request) (Response, error) {
	stream, err := t.c.Send(ctx, r)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (t clientTransport) SessionID() string    { return t.c.SessionID() }
func (t clientTransport) ResetSession() string { return t.c.ResetSession() }

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds configuration for the session manager.
type Config struct {
	// MaxMessages bounds the conversation; oldest messages are evicted
	// first. Zero selects model.DefaultMaxMessages.
	MaxMessages int

	// Greeting is the assistant message shown in a fresh conversation.
	// Empty selects DefaultGreeting.
	Greeting string

	// StallTimeout is the per-chunk idle bound for a streaming reply.
	// Zero selects DefaultStallTimeout; negative disables the bound.
	StallTimeout time.Duration

	// OnChange is invoked after every state change, outside the manager's
	// lock. UI layers use it to schedule a re-render. May be nil.
	OnChange func()
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		MaxMessages:  model.DefaultMaxMessages,
		Greeting:     DefaultGreeting,
		StallTimeout: DefaultStallTimeout,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxMessages <= 0 {
		c.MaxMessages = model.DefaultMaxMessages
	}
	if c.Greeting == "" {
		c.Greeting = DefaultGreeting
	}
	if c.StallTimeout == 0 {
		c.StallTimeout = DefaultStallTimeout
	}
	return c
}

// =============================================================================
// SESSION MANAGER
// =============================================================================

// Manager is the sole owner of one chat window's conversation state.
// All methods are safe for concurrent use; streaming replies are applied by
// a background goroutine under the same lock.
type Manager struct {
	mu sync.Mutex

	transport Transport
	cfg       Config
	conv      *model.Conversation

	typing bool
	open   bool
	closed bool

	// Context attachment for the next outgoing message. Cleared only by
	// explicit caller action, never automatically after a send.
	contextText string
	hasContext  bool

	// gen identifies the current send; a superseded stream observes a
	// newer gen and stops touching state.
	gen uint64

	// epoch identifies the current conversation. ClearMessages bumps it so
	// chunks of a reply that predates the clear are dropped instead of
	// repopulating the fresh conversation.
	epoch uint64

	cancelMgr *cancelManager
	wg        sync.WaitGroup
}

// NewManager creates a manager backed by the given chat client.
func NewManager(client *chatbot.Client, cfg Config) *Manager {
	return NewManagerWithTransport(clientTransport{c: client}, cfg)
}

// NewManagerWithTransport creates a manager with an explicit transport.
func NewManagerWithTransport(t Transport, cfg Config) *Manager {
	cfg = cfg.withDefaults()
	conv := model.NewConversation(cfg.MaxMessages)
	conv.Reset(cfg.Greeting)
	return &Manager{
		transport: t,
		cfg:       cfg,
		conv:      conv,
		cancelMgr: newCancelManager(),
	}
}

// notify runs the change callback outside the lock.
func (m *Manager) notify() {
	if m.cfg.OnChange != nil {
		m.cfg.OnChange()
	}
}

// =============================================================================
// SENDING
// =============================================================================

// SendMessage starts a new turn with the given user text.
//
// It reports false without side effects when text is blank, a send is
// already in progress, or the manager is closed. When a context attachment
// is held, the outgoing message is the attachment framed as a labeled quote
// followed by the user's literal text, and the raw attachment travels in the
// request's Ask field. The user message is appended optimistically and is
// never rolled back.
func (m *Manager) SendMessage(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}

	m.mu.Lock()
	if m.typing || m.closed {
		m.mu.Unlock()
		return false
	}

	outgoing := text
	var ask string
	if m.hasContext {
		ask = m.contextText
		outgoing = "About this text: \"" + m.contextText + "\"\n\n" + text
	}

	// History carries only turns finalized before this send.
	history := m.conv.ToHistory()
	m.conv.AddUserMessage(outgoing)
	m.typing = true
	m.gen++
	gen := m.gen
	epoch := m.epoch

	ctx, cancel := context.WithCancel(context.Background())
	// Replaces (and cancels) any leftover handle from a superseded send.
	m.cancelMgr.set(cancel)
	m.mu.Unlock()
	m.notify()

	req := chatbot.Request{
		Message:      outgoing,
		Ask:          ask,
		Conversation: history,
	}

	m.wg.Add(1)
	go m.run(ctx, cancel, gen, epoch, req)
	return true
}

// run performs one exchange and applies the streamed reply.
//
// The stall watchdog cancels this send's own context when no chunk arrives
// within the stall timeout; a stall is reported as a failure, not an abort.
func (m *Manager) run(ctx context.Context, cancel context.CancelFunc, gen, epoch uint64, req chatbot.Request) {
	defer m.wg.Done()
	defer m.settle(gen)

	var stalled atomic.Bool
	var watchdog *time.Timer
	if m.cfg.StallTimeout > 0 {
		watchdog = time.AfterFunc(m.cfg.StallTimeout, func() {
			stalled.Store(true)
			cancel()
		})
		defer watchdog.Stop()
	}

	resp, err := m.transport.Send(ctx, req)
	if err != nil {
		m.fail(ctx, gen, epoch, err, &stalled)
		return
	}
	defer resp.Close()

	started := false
	for {
		chunk, err := resp.Recv(ctx)
		if watchdog != nil {
			watchdog.Reset(m.cfg.StallTimeout)
		}
		if err == io.EOF {
			m.finish(gen, epoch)
			return
		}
		if err != nil {
			m.fail(ctx, gen, epoch, err, &stalled)
			return
		}
		m.apply(gen, epoch, chunk, &started)
	}
}

// apply appends one chunk to the streaming assistant message, creating the
// message on the first chunk. Chunks of a superseded send, or of a reply
// whose conversation was cleared, are dropped.
func (m *Manager) apply(gen, epoch uint64, chunk string, started *bool) {
	m.mu.Lock()
	if m.gen != gen || m.epoch != epoch {
		m.mu.Unlock()
		return
	}
	if !*started {
		m.conv.AddStreamingMessage()
		*started = true
	}
	m.conv.AppendToStreaming(chunk)
	m.mu.Unlock()
	m.notify()
}

// finish marks the streamed reply complete.
func (m *Manager) finish(gen, epoch uint64) {
	m.mu.Lock()
	if m.gen == gen && m.epoch == epoch {
		m.conv.FinalizeStreaming()
	}
	m.mu.Unlock()
	m.notify()
}

// fail records a failed send. Deliberate cancellation is swallowed: the
// partial reply keeps whatever content it had accumulated and no notice is
// appended. Any other error, including a stall, appends the failure notice
// as its own assistant message, leaving a partially-streamed reply untouched.
func (m *Manager) fail(ctx context.Context, gen, epoch uint64, err error, stalled *atomic.Bool) {
	if stalled.Load() {
		err = ErrStreamStalled
	} else if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return
	}

	logrus.WithError(err).Debug("chat send failed")

	m.mu.Lock()
	if m.gen == gen && m.epoch == epoch {
		m.conv.AddMessage(model.NewMessage(model.RoleAssistant, FailureNotice))
	}
	m.mu.Unlock()
	m.notify()
}

// settle is the final step of every send: reset the typing flag and release
// the request handle, regardless of outcome. A superseded send leaves the
// newer send's state alone.
func (m *Manager) settle(gen uint64) {
	m.mu.Lock()
	if m.gen == gen {
		m.typing = false
		m.cancelMgr.cancel()
	}
	m.mu.Unlock()
	m.notify()
}

// CancelActive aborts the in-flight send, if any. The partial reply keeps
// its accumulated content and no error message is appended.
func (m *Manager) CancelActive() {
	m.cancelMgr.cancel()
}

// Wait blocks until any in-flight send has settled. Intended for plain-mode
// callers that consume turns synchronously.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close tears the session down: the in-flight send, if any, is aborted and
// further sends are refused.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancelMgr.cancel()
	m.wg.Wait()
}

// =============================================================================
// CONTEXT ATTACHMENT
// =============================================================================

// SetContext holds a piece of external text (e.g. a highlighted passage)
// to attach to the next outgoing message. The text is not validated or
// transformed.
func (m *Manager) SetContext(text string) {
	m.mu.Lock()
	m.contextText = text
	m.hasContext = true
	m.mu.Unlock()
	m.notify()
}

// ClearContext drops the held attachment.
func (m *Manager) ClearContext() {
	m.mu.Lock()
	m.contextText = ""
	m.hasContext = false
	m.mu.Unlock()
	m.notify()
}

// Context returns the held attachment and whether one is set.
func (m *Manager) Context() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.contextText, m.hasContext
}

// =============================================================================
// STATE ACCESS
// =============================================================================

// Messages returns a point-in-time copy of the conversation. The streaming
// message's content reflects the chunks applied so far.
func (m *Manager) Messages() []model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Message, 0, len(m.conv.Messages))
	for _, msg := range m.conv.Messages {
		out = append(out, model.Message{
			ID:          msg.ID,
			Role:        msg.Role,
			Timestamp:   msg.Timestamp,
			Content:     msg.DisplayContent(),
			IsStreaming: msg.IsStreaming,
		})
	}
	return out
}

// MessageCount returns the current conversation length.
func (m *Manager) MessageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conv.MessageCount()
}

// IsTyping reports whether a send is in progress.
func (m *Manager) IsTyping() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.typing
}

// ClearMessages resets the conversation to the initial greeting. The typing
// flag and any in-flight request are unaffected; chunks belonging to a reply
// whose message was cleared are dropped.
func (m *Manager) ClearMessages() {
	m.mu.Lock()
	m.epoch++
	m.conv.Reset(m.cfg.Greeting)
	m.mu.Unlock()
	m.notify()
}

// RestoreMessages replaces the conversation with previously saved messages,
// resuming an earlier transcript. Refused while a send is in flight.
func (m *Manager) RestoreMessages(msgs []*model.Message) error {
	m.mu.Lock()
	if m.typing {
		m.mu.Unlock()
		return ErrSendInFlight
	}
	m.epoch++
	m.conv.Load(msgs)
	m.mu.Unlock()
	m.notify()
	return nil
}

// SnapshotConversation returns a deep copy of the conversation taken under
// the manager's lock, for persistence while a reply may still be streaming.
// A streaming message is captured with its content so far.
func (m *Manager) SnapshotConversation() *model.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conv.Snapshot()
}

// SessionID returns the transport's session identifier.
func (m *Manager) SessionID() string {
	return m.transport.SessionID()
}

// ResetSession rotates the session identifier. Refused while a send is in
// flight; the old identifier is never reused.
func (m *Manager) ResetSession() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.typing {
		return "", ErrSendInFlight
	}
	return m.transport.ResetSession(), nil
}

// =============================================================================
// WINDOW VISIBILITY
// =============================================================================

// OpenChat shows the chat window.
func (m *Manager) OpenChat() {
	m.setOpen(true)
}

// CloseChat hides the chat window. An in-flight send keeps streaming while
// the window is hidden.
func (m *Manager) CloseChat() {
	m.setOpen(false)
}

// ToggleOpen flips window visibility and returns the new state.
func (m *Manager) ToggleOpen() bool {
	m.mu.Lock()
	m.open = !m.open
	open := m.open
	m.mu.Unlock()
	m.notify()
	return open
}

// IsOpen reports window visibility.
func (m *Manager) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

func (m *Manager) setOpen(open bool) {
	m.mu.Lock()
	m.open = open
	m.mu.Unlock()
	m.notify()
}
