package whatsapp

import (
	"context"
	"sync"
	"time"

	"go.mau.fi/whatsmeow/types"
)

// presenceTracker remembers the last typing state sent per chat so the
// adapter does not spam presence updates during bursts of outbound messages.
// Entries decay after the WhatsApp typing-indicator window.
type presenceTracker struct {
	mu    sync.Mutex
	state map[string]time.Time
}

const composingWindow = 10 * time.Second

func newPresenceTracker() *presenceTracker {
	return &presenceTracker{state: make(map[string]time.Time)}
}

// shouldSend reports whether a composing update is due for the chat, and
// records it as sent.
func (p *presenceTracker) shouldSend(chat string) bool {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	if at, ok := p.state[chat]; ok && now.Sub(at) < composingWindow {
		return false
	}
	p.state[chat] = now
	return true
}

func (p *presenceTracker) clear(chat string) {
	p.mu.Lock()
	delete(p.state, chat)
	p.mu.Unlock()
}

// typing flags the chat as composing just before a send; done reverts it.
// Both are best effort, a missed indicator never fails a message.
func (a *Adapter) typing(ctx context.Context, jid types.JID) {
	if !a.presence.shouldSend(jid.User) {
		return
	}
	_ = a.client.SendChatPresence(ctx, jid, types.ChatPresenceComposing, types.ChatPresenceMediaText)
}

func (a *Adapter) done(ctx context.Context, jid types.JID) {
	a.presence.clear(jid.User)
	_ = a.client.SendChatPresence(ctx, jid, types.ChatPresencePaused, types.ChatPresenceMediaText)
}
