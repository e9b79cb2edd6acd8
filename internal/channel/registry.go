// Package channel wraps the vendor event stream behind a scoped listener
// registry. Consumers register a handler set under a scope id they own;
// the gateway dispatches every decoded event to all registered sets.
// Relevance filtering (membership tests) is the consumer's job, not ours.
package channel

import (
	"sync"

	"github.com/andrelmm/convo/internal/chatsdk"
)

// Handlers is the set of callbacks a scope can register. Nil entries are
// skipped during dispatch.
type Handlers struct {
	OnMessage        func(*chatsdk.Message)
	OnMessageEdited  func(*chatsdk.Message)
	OnMessageDeleted func(*chatsdk.Message)
	OnReceipt        func(*chatsdk.Receipt)
	OnTypingStarted  func(*chatsdk.Typing)
	OnTypingEnded    func(*chatsdk.Typing)
	OnCallOffered    func(*chatsdk.CallOffer)
	OnCallEnded      func(*chatsdk.CallEnd)
	OnUserJoined     func(*chatsdk.CallParty)
	OnUserLeft       func(*chatsdk.CallParty)
}

// Registry is a pure registration table keyed by scope id.
type Registry struct {
	mu     sync.RWMutex
	scopes map[string]Handlers
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{scopes: make(map[string]Handlers)}
}

// Subscribe registers handlers under scopeID. Re-subscribing an existing
// scope replaces the previous registration rather than stacking a second
// one, so a remounting screen never double-delivers.
func (r *Registry) Subscribe(scopeID string, h Handlers) {
	r.mu.Lock()
	r.scopes[scopeID] = h
	r.mu.Unlock()
}

// Unsubscribe removes a scope. Unknown scope ids are a no-op so teardown
// paths stay safe even when the original subscribe never happened.
func (r *Registry) Unsubscribe(scopeID string) {
	r.mu.Lock()
	delete(r.scopes, scopeID)
	r.mu.Unlock()
}

// Count returns the number of registered scopes.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.scopes)
}

func (r *Registry) snapshot() []Handlers {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Handlers, 0, len(r.scopes))
	for _, h := range r.scopes {
		out = append(out, h)
	}
	return out
}

// DispatchMessage fans a received message out to every scope.
func (r *Registry) DispatchMessage(m *chatsdk.Message) {
	for _, h := range r.snapshot() {
		if h.OnMessage != nil {
			h.OnMessage(m)
		}
	}
}

// DispatchMessageEdited fans out an edit event.
func (r *Registry) DispatchMessageEdited(m *chatsdk.Message) {
	for _, h := range r.snapshot() {
		if h.OnMessageEdited != nil {
			h.OnMessageEdited(m)
		}
	}
}

// DispatchMessageDeleted fans out a delete-for-everyone event.
func (r *Registry) DispatchMessageDeleted(m *chatsdk.Message) {
	for _, h := range r.snapshot() {
		if h.OnMessageDeleted != nil {
			h.OnMessageDeleted(m)
		}
	}
}

// DispatchReceipt fans out a delivery/read receipt.
func (r *Registry) DispatchReceipt(rc *chatsdk.Receipt) {
	for _, h := range r.snapshot() {
		if h.OnReceipt != nil {
			h.OnReceipt(rc)
		}
	}
}

// DispatchTyping fans out a typing start/stop signal.
func (r *Registry) DispatchTyping(t *chatsdk.Typing, started bool) {
	for _, h := range r.snapshot() {
		if started && h.OnTypingStarted != nil {
			h.OnTypingStarted(t)
		}
		if !started && h.OnTypingEnded != nil {
			h.OnTypingEnded(t)
		}
	}
}

// DispatchCallOffered fans out an incoming call offer.
func (r *Registry) DispatchCallOffered(o *chatsdk.CallOffer) {
	for _, h := range r.snapshot() {
		if h.OnCallOffered != nil {
			h.OnCallOffered(o)
		}
	}
}

// DispatchCallEnded fans out a remote session end.
func (r *Registry) DispatchCallEnded(e *chatsdk.CallEnd) {
	for _, h := range r.snapshot() {
		if h.OnCallEnded != nil {
			h.OnCallEnded(e)
		}
	}
}

// DispatchUserJoined fans out a participant join.
func (r *Registry) DispatchUserJoined(p *chatsdk.CallParty) {
	for _, h := range r.snapshot() {
		if h.OnUserJoined != nil {
			h.OnUserJoined(p)
		}
	}
}

// DispatchUserLeft fans out a participant leave.
func (r *Registry) DispatchUserLeft(p *chatsdk.CallParty) {
	for _, h := range r.snapshot() {
		if h.OnUserLeft != nil {
			h.OnUserLeft(p)
		}
	}
}
