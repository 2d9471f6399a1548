package bot

import "sync"

// ConversationRef is the handle needed to reopen a proactive channel to a
// user's conversation.
type ConversationRef struct {
	Platform       string
	ChannelID      string
	ConversationID string
	UserID         string
	UserName       string
}

// Registry maps user IDs to their most recent conversation reference. It is
// owned by the caller and passed by reference to the turn handlers and the
// scheduler; it grows for the lifetime of the process.
type Registry struct {
	mu   sync.RWMutex
	refs map[string]ConversationRef
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{refs: make(map[string]ConversationRef)}
}

// Register upserts the reference for a user. Last write wins.
func (r *Registry) Register(ref ConversationRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs[ref.UserID] = ref
}

// Lookup returns the most recently registered reference for a user.
func (r *Registry) Lookup(userID string) (ConversationRef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ref, ok := r.refs[userID]
	return ref, ok
}

// All returns a copy of every registered reference.
func (r *Registry) All() []ConversationRef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ConversationRef, 0, len(r.refs))
	for _, ref := range r.refs {
		out = append(out, ref)
	}
	return out
}
