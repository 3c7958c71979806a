package session

import (
	"sort"
	"sync"
	"time"

	"github.com/storacha-rag/ragbot/pkg/conversation"
)

// Role is the author of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageKind is the rendering type of a transcript message.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
)

// Message is one rendered transcript entry. Image messages carry base64 content.
type Message struct {
	Role      Role        `json:"role"`
	Kind      MessageKind `json:"kind"`
	Content   string      `json:"content"`
	FileName  string      `json:"file_name,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Session is the conversation context of one user on one channel.
type Session struct {
	Key       string
	CreatedAt time.Time

	mu        sync.Mutex
	state     conversation.State
	version   uint64
	messages  []Message
	updatedAt time.Time
	safeMode  bool
}

func newSession(key string, safeMode bool) *Session {
	now := time.Now()
	return &Session{
		Key:       key,
		CreatedAt: now,
		state:     conversation.Idle,
		updatedAt: now,
		safeMode:  safeMode,
	}
}

// Tx gives exclusive access to a session inside Session.Update.
type Tx struct {
	s *Session
}

// State returns the current workflow state.
func (tx *Tx) State() conversation.State { return tx.s.state }

// Version returns the session generation. Effects record it when dispatched
// and drop their result if it changed by the time they complete.
func (tx *Tx) Version() uint64 { return tx.s.version }

// SetState records an accepted transition.
func (tx *Tx) SetState(st conversation.State) {
	tx.s.state = st
	tx.s.updatedAt = time.Now()
}

// Invalidate starts a new generation so in-flight effects are discarded.
func (tx *Tx) Invalidate() uint64 {
	tx.s.version++
	tx.s.updatedAt = time.Now()
	return tx.s.version
}

// Append adds a message to the transcript.
func (tx *Tx) Append(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	tx.s.messages = append(tx.s.messages, msg)
	tx.s.updatedAt = time.Now()
}

// SafeMode returns the vision safety flag for this session.
func (tx *Tx) SafeMode() bool { return tx.s.safeMode }

// Update runs fn while holding the session lock. Calls for the same session
// never interleave; fn must not block on I/O.
func (s *Session) Update(fn func(tx *Tx)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&Tx{s: s})
}

// State returns the current workflow state.
func (s *Session) State() conversation.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Version returns the session generation.
func (s *Session) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Transcript returns a copy of the messages in insertion order.
func (s *Session) Transcript() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// UpdatedAt returns the time of the last mutation.
func (s *Session) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

// SafeMode returns the vision safety flag.
func (s *Session) SafeMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.safeMode
}

// SetSafeMode toggles the vision safety flag.
func (s *Session) SetSafeMode(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.safeMode = on
	s.updatedAt = time.Now()
}

// retire invalidates in-flight effects of a session that leaves the store.
func (s *Session) retire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = conversation.Idle
	s.version++
}

// Manager is the in-memory session store. The map is guarded by one lock;
// each session serializes its own mutations so unrelated users never wait on
// each other.
type Manager struct {
	safeMode bool

	mu    sync.RWMutex
	cache map[string]*Session
}

// Option configures a Manager.
type Option func(*Manager)

// WithSafeMode sets the safety flag new sessions start with.
func WithSafeMode(on bool) Option {
	return func(m *Manager) { m.safeMode = on }
}

// NewManager creates an empty session store. Sessions start in safe mode.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		safeMode: true,
		cache:    make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetOrCreate returns the session for key, creating it on first use. Repeated
// calls return the same *Session.
func (m *Manager) GetOrCreate(key string) *Session {
	m.mu.RLock()
	s, ok := m.cache[key]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.cache[key]; ok {
		return s
	}
	s = newSession(key, m.safeMode)
	m.cache[key] = s
	return s
}

// Append adds msg to the transcript of key.
func (m *Manager) Append(key string, msg Message) {
	m.GetOrCreate(key).Update(func(tx *Tx) { tx.Append(msg) })
}

// SetState moves the session of key to st.
func (m *Manager) SetState(key string, st conversation.State) {
	m.GetOrCreate(key).Update(func(tx *Tx) { tx.SetState(st) })
}

// Clear drops the session of key. A later GetOrCreate starts from scratch.
func (m *Manager) Clear(key string) {
	m.mu.Lock()
	s, ok := m.cache[key]
	delete(m.cache, key)
	m.mu.Unlock()
	if ok {
		s.retire()
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cache)
}

// Keys returns the live session keys, sorted.
func (m *Manager) Keys() []string {
	m.mu.RLock()
	keys := make([]string, 0, len(m.cache))
	for k := range m.cache {
		keys = append(keys, k)
	}
	m.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// EvictIdle drops sessions untouched since now-ttl and returns their keys.
func (m *Manager) EvictIdle(ttl time.Duration, now time.Time) []string {
	cutoff := now.Add(-ttl)

	m.mu.Lock()
	var stale []*Session
	for k, s := range m.cache {
		if s.UpdatedAt().Before(cutoff) {
			stale = append(stale, s)
			delete(m.cache, k)
		}
	}
	m.mu.Unlock()

	keys := make([]string, 0, len(stale))
	for _, s := range stale {
		s.retire()
		keys = append(keys, s.Key)
	}
	sort.Strings(keys)
	return keys
}
