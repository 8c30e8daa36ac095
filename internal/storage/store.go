package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
)

// ErrNotFound is returned when no data exists for a conversation id.
var ErrNotFound = errors.New("conversation not found")

// TranscriptEntry is one stored conversation turn.
type TranscriptEntry struct {
	Message   *schema.Message `json:"message"`
	Timestamp time.Time       `json:"timestamp"`
}

// ConversationStore is the narrow read/write interface the core needs from
// a transcript/snapshot store. Implementations must tolerate unknown ids.
type ConversationStore interface {
	AppendMessage(ctx context.Context, conversationID string, msg *schema.Message) error
	History(ctx context.Context, conversationID string) ([]*schema.Message, error)
	SaveSnapshot(ctx context.Context, conversationID string, snapshot any) error
	LoadSnapshot(ctx context.Context, conversationID string, dest any) error
	Delete(ctx context.Context, conversationID string) error
}

// MemoryStore is the in-memory default. Suitable for tests and for
// embedding the core as a plain library.
type MemoryStore struct {
	mu          sync.RWMutex
	transcripts map[string][]TranscriptEntry
	snapshots   map[string][]byte
	ttl         time.Duration
	touched     map[string]time.Time
}

// NewMemoryStore creates an in-memory store. A zero ttl disables expiry.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		transcripts: make(map[string][]TranscriptEntry),
		snapshots:   make(map[string][]byte),
		ttl:         ttl,
		touched:     make(map[string]time.Time),
	}
}

func (m *MemoryStore) AppendMessage(ctx context.Context, conversationID string, msg *schema.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(conversationID)
	m.transcripts[conversationID] = append(m.transcripts[conversationID], TranscriptEntry{
		Message:   msg,
		Timestamp: time.Now(),
	})
	m.touched[conversationID] = time.Now()
	return nil
}

func (m *MemoryStore) History(ctx context.Context, conversationID string) ([]*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(conversationID)
	entries, ok := m.transcripts[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]*schema.Message, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Message)
	}
	m.touched[conversationID] = time.Now()
	return out, nil
}

func (m *MemoryStore) SaveSnapshot(ctx context.Context, conversationID string, snapshot any) error {
	data, err := marshalSnapshot(snapshot)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[conversationID] = data
	m.touched[conversationID] = time.Now()
	return nil
}

func (m *MemoryStore) LoadSnapshot(ctx context.Context, conversationID string, dest any) error {
	m.mu.RLock()
	data, ok := m.snapshots[conversationID]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	return unmarshalSnapshot(data, dest)
}

func (m *MemoryStore) Delete(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.transcripts, conversationID)
	delete(m.snapshots, conversationID)
	delete(m.touched, conversationID)
	return nil
}

func (m *MemoryStore) expireLocked(conversationID string) {
	if m.ttl == 0 {
		return
	}
	if last, ok := m.touched[conversationID]; ok && time.Since(last) > m.ttl {
		delete(m.transcripts, conversationID)
		delete(m.snapshots, conversationID)
		delete(m.touched, conversationID)
	}
}
