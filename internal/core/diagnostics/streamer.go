// Package diagnostics implements the adapter's internal log/event
// streaming: a ring-buffer of recent entries with pub-sub subscriber
// channels, holding interpreter console output and adapter diagnostics.
package diagnostics

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one diagnostic or console-output record.
type Entry struct {
	ID        string
	Timestamp time.Time
	Category  string // "stdout", "stderr", "console", "internal"
	Text      string
}

// Streamer is a fixed-size ring buffer of Entry values with optional
// real-time subscribers.
type Streamer struct {
	mu         sync.RWMutex
	buffer     []*Entry
	bufferSize int
	head       int
	count      int

	subscribers map[string]chan *Entry
	subMu       sync.RWMutex
}

// NewStreamer returns a streamer with the given ring-buffer capacity.
func NewStreamer(bufferSize int) *Streamer {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &Streamer{
		buffer:      make([]*Entry, bufferSize),
		bufferSize:  bufferSize,
		subscribers: make(map[string]chan *Entry),
	}
}

// Add appends a new entry, assigning it an id and timestamp, and fans it
// out to every live subscriber.
func (s *Streamer) Add(category, text string) *Entry {
	entry := &Entry{ID: uuid.New().String(), Timestamp: time.Now(), Category: category, Text: text}

	s.mu.Lock()
	s.buffer[s.head] = entry
	s.head = (s.head + 1) % s.bufferSize
	if s.count < s.bufferSize {
		s.count++
	}
	s.mu.Unlock()

	s.notifySubscribers(entry)
	return entry
}

// GetAll returns every buffered entry, oldest first.
func (s *Streamer) GetAll() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Entry, 0, s.count)
	start := 0
	if s.count == s.bufferSize {
		start = s.head
	}
	for i := 0; i < s.count; i++ {
		idx := (start + i) % s.bufferSize
		if s.buffer[idx] != nil {
			result = append(result, s.buffer[idx])
		}
	}
	return result
}

// Count reports how many entries are currently buffered.
func (s *Streamer) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Subscribe returns a subscription id and a channel that receives every
// entry added from this point on.
func (s *Streamer) Subscribe() (string, <-chan *Entry) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := uuid.New().String()
	ch := make(chan *Entry, 100)
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe closes and removes a subscription.
func (s *Streamer) Unsubscribe(id string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

func (s *Streamer) notifySubscribers(entry *Entry) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	for _, ch := range s.subscribers {
		select {
		case ch <- entry:
		default:
		}
	}
}
