// Package audit provides a tamper-evident audit log using hash chaining.
// Every mutation gets an entry linked to its predecessor's hash, the
// finer-grained counterpart to cap-table snapshots.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is a single audit log entry. Before and After carry the change
// payload as JSON; either may be empty.
type Entry struct {
	ID           string `json:"id"`
	Timestamp    string `json:"timestamp"`
	Actor        string `json:"actor"`
	Action       string `json:"action"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	Before       string `json:"before,omitempty"`
	After        string `json:"after,omitempty"`
	PreviousHash string `json:"previous_hash"`
	Hash         string `json:"hash"`
}

// Recorder appends hash-chained audit entries. It is safe for concurrent
// use.
type Recorder struct {
	mu           sync.Mutex
	previousHash string
	entries      []*Entry
}

// NewRecorder creates a recorder initialized with a zero hash.
func NewRecorder() *Recorder {
	return &Recorder{previousHash: strings.Repeat("0", 64)}
}

// Record appends a new entry to the chain. Before and After are marshaled
// to JSON; marshal failures degrade to a formatted placeholder rather than
// losing the entry.
func (r *Recorder) Record(actor, action, resourceType, resourceID string, before, after any) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := &Entry{
		ID:           uuid.NewString(),
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
		Actor:        actor,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Before:       marshalPayload(before),
		After:        marshalPayload(after),
		PreviousHash: r.previousHash,
	}
	entry.Hash = entryHash(entry)

	r.previousHash = entry.Hash
	r.entries = append(r.entries, entry)
	return entry
}

// Entries returns a copy of the recorded chain in append order.
func (r *Recorder) Entries() []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// VerifyChain checks that a slice of entries forms a valid hash chain:
// every stored hash matches its recomputation and every entry links to its
// predecessor.
func VerifyChain(entries []*Entry) bool {
	for i, entry := range entries {
		if i > 0 && entry.PreviousHash != entries[i-1].Hash {
			return false
		}
		if entryHash(entry) != entry.Hash {
			return false
		}
	}
	return true
}

func marshalPayload(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(b)
}

func entryHash(e *Entry) string {
	input := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s|%s",
		e.PreviousHash, e.Timestamp, e.Actor, e.Action, e.ResourceType, e.ResourceID, e.Before, e.After)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
