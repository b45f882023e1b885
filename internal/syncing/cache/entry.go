package cache

import "time"

// Entry is a stored cache record. The payload is the JSON encoding of the
// cached value, zstd-compressed when it crossed the compression threshold.
type Entry struct {
	Key          string
	Payload      []byte
	Compressed   bool
	RawSize      int
	CreatedAt    time.Time
	ExpiresAt    time.Time
	AccessCount  int64
	LastAccessed time.Time
	Tags         []string
	Version      int
}

// Size returns the stored payload size in bytes.
func (e *Entry) Size() int {
	return len(e.Payload)
}

// Expired reports whether the entry is past its TTL at the given instant.
// Expired entries are treated as absent even if still physically present.
func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// HasTag reports whether the entry carries the given tag.
func (e *Entry) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
