package transcript

import "github.com/voxbridge/voxbridge/pkg/types"

// DefaultHistoryLimit caps retained conversation entries per session.
const DefaultHistoryLimit = 50

// History is the bounded, append-only conversation record of one session.
// Oldest entries are dropped once the limit is reached. Not safe for
// concurrent use; it is owned by the session's processing goroutine.
type History struct {
	limit   int
	entries []types.TranscriptEntry
}

// NewHistory creates a History. limit <= 0 selects DefaultHistoryLimit.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{limit: limit}
}

// Append records an entry, evicting the oldest when over the limit. The
// retained slice is copied fresh on eviction so dropped entries can be
// collected.
func (h *History) Append(entry types.TranscriptEntry) {
	h.entries = append(h.entries, entry)
	if len(h.entries) > h.limit {
		remaining := make([]types.TranscriptEntry, h.limit)
		copy(remaining, h.entries[len(h.entries)-h.limit:])
		h.entries = remaining
	}
}

// Len returns the number of retained entries.
func (h *History) Len() int { return len(h.entries) }

// Last returns the most recent entry, or false when empty.
func (h *History) Last() (types.TranscriptEntry, bool) {
	if len(h.entries) == 0 {
		return types.TranscriptEntry{}, false
	}
	return h.entries[len(h.entries)-1], true
}

// Entries returns a copy of the retained entries in order.
func (h *History) Entries() []types.TranscriptEntry {
	out := make([]types.TranscriptEntry, len(h.entries))
	copy(out, h.entries)
	return out
}
