package logging

import (
	"regexp"
	"strings"
	"sync"
)

// recentBufferCapacity bounds the in-memory log history.
const recentBufferCapacity = 500

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// RecentBuffer is a fixed-capacity ring of the most recent log lines.
// It implements io.Writer so it can sit behind an io.MultiWriter; each
// Write is treated as a single line.
type RecentBuffer struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

func NewRecentBuffer(capacity int) *RecentBuffer {
	if capacity <= 0 {
		capacity = recentBufferCapacity
	}
	return &RecentBuffer{lines: make([]string, capacity)}
}

func (b *RecentBuffer) Write(p []byte) (int, error) {
	line := strings.TrimRight(ansiEscape.ReplaceAllString(string(p), ""), "\n")
	if line == "" {
		return len(p), nil
	}

	b.mu.Lock()
	b.lines[b.next] = line
	b.next = (b.next + 1) % len(b.lines)
	if b.next == 0 {
		b.full = true
	}
	b.mu.Unlock()

	return len(p), nil
}

// Snapshot returns up to limit of the most recent lines, oldest first.
// A non-positive limit returns everything retained.
func (b *RecentBuffer) Snapshot(limit int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var ordered []string
	if b.full {
		ordered = append(ordered, b.lines[b.next:]...)
		ordered = append(ordered, b.lines[:b.next]...)
	} else {
		ordered = append(ordered, b.lines[:b.next]...)
	}

	if limit > 0 && len(ordered) > limit {
		ordered = ordered[len(ordered)-limit:]
	}
	return ordered
}

// Len reports how many lines are currently retained.
func (b *RecentBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.full {
		return len(b.lines)
	}
	return b.next
}
