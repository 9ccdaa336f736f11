// Package hosttest provides an in-memory host implementation that records every call,
// for testing code written against the host interfaces without a GPU.
package hosttest

import (
	"fmt"
	"strings"
	"sync"
)

// Journal is an ordered, concurrency-safe log of host calls.
type Journal struct {
	mu     sync.Mutex
	events []string
}

// Record appends a formatted event.
func (j *Journal) Record(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, fmt.Sprintf(format, args...))
}

// Events returns a copy of every recorded event.
func (j *Journal) Events() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.events))
	copy(out, j.events)
	return out
}

// Count returns how many events start with prefix.
func (j *Journal) Count(prefix string) int {
	n := 0
	for _, e := range j.Events() {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

// First returns the index of the first event starting with prefix, or -1.
func (j *Journal) First(prefix string) int {
	for i, e := range j.Events() {
		if strings.HasPrefix(e, prefix) {
			return i
		}
	}
	return -1
}

// Last returns the index of the last event starting with prefix, or -1.
func (j *Journal) Last(prefix string) int {
	events := j.Events()
	for i := len(events) - 1; i >= 0; i-- {
		if strings.HasPrefix(events[i], prefix) {
			return i
		}
	}
	return -1
}
