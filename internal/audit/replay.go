package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Filter selects entries for Replay. Zero fields match everything.
type Filter struct {
	CallID string
	Origin string
	From   time.Time
	To     time.Time
}

// Summary counts events in a replay.
type Summary struct {
	Total          int    `json:"total"`
	Pending        int    `json:"pending"`
	Approved       int    `json:"approved"`
	Rejected       int    `json:"rejected"`
	Expired        int    `json:"expired"`
	Cleared        int    `json:"cleared"`
	FirstTimestamp string `json:"first_timestamp,omitempty"`
	LastTimestamp  string `json:"last_timestamp,omitempty"`
}

// ReplayResult holds matched entries and their summary.
type ReplayResult struct {
	Filter  Filter  `json:"-"`
	Entries []Entry `json:"entries"`
	Summary Summary `json:"summary"`
}

// Replay reads the log at path and returns the entries matching f.
// Malformed lines are skipped; use Verify to detect them.
func Replay(path string, f Filter) (*ReplayResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer file.Close()

	result := &ReplayResult{Filter: f}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		if !f.matches(e) {
			continue
		}
		result.Entries = append(result.Entries, e)
		result.Summary.add(e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return result, nil
}

func (f Filter) matches(e Entry) bool {
	if f.CallID != "" && e.Call.ID != f.CallID {
		return false
	}
	if f.Origin != "" && e.Call.Origin != f.Origin {
		return false
	}
	if f.From.IsZero() && f.To.IsZero() {
		return true
	}
	ts, err := time.Parse(TimestampFormat, e.Timestamp)
	if err != nil {
		return false
	}
	if !f.From.IsZero() && ts.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ts.After(f.To) {
		return false
	}
	return true
}

func (s *Summary) add(e Entry) {
	s.Total++
	switch e.Event {
	case EventPending:
		s.Pending++
	case EventApproved:
		s.Approved++
	case EventRejected:
		s.Rejected++
	case EventExpired:
		s.Expired++
	case EventCleared:
		s.Cleared++
	}
	if s.FirstTimestamp == "" {
		s.FirstTimestamp = e.Timestamp
	}
	s.LastTimestamp = e.Timestamp
}
