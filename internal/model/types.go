package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle state of an intercepted call.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// InterceptedCall is one reviewable provider call awaiting (or past) a human decision.
type InterceptedCall struct {
	ID        string            `json:"id"`
	Method    string            `json:"method"`
	Params    []json.RawMessage `json:"params"`
	Origin    string            `json:"origin"`
	Timestamp time.Time         `json:"timestamp"`
	Status    Status            `json:"status"`
	TabID     string            `json:"tabId,omitempty"`
	Reason    string            `json:"reason,omitempty"` // set on terminal entries: "expired", "cleared", "timeout"
}

// Validate checks the fields every component relies on.
func (c InterceptedCall) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("call id must not be empty")
	}
	if c.Method == "" {
		return fmt.Errorf("call %s: method must not be empty", c.ID)
	}
	if !c.Status.Valid() {
		return fmt.Errorf("call %s: invalid status %q", c.ID, c.Status)
	}
	return nil
}

// Decision carries the human verdict for one call id.
type Decision struct {
	ID       string `json:"id"`
	Approved bool   `json:"approved"`
}

// StatusFor maps an approval flag to its terminal status.
func StatusFor(approved bool) Status {
	if approved {
		return StatusApproved
	}
	return StatusRejected
}

// SplitParams decodes a JSON-RPC params value into an ordered argument list.
// A non-array value becomes a single argument; empty or null input yields nil.
func SplitParams(raw json.RawMessage) []json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	return []json.RawMessage{raw}
}
