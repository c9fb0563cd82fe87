package audit

// Event names recorded in the audit log.
const (
	EventPending  = "pending"
	EventApproved = "approved"
	EventRejected = "rejected"
	EventExpired  = "expired"
	EventCleared  = "cleared"
)

// Call is the flattened call recorded with each entry.
type Call struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Origin string `json:"origin"`
	TabID  string `json:"tab_id,omitempty"`
}

// Entry is one line in the hash-chained JSONL audit log.
// Only structs and scalars, so json.Marshal output is stable for hashing.
type Entry struct {
	Timestamp string `json:"ts"`
	Event     string `json:"event"`
	Call      Call   `json:"call"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	Actor     string `json:"actor,omitempty"`
	PrevHash  string `json:"prev_hash"`
}
