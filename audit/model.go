// audit/model.go
package audit

import "time"

// DecisionLog is one recorded authorization verdict. Reason carries the
// stable error code on denial and is empty on success.
type DecisionLog struct {
	Timestamp  time.Time `json:"timestamp"`
	IdentityID string    `json:"identity_id"`
	Resource   string    `json:"resource"`
	Action     string    `json:"action"`
	Allowed    bool      `json:"allowed"`
	Reason     string    `json:"reason,omitempty"`
	ClientIP   string    `json:"client_ip,omitempty"`
	Path       string    `json:"path,omitempty"`
}

// EventDecision is the event type adapters publish for every verdict.
const EventDecision = "authz.decision"
