package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// AuditEvent is one entry of a run's append-only audit trail. Events are
// totally ordered by Seq and hash-chained through PrevHash.
type AuditEvent struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id"`
	Seq       int64           `json:"seq"`
	Stage     EventType       `json:"stage"`
	FromState RunState        `json:"from_state"`
	ToState   RunState        `json:"to_state"`
	Actor     string          `json:"actor"`
	Payload   json.RawMessage `json:"payload"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
	CreatedAt time.Time       `json:"created_at"`
}

type hashedFields struct {
	RunID     string          `json:"run_id"`
	Seq       int64           `json:"seq"`
	Stage     EventType       `json:"stage"`
	FromState RunState        `json:"from_state"`
	ToState   RunState        `json:"to_state"`
	Actor     string          `json:"actor"`
	Payload   json.RawMessage `json:"payload"`
	PrevHash  string          `json:"prev_hash"`
	CreatedAt string          `json:"created_at"`
}

// ComputeHash returns the SHA-256 digest binding the event to its predecessor.
func (e *AuditEvent) ComputeHash() string {
	payload := e.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	b, _ := json.Marshal(hashedFields{
		RunID:     e.RunID,
		Seq:       e.Seq,
		Stage:     e.Stage,
		FromState: e.FromState,
		ToState:   e.ToState,
		Actor:     e.Actor,
		Payload:   payload,
		PrevHash:  e.PrevHash,
		CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// NewAuditEvent builds the next event of a run's chain and seals it.
func NewAuditEvent(run *Run, stage EventType, from, to RunState, actor string, payload any, now time.Time) (*AuditEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", stage, err)
	}
	e := &AuditEvent{
		ID:        NewID(),
		RunID:     run.ID,
		Seq:       run.AuditSeq + 1,
		Stage:     stage,
		FromState: from,
		ToState:   to,
		Actor:     actor,
		Payload:   raw,
		PrevHash:  run.AuditHead,
		CreatedAt: now.UTC(),
	}
	e.Hash = e.ComputeHash()
	return e, nil
}

// VerifyChain checks sequence continuity and hash links of a run's trail.
func VerifyChain(events []AuditEvent) error {
	prev := ""
	for i := range events {
		e := &events[i]
		if e.Seq != int64(i+1) {
			return fmt.Errorf("audit event %s: expected seq %d, got %d", e.ID, i+1, e.Seq)
		}
		if e.PrevHash != prev {
			return fmt.Errorf("audit event %d: broken chain link", e.Seq)
		}
		if e.ComputeHash() != e.Hash {
			return fmt.Errorf("audit event %d: hash mismatch", e.Seq)
		}
		prev = e.Hash
	}
	return nil
}
