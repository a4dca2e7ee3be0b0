// Package audit implements the hash-chained decision log. Every review
// decision and auto-apply appends an entry whose digest covers the previous
// entry's digest, so any tampering with history is detectable.
package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/karibu-capital/greenscore-cli/internal/model"
)

// Entry is one immutable link in a user's audit chain.
type Entry struct {
	UserID    string          `json:"user_id"`
	Seq       int             `json:"seq"`
	Action    string          `json:"action"` // "auto_apply", "review_decision", "credit_created", "credit_issued"
	Payload   json.RawMessage `json:"payload"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
	CreatedAt time.Time       `json:"created_at"`
}

// Chain computes and verifies entry digests with a keyed hash.
type Chain struct {
	key []byte
}

// NewChain creates a Chain with the given HMAC key.
func NewChain(key string) *Chain {
	return &Chain{key: []byte(key)}
}

// genesisHash anchors the first entry of every user's chain.
const genesisHash = "genesis"

// Next builds the entry following prev (nil for the first entry of a user).
// The digest covers the previous hash and the canonical payload bytes.
func (c *Chain) Next(prev *Entry, userID, action string, payload any) (*Entry, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "audit: marshal payload")
	}

	prevHash := genesisHash
	seq := 1
	if prev != nil {
		prevHash = prev.Hash
		seq = prev.Seq + 1
	}

	e := &Entry{
		UserID:    userID,
		Seq:       seq,
		Action:    action,
		Payload:   raw,
		PrevHash:  prevHash,
		CreatedAt: time.Now().UTC(),
	}
	e.Hash = c.digest(e)
	return e, nil
}

// Verify walks a user's entries in sequence order and returns an
// IntegrityViolationError at the first broken link.
func (c *Chain) Verify(entries []Entry) error {
	prevHash := genesisHash
	for i, e := range entries {
		if e.PrevHash != prevHash || e.Hash != c.digest(&e) {
			return &model.IntegrityViolationError{UserID: e.UserID, Seq: e.Seq}
		}
		if e.Seq != i+1 {
			return &model.IntegrityViolationError{UserID: e.UserID, Seq: e.Seq}
		}
		prevHash = e.Hash
	}
	return nil
}

func (c *Chain) digest(e *Entry) string {
	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(e.PrevHash))
	mac.Write(e.Payload)
	return hex.EncodeToString(mac.Sum(nil))
}
