package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karibu-capital/greenscore-cli/internal/model"
)

func TestChain_NextLinksEntries(t *testing.T) {
	c := NewChain("test-key")

	e1, err := c.Next(nil, "user-1", "auto_apply", map[string]any{"score": 52.0})
	require.NoError(t, err)
	assert.Equal(t, 1, e1.Seq)
	assert.Equal(t, "genesis", e1.PrevHash)
	assert.NotEmpty(t, e1.Hash)

	e2, err := c.Next(e1, "user-1", "review_decision", map[string]any{"decision": "approved"})
	require.NoError(t, err)
	assert.Equal(t, 2, e2.Seq)
	assert.Equal(t, e1.Hash, e2.PrevHash)
	assert.NotEqual(t, e1.Hash, e2.Hash)
}

func TestChain_VerifyDetectsTampering(t *testing.T) {
	c := NewChain("test-key")

	e1, err := c.Next(nil, "user-1", "auto_apply", map[string]any{"score": 52.0})
	require.NoError(t, err)
	e2, err := c.Next(e1, "user-1", "review_decision", map[string]any{"decision": "approved"})
	require.NoError(t, err)

	require.NoError(t, c.Verify([]Entry{*e1, *e2}))

	// Mutating a payload breaks the chain at that entry.
	tampered := *e1
	tampered.Payload = []byte(`{"score":99.0}`)
	err = c.Verify([]Entry{tampered, *e2})
	var iv *model.IntegrityViolationError
	require.ErrorAs(t, err, &iv)
	assert.Equal(t, 1, iv.Seq)
	assert.Equal(t, "user-1", iv.UserID)
}

func TestChain_VerifyDetectsDroppedEntry(t *testing.T) {
	c := NewChain("test-key")

	e1, err := c.Next(nil, "user-1", "auto_apply", 1)
	require.NoError(t, err)
	e2, err := c.Next(e1, "user-1", "auto_apply", 2)
	require.NoError(t, err)
	e3, err := c.Next(e2, "user-1", "auto_apply", 3)
	require.NoError(t, err)

	err = c.Verify([]Entry{*e1, *e3})
	var iv *model.IntegrityViolationError
	require.ErrorAs(t, err, &iv)
}

func TestChain_VerifyWrongKey(t *testing.T) {
	signer := NewChain("real-key")
	e1, err := signer.Next(nil, "user-1", "auto_apply", 1)
	require.NoError(t, err)

	verifier := NewChain("other-key")
	assert.Error(t, verifier.Verify([]Entry{*e1}))
}

func TestChain_VerifyEmpty(t *testing.T) {
	c := NewChain("k")
	assert.NoError(t, c.Verify(nil))
}
