package node_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/nodewatch/pkg/node"
)

func TestHistory_PutAppendsThenReplacesSameType(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var h node.History
	h = h.Put(node.Event{Type: node.EventReadied, Agent: "system", Instant: base})
	require.Len(t, h, 1)

	h = h.Put(node.Event{Type: node.EventActivated, Agent: "system", Instant: base.Add(time.Minute)})
	require.Len(t, h, 2)

	replaced := base.Add(2 * time.Minute)
	h = h.Put(node.Event{Type: node.EventReadied, Agent: "system", Instant: replaced})
	require.Len(t, h, 2, "replacing an existing type must not grow the history")

	at, ok := h.At(node.EventReadied)
	require.True(t, ok)
	assert.Equal(t, replaced, at)

	events := h.Events()
	assert.Equal(t, node.EventReadied, events[0].Type, "replace keeps first-occurrence order")
	assert.Equal(t, node.EventActivated, events[1].Type)
}

func TestHistory_RemoveDeletesOnlyMatchingType(t *testing.T) {
	now := time.Now()
	var h node.History
	h = h.Put(node.Event{Type: node.EventDown, Instant: now})
	h = h.Put(node.Event{Type: node.EventRequested, Instant: now})

	h = h.Remove(node.EventDown)

	assert.False(t, h.Has(node.EventDown))
	assert.True(t, h.Has(node.EventRequested))
}

func TestHistory_RemoveOnAbsentTypeIsNoop(t *testing.T) {
	var h node.History
	h = h.Put(node.Event{Type: node.EventRequested, Instant: time.Now()})

	before := len(h)
	h = h.Remove(node.EventDown)

	assert.Len(t, h, before)
}

func TestHistory_OlderThan(t *testing.T) {
	cutoff := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	var h node.History
	h = h.Put(node.Event{Type: node.EventDown, Instant: cutoff.Add(-time.Hour)})
	assert.True(t, h.OlderThan(node.EventDown, cutoff))

	h = h.Put(node.Event{Type: node.EventDown, Instant: cutoff.Add(time.Hour)})
	assert.False(t, h.OlderThan(node.EventDown, cutoff))

	assert.False(t, h.OlderThan(node.EventFailed, cutoff), "absent event type is never older than cutoff")
}

func TestHistory_HasAndMostRecentOnEmptyHistory(t *testing.T) {
	var h node.History

	assert.False(t, h.Has(node.EventProvisioned))
	_, ok := h.MostRecent(node.EventProvisioned)
	assert.False(t, ok)
	_, ok = h.At(node.EventProvisioned)
	assert.False(t, ok)
}
