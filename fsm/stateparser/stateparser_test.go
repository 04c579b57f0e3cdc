package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/swapbridge/swapbridge/swap"
)

// TestWriteMermaid asserts that the swap diagram is stable and contains the
// main path of an order.
func TestWriteMermaid(t *testing.T) {
	var first, second bytes.Buffer
	require.NoError(t, writeMermaid(&first, swap.GetStates()))
	require.NoError(t, writeMermaid(&second, swap.GetStates()))
	require.Equal(t, first.String(), second.String())

	diagram := first.String()
	require.True(t, strings.HasPrefix(diagram, "```mermaid\n"))
	require.Contains(t, diagram, "Created --> WaitingLocks: OnAgreed\n")
	require.Contains(
		t, diagram,
		"WaitingLocks --> InitiatorLocked: OnInitiatorLockConfirmed\n",
	)
}
