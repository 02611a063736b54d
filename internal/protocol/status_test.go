package protocol_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yudai-dev/yudai/internal/domain"
	"github.com/yudai-dev/yudai/internal/protocol"
)

func TestStatusWriter_WritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	w := protocol.NewStatusWriter(&buf)

	w.OnStepStart(1)
	w.OnAction(1, domain.Action{Tool: "bash", Command: "ls"})
	w.OnObservation(1, domain.Observation{Command: "ls", ReturnCode: 0, Output: "a\n"})
	w.OnRecovered(2, &domain.FormatError{Message: "bad format"})
	w.OnRunComplete(domain.RunResult{ExitStatus: domain.ExitSubmitted, Submission: "done"})

	msgs, err := protocol.ParseStatusStream(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, msgs, 5)

	assert.Equal(t, protocol.MsgStepStarted, msgs[0].Type)
	assert.Equal(t, 1, msgs[0].Step)

	assert.Equal(t, protocol.MsgAction, msgs[1].Type)
	assert.Equal(t, "ls", msgs[1].Command)

	assert.Equal(t, protocol.MsgObservation, msgs[2].Type)
	require.NotNil(t, msgs[2].ReturnCode)
	assert.Equal(t, 0, *msgs[2].ReturnCode)

	assert.Equal(t, protocol.MsgRecovered, msgs[3].Type)
	assert.Equal(t, "FormatError", msgs[3].Result)
	assert.Equal(t, "bad format", msgs[3].Message)

	assert.Equal(t, protocol.MsgRunCompleted, msgs[4].Type)
	assert.Equal(t, "Submitted", msgs[4].Result)
	assert.False(t, msgs[4].Timestamp.IsZero())
}

func TestStatusWriter_LogAndError(t *testing.T) {
	var buf bytes.Buffer
	w := protocol.NewStatusWriter(&buf)

	w.Log("starting")
	w.Error("boom")

	msgs, err := protocol.ParseStatusStream(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, protocol.MsgLog, msgs[0].Type)
	assert.Equal(t, protocol.MsgError, msgs[1].Type)
	assert.Equal(t, "boom", msgs[1].Message)
}

func TestParseStatusStream_Invalid(t *testing.T) {
	_, err := protocol.ParseStatusStream([]byte("{not json}\n"))
	assert.Error(t, err)
}
