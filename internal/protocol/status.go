package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/yudai-dev/yudai/internal/domain"
)

type MessageType string

const (
	MsgStepStarted  MessageType = "step_started"
	MsgAction       MessageType = "action"
	MsgObservation  MessageType = "observation"
	MsgRecovered    MessageType = "recovered"
	MsgRunCompleted MessageType = "run_completed"
	MsgLog          MessageType = "log"
	MsgError        MessageType = "error"
)

// StatusMessage is one line of the progress stream.
type StatusMessage struct {
	Type       MessageType `json:"type"`
	Step       int         `json:"step,omitempty"`
	Command    string      `json:"command,omitempty"`
	ReturnCode *int        `json:"returncode,omitempty"`
	TimedOut   bool        `json:"timed_out,omitempty"`
	Result     string      `json:"result,omitempty"`
	Message    string      `json:"message,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// StatusWriter emits agent progress as JSON lines.
type StatusWriter struct {
	w   io.Writer
	enc *json.Encoder
}

func NewStatusWriter(w io.Writer) *StatusWriter {
	return &StatusWriter{w: w, enc: json.NewEncoder(w)}
}

func (s *StatusWriter) OnStepStart(step int) {
	s.write(StatusMessage{Type: MsgStepStarted, Step: step})
}

func (s *StatusWriter) OnAction(step int, action domain.Action) {
	s.write(StatusMessage{Type: MsgAction, Step: step, Command: action.Command})
}

func (s *StatusWriter) OnObservation(step int, obs domain.Observation) {
	rc := obs.ReturnCode
	s.write(StatusMessage{Type: MsgObservation, Step: step, Command: obs.Command, ReturnCode: &rc, TimedOut: obs.TimedOut})
}

// OnRecovered reports a format error or user interruption the loop
// continued from.
func (s *StatusWriter) OnRecovered(step int, err error) {
	s.write(StatusMessage{Type: MsgRecovered, Step: step, Result: domain.ExitStatusOf(err), Message: err.Error()})
}

func (s *StatusWriter) OnRunComplete(result domain.RunResult) {
	s.write(StatusMessage{Type: MsgRunCompleted, Result: result.ExitStatus, Message: result.Submission})
}

func (s *StatusWriter) Log(message string) {
	s.write(StatusMessage{Type: MsgLog, Message: message})
}

func (s *StatusWriter) Error(message string) {
	s.write(StatusMessage{Type: MsgError, Message: message})
}

func (s *StatusWriter) write(msg StatusMessage) {
	msg.Timestamp = time.Now()
	_ = s.enc.Encode(msg)
}

func ParseStatusStream(data []byte) ([]StatusMessage, error) {
	var msgs []StatusMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var msg StatusMessage
		if err := dec.Decode(&msg); err != nil {
			return msgs, fmt.Errorf("failed to decode status message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}
