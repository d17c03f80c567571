// Package worker runs the tabular decoder off the caller's goroutine and
// reports back through a channel of tagged messages.
//
// A decode unit receives exactly one Command and emits zero or more progress
// messages followed by exactly one terminal message (parsed or error). The
// same protocol is available out of process through Serve, which speaks
// newline-delimited JSON over a reader/writer pair.
package worker

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sarir/personnel-import/internal/tabular"
)

// CommandType selects the decode path.
type CommandType string

const (
	CmdParseText   CommandType = "parse-text"
	CmdParseBinary CommandType = "parse-binary"

	// cmdParseArrayBuffer is the older name browsers send for binary input.
	cmdParseArrayBuffer CommandType = "parse-arraybuffer"
)

// Command is the single inbound message of a decode unit.
type Command struct {
	Type   CommandType
	Text   string
	IsTSV  bool
	Binary []byte
}

// ParseText builds a text command.
func ParseText(text string, isTSV bool) Command {
	return Command{Type: CmdParseText, Text: text, IsTSV: isTSV}
}

// ParseBinary builds a workbook command.
func ParseBinary(data []byte) Command {
	return Command{Type: CmdParseBinary, Binary: data}
}

// ErrUnknownCommand is returned for a command type the worker does not handle.
var ErrUnknownCommand = errors.New("unknown worker command")

// Payload converts the command into a decoder payload.
func (c Command) Payload() (tabular.Payload, error) {
	switch c.Type {
	case CmdParseText:
		return tabular.TextPayload(c.Text, c.IsTSV), nil
	case CmdParseBinary, cmdParseArrayBuffer:
		return tabular.BinaryPayload(c.Binary), nil
	default:
		return tabular.Payload{}, fmt.Errorf("%w: %q", ErrUnknownCommand, c.Type)
	}
}

type textPayloadJSON struct {
	Text  string `json:"text"`
	IsTSV bool   `json:"isTSV"`
}

type commandJSON struct {
	Type    CommandType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalJSON encodes {"type":..., "payload":...}. Binary payloads are base64.
func (c Command) MarshalJSON() ([]byte, error) {
	var payload any
	switch c.Type {
	case CmdParseText:
		payload = textPayloadJSON{Text: c.Text, IsTSV: c.IsTSV}
	default:
		payload = c.Binary
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(commandJSON{Type: c.Type, Payload: raw})
}

// UnmarshalJSON decodes the wire form written by MarshalJSON.
func (c *Command) UnmarshalJSON(data []byte) error {
	var wire commandJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	*c = Command{Type: wire.Type}
	if len(wire.Payload) == 0 {
		return nil
	}

	switch wire.Type {
	case CmdParseText:
		var p textPayloadJSON
		if err := json.Unmarshal(wire.Payload, &p); err != nil {
			return fmt.Errorf("parse-text payload: %w", err)
		}
		c.Text, c.IsTSV = p.Text, p.IsTSV
	case CmdParseBinary, cmdParseArrayBuffer:
		if err := json.Unmarshal(wire.Payload, &c.Binary); err != nil {
			return fmt.Errorf("%s payload: %w", wire.Type, err)
		}
	}
	return nil
}

// MessageType tags an outbound message.
type MessageType string

const (
	MsgProgress MessageType = "progress"
	MsgParsed   MessageType = "parsed"
	MsgError    MessageType = "error"
)

// Phase names the stage a progress message belongs to.
type Phase string

const (
	PhaseReading Phase = "reading"
	PhaseParsing Phase = "parsing"
)

// Progress is one progress checkpoint. Percent is 0..100 and never decreases
// within a phase of one import.
type Progress struct {
	Phase   Phase `json:"phase"`
	Percent int   `json:"progress"`
}

// Message is one outbound message of a decode unit.
type Message struct {
	Type     MessageType
	Phase    Phase
	Progress int
	Result   *tabular.Result
	Error    string
}

// Terminal reports whether m ends the unit's stream.
func (m Message) Terminal() bool {
	return m.Type == MsgParsed || m.Type == MsgError
}

// ProgressEvent returns the progress carried by a progress message.
func (m Message) ProgressEvent() Progress {
	return Progress{Phase: m.Phase, Percent: m.Progress}
}

type errorPayloadJSON struct {
	Error string `json:"error"`
}

type messageJSON struct {
	Type     MessageType     `json:"type"`
	Phase    Phase           `json:"phase,omitempty"`
	Progress *int            `json:"progress,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// MarshalJSON writes the wire shapes:
//
//	{"type":"progress","phase":"parsing","progress":40}
//	{"type":"parsed","payload":{"headers":[...],"rows":[...]}}
//	{"type":"error","payload":{"error":"..."}}
func (m Message) MarshalJSON() ([]byte, error) {
	wire := messageJSON{Type: m.Type}
	switch m.Type {
	case MsgProgress:
		pct := m.Progress
		wire.Phase = m.Phase
		wire.Progress = &pct
	case MsgParsed:
		raw, err := json.Marshal(m.Result)
		if err != nil {
			return nil, err
		}
		wire.Payload = raw
	case MsgError:
		raw, err := json.Marshal(errorPayloadJSON{Error: m.Error})
		if err != nil {
			return nil, err
		}
		wire.Payload = raw
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes the wire shapes written by MarshalJSON.
func (m *Message) UnmarshalJSON(data []byte) error {
	var wire messageJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	*m = Message{Type: wire.Type, Phase: wire.Phase}
	if wire.Progress != nil {
		m.Progress = *wire.Progress
	}

	switch wire.Type {
	case MsgParsed:
		var res tabular.Result
		if err := json.Unmarshal(wire.Payload, &res); err != nil {
			return fmt.Errorf("parsed payload: %w", err)
		}
		m.Result = &res
	case MsgError:
		var p errorPayloadJSON
		if err := json.Unmarshal(wire.Payload, &p); err != nil {
			return fmt.Errorf("error payload: %w", err)
		}
		m.Error = p.Error
	}
	return nil
}
