// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

const (
	// EventBuildStream requests the build log of a context version.
	EventBuildStream = "build-stream"

	// EventLogStream requests the stdout/stderr of a running container.
	EventLogStream = "log-stream"

	// EventTerminalStream requests an interactive shell in a container.
	EventTerminalStream = "terminal-stream"

	// EventTerminalStreamCreated is sent by the server once the terminal
	// substream accepts input.
	EventTerminalStreamCreated = "TERMINAL_STREAM_CREATED"

	// EventError is a server side failure of the connection.
	EventError = "error"

	// BuildCompletedMarker is contained in the final log record of a
	// successful build.
	BuildCompletedMarker = "Build completed"

	// BuildLogTypeLog is the record type of plain build log lines.
	BuildLogTypeLog = "log"
)

// controlFrame is a request on the parent channel of a connection.
type controlFrame struct {
	ID    uint64      `json:"id"`
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// substreamFrame carries data to or from a substream.
type substreamFrame struct {
	Substream string        `json:"substream"`
	Args      []interface{} `json:"args"`
}

// inboundFrame is the union of everything the server sends.
type inboundFrame struct {
	Substream string            `json:"substream"`
	Args      []json.RawMessage `json:"args"`
	ID        json.RawMessage   `json:"id"`
	Event     string            `json:"event"`
	Data      json.RawMessage   `json:"data"`
	Error     json.RawMessage   `json:"error"`
}

func (f *inboundFrame) hasError() bool {
	e := bytes.TrimSpace(f.Error)
	return len(e) > 0 && !bytes.Equal(e, []byte("null"))
}

// BuildStreamRequest is the data of a build-stream control frame.
type BuildStreamRequest struct {
	ID       string `json:"id"`
	StreamID string `json:"streamId"`
}

// LogStreamRequest is the data of a log-stream control frame.
type LogStreamRequest struct {
	ContainerID string `json:"containerId"`
	DockHost    string `json:"dockHost"`
	SubstreamID string `json:"substreamId"`
}

// TerminalStreamRequest is the data of a terminal-stream control frame.
type TerminalStreamRequest struct {
	ContainerID      string `json:"containerId"`
	DockHost         string `json:"dockHost"`
	TerminalStreamID string `json:"terminalStreamId"`
	EventStreamID    string `json:"eventStreamId"`
	IsDebugContainer bool   `json:"isDebugContainer"`
}

// StreamEvent is a message on the parent channel of a connection.
type StreamEvent struct {
	Event string
	Data  map[string]interface{}
}

// Decode decodes the event data into out.
func (e *StreamEvent) Decode(out interface{}) error {
	return decodeLoose(e.Data, out)
}

// TerminalStreamCreated is the data of a TERMINAL_STREAM_CREATED event.
type TerminalStreamCreated struct {
	SubstreamID string `mapstructure:"substreamId"`
}

// StreamError is a failure reported by the server on the parent channel.
type StreamError struct {
	Event   string
	Message string
}

func (e *StreamError) Error() string {
	if e.Event != "" && e.Event != EventError {
		return fmt.Sprintf("stream error on %q: %s", e.Event, e.Message)
	}
	return fmt.Sprintf("stream error: %s", e.Message)
}

// newStreamError builds a StreamError from an error frame. The error field
// is either a string or an object with a message.
func newStreamError(f *inboundFrame) *StreamError {
	raw := f.Error
	if !f.hasError() {
		raw = f.Data
	}
	se := &StreamError{Event: f.Event, Message: string(bytes.TrimSpace(raw))}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		se.Message = s
		return se
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		se.Message = obj.Message
	}
	if se.Message == "" {
		se.Message = "unknown error"
	}
	return se
}

// BuildLog is a single record of a build log substream.
type BuildLog struct {
	Type      string `mapstructure:"type"`
	Content   string `mapstructure:"content"`
	Timestamp string `mapstructure:"timestamp"`
}

// IsCompleted reports whether the record marks a finished build.
func (l BuildLog) IsCompleted() bool {
	return l.Type == BuildLogTypeLog && strings.Contains(l.Content, BuildCompletedMarker)
}

// DecodeBuildLogs decodes a build log payload, which carries either a
// single record or an array of records.
func DecodeBuildLogs(payload json.RawMessage) ([]BuildLog, error) {
	var raw interface{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("invalid build log payload: %w", err)
	}
	// some servers double encode the records
	if s, ok := raw.(string); ok {
		if err := json.Unmarshal([]byte(s), &raw); err != nil {
			return []BuildLog{{Type: BuildLogTypeLog, Content: s}}, nil
		}
	}

	var logs []BuildLog
	switch v := raw.(type) {
	case []interface{}:
		if err := decodeLoose(v, &logs); err != nil {
			return nil, err
		}
	case map[string]interface{}:
		var l BuildLog
		if err := decodeLoose(v, &l); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	default:
		return nil, fmt.Errorf("unexpected build log payload %T", raw)
	}
	return logs, nil
}

// DecodeOutput decodes a log or terminal payload into text. Payloads are
// JSON strings; anything else is returned verbatim.
func DecodeOutput(payload json.RawMessage) string {
	var s string
	if err := json.Unmarshal(payload, &s); err == nil {
		return s
	}
	return string(payload)
}

func decodeLoose(in, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}
