// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/snoop/api"
)

// DefaultFrameTimeout bounds how long a FakeStream waits for the client.
const DefaultFrameTimeout = 5 * time.Second

// Frame is a message the client sent on a stream connection.
type Frame struct {
	ID        uint64                 `json:"id"`
	Event     string                 `json:"event"`
	Data      map[string]interface{} `json:"data"`
	Substream string                 `json:"substream"`
	Args      []json.RawMessage      `json:"args"`
}

// Arg decodes the first substream argument as a string.
func (f *Frame) Arg() string {
	if len(f.Args) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(f.Args[0], &s); err != nil {
		return string(f.Args[0])
	}
	return s
}

// DataString returns a string field of the control data.
func (f *Frame) DataString(key string) string {
	s, _ := f.Data[key].(string)
	return s
}

// FakeStream is the server side of a stream connection.
type FakeStream struct {
	ws *websocket.Conn

	writeLock sync.Mutex
	frames    chan *Frame
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeStream(ws *websocket.Conn) *FakeStream {
	s := &FakeStream{
		ws:     ws,
		frames: make(chan *Frame, 64),
		done:   make(chan struct{}),
	}
	go s.read()
	return s
}

func (s *FakeStream) read() {
	defer close(s.done)
	defer close(s.frames)
	for {
		_, msg, err := s.ws.ReadMessage()
		if err != nil {
			return
		}
		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil {
			continue
		}
		s.frames <- &f
	}
}

// Next returns the next frame sent by the client, failing the test if none
// arrives in time.
func (s *FakeStream) Next(t testing.TB) *Frame {
	t.Helper()
	select {
	case f, ok := <-s.frames:
		if !ok {
			t.Fatalf("stream closed while waiting for a frame")
		}
		return f
	case <-time.After(DefaultFrameTimeout):
		t.Fatalf("timed out waiting for a frame")
	}
	return nil
}

// Frames yields every frame sent by the client and is closed when the
// connection goes away.
func (s *FakeStream) Frames() <-chan *Frame {
	return s.frames
}

// ExpectControl returns the next frame, failing the test unless it is a
// control request of the given kind.
func (s *FakeStream) ExpectControl(t testing.TB, event string) *Frame {
	t.Helper()
	f := s.Next(t)
	if f.Event != event {
		t.Fatalf("expected control %q, got %+v", event, f)
	}
	return f
}

// ExpectNone fails the test if the client sends a frame within d.
func (s *FakeStream) ExpectNone(t testing.TB, d time.Duration) {
	t.Helper()
	select {
	case f, ok := <-s.frames:
		if ok {
			t.Fatalf("unexpected frame %+v", f)
		}
	case <-time.After(d):
	}
}

// Send writes an arbitrary JSON message to the client.
func (s *FakeStream) Send(v interface{}) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()
	return s.ws.WriteJSON(v)
}

// SendSubstream writes payloads addressed to token.
func (s *FakeStream) SendSubstream(token string, args ...interface{}) error {
	return s.Send(map[string]interface{}{
		"substream": token,
		"args":      args,
	})
}

// SendEvent writes a parent channel event.
func (s *FakeStream) SendEvent(event string, data interface{}) error {
	return s.Send(map[string]interface{}{
		"event": event,
		"data":  data,
	})
}

// SendError writes a parent channel message carrying a top level error.
func (s *FakeStream) SendError(message string) error {
	return s.Send(map[string]interface{}{
		"error": message,
	})
}

// Disconnect drops the connection without a close handshake.
func (s *FakeStream) Disconnect() {
	s.closeOnce.Do(func() {
		_ = s.ws.Close()
	})
}

// Wait blocks until the client side has gone away.
func (s *FakeStream) Wait(t testing.TB) {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(DefaultFrameTimeout):
		t.Fatalf("timed out waiting for the client to disconnect")
	}
}

// Healthy describes what Autorespond sends back.
type Healthy struct {
	// BuildLog is the content of the single build log record.
	BuildLog string

	// Output is sent on every log stream.
	Output string

	// Terminal is sent after a command is written to a terminal.
	Terminal string
}

// Autorespond answers every stream connection on the platform the way a
// healthy container would, until the platform is closed.
func (p *Platform) Autorespond(h Healthy) {
	go func() {
		for {
			select {
			case <-p.stop:
				return
			case fs := <-p.streams:
				go fs.respond(h)
			}
		}
	}()
}

func (s *FakeStream) respond(h Healthy) {
	for f := range s.frames {
		var err error
		switch {
		case f.Event == api.EventBuildStream:
			err = s.SendSubstream(f.DataString("streamId"), map[string]string{
				"type":    api.BuildLogTypeLog,
				"content": h.BuildLog,
			})
		case f.Event == api.EventLogStream:
			err = s.SendSubstream(f.DataString("substreamId"), h.Output)
		case f.Event == api.EventTerminalStream:
			err = s.SendEvent(api.EventTerminalStreamCreated, map[string]string{
				"substreamId": f.DataString("terminalStreamId"),
			})
		case f.Substream != "":
			err = s.SendSubstream(f.Substream, h.Terminal)
		}
		if err != nil {
			return
		}
	}
}
