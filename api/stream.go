// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	hclog "github.com/hashicorp/go-hclog"
)

var (
	// ErrStreamDisconnected is latched when the websocket is lost.
	ErrStreamDisconnected = errors.New("stream disconnected")

	// ErrStreamClosed is returned once Close has been called.
	ErrStreamClosed = errors.New("stream closed")

	// ErrSubstreamExists is returned when a token is registered twice on the
	// same connection.
	ErrSubstreamExists = errors.New("substream already exists")
)

const (
	streamHandshakeTimeout = 45 * time.Second
	streamCloseGrace       = time.Second
)

// Stream opens a multiplexed connection to the socket server using the
// client's session.
func (c *Client) Stream(ctx context.Context) (*StreamConn, error) {
	sid := c.SessionID()
	if sid == "" {
		return nil, ErrNotAuthenticated
	}

	u, err := url.Parse(c.config.SocketAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid socket address %q: %w", c.config.SocketAddress, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	header := http.Header{}
	header.Set("User-Agent", DefaultUserAgent)
	header.Set("Cookie", (&http.Cookie{Name: SessionCookie, Value: sid}).String())

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: streamHandshakeTimeout,
	}
	if t, ok := c.httpClient.Transport.(*http.Transport); ok && t.TLSClientConfig != nil {
		dialer.TLSClientConfig = t.TLSClientConfig.Clone()
	}

	ws, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, newUnexpectedResponseError(resp, []int{http.StatusSwitchingProtocols})
		}
		return nil, fmt.Errorf("failed to dial stream: %w", err)
	}
	return NewStreamConn(ws, c.logger.Named("stream")), nil
}

// StreamConn multiplexes substreams over a single websocket. A single reader
// goroutine dispatches inbound frames by substream token, in arrival order.
//
// The first failure observed on the connection is latched: Done is closed
// and Err returns it from then on. Readers blocked on a substream or a
// subscription are released with that error.
type StreamConn struct {
	ws     *websocket.Conn
	logger hclog.Logger

	writeLock sync.Mutex
	nextID    atomic.Uint64

	lock        sync.Mutex
	substreams  map[string]*Substream
	subscribers map[*Subscription]struct{}
	err         error

	done       chan struct{}
	readerDone chan struct{}
	closeOnce  sync.Once
}

// NewStreamConn wraps an established websocket and starts its reader.
func NewStreamConn(ws *websocket.Conn, logger hclog.Logger) *StreamConn {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	c := &StreamConn{
		ws:          ws,
		logger:      logger,
		substreams:  make(map[string]*Substream),
		subscribers: make(map[*Subscription]struct{}),
		done:        make(chan struct{}),
		readerDone:  make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Done is closed once the connection has failed or been closed.
func (c *StreamConn) Done() <-chan struct{} {
	return c.done
}

// Err returns the latched failure, or nil while the connection is healthy.
func (c *StreamConn) Err() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.err
}

// fail latches err if no failure has been recorded yet.
func (c *StreamConn) fail(err error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.err != nil {
		return
	}
	c.err = err
	close(c.done)
	if !errors.Is(err, ErrStreamClosed) {
		c.logger.Debug("stream failed", "error", err)
	}
}

// Close closes the websocket and waits for the reader to exit. It is safe to
// call more than once.
func (c *StreamConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.fail(ErrStreamClosed)

		c.writeLock.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(streamCloseGrace))
		c.writeLock.Unlock()

		err = c.ws.Close()
		<-c.readerDone
	})
	return err
}

// Substream registers token and returns its reader. Frames addressed to
// token that arrive before registration are dropped.
func (c *StreamConn) Substream(token string) (*Substream, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if _, ok := c.substreams[token]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSubstreamExists, token)
	}
	s := &Substream{conn: c, token: token}
	s.queue.init()
	c.substreams[token] = s
	return s, nil
}

// Subscribe returns a reader of every parent channel event received from now
// on.
func (c *StreamConn) Subscribe() *Subscription {
	c.lock.Lock()
	defer c.lock.Unlock()
	s := &Subscription{conn: c}
	s.queue.init()
	c.subscribers[s] = struct{}{}
	return s
}

// WriteControl sends a control request on the parent channel.
func (c *StreamConn) WriteControl(event string, data interface{}) error {
	return c.writeJSON(&controlFrame{
		ID:    c.nextID.Add(1),
		Event: event,
		Data:  data,
	})
}

func (c *StreamConn) writeJSON(v interface{}) error {
	if err := c.Err(); err != nil {
		return err
	}
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	if err := c.ws.WriteJSON(v); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

func (c *StreamConn) readLoop() {
	defer close(c.readerDone)
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			// drop websocket code, not relevant to callers
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Text != "" {
				err = errors.New(closeErr.Text)
			}
			c.fail(fmt.Errorf("%w: %v", ErrStreamDisconnected, err))
			return
		}
		c.dispatch(msg)
	}
}

func (c *StreamConn) dispatch(msg []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		c.logger.Debug("dropping malformed frame", "error", err)
		return
	}

	if frame.Substream != "" {
		c.lock.Lock()
		s, ok := c.substreams[frame.Substream]
		c.lock.Unlock()
		if !ok {
			c.logger.Trace("dropping frame for unknown substream", "substream", frame.Substream)
			return
		}
		for _, arg := range frame.Args {
			s.queue.push(arg)
		}
		return
	}

	if frame.hasError() || frame.Event == EventError {
		c.fail(newStreamError(&frame))
	}

	event := &StreamEvent{Event: frame.Event}
	if len(frame.Data) > 0 {
		// data is not always an object; non-object data is ignored
		_ = json.Unmarshal(frame.Data, &event.Data)
	}
	c.lock.Lock()
	for s := range c.subscribers {
		s.queue.push(event)
	}
	c.lock.Unlock()
}

func (c *StreamConn) remove(token string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	delete(c.substreams, token)
}

func (c *StreamConn) unsubscribe(s *Subscription) {
	c.lock.Lock()
	defer c.lock.Unlock()
	delete(c.subscribers, s)
}

// Substream is the reader and writer of a single token on a StreamConn.
type Substream struct {
	conn  *StreamConn
	token string
	queue queue[json.RawMessage]
}

// Token returns the token the substream is addressed by.
func (s *Substream) Token() string {
	return s.token
}

// Next returns the next payload addressed to the substream, blocking until
// one arrives, the connection fails or ctx is done. Payloads already queued
// are delivered before the connection failure.
func (s *Substream) Next(ctx context.Context) (json.RawMessage, error) {
	return s.queue.next(ctx, s.conn)
}

// Write sends data to the server on the substream.
func (s *Substream) Write(data interface{}) error {
	return s.conn.writeJSON(&substreamFrame{
		Substream: s.token,
		Args:      []interface{}{data},
	})
}

// Close unregisters the substream. Later frames for its token are dropped.
func (s *Substream) Close() {
	s.conn.remove(s.token)
}

// Subscription reads the parent channel events of a StreamConn.
type Subscription struct {
	conn  *StreamConn
	queue queue[*StreamEvent]
}

// Next returns the next parent channel event.
func (s *Subscription) Next(ctx context.Context) (*StreamEvent, error) {
	return s.queue.next(ctx, s.conn)
}

// Close stops delivery to the subscription.
func (s *Subscription) Close() {
	s.conn.unsubscribe(s)
}

// queue is an unbounded FIFO so the reader never blocks on a slow consumer.
type queue[T any] struct {
	lock   sync.Mutex
	items  []T
	notify chan struct{}
}

func (q *queue[T]) init() {
	q.notify = make(chan struct{}, 1)
}

func (q *queue[T]) push(v T) {
	q.lock.Lock()
	q.items = append(q.items, v)
	q.lock.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *queue[T]) pop() (T, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return v, true
}

// drain discards everything queued so far and returns how many items
// were dropped.
func (q *queue[T]) drain() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	n := len(q.items)
	clear(q.items)
	q.items = q.items[:0]
	return n
}

func (q *queue[T]) next(ctx context.Context, conn *StreamConn) (T, error) {
	var zero T
	for {
		if v, ok := q.pop(); ok {
			return v, nil
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-conn.Done():
			// the reader may have queued items before failing
			if v, ok := q.pop(); ok {
				return v, nil
			}
			return zero, conn.Err()
		case <-q.notify:
		}
	}
}

// BuildStream subscribes token to the build log of a context version.
func (c *StreamConn) BuildStream(contextVersionID, token string) (*Substream, error) {
	s, err := c.Substream(token)
	if err != nil {
		return nil, err
	}
	err = c.WriteControl(EventBuildStream, &BuildStreamRequest{
		ID:       contextVersionID,
		StreamID: token,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// LogStream subscribes token to the output of a container.
func (c *StreamConn) LogStream(containerID, dockHost, token string) (*Substream, error) {
	s, err := c.Substream(token)
	if err != nil {
		return nil, err
	}
	err = c.WriteControl(EventLogStream, &LogStreamRequest{
		ContainerID: containerID,
		DockHost:    dockHost,
		SubstreamID: token,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// TerminalStream opens a shell in a container on token and writes command
// once the server reports the terminal ready. It blocks until the command
// is written. Output received before the command is discarded, so the
// returned substream only carries what follows it.
func (c *StreamConn) TerminalStream(ctx context.Context, containerID, dockHost, token, command string) (*Substream, error) {
	s, err := c.Substream(token)
	if err != nil {
		return nil, err
	}
	events := c.Subscribe()
	defer events.Close()

	err = c.WriteControl(EventTerminalStream, &TerminalStreamRequest{
		ContainerID:      containerID,
		DockHost:         dockHost,
		TerminalStreamID: token,
		EventStreamID:    token + "-events",
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	for {
		ev, err := events.Next(ctx)
		if err != nil {
			s.Close()
			return nil, err
		}
		if ev.Event != EventTerminalStreamCreated {
			continue
		}
		var created TerminalStreamCreated
		if err := ev.Decode(&created); err != nil {
			c.logger.Debug("ignoring malformed terminal event", "error", err)
			continue
		}
		if created.SubstreamID != token {
			continue
		}
		break
	}

	if n := s.queue.drain(); n > 0 {
		c.logger.Trace("dropped output before command", "substream", token, "payloads", n)
	}
	c.logger.Trace("terminal ready", "substream", token)
	if err := s.Write(command); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}
