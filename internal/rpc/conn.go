// ABOUTME: Conn is the per-provider actor that owns the stdio pipes.
// ABOUTME: Calls are queued and served one at a time; stray and late lines are discarded.

package rpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/2389/mcp-hub/internal/fault"
)

// DefaultTimeout bounds writing a request and waiting for its response line.
const DefaultTimeout = 10 * time.Second

// maxAbandoned caps how many timed-out request ids are remembered.
const maxAbandoned = 256

// Option configures a Conn.
type Option func(*Conn)

// WithName labels the Conn in logs and errors.
func WithName(name string) Option {
	return func(c *Conn) { c.name = name }
}

// WithTimeout sets the per-call deadline. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Conn) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Conn) {
		if logger != nil {
			c.logger = logger
		}
	}
}

type callResult struct {
	result json.RawMessage
	err    error
}

type pendingCall struct {
	ctx    context.Context
	id     jsonrpc2.ID
	method string
	line   []byte
	notif  bool
	resp   chan callResult
}

func (pc *pendingCall) reply(result json.RawMessage, err error) {
	pc.resp <- callResult{result: result, err: err}
}

type writeRequest struct {
	line    []byte
	written chan error
}

// Conn speaks newline-delimited JSON-RPC with one provider process.
type Conn struct {
	name    string
	timeout time.Duration
	logger  *slog.Logger

	w io.WriteCloser
	r io.Reader

	calls  chan *pendingCall
	writes chan writeRequest
	lines  chan []byte
	done   chan struct{}
	// closed by the loop once it has seen the end of the provider's output
	drained chan struct{}

	closeOnce sync.Once

	// owned by the loop goroutine
	eof       bool
	abandoned map[jsonrpc2.ID]time.Time
}

// NewConn starts serving calls over w (the provider's stdin) and r (its
// stdout). The Conn takes ownership of both; Close closes them.
func NewConn(w io.WriteCloser, r io.Reader, opts ...Option) *Conn {
	c := &Conn{
		name:      "provider",
		timeout:   DefaultTimeout,
		logger:    slog.Default(),
		w:         w,
		r:         r,
		calls:     make(chan *pendingCall),
		writes:    make(chan writeRequest),
		lines:     make(chan []byte),
		done:      make(chan struct{}),
		drained:   make(chan struct{}),
		abandoned: make(map[jsonrpc2.ID]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "rpc", "server", c.name)

	go c.read()
	go c.write()
	go c.loop()
	return c
}

// Call sends method with params and waits for the single response line.
// Calls on the same Conn never overlap; later callers wait in the queue.
func (c *Conn) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := newID()
	line, err := encodeRequest(id, method, params, false)
	if err != nil {
		return nil, fault.Wrap(fault.Internal, err, "encoding %s", method)
	}
	return c.submit(ctx, &pendingCall{ctx: ctx, id: id, method: method, line: line})
}

// Notify sends a notification. It waits its turn in the queue but does not
// wait for any reply.
func (c *Conn) Notify(ctx context.Context, method string, params any) error {
	line, err := encodeRequest(jsonrpc2.ID{}, method, params, true)
	if err != nil {
		return fault.Wrap(fault.Internal, err, "encoding %s", method)
	}
	_, err = c.submit(ctx, &pendingCall{ctx: ctx, method: method, line: line, notif: true})
	return err
}

func (c *Conn) submit(ctx context.Context, pc *pendingCall) (json.RawMessage, error) {
	pc.resp = make(chan callResult, 1)
	select {
	case c.calls <- pc:
	case <-c.done:
		return nil, c.closedError()
	case <-ctx.Done():
		return nil, c.withServer(fault.FromContext(ctx.Err()))
	}
	res := <-pc.resp
	return res.result, res.err
}

// Close stops the Conn and closes both pipes. Queued and in-flight calls fail
// with ServerNotAvailable. Close is idempotent.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.w.Close()
		if rc, ok := c.r.(io.Closer); ok {
			if cerr := rc.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}

// Drain waits up to wait for the provider's output to reach EOF, then closes
// the Conn. A call in flight when the process exits receives the last line
// the provider wrote, or NoResponse, rather than a closed-connection error.
func (c *Conn) Drain(wait time.Duration) error {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-c.drained:
	case <-c.done:
	case <-timer.C:
		c.logger.Warn("provider output still open after exit, closing", "wait", wait)
	}
	return c.Close()
}

// read delivers raw lines from the provider's stdout to the loop.
func (c *Conn) read() {
	defer close(c.lines)
	br := bufio.NewReader(c.r)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			select {
			case c.lines <- line:
			case <-c.done:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				c.logger.Debug("provider output closed", "error", err)
			}
			return
		}
	}
}

// write is the only goroutine that touches the provider's stdin. A write the
// provider never reads stays pending here; later calls time out waiting for
// their turn instead of blocking the loop.
func (c *Conn) write() {
	for {
		select {
		case req := <-c.writes:
			_, err := c.w.Write(req.line)
			req.written <- err
		case <-c.done:
			return
		}
	}
}

func (c *Conn) loop() {
	lines := c.lines
	for {
		select {
		case pc := <-c.calls:
			c.serve(pc)
			if c.eof {
				lines = nil
			}
		case line, ok := <-lines:
			if !ok {
				c.markEOF()
				lines = nil
				continue
			}
			c.discardIdle(line)
		case <-c.done:
			return
		}
	}
}

func (c *Conn) markEOF() {
	if !c.eof {
		c.eof = true
		close(c.drained)
	}
}

func (c *Conn) serve(pc *pendingCall) {
	if err := pc.ctx.Err(); err != nil {
		pc.reply(nil, c.withServer(fault.FromContext(err)))
		return
	}
	if c.eof {
		pc.reply(nil, c.withServer(fault.New(fault.NoResponse, "output stream closed")))
		return
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	if !c.send(pc, timer) {
		return
	}
	if pc.notif {
		c.logger.Debug("→ notification sent", "method", pc.method)
		pc.reply(nil, nil)
		return
	}
	c.logger.Debug("→ request sent", "method", pc.method, "id", pc.id.String())

	for {
		select {
		case line, ok := <-c.lines:
			if !ok {
				c.markEOF()
				pc.reply(nil, c.withServer(fault.New(fault.NoResponse, "output stream closed before %s response", pc.method)))
				return
			}
			result, matched, err := c.match(pc, line)
			if !matched {
				continue
			}
			pc.reply(result, err)
			return

		case <-timer.C:
			c.timedOut(pc, "no response to %s within %s")
			return

		case <-pc.ctx.Done():
			c.abandon(pc.id)
			pc.reply(nil, c.withServer(fault.FromContext(pc.ctx.Err())))
			return

		case <-c.done:
			pc.reply(nil, c.closedError())
			return
		}
	}
}

// send hands pc's line to the writer and waits for it to reach the pipe,
// bounded by the call deadline and pc's context. It replies to pc and returns
// false when the line could not be written.
func (c *Conn) send(pc *pendingCall, timer *time.Timer) bool {
	req := writeRequest{line: pc.line, written: make(chan error, 1)}
	select {
	case c.writes <- req:
	case <-timer.C:
		pc.reply(nil, c.withServer(fault.New(fault.Timeout, "stdin still blocked by an earlier request after %s", c.timeout)))
		return false
	case <-pc.ctx.Done():
		pc.reply(nil, c.withServer(fault.FromContext(pc.ctx.Err())))
		return false
	case <-c.done:
		pc.reply(nil, c.closedError())
		return false
	}

	select {
	case err := <-req.written:
		if err != nil {
			pc.reply(nil, c.withServer(fault.Wrap(fault.NoResponse, err, "writing %s: %v", pc.method, err)))
			return false
		}
		return true
	case <-timer.C:
		c.timedOut(pc, "writing %s did not complete within %s")
	case <-pc.ctx.Done():
		if !pc.notif {
			c.abandon(pc.id)
		}
		pc.reply(nil, c.withServer(fault.FromContext(pc.ctx.Err())))
	case <-c.done:
		pc.reply(nil, c.closedError())
	}
	return false
}

// timedOut abandons pc's id so a late answer is discarded and replies with a
// Timeout. format takes the method and the timeout.
func (c *Conn) timedOut(pc *pendingCall, format string) {
	if !pc.notif {
		c.abandon(pc.id)
	}
	c.logger.Warn("call timed out", "method", pc.method, "id", pc.id.String(), "timeout", c.timeout)
	pc.reply(nil, c.withServer(fault.New(fault.Timeout, format, pc.method, c.timeout)))
}

// match decides whether line answers pc. Blank lines, notifications and late
// answers to abandoned calls are skipped. A response without an id, or with
// an id the Conn never issued, is taken as the answer to the current call.
func (c *Conn) match(pc *pendingCall, line []byte) (json.RawMessage, bool, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, false, nil
	}
	msg, err := decodeMessage(line)
	if err != nil {
		return nil, true, c.tag(err)
	}
	if !msg.isResponse() {
		c.logger.Debug("skipping provider message", "method", msg.Method)
		return nil, false, nil
	}
	if id, ok := msg.id(); ok && id != pc.id {
		if _, late := c.abandoned[id]; late {
			delete(c.abandoned, id)
			c.logger.Warn("discarding late response", "id", id.String(), "waiting_for", pc.id.String())
			return nil, false, nil
		}
		c.logger.Debug("response id does not match request", "id", id.String(), "want", pc.id.String())
	}
	result, err := msg.outcome()
	if err != nil {
		return nil, true, c.tag(err)
	}
	return result, true, nil
}

func (c *Conn) discardIdle(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	if msg, err := decodeMessage(line); err == nil {
		if id, ok := msg.id(); ok {
			delete(c.abandoned, id)
		}
	}
	c.logger.Warn("discarding output with no call pending", "line", string(truncate(line, 200)))
}

func (c *Conn) abandon(id jsonrpc2.ID) {
	now := time.Now()
	horizon := now.Add(-10 * c.timeout)
	for k, at := range c.abandoned {
		if at.Before(horizon) {
			delete(c.abandoned, k)
		}
	}
	if len(c.abandoned) >= maxAbandoned {
		var oldest jsonrpc2.ID
		var oldestAt time.Time
		for k, at := range c.abandoned {
			if oldestAt.IsZero() || at.Before(oldestAt) {
				oldest, oldestAt = k, at
			}
		}
		delete(c.abandoned, oldest)
	}
	c.abandoned[id] = now
}

func (c *Conn) closedError() error {
	return fault.New(fault.ServerNotAvailable, "connection closed").WithServer(c.name)
}

func (c *Conn) withServer(fe *fault.Error) *fault.Error {
	return fe.WithServer(c.name)
}

// tag names this Conn's server on classified errors.
func (c *Conn) tag(err error) error {
	var fe *fault.Error
	if errors.As(err, &fe) {
		return fe.WithServer(c.name)
	}
	return err
}
