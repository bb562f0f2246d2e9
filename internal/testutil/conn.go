// Package testutil holds fakes shared by package tests.
package testutil

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"dronelab/pkg/types"
)

var ErrFakeClosed = errors.New("fake connection closed")

// FakeConn is an in-memory interfaces.Connection that records every frame.
type FakeConn struct {
	id        string
	role      string
	principal string
	frames    []types.Envelope
	closed    bool
	mu        sync.Mutex
}

func NewFakeConn(role string) *FakeConn {
	return &FakeConn{id: uuid.New().String(), role: role}
}

// WithPrincipal sets the authenticated subject.
func (c *FakeConn) WithPrincipal(p string) *FakeConn {
	c.principal = p
	return c
}

func (c *FakeConn) ID() string        { return c.id }
func (c *FakeConn) Role() string      { return c.role }
func (c *FakeConn) Principal() string { return c.principal }

func (c *FakeConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrFakeClosed
	}
	var env types.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return err
	}
	c.frames = append(c.frames, env)
	return nil
}

func (c *FakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *FakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Frames returns a copy of the recorded frames.
func (c *FakeConn) Frames() []types.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Envelope(nil), c.frames...)
}

// Events returns the recorded event names in order.
func (c *FakeConn) Events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		names = append(names, f.Event)
	}
	return names
}

// Count returns how many frames of event were received.
func (c *FakeConn) Count(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, f := range c.frames {
		if f.Event == event {
			n++
		}
	}
	return n
}

// Last returns the most recent frame of event.
func (c *FakeConn) Last(event string) (types.Envelope, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.frames) - 1; i >= 0; i-- {
		if c.frames[i].Event == event {
			return c.frames[i], true
		}
	}
	return types.Envelope{}, false
}

func (c *FakeConn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

// Decode unmarshals the data of the last frame of event into T.
func Decode[T any](t *testing.T, c *FakeConn, event string) T {
	t.Helper()
	env, ok := c.Last(event)
	require.True(t, ok, "no %q frame received; got %v", event, c.Events())
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}
