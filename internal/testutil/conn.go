// Package testutil holds in-memory doubles shared by package tests.
package testutil

import (
	"errors"
	"sync"

	"mindlink/pkg/interfaces"
	"mindlink/pkg/types"
)

// Frame is one recorded outgoing message.
type Frame struct {
	Event string
	Data  interface{}
}

// Conn records emitted frames instead of writing to a socket.
type Conn struct {
	id       string
	identity *types.Identity

	mu         sync.Mutex
	membership types.Membership
	frames     []Frame
	closed     bool
	EmitErr    error
}

var _ interfaces.Connection = (*Conn)(nil)

// NewConn records every frame emitted to it.
func NewConn(id string, identity *types.Identity) *Conn {
	return &Conn{id: id, identity: identity}
}

func (c *Conn) ID() string                { return c.id }
func (c *Conn) Identity() *types.Identity { return c.identity }

func (c *Conn) Emit(event string, data interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	if c.EmitErr != nil {
		return c.EmitErr
	}
	c.frames = append(c.frames, Frame{Event: event, Data: data})
	return nil
}

func (c *Conn) Membership() types.Membership {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.membership
}

func (c *Conn) SetMembership(m types.Membership) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.membership = m
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Frames returns a copy of everything emitted so far.
func (c *Conn) Frames() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

// Events returns the emitted event names in order.
func (c *Conn) Events() []string {
	frames := c.Frames()
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Event
	}
	return out
}

// FramesOf returns frames with the given event name.
func (c *Conn) FramesOf(event string) []Frame {
	var out []Frame
	for _, f := range c.Frames() {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

// Last returns the most recent frame with the given event name.
func (c *Conn) Last(event string) (Frame, bool) {
	frames := c.FramesOf(event)
	if len(frames) == 0 {
		return Frame{}, false
	}
	return frames[len(frames)-1], true
}

func (c *Conn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}
