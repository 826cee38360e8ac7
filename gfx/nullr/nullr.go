// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package nullr implements the gfx device boundary in host memory.
// Nothing is rendered; resources are bookkeeping records and the
// queue's completion is driven manually through Complete. That makes
// GPU progress a controllable input, which is exactly what the engine
// tests and diagnostic tools need.
package nullr

import (
	"errors"
	"sync"
	"time"

	"github.com/devblok/forge/gfx"
)

// New creates a null device with one queue.
func New() *Device {
	return &Device{queue: &Queue{}}
}

// Device implements gfx.Device.
type Device struct {
	queue *Queue

	mu           sync.Mutex
	skipTextures int
	failTextures int
	allocated    int
	released     int
}

// Queue implements interface
func (d *Device) Queue() gfx.Queue {
	return d.queue
}

// NewTimeline implements interface
func (d *Device) NewTimeline() (gfx.Timeline, error) {
	return &Timeline{advanced: make(chan struct{})}, nil
}

// NewCommandBuffer implements interface
func (d *Device) NewCommandBuffer() (gfx.CommandBuffer, error) {
	return &CommandBuffer{}, nil
}

// NewTexture implements interface
func (d *Device) NewTexture(info gfx.TextureInfo) (gfx.Texture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.skipTextures > 0 {
		d.skipTextures--
	} else if d.failTextures > 0 {
		d.failTextures--
		return nil, gfx.ErrOutOfMemory
	}
	d.allocated++
	return &Texture{dev: d, info: info}, nil
}

// NewFramebuffer implements interface
func (d *Device) NewFramebuffer(info gfx.FramebufferInfo) (gfx.Framebuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.allocated++
	return &Framebuffer{dev: d, info: info}, nil
}

// Release implements interface
func (d *Device) Release() {}

// FailTextures makes the next n NewTexture calls fail with
// gfx.ErrOutOfMemory.
func (d *Device) FailTextures(n int) {
	d.FailTexturesAfter(0, n)
}

// FailTexturesAfter lets skip NewTexture calls succeed, then fails the
// following n with gfx.ErrOutOfMemory.
func (d *Device) FailTexturesAfter(skip, n int) {
	d.mu.Lock()
	d.skipTextures = skip
	d.failTextures = n
	d.mu.Unlock()
}

// Allocated returns the total number of resources created.
func (d *Device) Allocated() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allocated
}

// Released returns the total number of resource releases observed.
func (d *Device) Released() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}

func (d *Device) countRelease() {
	d.mu.Lock()
	d.released++
	d.mu.Unlock()
}

// Texture is a host-memory texture record.
type Texture struct {
	dev      *Device
	info     gfx.TextureInfo
	mu       sync.Mutex
	releases int
}

// Info implements interface
func (t *Texture) Info() gfx.TextureInfo {
	return t.info
}

// Release implements interface
func (t *Texture) Release() {
	t.mu.Lock()
	t.releases++
	t.mu.Unlock()
	t.dev.countRelease()
}

// Releases returns how many times Release has been called.
func (t *Texture) Releases() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.releases
}

// Framebuffer is a host-memory framebuffer record.
type Framebuffer struct {
	dev      *Device
	info     gfx.FramebufferInfo
	mu       sync.Mutex
	releases int
}

// Extent implements interface
func (f *Framebuffer) Extent() gfx.Extent2D {
	return f.info.Extent
}

// Release implements interface
func (f *Framebuffer) Release() {
	f.mu.Lock()
	f.releases++
	f.mu.Unlock()
	f.dev.countRelease()
}

// Releases returns how many times Release has been called.
func (f *Framebuffer) Releases() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.releases
}

// Timeline implements gfx.Timeline. Completion values only move when
// the owning queue's Complete is called.
type Timeline struct {
	mu        sync.Mutex
	completed uint64
	advanced  chan struct{}
}

// Completed implements interface
func (t *Timeline) Completed() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed
}

// Wait implements interface
func (t *Timeline) Wait(value uint64, timeout time.Duration) error {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	for {
		t.mu.Lock()
		if t.completed >= value {
			t.mu.Unlock()
			return nil
		}
		advanced := t.advanced
		t.mu.Unlock()

		select {
		case <-advanced:
		case <-deadline:
			return gfx.ErrTimeout
		}
	}
}

// Release implements interface
func (t *Timeline) Release() {}

func (t *Timeline) advance(value uint64) {
	t.mu.Lock()
	if value > t.completed {
		t.completed = value
		close(t.advanced)
		t.advanced = make(chan struct{})
	}
	t.mu.Unlock()
}

type signalOp struct {
	timeline *Timeline
	value    uint64
}

// Queue implements gfx.Queue. Signals stay pending until Complete
// advances them, mimicking a GPU that retires work in submission
// order at its own pace.
type Queue struct {
	mu          sync.Mutex
	pending     []signalOp
	submissions int
	buffers     int
	queueWaits  int
	failSubmit  error
}

// Submit implements interface
func (q *Queue) Submit(cb []gfx.CommandBuffer) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failSubmit != nil {
		err := q.failSubmit
		q.failSubmit = nil
		return err
	}
	q.submissions++
	q.buffers += len(cb)
	return nil
}

// Signal implements interface
func (q *Queue) Signal(t gfx.Timeline, value uint64) error {
	timeline, ok := t.(*Timeline)
	if !ok {
		return errors.New("nullr: foreign timeline")
	}
	q.mu.Lock()
	q.pending = append(q.pending, signalOp{timeline: timeline, value: value})
	q.mu.Unlock()
	return nil
}

// Wait implements interface
func (q *Queue) Wait(t gfx.Timeline, value uint64) error {
	q.mu.Lock()
	q.queueWaits++
	q.mu.Unlock()
	return nil
}

// Complete retires pending signals whose value does not exceed value,
// in submission order.
func (q *Queue) Complete(value uint64) {
	q.mu.Lock()
	rest := q.pending[:0]
	ops := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, op := range ops {
		if op.value <= value {
			op.timeline.advance(op.value)
		} else {
			rest = append(rest, op)
		}
	}

	q.mu.Lock()
	q.pending = append(rest, q.pending...)
	q.mu.Unlock()
}

// CompleteAll retires every pending signal.
func (q *Queue) CompleteAll() {
	q.mu.Lock()
	ops := q.pending
	q.pending = nil
	q.mu.Unlock()
	for _, op := range ops {
		op.timeline.advance(op.value)
	}
}

// Submissions returns the number of Submit calls that succeeded.
func (q *Queue) Submissions() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.submissions
}

// Buffers returns the total number of command buffers submitted.
func (q *Queue) Buffers() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.buffers
}

// Pending returns the number of signals not yet completed.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// FailNextSubmit makes the next Submit call return err.
func (q *Queue) FailNextSubmit(err error) {
	q.mu.Lock()
	q.failSubmit = err
	q.mu.Unlock()
}

// CommandBuffer is a host-memory recording handle that counts what is
// recorded into it.
type CommandBuffer struct {
	recording   bool
	resets      int
	transitions int
	passes      int
	composites  int
}

// Reset implements interface
func (b *CommandBuffer) Reset() error {
	if b.recording {
		return errors.New("nullr: reset while recording")
	}
	b.resets++
	b.transitions = 0
	b.passes = 0
	b.composites = 0
	return nil
}

// Begin implements interface
func (b *CommandBuffer) Begin() error {
	if b.recording {
		return errors.New("nullr: begin while recording")
	}
	b.recording = true
	return nil
}

// End implements interface
func (b *CommandBuffer) End() error {
	if !b.recording {
		return errors.New("nullr: end without begin")
	}
	b.recording = false
	return nil
}

// Transition implements interface
func (b *CommandBuffer) Transition(t []gfx.Transition) {
	b.transitions += len(t)
}

// BeginPass implements interface
func (b *CommandBuffer) BeginPass(fb gfx.Framebuffer, clear []gfx.ClearValue) {
	b.passes++
}

// EndPass implements interface
func (b *CommandBuffer) EndPass() {}

// Composite implements interface
func (b *CommandBuffer) Composite(src gfx.Texture, transform [16]float32) {
	b.composites++
}

// Release implements interface
func (b *CommandBuffer) Release() {}

// Resets returns the number of Reset calls.
func (b *CommandBuffer) Resets() int {
	return b.resets
}

// Transitions returns the number of transitions recorded since the
// last reset.
func (b *CommandBuffer) Transitions() int {
	return b.transitions
}

// Composites returns the number of composite draws recorded since the
// last reset.
func (b *CommandBuffer) Composites() int {
	return b.composites
}
