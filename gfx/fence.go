// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package gfx

import (
	"time"
)

// NewFence creates a fence bound to the device's submission queue.
// One fence is created per queue and lives until queue shutdown.
func NewFence(dev Device) (*Fence, error) {
	timeline, err := dev.NewTimeline()
	if err != nil {
		return nil, err
	}
	return &Fence{
		queue:    dev.Queue(),
		timeline: timeline,
	}, nil
}

// Fence is a monotonically increasing GPU/CPU synchronisation
// primitive. The current value shadows the last value the CPU has
// requested; the completed value observed through the timeline may lag
// behind it while the GPU catches up. All mutation happens on the
// single submission goroutine, so the shadow needs no locking.
type Fence struct {
	queue    Queue
	timeline Timeline

	current uint64
}

// Signal orders the queue to advance the fence to value once all
// previously submitted work has completed. The value must be strictly
// greater than the current value; a non-increasing value is a caller
// bug and fails with ErrInvalidFenceValue rather than being clamped,
// since clamping would corrupt the frame pacing invariant.
func (f *Fence) Signal(value uint64) error {
	if value <= f.current {
		return ErrInvalidFenceValue
	}
	if err := f.queue.Signal(f.timeline, value); err != nil {
		return err
	}
	f.current = value
	return nil
}

// SignalNext signals the next fence value and returns it.
func (f *Fence) SignalNext() (uint64, error) {
	next := f.current + 1
	if err := f.Signal(next); err != nil {
		return 0, err
	}
	return next, nil
}

// Wait blocks until the completed value reaches value. A zero timeout
// waits forever, otherwise ErrTimeout is returned when the deadline
// passes first.
func (f *Fence) Wait(value uint64, timeout time.Duration) error {
	return f.timeline.Wait(value, timeout)
}

// QueueSignal enqueues a GPU-side signal without touching the CPU
// shadow. Meant for cross-queue dependencies, not frame pacing.
func (f *Fence) QueueSignal(value uint64) error {
	return f.queue.Signal(f.timeline, value)
}

// QueueWait enqueues a GPU-side wait for value into the queue's own
// execution order. It does not block the CPU.
func (f *Fence) QueueWait(value uint64) error {
	return f.queue.Wait(f.timeline, value)
}

// Completed returns the last value the GPU has reached. Never blocks.
func (f *Fence) Completed() uint64 {
	return f.timeline.Completed()
}

// Current returns the last value the CPU has requested.
func (f *Fence) Current() uint64 {
	return f.current
}

// Release destroys the underlying timeline. Only call after the queue
// has been flushed.
func (f *Fence) Release() {
	f.timeline.Release()
}
