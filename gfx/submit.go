// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package gfx

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// Stats is a point-in-time snapshot of submitter internals, meant for
// tooling and diagnostics.
type Stats struct {
	FramesSubmitted uint64
	FenceCurrent    uint64
	FenceCompleted  uint64
	PresentFailures uint64
	PendingReleases int
	FreeLists       int
	FramesInFlight  int
	SlotIndex       int
}

// NewSubmitter creates a submitter over the device's queue with the
// given number of frames in flight. framesInFlight is clamped to at
// least one; two or three is the usual choice.
func NewSubmitter(dev Device, framesInFlight int) (*Submitter, error) {
	fence, err := NewFence(dev)
	if err != nil {
		return nil, err
	}
	s := &Submitter{
		device: dev,
		queue:  dev.Queue(),
		fence:  fence,
		ring:   NewFrameRing(framesInFlight),
	}
	s.publish()
	return s, nil
}

// Submitter drives the per-frame submission protocol: wait on the
// oldest in-flight frame, submit recorded command lists, present,
// signal the fence and advance the ring. The wait-submit-signal-advance
// order is what bounds CPU/GPU overlap to the ring size; it must be
// driven from a single goroutine.
type Submitter struct {
	device Device
	queue  Queue
	fence  *Fence
	ring   *FrameRing

	free []*CommandList

	frames          uint64
	presentFailures uint64

	// statsMu guards only the published snapshot; the fields above
	// stay confined to the submission goroutine.
	statsMu sync.Mutex
	stats   Stats
}

// AcquireList returns a Free command list, recycling one from the pool
// or creating it lazily.
func (s *Submitter) AcquireList() (*CommandList, error) {
	if n := len(s.free); n > 0 {
		list := s.free[n-1]
		s.free = s.free[:n-1]
		return list, nil
	}
	return NewCommandList(s.device)
}

// BeginFrame blocks until the GPU has finished the frame that last
// occupied the current ring slot, retires that slot, services any
// pending surface resize and returns the render target to draw into.
// This wait is the engine's only steady-state blocking point; it is
// also the backpressure that stops the CPU outrunning the GPU by more
// than the ring size.
func (s *Submitter) BeginFrame(surface Surface) (RenderTarget, error) {
	defer s.publish()

	if value := s.ring.fenceValue(); value > 0 {
		if err := s.fence.Wait(value, 0); err != nil {
			return nil, err
		}
	}
	s.free = append(s.free, s.ring.retire(s.fence.Completed())...)

	if extent, ok := surface.PendingResize(); ok {
		if err := s.Flush(); err != nil {
			return nil, err
		}
		if err := surface.Resize(extent); err != nil {
			log.WithError(err).Warn("surface resize failed, skipping frame")
			return nil, err
		}
	}

	target, err := surface.Acquire()
	if err != nil {
		log.WithError(err).Warn("surface acquire failed, skipping frame")
		return nil, err
	}
	return target, nil
}

// EndFrame submits the recorded lists, presents the surface, signals
// the fence and advances the ring. Every list must be in the Recorded
// state. A present failure is an expected transient condition: it is
// logged and the frame discarded, but the fence still signals so the
// submitted work stays tracked.
func (s *Submitter) EndFrame(lists []*CommandList, surface Surface) error {
	defer s.publish()

	buffers := make([]CommandBuffer, len(lists))
	for i, l := range lists {
		if err := l.submitted(); err != nil {
			return err
		}
		buffers[i] = l.Recorder()
	}

	if err := s.queue.Submit(buffers); err != nil {
		// The GPU never saw these lists, return them to the pool.
		for _, l := range lists {
			if lerr := l.executed(); lerr != nil {
				log.WithField("state", l.State()).Error("command list in bad state after failed submit")
			}
		}
		s.free = append(s.free, lists...)
		return err
	}

	if err := surface.Present(); err != nil {
		s.presentFailures++
		log.WithError(err).Warn("present failed, frame discarded")
	}

	value, err := s.fence.SignalNext()
	if err != nil {
		return err
	}
	s.ring.advance(value, lists)
	s.frames++
	return nil
}

// RegisterDeferredRelease queues res for destruction once the current
// frame's fence value completes. It never destroys synchronously and
// always succeeds.
func (s *Submitter) RegisterDeferredRelease(res Releasable) {
	s.ring.Register(res, s.fence.Current()+1)
	s.publish()
}

// Flush hard-blocks until every in-flight frame has retired, then
// drains all deferred releases. Used before resize and at teardown;
// calling it mid-loop defeats pipelining.
func (s *Submitter) Flush() error {
	defer s.publish()

	if current := s.fence.Current(); current > 0 {
		if err := s.fence.Wait(current, 0); err != nil {
			return err
		}
	}
	s.free = append(s.free, s.ring.flush()...)
	return nil
}

// Stats returns a snapshot of the submitter state. Unlike the rest of
// the submitter it is safe to call from any goroutine: it reads the
// snapshot the submission goroutine publishes after each operation,
// with only the completed value observed live through the timeline.
func (s *Submitter) Stats() Stats {
	s.statsMu.Lock()
	snap := s.stats
	s.statsMu.Unlock()
	snap.FenceCompleted = s.fence.Completed()
	return snap
}

// publish refreshes the snapshot behind Stats. Runs on the submission
// goroutine, where the counters and the ring are safe to read.
func (s *Submitter) publish() {
	snap := Stats{
		FramesSubmitted: s.frames,
		FenceCurrent:    s.fence.Current(),
		PresentFailures: s.presentFailures,
		PendingReleases: s.ring.PendingReleases(),
		FreeLists:       len(s.free),
		FramesInFlight:  s.ring.InFlight(),
		SlotIndex:       s.ring.Index(),
	}
	s.statsMu.Lock()
	s.stats = snap
	s.statsMu.Unlock()
}

// Fence exposes the frame fence for cross-queue dependencies and
// diagnostics. Signal and Wait must stay on the submission goroutine.
func (s *Submitter) Fence() *Fence {
	return s.fence
}

// Release flushes all in-flight work and frees the fence and pooled
// command lists. The submitter must not be used afterwards.
func (s *Submitter) Release() {
	defer s.publish()

	if err := s.Flush(); err != nil {
		log.WithError(err).Error("flush failed during submitter release")
	}
	for _, l := range s.free {
		l.Release()
	}
	s.free = nil
	s.fence.Release()
}
