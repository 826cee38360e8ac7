// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package gfx

import (
	log "github.com/sirupsen/logrus"
)

// deferredRelease couples a resource with the fence value after which
// destroying it is permitted.
type deferredRelease struct {
	res   Releasable
	value uint64
}

// frameSlot is one reusable ring position. It remembers the fence
// value signalled by the frame that last occupied it, the command
// lists that frame submitted, and the resources whose destruction was
// deferred to that frame's completion.
type frameSlot struct {
	fenceValue uint64
	lists      []*CommandList
	releases   []deferredRelease
}

// NewFrameRing creates a ring of n frame slots. n bounds how far the
// CPU may run ahead of the GPU.
func NewFrameRing(n int) *FrameRing {
	if n < 1 {
		n = 1
	}
	return &FrameRing{
		slots: make([]frameSlot, n),
	}
}

// FrameRing is a fixed ring of frame slots. The submitter retires the
// slot at the current index before reusing it for a new frame, which
// is what makes allocator reset and deferred destruction safe.
type FrameRing struct {
	slots []frameSlot
	index int
}

// InFlight returns the ring size.
func (r *FrameRing) InFlight() int {
	return len(r.slots)
}

// Index returns the current slot index.
func (r *FrameRing) Index() int {
	return r.index
}

// Register appends a deferred release to the active slot. It is pure
// bookkeeping and always succeeds; the resource is destroyed when the
// slot is next retired, no earlier than target's completion.
func (r *FrameRing) Register(res Releasable, target uint64) {
	slot := &r.slots[r.index]
	slot.releases = append(slot.releases, deferredRelease{res: res, value: target})
}

// PendingReleases returns the number of queued deferred releases
// across all slots.
func (r *FrameRing) PendingReleases() int {
	var n int
	for i := range r.slots {
		n += len(r.slots[i].releases)
	}
	return n
}

// fenceValue returns the fence value recorded in the active slot.
// Zero means the slot has not been used yet.
func (r *FrameRing) fenceValue() uint64 {
	return r.slots[r.index].fenceValue
}

// retire drains the active slot: command lists return to Free and
// deferred resources whose target value has completed are destroyed.
// Must only be called once the fence has completed the slot's recorded
// value. Entries left behind by a frame that aborted before signalling
// carry a value ahead of completed and stay queued until a later
// retire or flush observes it. Returns the freed lists so the
// submitter can pool them.
func (r *FrameRing) retire(completed uint64) []*CommandList {
	slot := &r.slots[r.index]
	for _, l := range slot.lists {
		if err := l.executed(); err != nil {
			// Contract violation, surface it loudly but keep the
			// ring advancing.
			log.WithField("state", l.State()).Error("command list not executing at slot retire")
		}
	}
	freed := slot.lists
	slot.lists = nil
	drain(slot, completed)
	return freed
}

// flush retires every slot at once. Used at flush time when the GPU
// is known to be idle.
func (r *FrameRing) flush() []*CommandList {
	var freed []*CommandList
	for i := range r.slots {
		slot := &r.slots[i]
		for _, l := range slot.lists {
			if err := l.executed(); err != nil {
				log.WithField("state", l.State()).Error("command list not executing at flush")
			}
		}
		freed = append(freed, slot.lists...)
		slot.lists = nil
		// Entries from aborted frames never reached the GPU, and
		// flush runs only after all submitted work has completed,
		// so everything drains.
		drain(slot, ^uint64(0))
	}
	return freed
}

// advance stores the frame's results into the active slot and moves
// the index forward.
func (r *FrameRing) advance(fenceValue uint64, lists []*CommandList) {
	slot := &r.slots[r.index]
	slot.fenceValue = fenceValue
	slot.lists = lists
	r.index = (r.index + 1) % len(r.slots)
}

// drain destroys the slot's deferred entries whose target value has
// completed and keeps the rest queued. A failing release is logged and
// skipped so one bad resource cannot leak the backlog or stall
// subsequent frames.
func drain(slot *frameSlot, completed uint64) {
	kept := slot.releases[:0]
	for _, entry := range slot.releases {
		if entry.value > completed {
			kept = append(kept, entry)
			continue
		}
		release(entry.res)
	}
	slot.releases = kept
}

func release(res Releasable) {
	defer func() {
		if p := recover(); p != nil {
			log.WithField("panic", p).Error("deferred release failed, resource skipped")
		}
	}()
	res.Release()
}
