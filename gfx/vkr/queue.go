// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"errors"
	"math"
	"sync"
	"time"

	vk "github.com/devblok/vulkan"

	"github.com/devblok/forge/gfx"
)

// Timeline implements gfx.Timeline over a chain of binary fences. The
// Vulkan 1.0 core API has no timeline semaphore, so every signalled
// value carries its own fence; values retire in queue order, which
// keeps the chain's completed value monotonic.
type Timeline struct {
	dev *Device

	mu        sync.Mutex
	completed uint64
	pending   []timelinePoint
}

type timelinePoint struct {
	value uint64
	fence vk.Fence
}

// Completed implements interface
func (t *Timeline) Completed() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.poll()
	return t.completed
}

// Wait implements interface
func (t *Timeline) Wait(value uint64, timeout time.Duration) error {
	t.mu.Lock()
	t.poll()
	if t.completed >= value {
		t.mu.Unlock()
		return nil
	}
	var fence vk.Fence
	found := false
	for _, point := range t.pending {
		if point.value >= value {
			fence = point.fence
			found = true
			break
		}
	}
	t.mu.Unlock()

	if !found {
		return errors.New("vkr: wait for a value that was never signalled")
	}

	timeoutNs := uint64(math.MaxUint64)
	if timeout > 0 {
		timeoutNs = uint64(timeout.Nanoseconds())
	}
	result := vk.WaitForFences(t.dev.device, 1, []vk.Fence{fence}, vk.True, uint(timeoutNs))
	if result == vk.Timeout {
		return gfx.ErrTimeout
	}
	if err := vk.Error(result); err != nil {
		return errors.New("vk.WaitForFences(): " + err.Error())
	}

	t.mu.Lock()
	t.poll()
	t.mu.Unlock()
	return nil
}

// Release implements interface
func (t *Timeline) Release() {
	t.mu.Lock()
	for _, point := range t.pending {
		vk.DestroyFence(t.dev.device, point.fence, nil)
	}
	t.pending = nil
	t.mu.Unlock()
}

// poll retires completed fences in order. Caller holds the lock.
func (t *Timeline) poll() {
	for len(t.pending) > 0 {
		point := t.pending[0]
		if vk.GetFenceStatus(t.dev.device, point.fence) != vk.Success {
			return
		}
		vk.DestroyFence(t.dev.device, point.fence, nil)
		t.completed = point.value
		t.pending = t.pending[1:]
	}
}

func (t *Timeline) push(value uint64, fence vk.Fence) {
	t.mu.Lock()
	t.pending = append(t.pending, timelinePoint{value: value, fence: fence})
	t.mu.Unlock()
}

// Queue implements gfx.Queue on the device's graphics queue. Surfaces
// park their acquire and present semaphores here so the frame's
// command submission is correctly ordered against the swapchain
// without the engine knowing about semaphores.
type Queue struct {
	dev   *Device
	queue vk.Queue

	mu               sync.Mutex
	waitSemaphores   []vk.Semaphore
	waitStages       []vk.PipelineStageFlags
	signalSemaphores []vk.Semaphore
}

// Submit implements interface
func (q *Queue) Submit(cb []gfx.CommandBuffer) error {
	buffers := make([]vk.CommandBuffer, len(cb))
	for i, b := range cb {
		vb, ok := b.(*commandBuffer)
		if !ok {
			return errors.New("vkr: foreign command buffer")
		}
		buffers[i] = vb.buffer
	}

	q.mu.Lock()
	submit := []vk.SubmitInfo{{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(q.waitSemaphores)),
		PWaitSemaphores:      q.waitSemaphores,
		PWaitDstStageMask:    q.waitStages,
		CommandBufferCount:   uint32(len(buffers)),
		PCommandBuffers:      buffers,
		SignalSemaphoreCount: uint32(len(q.signalSemaphores)),
		PSignalSemaphores:    q.signalSemaphores,
	}}
	q.waitSemaphores = nil
	q.waitStages = nil
	q.signalSemaphores = nil
	q.mu.Unlock()

	if err := vk.Error(vk.QueueSubmit(q.queue, 1, submit, vk.NullFence)); err != nil {
		return errors.New("vk.QueueSubmit(): " + err.Error())
	}
	return nil
}

// Signal implements interface
func (q *Queue) Signal(timeline gfx.Timeline, value uint64) error {
	t, ok := timeline.(*Timeline)
	if !ok {
		return errors.New("vkr: foreign timeline")
	}

	fci := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	var fence vk.Fence
	if err := vk.Error(vk.CreateFence(q.dev.device, &fci, nil, &fence)); err != nil {
		return errors.New("vk.CreateFence(): " + err.Error())
	}

	// An empty batch with a fence retires once all previously
	// submitted work on this queue has completed.
	submit := []vk.SubmitInfo{{
		SType: vk.StructureTypeSubmitInfo,
	}}
	if err := vk.Error(vk.QueueSubmit(q.queue, 1, submit, fence)); err != nil {
		vk.DestroyFence(q.dev.device, fence, nil)
		return errors.New("vk.QueueSubmit(): " + err.Error())
	}

	t.push(value, fence)
	return nil
}

// Wait implements interface. Core Vulkan 1.0 has no queue-side fence
// wait, so the dependency is satisfied on the host before further
// submissions are allowed through.
func (q *Queue) Wait(timeline gfx.Timeline, value uint64) error {
	t, ok := timeline.(*Timeline)
	if !ok {
		return errors.New("vkr: foreign timeline")
	}
	return t.Wait(value, 0)
}

func (q *Queue) addWait(sem vk.Semaphore, stage vk.PipelineStageFlags) {
	q.mu.Lock()
	q.waitSemaphores = append(q.waitSemaphores, sem)
	q.waitStages = append(q.waitStages, stage)
	q.mu.Unlock()
}

func (q *Queue) addSignal(sem vk.Semaphore) {
	q.mu.Lock()
	q.signalSemaphores = append(q.signalSemaphores, sem)
	q.mu.Unlock()
}

// Handle returns the raw Vulkan queue handle.
func (q *Queue) Handle() vk.Queue {
	return q.queue
}
