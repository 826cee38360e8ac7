// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package gfx implements the frame-paced command submission engine and
// defines the device boundary that rendering backends must implement.
// The engine reconciles CPU-side command recording with asynchronous GPU
// execution: resources visible to the GPU are never destroyed while a
// submitted frame may still reference them, and per-view render targets
// are rebuilt on dimension change without stalling the pipeline more
// than the configured number of frames in flight.
package gfx

import (
	"errors"
	"time"
)

// Package errors. Fence and command list misuse indicates a broken
// caller contract and is never corrected silently; surface errors are
// transient and handled by skipping the affected frame.
var (
	ErrInvalidFenceValue = errors.New("gfx: fence values must strictly increase")
	ErrInvalidTransition = errors.New("gfx: invalid command list transition")
	ErrTimeout           = errors.New("gfx: wait timed out")
	ErrSurfaceLost       = errors.New("gfx: surface lost")
	ErrOutOfDate         = errors.New("gfx: surface out of date")
	ErrOutOfMemory       = errors.New("gfx: device out of memory")
)

// Releasable defines any memory-occupying item that can be freed.
type Releasable interface {

	// Release releases memory occupied by the implementing structure.
	Release()
}

// Extent2D is a two-dimensional size in pixels.
type Extent2D struct {
	Width, Height uint32
}

// Format identifies a texture pixel format.
type Format int

// Texture formats the engine understands. Backends map these onto
// whatever their API calls them.
const (
	FormatBGRA8 Format = iota
	FormatRGBA8
	FormatRGBA16Float
	FormatD16
	FormatD32Float
)

// ResourceState describes the usage mode a texture is in. Moving a
// texture between states requires an explicit transition recorded
// into a command buffer.
type ResourceState int

// Resource states.
const (
	StateUndefined ResourceState = iota
	StateRenderTarget
	StateDepthWrite
	StateShaderRead
	StateCopySrc
	StateCopyDst
	StatePresent
)

// Transition declares that a texture moves from one usage mode to
// another. The engine does not infer ordering between command lists,
// transitions must be recorded by the caller.
type Transition struct {
	Texture Texture
	From    ResourceState
	To      ResourceState
}

// ClearValue holds clear values for the color and depth/stencil
// aspects of a render target.
type ClearValue struct {
	Color   [4]float32
	Depth   float32
	Stencil uint32
}

// TextureInfo describes a texture to be created.
type TextureInfo struct {
	Extent       Extent2D
	Format       Format
	RenderTarget bool
	DepthStencil bool
	Sampled      bool
}

// Texture is a device image resource.
type Texture interface {
	Releasable

	// Info returns the description the texture was created with.
	Info() TextureInfo
}

// FramebufferInfo describes a framebuffer binding a color and an
// optional depth texture together.
type FramebufferInfo struct {
	Color  Texture
	Depth  Texture
	Extent Extent2D
}

// Framebuffer binds render target textures for use in a pass.
// It holds references into its attachments, which is why a resize must
// retire the framebuffer together with the textures it points at.
type Framebuffer interface {
	Releasable

	// Extent returns the dimensions of the attachments.
	Extent() Extent2D
}

// RenderTarget is what a frame is drawn into. It is owned by the
// surface that produced it and is only valid until the next Present.
type RenderTarget interface {

	// Extent returns the drawable size.
	Extent() Extent2D

	// Framebuffer returns the target's framebuffer binding.
	Framebuffer() Framebuffer
}

// CommandBuffer is the device-side recording handle together with its
// backing allocator. Reset reclaims the allocator memory of the
// previous recording cycle and must only be called once the GPU has
// finished consuming it; the CommandList state machine enforces that
// indirectly through the frame ring.
type CommandBuffer interface {
	Releasable

	// Reset reclaims memory held by previously recorded commands.
	Reset() error

	// Begin prepares the buffer for recording.
	Begin() error

	// End finalises the recording.
	End() error

	// Transition records resource state transitions.
	Transition(t []Transition)

	// BeginPass begins rendering into the given framebuffer.
	BeginPass(fb Framebuffer, clear []ClearValue)

	// EndPass ends the current pass.
	EndPass()

	// Composite records a draw of src onto the current pass target
	// using the backend's compose pipeline. The transform is a
	// column-major 4x4 placement matrix.
	Composite(src Texture, transform [16]float32)
}

// Timeline is a device-side monotonic counter. The GPU advances the
// completed value as queue-ordered signals retire; the CPU observes it
// through Completed and Wait.
type Timeline interface {
	Releasable

	// Completed returns the last value the GPU has reached.
	// It never blocks.
	Completed() uint64

	// Wait blocks the calling goroutine until the completed value
	// reaches value. A zero timeout waits forever, otherwise
	// ErrTimeout is returned when the deadline passes first.
	Wait(value uint64, timeout time.Duration) error
}

// Queue is a device execution queue. Work submitted together executes
// in submission order relative to itself.
type Queue interface {

	// Submit hands recorded command buffers to the GPU.
	Submit(cb []CommandBuffer) error

	// Signal orders the queue to advance the timeline to value once
	// all previously submitted work completes.
	Signal(t Timeline, value uint64) error

	// Wait orders the queue to stall until the timeline reaches
	// value. This is a GPU-side wait, it does not block the CPU.
	Wait(t Timeline, value uint64) error
}

// Surface is a presentable window surface.
type Surface interface {
	Releasable

	// Extent returns the current drawable size.
	Extent() Extent2D

	// PendingResize reports a size change requested by the
	// windowing system that has not been applied yet.
	PendingResize() (Extent2D, bool)

	// Resize recreates the surface backing at the given extent.
	// It must only be called with no frames in flight.
	Resize(extent Extent2D) error

	// Acquire returns the render target for the next frame.
	Acquire() (RenderTarget, error)

	// Present queues the last acquired target for display.
	// May fail with ErrSurfaceLost or ErrOutOfDate, both of which
	// are recoverable by skipping the frame.
	Present() error
}

// Device is the boundary to a rendering backend. It creates the
// resources the engine manages and owns the single submission queue.
type Device interface {
	Releasable

	// Queue returns the device's submission queue.
	Queue() Queue

	// NewTimeline creates a monotonic fence counter.
	NewTimeline() (Timeline, error)

	// NewCommandBuffer creates a command buffer with a dedicated
	// allocator.
	NewCommandBuffer() (CommandBuffer, error)

	// NewTexture creates a texture resource.
	NewTexture(info TextureInfo) (Texture, error)

	// NewFramebuffer creates a framebuffer over existing textures.
	NewFramebuffer(info FramebufferInfo) (Framebuffer, error)
}
