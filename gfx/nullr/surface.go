// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package nullr

import (
	"sync"

	"github.com/devblok/forge/gfx"
)

// NewSurface creates a presentable surface of the given size.
func NewSurface(dev *Device, width, height uint32) *Surface {
	s := &Surface{
		dev:    dev,
		extent: gfx.Extent2D{Width: width, Height: height},
	}
	s.backbuffer = &Framebuffer{dev: dev, info: gfx.FramebufferInfo{Extent: s.extent}}
	return s
}

// Surface implements gfx.Surface. Resize requests and presentation
// failures are injected through RequestResize and FailNextPresent.
type Surface struct {
	dev        *Device
	backbuffer *Framebuffer

	mu         sync.Mutex
	extent     gfx.Extent2D
	pending    *gfx.Extent2D
	acquires   int
	presents   int
	resizes    int
	acquireErr error
	presentErr error
}

// Extent implements interface
func (s *Surface) Extent() gfx.Extent2D {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extent
}

// PendingResize implements interface
func (s *Surface) PendingResize() (gfx.Extent2D, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return gfx.Extent2D{}, false
	}
	return *s.pending, true
}

// Resize implements interface
func (s *Surface) Resize(extent gfx.Extent2D) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extent = extent
	s.pending = nil
	s.backbuffer = &Framebuffer{dev: s.dev, info: gfx.FramebufferInfo{Extent: extent}}
	s.resizes++
	return nil
}

// Acquire implements interface
func (s *Surface) Acquire() (gfx.RenderTarget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acquireErr != nil {
		err := s.acquireErr
		s.acquireErr = nil
		return nil, err
	}
	s.acquires++
	return &RenderTarget{surface: s}, nil
}

// Present implements interface
func (s *Surface) Present() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.presentErr != nil {
		err := s.presentErr
		s.presentErr = nil
		return err
	}
	s.presents++
	return nil
}

// Release implements interface
func (s *Surface) Release() {}

// RequestResize records a pending size change, the way a windowing
// system event would.
func (s *Surface) RequestResize(width, height uint32) {
	s.mu.Lock()
	s.pending = &gfx.Extent2D{Width: width, Height: height}
	s.mu.Unlock()
}

// FailNextAcquire makes the next Acquire call return err.
func (s *Surface) FailNextAcquire(err error) {
	s.mu.Lock()
	s.acquireErr = err
	s.mu.Unlock()
}

// FailNextPresent makes the next Present call return err.
func (s *Surface) FailNextPresent(err error) {
	s.mu.Lock()
	s.presentErr = err
	s.mu.Unlock()
}

// Presents returns the number of successful Present calls.
func (s *Surface) Presents() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presents
}

// Resizes returns the number of Resize calls.
func (s *Surface) Resizes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resizes
}

// RenderTarget is the acquired backbuffer of a Surface.
type RenderTarget struct {
	surface *Surface
}

// Extent implements interface
func (r *RenderTarget) Extent() gfx.Extent2D {
	return r.surface.Extent()
}

// Framebuffer implements interface
func (r *RenderTarget) Framebuffer() gfx.Framebuffer {
	r.surface.mu.Lock()
	defer r.surface.mu.Unlock()
	return r.surface.backbuffer
}
