// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package gfx_test

import (
	"testing"

	"github.com/devblok/forge/gfx"
	"github.com/devblok/forge/gfx/nullr"
)

// viewHarness bundles the pieces every view test needs.
type viewHarness struct {
	dev     *nullr.Device
	queue   *nullr.Queue
	sub     *gfx.Submitter
	surface *nullr.Surface
}

func newViewHarness(t *testing.T) *viewHarness {
	t.Helper()
	dev := nullr.New()
	sub, err := gfx.NewSubmitter(dev, 2)
	if err != nil {
		t.Fatalf("NewSubmitter: %v", err)
	}
	return &viewHarness{
		dev:     dev,
		queue:   dev.Queue().(*nullr.Queue),
		sub:     sub,
		surface: nullr.NewSurface(dev, 800, 600),
	}
}

// recordingList returns a list open for recording.
func (h *viewHarness) recordingList(t *testing.T) *gfx.CommandList {
	t.Helper()
	list, err := h.sub.AcquireList()
	if err != nil {
		t.Fatalf("AcquireList: %v", err)
	}
	if err := list.BeginRecording(); err != nil {
		t.Fatalf("BeginRecording: %v", err)
	}
	return list
}

func TestViewEnsureCreatesTargets(t *testing.T) {
	h := newViewHarness(t)
	view := gfx.NewView("main", h.dev, h.sub)
	list := h.recordingList(t)

	if err := view.EnsureRenderTargets(list, 800, 600); err != nil {
		t.Fatalf("EnsureRenderTargets: %v", err)
	}
	if !view.Ready() {
		t.Fatal("view not ready after successful ensure")
	}
	if view.Extent() != (gfx.Extent2D{Width: 800, Height: 600}) {
		t.Fatalf("extent %+v", view.Extent())
	}
	if view.ColorTarget() == nil || view.DepthTarget() == nil || view.Framebuffer() == nil {
		t.Fatal("target set incomplete")
	}

	// Both fresh textures get their initial state transition recorded.
	if got := list.Recorder().(*nullr.CommandBuffer).Transitions(); got != 2 {
		t.Fatalf("%d transitions recorded, want 2", got)
	}
}

func TestViewEnsureIdempotent(t *testing.T) {
	h := newViewHarness(t)
	view := gfx.NewView("main", h.dev, h.sub)
	list := h.recordingList(t)

	if err := view.EnsureRenderTargets(list, 800, 600); err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	created := h.dev.Allocated()
	color := view.ColorTarget()

	if err := view.EnsureRenderTargets(list, 800, 600); err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if h.dev.Allocated() != created {
		t.Fatal("matching ensure churned resources")
	}
	if view.ColorTarget() != color {
		t.Fatal("matching ensure replaced the target set")
	}
	if h.sub.Stats().PendingReleases != 0 {
		t.Fatal("matching ensure queued releases")
	}
}

func TestViewResizeRetiresWholeSet(t *testing.T) {
	h := newViewHarness(t)
	view := gfx.NewView("main", h.dev, h.sub)
	list := h.recordingList(t)

	if err := view.EnsureRenderTargets(list, 800, 600); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	color := view.ColorTarget().(*nullr.Texture)
	depth := view.DepthTarget().(*nullr.Texture)
	fb := view.Framebuffer().(*nullr.Framebuffer)

	if err := view.EnsureRenderTargets(list, 1024, 768); err != nil {
		t.Fatalf("resize ensure: %v", err)
	}

	// The complete old generation is queued, nothing freed yet.
	if h.sub.Stats().PendingReleases != 3 {
		t.Fatalf("PendingReleases = %d, want 3", h.sub.Stats().PendingReleases)
	}
	if color.Releases() != 0 || depth.Releases() != 0 || fb.Releases() != 0 {
		t.Fatal("old generation destroyed synchronously")
	}

	h.queue.CompleteAll()
	if err := h.sub.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if color.Releases() != 1 || depth.Releases() != 1 || fb.Releases() != 1 {
		t.Fatalf("old generation released %d/%d/%d times, want 1 each",
			color.Releases(), depth.Releases(), fb.Releases())
	}
	if view.Extent() != (gfx.Extent2D{Width: 1024, Height: 768}) {
		t.Fatalf("extent %+v after resize", view.Extent())
	}
}

func TestViewResizeStormLeaksNothing(t *testing.T) {
	h := newViewHarness(t)
	view := gfx.NewView("main", h.dev, h.sub)
	list := h.recordingList(t)

	// A burst of size changes before any frame boundary. Only the
	// latest set survives; every predecessor must end up queued.
	for _, extent := range []gfx.Extent2D{
		{Width: 800, Height: 600},
		{Width: 801, Height: 600},
		{Width: 802, Height: 601},
		{Width: 640, Height: 480},
		{Width: 1920, Height: 1080},
	} {
		if err := view.EnsureRenderTargets(list, extent.Width, extent.Height); err != nil {
			t.Fatalf("ensure %+v: %v", extent, err)
		}
	}

	view.Release()
	h.queue.CompleteAll()
	if err := h.sub.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if alloc, rel := h.dev.Allocated(), h.dev.Released(); alloc != rel {
		t.Fatalf("%d allocated, %d released", alloc, rel)
	}
}

func TestViewCreationFailureRetries(t *testing.T) {
	h := newViewHarness(t)
	view := gfx.NewView("main", h.dev, h.sub)
	list := h.recordingList(t)

	h.dev.FailTextures(1)
	if err := view.EnsureRenderTargets(list, 800, 600); err != gfx.ErrOutOfMemory {
		t.Fatalf("ensure: %v, want ErrOutOfMemory", err)
	}
	if view.Ready() {
		t.Fatal("view ready after failed creation")
	}
	if alloc, rel := h.dev.Allocated(), h.dev.Released(); alloc != rel {
		t.Fatalf("partial set leaked: %d allocated, %d released", alloc, rel)
	}

	// The next attempt starts from scratch and succeeds.
	if err := view.EnsureRenderTargets(list, 800, 600); err != nil {
		t.Fatalf("retry ensure: %v", err)
	}
	if !view.Ready() {
		t.Fatal("view not ready after retry")
	}
}

func TestViewPartialSetFreedDirectly(t *testing.T) {
	h := newViewHarness(t)
	view := gfx.NewView("main", h.dev, h.sub)
	list := h.recordingList(t)

	// Color succeeds, depth fails. The orphaned color texture was
	// never visible to the GPU and must be freed synchronously, not
	// through the deferred queue.
	h.dev.FailTexturesAfter(1, 1)
	if err := view.EnsureRenderTargets(list, 800, 600); err != gfx.ErrOutOfMemory {
		t.Fatalf("ensure: %v, want ErrOutOfMemory", err)
	}
	if h.sub.Stats().PendingReleases != 0 {
		t.Fatal("partial set routed through the deferred queue")
	}
	if alloc, rel := h.dev.Allocated(), h.dev.Released(); alloc != 1 || rel != 1 {
		t.Fatalf("orphaned color texture not freed directly: %d allocated, %d released", alloc, rel)
	}
}

func TestViewFormatChangeRebuilds(t *testing.T) {
	h := newViewHarness(t)
	view := gfx.NewView("main", h.dev, h.sub)
	list := h.recordingList(t)

	if err := view.EnsureRenderTargets(list, 800, 600); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	created := h.dev.Allocated()

	view.SetColorFormat(gfx.FormatRGBA16Float)
	if err := view.EnsureRenderTargets(list, 800, 600); err != nil {
		t.Fatalf("ensure after format change: %v", err)
	}
	if h.dev.Allocated() != created+3 {
		t.Fatal("format change did not rebuild the target set")
	}
	if got := view.ColorTarget().Info().Format; got != gfx.FormatRGBA16Float {
		t.Fatalf("color format %d after rebuild", got)
	}
	if h.sub.Stats().PendingReleases != 3 {
		t.Fatalf("PendingReleases = %d, want 3", h.sub.Stats().PendingReleases)
	}
}
