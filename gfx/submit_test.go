// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package gfx_test

import (
	"errors"
	"testing"
	"time"

	"github.com/devblok/forge/gfx"
	"github.com/devblok/forge/gfx/nullr"
)

// recordFrame runs one full frame with a single empty command list.
func recordFrame(t *testing.T, sub *gfx.Submitter, surface *nullr.Surface) {
	t.Helper()
	if _, err := sub.BeginFrame(surface); err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
	list, err := sub.AcquireList()
	if err != nil {
		t.Fatalf("AcquireList: %v", err)
	}
	if err := list.BeginRecording(); err != nil {
		t.Fatalf("BeginRecording: %v", err)
	}
	if err := list.EndRecording(); err != nil {
		t.Fatalf("EndRecording: %v", err)
	}
	if err := sub.EndFrame([]*gfx.CommandList{list}, surface); err != nil {
		t.Fatalf("EndFrame: %v", err)
	}
}

func TestSubmitterFrameLoop(t *testing.T) {
	dev := nullr.New()
	queue := dev.Queue().(*nullr.Queue)
	sub, err := gfx.NewSubmitter(dev, 2)
	if err != nil {
		t.Fatalf("NewSubmitter: %v", err)
	}
	surface := nullr.NewSurface(dev, 800, 600)

	for frame := 1; frame <= 6; frame++ {
		recordFrame(t, sub, surface)
		queue.Complete(uint64(frame))
	}

	stats := sub.Stats()
	if stats.FramesSubmitted != 6 {
		t.Errorf("FramesSubmitted = %d, want 6", stats.FramesSubmitted)
	}
	if stats.FenceCurrent != 6 {
		t.Errorf("FenceCurrent = %d, want 6", stats.FenceCurrent)
	}
	if stats.FenceCompleted != 6 {
		t.Errorf("FenceCompleted = %d, want 6", stats.FenceCompleted)
	}
	if queue.Submissions() != 6 {
		t.Errorf("%d submissions, want 6", queue.Submissions())
	}
	if surface.Presents() != 6 {
		t.Errorf("%d presents, want 6", surface.Presents())
	}

	// With the GPU fully caught up all lists are back in the pool.
	if err := sub.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := sub.Stats().FreeLists; got < 1 || got > 2 {
		t.Errorf("FreeLists = %d, want 1 or 2", got)
	}
}

func TestSubmitterBackpressure(t *testing.T) {
	dev := nullr.New()
	queue := dev.Queue().(*nullr.Queue)
	sub, err := gfx.NewSubmitter(dev, 2)
	if err != nil {
		t.Fatalf("NewSubmitter: %v", err)
	}
	surface := nullr.NewSurface(dev, 800, 600)

	// Two frames in flight, GPU completes nothing.
	recordFrame(t, sub, surface)
	recordFrame(t, sub, surface)

	began := make(chan error, 1)
	go func() {
		_, err := sub.BeginFrame(surface)
		began <- err
	}()

	select {
	case <-began:
		t.Fatal("third BeginFrame did not block with two frames in flight")
	case <-time.After(50 * time.Millisecond):
	}

	// GPU finishes the oldest frame, the stalled BeginFrame resumes.
	queue.Complete(1)
	select {
	case err := <-began:
		if err != nil {
			t.Fatalf("BeginFrame after completion: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("BeginFrame still blocked after oldest frame completed")
	}
}

func TestSubmitterEndFrameRequiresRecorded(t *testing.T) {
	dev := nullr.New()
	sub, _ := gfx.NewSubmitter(dev, 2)
	surface := nullr.NewSurface(dev, 800, 600)

	list, err := sub.AcquireList()
	if err != nil {
		t.Fatalf("AcquireList: %v", err)
	}
	if err := sub.EndFrame([]*gfx.CommandList{list}, surface); err != gfx.ErrInvalidTransition {
		t.Fatalf("EndFrame with free list: %v, want ErrInvalidTransition", err)
	}
}

func TestSubmitterSubmitFailure(t *testing.T) {
	dev := nullr.New()
	queue := dev.Queue().(*nullr.Queue)
	sub, _ := gfx.NewSubmitter(dev, 2)
	surface := nullr.NewSurface(dev, 800, 600)

	list, _ := sub.AcquireList()
	list.BeginRecording()
	list.EndRecording()

	submitErr := errors.New("device lost")
	queue.FailNextSubmit(submitErr)
	if err := sub.EndFrame([]*gfx.CommandList{list}, surface); err != submitErr {
		t.Fatalf("EndFrame: %v, want submit error", err)
	}

	// The GPU never saw the list, it must come back reusable.
	if list.State() != gfx.ListFree {
		t.Fatalf("list in state %s after failed submit", list.State())
	}
	if sub.Stats().FreeLists != 1 {
		t.Fatalf("FreeLists = %d, want 1", sub.Stats().FreeLists)
	}
	if sub.Stats().FenceCurrent != 0 {
		t.Fatal("fence signalled for a frame that was never submitted")
	}
}

func TestSubmitterPresentFailure(t *testing.T) {
	dev := nullr.New()
	queue := dev.Queue().(*nullr.Queue)
	sub, _ := gfx.NewSubmitter(dev, 2)
	surface := nullr.NewSurface(dev, 800, 600)

	surface.FailNextPresent(gfx.ErrOutOfDate)
	recordFrame(t, sub, surface)

	// The frame is discarded but its submitted work stays tracked:
	// the fence still signals so the ring can retire the slot later.
	stats := sub.Stats()
	if stats.PresentFailures != 1 {
		t.Errorf("PresentFailures = %d, want 1", stats.PresentFailures)
	}
	if stats.FenceCurrent != 1 {
		t.Errorf("FenceCurrent = %d, want 1", stats.FenceCurrent)
	}
	if surface.Presents() != 0 {
		t.Errorf("%d successful presents, want 0", surface.Presents())
	}

	queue.Complete(1)
	recordFrame(t, sub, surface)
	if sub.Stats().PresentFailures != 1 {
		t.Error("present failure count changed on a healthy frame")
	}
}

func TestSubmitterAcquireFailureSkipsFrame(t *testing.T) {
	dev := nullr.New()
	sub, _ := gfx.NewSubmitter(dev, 2)
	surface := nullr.NewSurface(dev, 800, 600)

	surface.FailNextAcquire(gfx.ErrSurfaceLost)
	if _, err := sub.BeginFrame(surface); err != gfx.ErrSurfaceLost {
		t.Fatalf("BeginFrame: %v, want ErrSurfaceLost", err)
	}

	// Next frame proceeds normally.
	if _, err := sub.BeginFrame(surface); err != nil {
		t.Fatalf("BeginFrame after lost surface: %v", err)
	}
}

func TestSubmitterResize(t *testing.T) {
	dev := nullr.New()
	queue := dev.Queue().(*nullr.Queue)
	sub, _ := gfx.NewSubmitter(dev, 2)
	surface := nullr.NewSurface(dev, 800, 600)

	recordFrame(t, sub, surface)
	queue.Complete(1)

	surface.RequestResize(1024, 768)
	target, err := sub.BeginFrame(surface)
	if err != nil {
		t.Fatalf("BeginFrame with pending resize: %v", err)
	}
	if surface.Resizes() != 1 {
		t.Fatalf("%d resizes, want 1", surface.Resizes())
	}
	if _, pending := surface.PendingResize(); pending {
		t.Fatal("resize still pending after BeginFrame")
	}
	want := gfx.Extent2D{Width: 1024, Height: 768}
	if target.Extent() != want {
		t.Fatalf("target extent %+v, want %+v", target.Extent(), want)
	}
}

func TestSubmitterDeferredRelease(t *testing.T) {
	dev := nullr.New()
	queue := dev.Queue().(*nullr.Queue)
	sub, _ := gfx.NewSubmitter(dev, 2)
	surface := nullr.NewSurface(dev, 800, 600)

	texture, err := dev.NewTexture(gfx.TextureInfo{
		Extent: gfx.Extent2D{Width: 64, Height: 64},
	})
	if err != nil {
		t.Fatalf("NewTexture: %v", err)
	}
	tracked := texture.(*nullr.Texture)

	if _, err := sub.BeginFrame(surface); err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
	list, _ := sub.AcquireList()
	list.BeginRecording()
	sub.RegisterDeferredRelease(texture)
	list.EndRecording()
	if err := sub.EndFrame([]*gfx.CommandList{list}, surface); err != nil {
		t.Fatalf("EndFrame: %v", err)
	}

	if tracked.Releases() != 0 {
		t.Fatal("deferred resource destroyed synchronously")
	}
	if sub.Stats().PendingReleases != 1 {
		t.Fatalf("PendingReleases = %d, want 1", sub.Stats().PendingReleases)
	}

	// One more frame does not reach the registering slot yet.
	queue.Complete(1)
	recordFrame(t, sub, surface)
	if tracked.Releases() != 0 {
		t.Fatal("deferred resource destroyed before its slot retired")
	}

	// The third BeginFrame reuses the registering slot and, with the
	// fence proven complete, destroys the resource exactly once.
	queue.Complete(2)
	recordFrame(t, sub, surface)
	if tracked.Releases() != 1 {
		t.Fatalf("deferred resource released %d times, want 1", tracked.Releases())
	}
}

func TestSubmitterAbortedFrameKeepsDeferredRelease(t *testing.T) {
	dev := nullr.New()
	queue := dev.Queue().(*nullr.Queue)
	sub, _ := gfx.NewSubmitter(dev, 2)
	surface := nullr.NewSurface(dev, 800, 600)

	// Frame 1 is in flight and the GPU has completed nothing.
	recordFrame(t, sub, surface)

	texture, _ := dev.NewTexture(gfx.TextureInfo{})
	tracked := texture.(*nullr.Texture)

	// Frame 2 registers a release and then aborts: the submit fails,
	// so the ring never advances and the fence never signals 2.
	if _, err := sub.BeginFrame(surface); err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
	list, _ := sub.AcquireList()
	list.BeginRecording()
	sub.RegisterDeferredRelease(texture)
	list.EndRecording()
	queue.FailNextSubmit(errors.New("device lost"))
	if err := sub.EndFrame([]*gfx.CommandList{list}, surface); err == nil {
		t.Fatal("EndFrame succeeded with a failing submit")
	}

	// The slot retired here was never signalled, and frame 1 may
	// still reference the resource; it must stay queued.
	if _, err := sub.BeginFrame(surface); err != nil {
		t.Fatalf("BeginFrame after aborted frame: %v", err)
	}
	if tracked.Releases() != 0 {
		t.Fatalf("resource released %d times with fence completed at %d", tracked.Releases(), sub.Fence().Completed())
	}
	if sub.Stats().PendingReleases != 1 {
		t.Fatalf("PendingReleases = %d, want 1", sub.Stats().PendingReleases)
	}

	// Finish the replacement frame (signals 2), let the GPU catch up
	// and cycle until the carrying slot retires with 2 completed.
	list, _ = sub.AcquireList()
	list.BeginRecording()
	list.EndRecording()
	if err := sub.EndFrame([]*gfx.CommandList{list}, surface); err != nil {
		t.Fatalf("EndFrame: %v", err)
	}
	queue.Complete(1)
	recordFrame(t, sub, surface)
	queue.Complete(2)
	recordFrame(t, sub, surface)

	if tracked.Releases() != 1 {
		t.Fatalf("resource released %d times, want 1", tracked.Releases())
	}
	if sub.Stats().PendingReleases != 0 {
		t.Fatalf("PendingReleases = %d after carry-over drained", sub.Stats().PendingReleases)
	}
}

func TestSubmitterFlushDrains(t *testing.T) {
	dev := nullr.New()
	queue := dev.Queue().(*nullr.Queue)
	sub, _ := gfx.NewSubmitter(dev, 3)
	surface := nullr.NewSurface(dev, 800, 600)

	texture, _ := dev.NewTexture(gfx.TextureInfo{})
	tracked := texture.(*nullr.Texture)

	if _, err := sub.BeginFrame(surface); err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
	list, _ := sub.AcquireList()
	list.BeginRecording()
	sub.RegisterDeferredRelease(texture)
	list.EndRecording()
	if err := sub.EndFrame([]*gfx.CommandList{list}, surface); err != nil {
		t.Fatalf("EndFrame: %v", err)
	}

	queue.CompleteAll()
	if err := sub.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if tracked.Releases() != 1 {
		t.Fatalf("resource released %d times after flush, want 1", tracked.Releases())
	}
	if sub.Stats().PendingReleases != 0 {
		t.Fatalf("PendingReleases = %d after flush", sub.Stats().PendingReleases)
	}
}

func TestSubmitterStatsConcurrent(t *testing.T) {
	dev := nullr.New()
	queue := dev.Queue().(*nullr.Queue)
	sub, _ := gfx.NewSubmitter(dev, 2)
	surface := nullr.NewSurface(dev, 800, 600)

	// Stats is the one submitter entry point other goroutines may
	// call; hammer it while the submission goroutine runs frames so
	// the race detector can see both sides.
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				sub.Stats()
			}
		}
	}()

	for frame := 1; frame <= 50; frame++ {
		recordFrame(t, sub, surface)
		queue.Complete(uint64(frame))
	}
	close(stop)
	<-done

	stats := sub.Stats()
	if stats.FramesSubmitted != 50 {
		t.Errorf("FramesSubmitted = %d, want 50", stats.FramesSubmitted)
	}
	if stats.FenceCompleted != 50 {
		t.Errorf("FenceCompleted = %d, want 50", stats.FenceCompleted)
	}
}

func TestSubmitterRelease(t *testing.T) {
	dev := nullr.New()
	queue := dev.Queue().(*nullr.Queue)
	sub, _ := gfx.NewSubmitter(dev, 2)
	surface := nullr.NewSurface(dev, 800, 600)

	recordFrame(t, sub, surface)
	queue.CompleteAll()
	sub.Release()

	if sub.Stats().FreeLists != 0 {
		t.Fatal("pooled lists survived Release")
	}
}
