// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package gfx_test

import (
	"errors"
	"testing"

	"github.com/devblok/forge/gfx"
	"github.com/devblok/forge/gfx/nullr"
)

func TestTaskResumesOneStepAtATime(t *testing.T) {
	var trace []int
	task := gfx.NewTask(
		func() error { trace = append(trace, 1); return nil },
		func() error { trace = append(trace, 2); return nil },
		func() error { trace = append(trace, 3); return nil },
	)

	for i := 1; i <= 3; i++ {
		done, err := task.Resume()
		if err != nil {
			t.Fatalf("Resume %d: %v", i, err)
		}
		if len(trace) != i {
			t.Fatalf("Resume %d ran %d steps", i, len(trace))
		}
		if done != (i == 3) {
			t.Fatalf("Resume %d: done = %v", i, done)
		}
	}
	if !task.Done() {
		t.Fatal("task not done after all steps")
	}

	// Resuming a finished task is a no-op.
	if done, err := task.Resume(); !done || err != nil {
		t.Fatalf("Resume after done: %v, %v", done, err)
	}
	if len(trace) != 3 {
		t.Fatal("finished task ran another step")
	}
}

func TestTaskErrorAbandonsRemainder(t *testing.T) {
	stepErr := errors.New("step failed")
	var ranLast bool
	task := gfx.NewTask(
		func() error { return nil },
		func() error { return stepErr },
		func() error { ranLast = true; return nil },
	)

	task.Resume()
	done, err := task.Resume()
	if !done || err != stepErr {
		t.Fatalf("Resume: done %v err %v", done, err)
	}
	if !task.Done() {
		t.Fatal("failed task not marked done")
	}
	if done, err := task.Resume(); !done || err != nil {
		t.Fatalf("Resume after failure: %v, %v", done, err)
	}
	if ranLast {
		t.Fatal("step ran after a failed predecessor")
	}
}

func TestSizeFuncs(t *testing.T) {
	surface := gfx.Extent2D{Width: 800, Height: 600}
	if got := gfx.FullSize(surface); got != surface {
		t.Errorf("FullSize = %+v", got)
	}
	want := gfx.Extent2D{Width: 200, Height: 150}
	if got := gfx.FractionalSize(1, 4)(surface); got != want {
		t.Errorf("FractionalSize(1, 4) = %+v, want %+v", got, want)
	}
}

func TestPlaceIn(t *testing.T) {
	m := gfx.PlaceIn(0.5, -0.5, 0.25, 0.25)
	if m[0] != 0.25 || m[5] != 0.25 {
		t.Errorf("scale %v/%v, want 0.25/0.25", m[0], m[5])
	}
	if m[12] != 0.5 || m[13] != -0.5 {
		t.Errorf("translation %v/%v, want 0.5/-0.5", m[12], m[13])
	}
}

func TestCompositorRoundRobin(t *testing.T) {
	dev := nullr.New()
	sub, _ := gfx.NewSubmitter(dev, 2)
	surface := nullr.NewSurface(dev, 800, 600)

	target, err := surface.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	list, _ := sub.AcquireList()
	list.BeginRecording()

	var trace []string
	var allocatedAtFirstRender int
	render := func(name string) gfx.RenderFunc {
		return func(v *gfx.View, list *gfx.CommandList) error {
			if len(trace) == 0 {
				allocatedAtFirstRender = dev.Allocated()
			}
			trace = append(trace, name)
			return nil
		}
	}

	comp := gfx.NewCompositor()
	comp.Attach(gfx.NewView("main", dev, sub), render("main"), gfx.FullSize, gfx.PlaceIn(0, 0, 1, 1))
	comp.Attach(gfx.NewView("pip", dev, sub), render("pip"), gfx.FractionalSize(1, 4), gfx.PlaceIn(0.7, 0.7, 0.25, 0.25))
	comp.Frame(list, target)

	// Every view finishes its ensure step before any view renders.
	if len(trace) != 2 || trace[0] != "main" || trace[1] != "pip" {
		t.Fatalf("render order %v", trace)
	}
	if allocatedAtFirstRender != 6 {
		t.Fatalf("%d resources existed at first render, want both views' 6", allocatedAtFirstRender)
	}
	for _, v := range comp.Views() {
		if !v.Ready() {
			t.Errorf("view %s not ready after frame", v.Name())
		}
	}
	if got := list.Recorder().(*nullr.CommandBuffer).Composites(); got != 2 {
		t.Fatalf("%d composite draws, want 2", got)
	}

	// The picture-in-picture view sized itself off the surface.
	pip := comp.Views()[1]
	if pip.Extent() != (gfx.Extent2D{Width: 200, Height: 150}) {
		t.Fatalf("pip extent %+v", pip.Extent())
	}
}

func TestCompositorSkipsFailedView(t *testing.T) {
	dev := nullr.New()
	sub, _ := gfx.NewSubmitter(dev, 2)
	surface := nullr.NewSurface(dev, 800, 600)

	target, _ := surface.Acquire()
	list, _ := sub.AcquireList()
	list.BeginRecording()

	ok := func(v *gfx.View, list *gfx.CommandList) error { return nil }
	bad := func(v *gfx.View, list *gfx.CommandList) error { return errors.New("shader blew up") }

	comp := gfx.NewCompositor()
	comp.Attach(gfx.NewView("main", dev, sub), ok, gfx.FullSize, gfx.PlaceIn(0, 0, 1, 1))
	comp.Attach(gfx.NewView("broken", dev, sub), bad, gfx.FullSize, gfx.PlaceIn(0, 0, 1, 1))
	comp.Frame(list, target)

	views := comp.Views()
	if !views[0].Ready() {
		t.Fatal("healthy view marked failed")
	}
	if views[1].Ready() {
		t.Fatal("failed view still marked ready")
	}
	if got := list.Recorder().(*nullr.CommandBuffer).Composites(); got != 1 {
		t.Fatalf("%d composite draws, want 1", got)
	}
}

func TestCompositorSkipsViewWithoutTargets(t *testing.T) {
	dev := nullr.New()
	sub, _ := gfx.NewSubmitter(dev, 2)
	surface := nullr.NewSurface(dev, 800, 600)

	target, _ := surface.Acquire()
	list, _ := sub.AcquireList()
	list.BeginRecording()

	comp := gfx.NewCompositor()
	dev.FailTextures(1)
	comp.Attach(gfx.NewView("starved", dev, sub), func(v *gfx.View, list *gfx.CommandList) error {
		t.Error("render ran without targets")
		return nil
	}, gfx.FullSize, gfx.PlaceIn(0, 0, 1, 1))
	comp.Frame(list, target)

	if got := list.Recorder().(*nullr.CommandBuffer).Composites(); got != 0 {
		t.Fatalf("%d composite draws, want 0", got)
	}
}
