// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package gfx

import (
	glm "github.com/go-gl/mathgl/mgl32"
	log "github.com/sirupsen/logrus"
)

// Step is one unit of a view's frame work. Steps run on the submission
// goroutine; a task suspends between steps at GPU-submission
// boundaries, structuring sequential work without OS concurrency.
type Step func() error

// NewTask creates a task over the given steps.
func NewTask(steps ...Step) *Task {
	return &Task{steps: steps}
}

// Task is a resumable sequence of steps. Resume runs exactly one step;
// an error abandons the remainder.
type Task struct {
	steps []Step
	next  int
}

// Resume runs the next step. It reports whether the task is finished,
// together with the step's error if it failed.
func (t *Task) Resume() (bool, error) {
	if t.next >= len(t.steps) {
		return true, nil
	}
	step := t.steps[t.next]
	t.next++
	if err := step(); err != nil {
		t.next = len(t.steps)
		return true, err
	}
	return t.next >= len(t.steps), nil
}

// Done reports whether all steps have run or the task was abandoned.
func (t *Task) Done() bool {
	return t.next >= len(t.steps)
}

// RenderFunc records one view's draw commands into the given list.
type RenderFunc func(v *View, list *CommandList) error

// SizeFunc derives a view's target size from the surface size.
type SizeFunc func(surface Extent2D) Extent2D

// FullSize sizes a view to cover the whole surface.
func FullSize(surface Extent2D) Extent2D {
	return surface
}

// FractionalSize sizes a view to num/den of the surface in both
// dimensions. Used for picture-in-picture views.
func FractionalSize(num, den uint32) SizeFunc {
	return func(surface Extent2D) Extent2D {
		return Extent2D{
			Width:  surface.Width * num / den,
			Height: surface.Height * num / den,
		}
	}
}

// PlaceIn builds a compose transform that maps a unit quad to the
// given normalised-device-coordinate rectangle.
func PlaceIn(x, y, width, height float32) glm.Mat4 {
	return glm.Translate3D(x, y, 0).Mul4(glm.Scale3D(width, height, 1))
}

type attachment struct {
	view      *View
	render    RenderFunc
	size      SizeFunc
	transform glm.Mat4
}

// NewCompositor creates an empty compositor.
func NewCompositor() *Compositor {
	return &Compositor{}
}

// Compositor owns the set of views composed onto the frame's render
// target. Per frame it sizes and renders each view cooperatively, then
// records a compose pass sampling every ready view's color target.
// Views whose resources or render attempt failed are skipped for the
// frame rather than read from stale or partial targets.
type Compositor struct {
	attachments []attachment
}

// Attach adds a view with its render callback, sizing policy and
// compose placement.
func (c *Compositor) Attach(v *View, render RenderFunc, size SizeFunc, transform glm.Mat4) {
	c.attachments = append(c.attachments, attachment{
		view:      v,
		render:    render,
		size:      size,
		transform: transform,
	})
}

// Views returns the attached views in attach order.
func (c *Compositor) Views() []*View {
	views := make([]*View, len(c.attachments))
	for i := range c.attachments {
		views[i] = c.attachments[i].view
	}
	return views
}

// Frame runs every view's ensure and render steps cooperatively, then
// composes the ready views onto target. All commands land in list,
// which must be recording.
func (c *Compositor) Frame(list *CommandList, target RenderTarget) {
	surface := target.Extent()

	tasks := make([]*Task, len(c.attachments))
	for i := range c.attachments {
		att := &c.attachments[i]
		extent := att.size(surface)
		tasks[i] = NewTask(
			func() error {
				return att.view.EnsureRenderTargets(list, extent.Width, extent.Height)
			},
			func() error {
				return att.render(att.view, list)
			},
		)
	}

	// Round-robin so each view reaches the same suspension point
	// before any moves past it.
	for running := true; running; {
		running = false
		for i, task := range tasks {
			if task == nil {
				continue
			}
			done, err := task.Resume()
			if err != nil {
				c.attachments[i].view.markFailed(err)
				tasks[i] = nil
				continue
			}
			if done {
				tasks[i] = nil
				continue
			}
			running = true
		}
	}

	c.compose(list, target)
}

// compose records the pass that samples each ready view's color target
// onto the frame's render target.
func (c *Compositor) compose(list *CommandList, target RenderTarget) {
	recorder := list.Recorder()

	var ready []*attachment
	for i := range c.attachments {
		att := &c.attachments[i]
		if !att.view.Ready() {
			log.WithField("view", att.view.Name()).Debug("view not ready, composing without it")
			continue
		}
		ready = append(ready, att)
	}

	transitions := make([]Transition, len(ready))
	for i, att := range ready {
		transitions[i] = Transition{
			Texture: att.view.ColorTarget(),
			From:    StateRenderTarget,
			To:      StateShaderRead,
		}
	}
	recorder.Transition(transitions)

	recorder.BeginPass(target.Framebuffer(), []ClearValue{
		{Color: [4]float32{0.005, 0.005, 0.005, 1}},
		{Depth: 1},
	})
	for _, att := range ready {
		recorder.Composite(att.view.ColorTarget(), [16]float32(att.transform))
	}
	recorder.EndPass()

	// Next frame renders into the view targets again.
	for i := range transitions {
		transitions[i].From, transitions[i].To = transitions[i].To, transitions[i].From
	}
	recorder.Transition(transitions)
}
