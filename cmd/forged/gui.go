// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"errors"
	"fmt"

	"github.com/gobuffalo/packr"
	"github.com/gotk3/gotk3/glib"
	"github.com/gotk3/gotk3/gtk"
	log "github.com/sirupsen/logrus"

	glm "github.com/go-gl/mathgl/mgl32"

	"github.com/devblok/forge/gfx"
	"github.com/devblok/forge/gfx/nullr"
)

// Global variables for GTK and resources
var (
	Builder         *gtk.Builder
	StaticResources packr.Box
)

func init() {
	StaticResources = packr.NewBox("./resources")
}

func buildInterface() (*gtk.Application, error) {
	app, err := gtk.ApplicationNew("org.forge3d.forged", glib.APPLICATION_FLAGS_NONE)
	if err != nil {
		return nil, err
	}

	app.Connect("startup", func() {
		log.Info("Application starting")
	})

	app.Connect("activate", func() {
		log.Info("Application activating")

		resource, err := StaticResources.FindString("forged.glade")
		if err != nil {
			log.Fatal(err)
			panic(err)
		}

		builder, err := gtk.BuilderNew()
		builder.AddFromString(resource)
		if err != nil {
			log.Error(err)
			panic(err)
		}

		Builder = builder

		obj, err := builder.GetObject("mainWindow")
		if err != nil {
			log.Error(err)
		}

		var (
			ok  bool
			win *gtk.Window
		)

		if win, ok = obj.(*gtk.Window); !ok {
			log.Error(errors.New("failed to cast Object from builder to Window"))
		} else {
			win.SetDefaultSize(600, 480)

			if err := attachEngine(builder); err != nil {
				log.Error(err)
			}

			win.ShowAll()
			app.AddWindow(win)
		}
	})

	app.Connect("shutdown", func() {
		log.Info("Application shutting down")
	})
	return app, nil
}

// attachEngine runs a frame loop over the host-memory backend and
// refreshes the stats label on a GTK timeout. Nothing touches the GPU,
// which makes the monitor usable on machines without Vulkan.
func attachEngine(builder *gtk.Builder) error {
	obj, err := builder.GetObject("statsLabel")
	if err != nil {
		return err
	}
	label, ok := obj.(*gtk.Label)
	if !ok {
		return errors.New("failed to cast Object from builder to Label")
	}

	dev := nullr.New()
	queue := dev.Queue().(*nullr.Queue)
	surface := nullr.NewSurface(dev, 800, 600)

	submitter, err := gfx.NewSubmitter(dev, 2)
	if err != nil {
		return err
	}

	compositor := gfx.NewCompositor()
	compositor.Attach(
		gfx.NewView("main", dev, submitter),
		func(v *gfx.View, list *gfx.CommandList) error {
			rec := list.Recorder()
			rec.BeginPass(v.Framebuffer(), []gfx.ClearValue{{}, {Depth: 1}})
			rec.EndPass()
			return nil
		},
		gfx.FullSize,
		glm.Ident4())

	glib.TimeoutAdd(16, func() bool {
		target, err := submitter.BeginFrame(surface)
		if err != nil {
			log.Error("BeginFrame: " + err.Error())
			return true
		}

		list, err := submitter.AcquireList()
		if err != nil {
			log.Error("AcquireList: " + err.Error())
			return true
		}
		if err := list.BeginRecording(); err != nil {
			log.Error("BeginRecording: " + err.Error())
			return true
		}
		compositor.Frame(list, target)
		if err := list.EndRecording(); err != nil {
			log.Error("EndRecording: " + err.Error())
			return true
		}
		if err := submitter.EndFrame([]*gfx.CommandList{list}, surface); err != nil {
			log.Error("EndFrame: " + err.Error())
			return true
		}

		// The host queue completes instantly.
		queue.CompleteAll()

		stats := submitter.Stats()
		label.SetText(fmt.Sprintf(
			"frames submitted: %d\nfence: %d / %d completed\npresent failures: %d\npending releases: %d\nfree lists: %d\nslot: %d of %d\ntextures alive: %d",
			stats.FramesSubmitted,
			stats.FenceCompleted, stats.FenceCurrent,
			stats.PresentFailures,
			stats.PendingReleases,
			stats.FreeLists,
			stats.SlotIndex+1, stats.FramesInFlight,
			dev.Allocated()-dev.Released()))
		return true
	})
	return nil
}
