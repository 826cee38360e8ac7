// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	vk "github.com/devblok/vulkan"
	glm "github.com/go-gl/mathgl/mgl32"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/veandco/go-sdl2/sdl"

	"github.com/devblok/forge/core"
	"github.com/devblok/forge/gfx"
	"github.com/devblok/forge/gfx/vkr"
	"github.com/devblok/forge/utility/pak"
)

func init() {
	runtime.LockOSThread()
}

// Essential globals
var (
	vkInstance *vkr.Instance
	vkDevice   *vkr.Device
	sdlWindow  *sdl.Window
	sdlSurface unsafe.Pointer

	frameCounter int64
)

// Profiling
var (
	cpuProfile   = flag.String("cpuprof", "", "Profile CPU usage to file")
	memProfile   = flag.String("memprof", "", "Profile memory usage into a file")
	traceProfile = flag.String("trace", "", "Trace output for profiling")
	debug        = flag.Bool("vkdbg", false, "Load Vulkan validation layers")
)

var configuration core.Configuration

func newWindow() *sdl.Window {
	window, err := sdl.CreateWindow("Forge",
		sdl.WINDOWPOS_UNDEFINED,
		sdl.WINDOWPOS_UNDEFINED,
		int32(configuration.Renderer.ScreenWidth),
		int32(configuration.Renderer.ScreenHeight),
		sdl.WINDOW_VULKAN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		panic(err)
	}
	return window
}

func composeShaders() (vertex, fragment []byte) {
	archive, err := pak.OpenFile(filepath.Join(configuration.Renderer.ShaderDirectory, "shaders.pak"))
	if err != nil {
		panic(err)
	}
	defer archive.Close()

	if vertex, err = archive.ReadAll("compose.vert.spv"); err != nil {
		panic(err)
	}
	if fragment, err = archive.ReadAll("compose.frag.spv"); err != nil {
		panic(err)
	}
	return
}

// clearPass records a pass that clears the view to the given color.
func clearPass(r, g, b float32) gfx.RenderFunc {
	return func(v *gfx.View, list *gfx.CommandList) error {
		rec := list.Recorder()
		rec.BeginPass(v.Framebuffer(), []gfx.ClearValue{
			{Color: [4]float32{r, g, b, 1}},
			{Depth: 1},
		})
		rec.EndPass()
		return nil
	}
}

func main() {
	flag.Parse()
	godotenv.Load()
	configuration = core.FromEnv()

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			panic(err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			panic(err)
		}
		defer pprof.StopCPUProfile()
	}

	if *traceProfile != "" {
		f, err := os.Create(*traceProfile)
		if err != nil {
			panic(err)
		}
		if err := trace.Start(f); err != nil {
			panic(err)
		}
		defer trace.Stop()
	}

	if err := sdl.Init(sdl.INIT_VIDEO | sdl.INIT_EVENTS); err != nil {
		panic(err)
	}
	defer sdl.Quit()

	if err := sdl.VulkanLoadLibrary(""); err != nil {
		panic(err)
	}
	defer sdl.VulkanUnloadLibrary()

	sdlWindow = newWindow()

	{
		cfg := vkr.InstanceConfiguration{
			DebugMode:  *debug,
			Extensions: sdlWindow.VulkanGetInstanceExtensions(),
			Layers:     []string{},
		}

		if vi, err := vkr.NewInstance(vkr.DefaultApplicationInfo, sdl.VulkanGetVkGetInstanceProcAddr(), cfg); err != nil {
			panic(err)
		} else {
			vkInstance = vi
		}
		defer vkInstance.Destroy()
	}

	if srf, err := sdlWindow.VulkanCreateSurface(vkInstance.Handle()); err != nil {
		panic(err)
	} else {
		sdlSurface = srf
	}
	windowSurface := vk.SurfaceFromPointer(uintptr(sdlSurface))

	vertexSPV, fragmentSPV := composeShaders()

	deviceUsed := vkInstance.AvailableDevices()[0]
	var deviceErr error
	vkDevice, deviceErr = vkr.NewDevice(vkInstance, deviceUsed, windowSurface, vkr.DeviceConfiguration{
		Extensions:         configuration.Renderer.DeviceExtensions,
		ComposeVertexSPV:   vertexSPV,
		ComposeFragmentSPV: fragmentSPV,
	})
	if deviceErr != nil {
		panic(deviceErr)
	}
	defer vkDevice.Release()

	surface, err := vkr.NewSurface(vkDevice, windowSurface, vkr.SurfaceConfiguration{
		SwapchainSize: uint32(configuration.Renderer.FramesInFlight) + 1,
		Width:         configuration.Renderer.ScreenWidth,
		Height:        configuration.Renderer.ScreenHeight,
	})
	if err != nil {
		panic(err)
	}
	defer surface.Release()

	submitter, err := gfx.NewSubmitter(vkDevice, configuration.Renderer.FramesInFlight)
	if err != nil {
		panic(err)
	}
	defer submitter.Release()

	compositor := gfx.NewCompositor()
	compositor.Attach(
		gfx.NewView("main", vkDevice, submitter),
		clearPass(0.1, 0.1, 0.25),
		gfx.FullSize,
		glm.Ident4())
	compositor.Attach(
		gfx.NewView("pip", vkDevice, submitter),
		clearPass(0.4, 0.1, 0.1),
		gfx.FractionalSize(1, 4),
		gfx.PlaceIn(0.7, -0.7, 0.25, 0.25))
	defer func() {
		for _, v := range compositor.Views() {
			v.Release()
		}
	}()

	timeService := core.NewTime(configuration.Time)
	defer timeService.Stop()

	ctx, cancel := context.WithCancel(context.Background())

	programSync := sync.WaitGroup{}

	/* Frame counter loop */
	programSync.Add(1)
	go func(ctx context.Context, wg *sync.WaitGroup) {
	CounterLoop:
		for {
			select {
			case <-ctx.Done():
				break CounterLoop
			default:
				currentCount := atomic.LoadInt64(&frameCounter)
				atomic.StoreInt64(&frameCounter, 0)
				stats := submitter.Stats()
				fmt.Printf("\r\033[2KFrame count: %d\tFence: %d\tPresent failures: %d", currentCount*5, stats.FenceCurrent, stats.PresentFailures)
				time.Sleep(200 * time.Millisecond)
				// 200 ms * 5 = 1s, therefore we need to mutiply the count
			}
		}
		wg.Done()
	}(ctx, &programSync)

	/* Renderer loop */
	programSync.Add(1)
	go func(ctx context.Context, wg *sync.WaitGroup) {
	DrawLoop:
		for {
			select {
			case <-ctx.Done():
				log.Info("Render loop exited")
				break DrawLoop
			case <-timeService.FpsTicker().C:
				target, err := submitter.BeginFrame(surface)
				if err != nil {
					log.Error("BeginFrame: " + err.Error())
					continue DrawLoop
				}

				list, err := submitter.AcquireList()
				if err != nil {
					log.Error("AcquireList: " + err.Error())
					continue DrawLoop
				}
				if err := list.BeginRecording(); err != nil {
					log.Error("BeginRecording: " + err.Error())
					continue DrawLoop
				}
				compositor.Frame(list, target)
				if err := list.EndRecording(); err != nil {
					log.Error("EndRecording: " + err.Error())
					continue DrawLoop
				}

				if err := submitter.EndFrame([]*gfx.CommandList{list}, surface); err != nil {
					log.Error("EndFrame: " + err.Error())
					continue DrawLoop
				}

				atomic.AddInt64(&frameCounter, 1)
			}
		}
		if err := submitter.Flush(); err != nil {
			log.Error("Flush: " + err.Error())
		}
		wg.Done()
	}(ctx, &programSync)

	/* Event loop */
EventLoop:
	for {
		select {
		case <-ctx.Done():
			break EventLoop
		case <-timeService.EventTicker().C:
			var event sdl.Event
			for event = sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
				switch et := event.(type) {
				case *sdl.WindowEvent:
					if et.Event == sdl.WINDOWEVENT_SIZE_CHANGED {
						surface.NotifyResize(uint32(et.Data1), uint32(et.Data2))
					}
				case *sdl.KeyboardEvent:
					if et.Keysym.Sym == sdl.K_ESCAPE {
						cancel()
						continue EventLoop
					}
				case *sdl.QuitEvent:
					cancel()
					continue EventLoop
				}
			}
		}
	}

	programSync.Wait()

	if *memProfile != "" {
		f, err := os.Create(*memProfile)
		if err != nil {
			panic(err)
		}
		if err := pprof.WriteHeapProfile(f); err != nil {
			panic(err)
		}
	}
}
