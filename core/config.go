package core

import (
	"strconv"
	"strings"

	"github.com/gobuffalo/envy"
)

// Configuration defines a global engine configuration setting
type Configuration struct {
	Time     TimeConfiguration
	Renderer RendererConfiguration
}

// TimeConfiguration is used to configure time services
type TimeConfiguration struct {
	// FramesPerSecond caps frames per second that is put out
	// To unlimit, set to 0
	FramesPerSecond int

	// EventPollDelay is the delay between window event polls
	// in milliseconds
	EventPollDelay int
}

// RendererConfiguration is used to configure the renderer
type RendererConfiguration struct {
	// FramesInFlight bounds how many frames the CPU may record
	// ahead of the GPU
	FramesInFlight int

	DeviceExtensions []string

	ScreenWidth  uint32
	ScreenHeight uint32

	ShaderDirectory string
}

// Default returns the configuration used when nothing overrides it.
func Default() Configuration {
	return Configuration{
		Time: TimeConfiguration{
			FramesPerSecond: 60,
			EventPollDelay:  10,
		},
		Renderer: RendererConfiguration{
			FramesInFlight: 2,
			ScreenWidth:    800,
			ScreenHeight:   600,
			DeviceExtensions: []string{
				"VK_KHR_swapchain",
			},
			ShaderDirectory: "./shaders",
		},
	}
}

// FromEnv layers environment overrides over the defaults. A .env file
// in the working directory is honoured through envy. Recognised
// variables: FORGE_FPS, FORGE_EVENT_POLL_MS, FORGE_FRAMES_IN_FLIGHT,
// FORGE_WIDTH, FORGE_HEIGHT, FORGE_SHADER_DIR and
// FORGE_DEVICE_EXTENSIONS as a comma separated list.
func FromEnv() Configuration {
	cfg := Default()

	cfg.Time.FramesPerSecond = envInt("FORGE_FPS", cfg.Time.FramesPerSecond)
	cfg.Time.EventPollDelay = envInt("FORGE_EVENT_POLL_MS", cfg.Time.EventPollDelay)
	cfg.Renderer.FramesInFlight = envInt("FORGE_FRAMES_IN_FLIGHT", cfg.Renderer.FramesInFlight)
	cfg.Renderer.ScreenWidth = envUint32("FORGE_WIDTH", cfg.Renderer.ScreenWidth)
	cfg.Renderer.ScreenHeight = envUint32("FORGE_HEIGHT", cfg.Renderer.ScreenHeight)
	cfg.Renderer.ShaderDirectory = envy.Get("FORGE_SHADER_DIR", cfg.Renderer.ShaderDirectory)

	if ext := envy.Get("FORGE_DEVICE_EXTENSIONS", ""); ext != "" {
		cfg.Renderer.DeviceExtensions = strings.Split(ext, ",")
	}
	return cfg
}

func envInt(key string, def int) int {
	value, err := strconv.Atoi(envy.Get(key, ""))
	if err != nil {
		return def
	}
	return value
}

func envUint32(key string, def uint32) uint32 {
	value, err := strconv.ParseUint(envy.Get(key, ""), 10, 32)
	if err != nil {
		return def
	}
	return uint32(value)
}
