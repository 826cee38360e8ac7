package core

import (
	"testing"

	"github.com/gobuffalo/envy"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Time.FramesPerSecond != 60 {
		t.Errorf("FramesPerSecond = %d", cfg.Time.FramesPerSecond)
	}
	if cfg.Renderer.FramesInFlight != 2 {
		t.Errorf("FramesInFlight = %d", cfg.Renderer.FramesInFlight)
	}
	if cfg.Renderer.ScreenWidth != 800 || cfg.Renderer.ScreenHeight != 600 {
		t.Errorf("screen %dx%d", cfg.Renderer.ScreenWidth, cfg.Renderer.ScreenHeight)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	envy.Temp(func() {
		envy.Set("FORGE_FPS", "144")
		envy.Set("FORGE_FRAMES_IN_FLIGHT", "3")
		envy.Set("FORGE_WIDTH", "1920")
		envy.Set("FORGE_HEIGHT", "1080")
		envy.Set("FORGE_DEVICE_EXTENSIONS", "VK_KHR_swapchain,VK_KHR_maintenance1")

		cfg := FromEnv()
		if cfg.Time.FramesPerSecond != 144 {
			t.Errorf("FramesPerSecond = %d", cfg.Time.FramesPerSecond)
		}
		if cfg.Renderer.FramesInFlight != 3 {
			t.Errorf("FramesInFlight = %d", cfg.Renderer.FramesInFlight)
		}
		if cfg.Renderer.ScreenWidth != 1920 || cfg.Renderer.ScreenHeight != 1080 {
			t.Errorf("screen %dx%d", cfg.Renderer.ScreenWidth, cfg.Renderer.ScreenHeight)
		}
		if len(cfg.Renderer.DeviceExtensions) != 2 {
			t.Errorf("extensions %v", cfg.Renderer.DeviceExtensions)
		}
	})
}

func TestFromEnvIgnoresMalformed(t *testing.T) {
	envy.Temp(func() {
		envy.Set("FORGE_FPS", "fast")
		envy.Set("FORGE_WIDTH", "-1")

		cfg := FromEnv()
		if cfg.Time.FramesPerSecond != 60 {
			t.Errorf("FramesPerSecond = %d, want default", cfg.Time.FramesPerSecond)
		}
		if cfg.Renderer.ScreenWidth != 800 {
			t.Errorf("ScreenWidth = %d, want default", cfg.Renderer.ScreenWidth)
		}
	})
}
