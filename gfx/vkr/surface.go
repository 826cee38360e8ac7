// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"errors"
	"math"
	"sync"

	vk "github.com/devblok/vulkan"

	"github.com/devblok/forge/gfx"
)

// SurfaceConfiguration configures the swapchain.
type SurfaceConfiguration struct {
	SwapchainSize uint32
	Width, Height uint32
}

// NewSurface wraps a windowing-system surface into a presentable
// gfx.Surface with its own swapchain, depth attachment and
// framebuffers.
func NewSurface(dev *Device, vkSurface vk.Surface, cfg SurfaceConfiguration) (*Surface, error) {
	var (
		surfaceFormatCount uint32
		surfaceFormats     []vk.SurfaceFormat
	)
	if err := vk.Error(vk.GetPhysicalDeviceSurfaceFormats(dev.physical, vkSurface, &surfaceFormatCount, nil)); err != nil {
		return nil, errors.New("vk.GetPhysicalDeviceSurfaceFormats(): " + err.Error())
	}
	surfaceFormats = make([]vk.SurfaceFormat, surfaceFormatCount)
	if err := vk.Error(vk.GetPhysicalDeviceSurfaceFormats(dev.physical, vkSurface, &surfaceFormatCount, surfaceFormats)); err != nil {
		return nil, errors.New("vk.GetPhysicalDeviceSurfaceFormats(): " + err.Error())
	}
	surfaceFormats[0].Deref()

	sci := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var imageAvailable, renderFinished vk.Semaphore
	if err := vk.Error(vk.CreateSemaphore(dev.device, &sci, nil, &imageAvailable)); err != nil {
		return nil, errors.New("vk.CreateSemaphore(): " + err.Error())
	}
	if err := vk.Error(vk.CreateSemaphore(dev.device, &sci, nil, &renderFinished)); err != nil {
		return nil, errors.New("vk.CreateSemaphore(): " + err.Error())
	}

	s := &Surface{
		dev:             dev,
		surface:         vkSurface,
		swapchainSize:   cfg.SwapchainSize,
		imageFormat:     surfaceFormats[0].Format,
		imageColorspace: surfaceFormats[0].ColorSpace,
		extent:          gfx.Extent2D{Width: cfg.Width, Height: cfg.Height},
		imageAvailable:  imageAvailable,
		renderFinished:  renderFinished,
	}
	if err := s.createSwapchain(vk.NullSwapchain); err != nil {
		return nil, err
	}
	return s, nil
}

// Surface implements gfx.Surface over a Vulkan swapchain.
type Surface struct {
	dev     *Device
	surface vk.Surface

	swapchainSize   uint32
	imageFormat     vk.Format
	imageColorspace vk.ColorSpace

	swapchain    vk.Swapchain
	images       []vk.Image
	views        []vk.ImageView
	framebuffers []*Framebuffer
	depth        *Texture

	imageAvailable vk.Semaphore
	renderFinished vk.Semaphore
	imageIndex     uint32

	mu      sync.Mutex
	extent  gfx.Extent2D
	pending *gfx.Extent2D
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

// NotifyResize records a window size change to be applied at the next
// frame boundary. Safe to call from the event loop.
func (s *Surface) NotifyResize(width, height uint32) {
	s.mu.Lock()
	s.pending = &gfx.Extent2D{Width: width, Height: height}
	s.mu.Unlock()
}

// Resize implements interface
func (s *Surface) Resize(extent gfx.Extent2D) error {
	s.destroyFramebuffers()

	old := s.swapchain
	s.mu.Lock()
	s.extent = extent
	s.pending = nil
	s.mu.Unlock()

	if err := s.createSwapchain(old); err != nil {
		return err
	}
	if old != vk.NullSwapchain {
		vk.DestroySwapchain(s.dev.device, old, nil)
	}
	return nil
}

// Acquire implements interface
func (s *Surface) Acquire() (gfx.RenderTarget, error) {
	result := vk.AcquireNextImage(s.dev.device, s.swapchain, math.MaxUint64, s.imageAvailable, vk.NullFence, &s.imageIndex)
	switch result {
	case vk.ErrorOutOfDate:
		return nil, gfx.ErrOutOfDate
	case vk.ErrorSurfaceLost:
		return nil, gfx.ErrSurfaceLost
	}
	if err := vk.Error(result); err != nil {
		return nil, errors.New("vk.AcquireNextImage(): " + err.Error())
	}

	// The frame's submission must wait for the acquired image and
	// release it for presentation when it is done.
	s.dev.queue.addWait(s.imageAvailable, vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit))
	s.dev.queue.addSignal(s.renderFinished)

	return &SwapchainTarget{surface: s, index: s.imageIndex}, nil
}

// Present implements interface
func (s *Surface) Present() error {
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{s.renderFinished},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{s.swapchain},
		PImageIndices:      []uint32{s.imageIndex},
	}

	result := vk.QueuePresent(s.dev.queue.queue, &presentInfo)
	switch result {
	case vk.ErrorOutOfDate:
		return gfx.ErrOutOfDate
	case vk.ErrorSurfaceLost:
		return gfx.ErrSurfaceLost
	}
	if err := vk.Error(result); err != nil {
		return errors.New("vk.QueuePresent(): " + err.Error())
	}
	return nil
}

// Release implements interface
func (s *Surface) Release() {
	s.destroyFramebuffers()
	if s.swapchain != vk.NullSwapchain {
		vk.DestroySwapchain(s.dev.device, s.swapchain, nil)
	}
	vk.DestroySemaphore(s.dev.device, s.imageAvailable, nil)
	vk.DestroySemaphore(s.dev.device, s.renderFinished, nil)
	vk.DestroySurface(s.dev.instance.instance, s.surface, nil)
}

func (s *Surface) createSwapchain(oldSwapchain vk.Swapchain) error {
	var surfaceCapabilities vk.SurfaceCapabilities
	if err := vk.Error(vk.GetPhysicalDeviceSurfaceCapabilities(s.dev.physical, s.surface, &surfaceCapabilities)); err != nil {
		return errors.New("vk.GetPhysicalDeviceSurfaceCapabilities(): " + err.Error())
	}

	// In case swapchain is being recreated
	if oldSwapchain != vk.NullSwapchain {
		surfaceCapabilities.Deref()
		surfaceCapabilities.CurrentExtent.Deref()
		s.mu.Lock()
		s.extent = gfx.Extent2D{
			Width:  surfaceCapabilities.CurrentExtent.Width,
			Height: surfaceCapabilities.CurrentExtent.Height,
		}
		s.mu.Unlock()
	}

	compositeAlpha := vk.CompositeAlphaOpaqueBit
	compositeAlphaFlags := []vk.CompositeAlphaFlagBits{
		vk.CompositeAlphaOpaqueBit,
		vk.CompositeAlphaPreMultipliedBit,
		vk.CompositeAlphaPostMultipliedBit,
		vk.CompositeAlphaInheritBit,
	}
	for i := 0; i < len(compositeAlphaFlags); i++ {
		alphaFlags := vk.CompositeAlphaFlags(compositeAlphaFlags[i])
		if surfaceCapabilities.SupportedCompositeAlpha&alphaFlags != 0 {
			compositeAlpha = compositeAlphaFlags[i]
			break
		}
	}

	extent := s.Extent()
	var swapchain vk.Swapchain
	scci := vk.SwapchainCreateInfo{
		SType:           vk.StructureTypeSwapchainCreateInfo,
		Surface:         s.surface,
		MinImageCount:   s.swapchainSize,
		ImageFormat:     s.imageFormat,
		ImageColorSpace: s.imageColorspace,
		ImageExtent: vk.Extent2D{
			Width:  extent.Width,
			Height: extent.Height,
		},
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		PreTransform:     vk.SurfaceTransformIdentityBit,
		CompositeAlpha:   compositeAlpha,
		PresentMode:      vk.PresentModeFifo,
		Clipped:          vk.True,
		ImageArrayLayers: 1,
		ImageSharingMode: vk.SharingModeExclusive,
		OldSwapchain:     oldSwapchain,
	}
	if err := vk.Error(vk.CreateSwapchain(s.dev.device, &scci, nil, &swapchain)); err != nil {
		return errors.New("vk.CreateSwapchain(): " + err.Error())
	}
	s.swapchain = swapchain

	var numImages uint32
	if err := vk.Error(vk.GetSwapchainImages(s.dev.device, s.swapchain, &numImages, nil)); err != nil {
		return errors.New("vk.GetSwapchainImages(num): " + err.Error())
	}
	s.images = make([]vk.Image, numImages)
	if err := vk.Error(vk.GetSwapchainImages(s.dev.device, s.swapchain, &numImages, s.images)); err != nil {
		return errors.New("vk.GetSwapchainImages(images): " + err.Error())
	}

	return s.createFramebuffers(extent)
}

func (s *Surface) createFramebuffers(extent gfx.Extent2D) error {
	depth, err := newTexture(s.dev, gfx.TextureInfo{
		Extent:       extent,
		Format:       gfx.FormatD16,
		DepthStencil: true,
	})
	if err != nil {
		return err
	}
	s.depth = depth

	pass, err := s.dev.passFor(passKey{
		color:   s.imageFormat,
		depth:   formatToVk(gfx.FormatD16),
		present: true,
	})
	if err != nil {
		return err
	}

	for _, image := range s.images {
		ivci := vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    image,
			ViewType: vk.ImageViewType2d,
			Format:   s.imageFormat,
			Components: vk.ComponentMapping{
				R: vk.ComponentSwizzleIdentity,
				G: vk.ComponentSwizzleIdentity,
				B: vk.ComponentSwizzleIdentity,
				A: vk.ComponentSwizzleIdentity,
			},
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LevelCount: 1,
				LayerCount: 1,
			},
		}
		var view vk.ImageView
		if err := vk.Error(vk.CreateImageView(s.dev.device, &ivci, nil, &view)); err != nil {
			return errors.New("vk.CreateImageView(): " + err.Error())
		}
		s.views = append(s.views, view)

		attachments := []vk.ImageView{view, depth.view}
		fci := vk.FramebufferCreateInfo{
			SType:           vk.StructureTypeFramebufferCreateInfo,
			RenderPass:      pass,
			AttachmentCount: uint32(len(attachments)),
			PAttachments:    attachments,
			Width:           extent.Width,
			Height:          extent.Height,
			Layers:          1,
		}
		var framebuffer vk.Framebuffer
		if err := vk.Error(vk.CreateFramebuffer(s.dev.device, &fci, nil, &framebuffer)); err != nil {
			return errors.New("vk.CreateFramebuffer(): " + err.Error())
		}
		s.framebuffers = append(s.framebuffers, &Framebuffer{
			dev:         s.dev,
			framebuffer: framebuffer,
			pass:        pass,
			extent:      extent,
		})
	}
	return nil
}

// destroyFramebuffers tears down everything that depends on the
// swapchain images. Only call with the GPU idle.
func (s *Surface) destroyFramebuffers() {
	for _, framebuffer := range s.framebuffers {
		framebuffer.Release()
	}
	s.framebuffers = nil
	for _, view := range s.views {
		vk.DestroyImageView(s.dev.device, view, nil)
	}
	s.views = nil
	if s.depth != nil {
		s.depth.Release()
		s.depth = nil
	}
}

// SwapchainTarget is the acquired swapchain image of a Surface.
type SwapchainTarget struct {
	surface *Surface
	index   uint32
}

// Extent implements interface
func (t *SwapchainTarget) Extent() gfx.Extent2D {
	return t.surface.Extent()
}

// Framebuffer implements interface
func (t *SwapchainTarget) Framebuffer() gfx.Framebuffer {
	return t.surface.framebuffers[t.index]
}
