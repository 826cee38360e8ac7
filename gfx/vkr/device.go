// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"errors"
	"sync"

	vk "github.com/devblok/vulkan"

	"github.com/devblok/forge/gfx"
)

// DeviceConfiguration configures logical device creation.
type DeviceConfiguration struct {
	Extensions []string

	// ComposeVertexSPV and ComposeFragmentSPV hold the compiled
	// compose pass shaders. They are required when the device is
	// used for compositing.
	ComposeVertexSPV   []byte
	ComposeFragmentSPV []byte
}

// NewDevice creates a logical device on the given physical device,
// with a single graphics queue that can present to surface. A zero
// surface skips the present capability check, which suits headless
// use.
func NewDevice(instance *Instance, physical vk.PhysicalDevice, surface vk.Surface, cfg DeviceConfiguration) (*Device, error) {
	queueIndex, err := findGraphicsQueueFamily(physical, surface)
	if err != nil {
		return nil, err
	}

	queueInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: queueIndex,
		QueueCount:       1,
		PQueuePriorities: []float32{1, 0},
	}}

	extensions := cfg.Extensions
	if len(extensions) == 0 {
		extensions = []string{vk.KhrSwapchainExtensionName}
	}

	dci := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: safeStrings(extensions),
		PEnabledFeatures: []vk.PhysicalDeviceFeatures{{
			SamplerAnisotropy: vk.True,
		}},
	}

	var device vk.Device
	if err := vk.Error(vk.CreateDevice(physical, &dci, nil, &device)); err != nil {
		return nil, errors.New("vk.CreateDevice(): " + err.Error())
	}

	var deviceQueue vk.Queue
	vk.GetDeviceQueue(device, queueIndex, 0, &deviceQueue)

	alloc, err := NewMemoryAllocator(device, physical)
	if err != nil {
		return nil, err
	}

	dev := &Device{
		instance:   instance,
		physical:   physical,
		device:     device,
		alloc:      alloc,
		queueIndex: queueIndex,
		cfg:        cfg,
		passes:     make(map[passKey]vk.RenderPass),
		compose:    make(map[vk.RenderPass]*composePipeline),
	}
	dev.queue = &Queue{dev: dev, queue: deviceQueue}
	return dev, nil
}

func findGraphicsQueueFamily(physical vk.PhysicalDevice, surface vk.Surface) (uint32, error) {
	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(physical, &queueFamilyCount, nil)
	if queueFamilyCount == 0 {
		return 0, errors.New("vk.GetPhysicalDeviceQueueFamilyProperties(): no queuefamilies on GPU")
	}
	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(physical, &queueFamilyCount, queueFamilies)

	required := vk.QueueFlags(vk.QueueGraphicsBit)
	for i := uint32(0); i < queueFamilyCount; i++ {
		queueFamilies[i].Deref()
		if queueFamilies[i].QueueFlags&required == 0 {
			continue
		}
		if surface != vk.NullSurface {
			var supportsPresent vk.Bool32
			vk.GetPhysicalDeviceSurfaceSupport(physical, i, surface, &supportsPresent)
			if !supportsPresent.B() {
				continue
			}
		}
		return i, nil
	}
	return 0, errors.New("vulkan error: could not find a queue family with graphics and present capability")
}

// Device implements gfx.Device over one Vulkan logical device with a
// single graphics queue.
type Device struct {
	instance *Instance
	physical vk.PhysicalDevice
	device   vk.Device
	queue    *Queue
	alloc    *MemoryAllocator

	queueIndex uint32
	cfg        DeviceConfiguration

	mu      sync.Mutex
	passes  map[passKey]vk.RenderPass
	compose map[vk.RenderPass]*composePipeline
	sampler vk.Sampler
}

// Queue implements interface
func (d *Device) Queue() gfx.Queue {
	return d.queue
}

// NewTimeline implements interface
func (d *Device) NewTimeline() (gfx.Timeline, error) {
	return &Timeline{dev: d}, nil
}

// NewCommandBuffer implements interface
func (d *Device) NewCommandBuffer() (gfx.CommandBuffer, error) {
	return newCommandBuffer(d)
}

// NewTexture implements interface
func (d *Device) NewTexture(info gfx.TextureInfo) (gfx.Texture, error) {
	return newTexture(d, info)
}

// NewFramebuffer implements interface
func (d *Device) NewFramebuffer(info gfx.FramebufferInfo) (gfx.Framebuffer, error) {
	return newFramebuffer(d, info)
}

// Handle returns the raw Vulkan device handle.
func (d *Device) Handle() vk.Device {
	return d.device
}

// Allocator returns the device memory allocator.
func (d *Device) Allocator() *MemoryAllocator {
	return d.alloc
}

// Release implements interface
func (d *Device) Release() {
	vk.DeviceWaitIdle(d.device)
	d.mu.Lock()
	for _, pipeline := range d.compose {
		pipeline.release(d.device)
	}
	d.compose = nil
	for _, pass := range d.passes {
		vk.DestroyRenderPass(d.device, pass, nil)
	}
	d.passes = nil
	if d.sampler != vk.NullSampler {
		vk.DestroySampler(d.device, d.sampler, nil)
		d.sampler = vk.NullSampler
	}
	d.mu.Unlock()
	vk.DestroyDevice(d.device, nil)
}

type passKey struct {
	color   vk.Format
	depth   vk.Format
	present bool
}

// passFor returns a cached render pass compatible with the given
// attachment formats. Present passes finish in the present layout,
// offscreen passes in the shader read layout so view targets can be
// sampled by the compose pass.
func (d *Device) passFor(key passKey) (vk.RenderPass, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if pass, ok := d.passes[key]; ok {
		return pass, nil
	}

	finalLayout := vk.ImageLayoutColorAttachmentOptimal
	if key.present {
		finalLayout = vk.ImageLayoutPresentSrc
	}

	attachments := []vk.AttachmentDescription{{
		Format:         key.color,
		Samples:        vk.SampleCount1Bit,
		LoadOp:         vk.AttachmentLoadOpClear,
		StoreOp:        vk.AttachmentStoreOpStore,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutUndefined,
		FinalLayout:    finalLayout,
	}}

	colorAttachmentRef := []vk.AttachmentReference{{
		Attachment: 0,
		Layout:     vk.ImageLayoutColorAttachmentOptimal,
	}}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(len(colorAttachmentRef)),
		PColorAttachments:    colorAttachmentRef,
	}

	if key.depth != vk.FormatUndefined {
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         key.depth,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpDontCare,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		})
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: 1,
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
	}

	subpassDependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		SrcAccessMask: 0,
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit),
	}

	rpci := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{subpassDependency},
	}

	var renderPass vk.RenderPass
	if err := vk.Error(vk.CreateRenderPass(d.device, &rpci, nil, &renderPass)); err != nil {
		return vk.NullRenderPass, errors.New("vk.CreateRenderPass(): " + err.Error())
	}
	d.passes[key] = renderPass
	return renderPass, nil
}

// textureSampler returns the shared compose sampler, creating it on
// first use.
func (d *Device) textureSampler() (vk.Sampler, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sampler != vk.NullSampler {
		return d.sampler, nil
	}

	sci := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               vk.FilterLinear,
		MinFilter:               vk.FilterLinear,
		AddressModeU:            vk.SamplerAddressModeClampToEdge,
		AddressModeV:            vk.SamplerAddressModeClampToEdge,
		AddressModeW:            vk.SamplerAddressModeClampToEdge,
		AnisotropyEnable:        vk.True,
		MaxAnisotropy:           16,
		BorderColor:             vk.BorderColorIntOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		MipmapMode:              vk.SamplerMipmapModeLinear,
	}

	var sampler vk.Sampler
	if err := vk.Error(vk.CreateSampler(d.device, &sci, nil, &sampler)); err != nil {
		return vk.NullSampler, errors.New("vk.CreateSampler(): " + err.Error())
	}
	d.sampler = sampler
	return sampler, nil
}
