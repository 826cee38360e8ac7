// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"errors"
	"unsafe"

	vk "github.com/devblok/vulkan"
	log "github.com/sirupsen/logrus"

	"github.com/devblok/forge/gfx"
)

// descriptorPoolSize bounds how many composite draws one command
// buffer can record per cycle.
const descriptorPoolSize = 64

func newCommandBuffer(dev *Device) (*commandBuffer, error) {
	cpci := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: dev.queueIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}

	var pool vk.CommandPool
	if err := vk.Error(vk.CreateCommandPool(dev.device, &cpci, nil, &pool)); err != nil {
		return nil, errors.New("vk.CreateCommandPool(): " + err.Error())
	}

	cbai := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	buffers := make([]vk.CommandBuffer, 1)
	if err := vk.Error(vk.AllocateCommandBuffers(dev.device, &cbai, buffers)); err != nil {
		vk.DestroyCommandPool(dev.device, pool, nil)
		return nil, errors.New("vk.AllocateCommandBuffers(): " + err.Error())
	}

	dpci := vk.DescriptorPoolCreateInfo{
		SType:   vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets: descriptorPoolSize,
		PPoolSizes: []vk.DescriptorPoolSize{{
			Type:            vk.DescriptorTypeCombinedImageSampler,
			DescriptorCount: descriptorPoolSize,
		}},
		PoolSizeCount: 1,
	}
	var descriptorPool vk.DescriptorPool
	if err := vk.Error(vk.CreateDescriptorPool(dev.device, &dpci, nil, &descriptorPool)); err != nil {
		vk.DestroyCommandPool(dev.device, pool, nil)
		return nil, errors.New("vk.CreateDescriptorPool(): " + err.Error())
	}

	return &commandBuffer{
		dev:            dev,
		pool:           pool,
		buffer:         buffers[0],
		descriptorPool: descriptorPool,
	}, nil
}

// commandBuffer implements gfx.CommandBuffer. Each instance owns its
// command pool, which is what makes the engine's reset-once-retired
// contract map directly onto pool memory reclamation.
type commandBuffer struct {
	dev            *Device
	pool           vk.CommandPool
	buffer         vk.CommandBuffer
	descriptorPool vk.DescriptorPool

	pass    vk.RenderPass
	extent  gfx.Extent2D
	bound   *composePipeline
}

// Reset implements interface
func (c *commandBuffer) Reset() error {
	if err := vk.Error(vk.ResetCommandPool(c.dev.device, c.pool, vk.CommandPoolResetFlags(vk.CommandPoolResetReleaseResourcesBit))); err != nil {
		return errors.New("vk.ResetCommandPool(): " + err.Error())
	}
	if err := vk.Error(vk.ResetDescriptorPool(c.dev.device, c.descriptorPool, 0)); err != nil {
		return errors.New("vk.ResetDescriptorPool(): " + err.Error())
	}
	return nil
}

// Begin implements interface
func (c *commandBuffer) Begin() error {
	cbbi := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if err := vk.Error(vk.BeginCommandBuffer(c.buffer, &cbbi)); err != nil {
		return errors.New("vk.BeginCommandBuffer(): " + err.Error())
	}
	return nil
}

// End implements interface
func (c *commandBuffer) End() error {
	if err := vk.Error(vk.EndCommandBuffer(c.buffer)); err != nil {
		return errors.New("vk.EndCommandBuffer(): " + err.Error())
	}
	return nil
}

// Transition implements interface
func (c *commandBuffer) Transition(transitions []gfx.Transition) {
	if len(transitions) == 0 {
		return
	}

	var (
		barriers  []vk.ImageMemoryBarrier
		srcStages vk.PipelineStageFlags
		dstStages vk.PipelineStageFlags
	)
	for _, t := range transitions {
		texture, ok := t.Texture.(*Texture)
		if !ok {
			log.Error("foreign texture in transition, skipping")
			continue
		}
		barriers = append(barriers, vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       stateToAccess(t.From),
			DstAccessMask:       stateToAccess(t.To),
			OldLayout:           stateToLayout(t.From),
			NewLayout:           stateToLayout(t.To),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               texture.image,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: texture.aspect,
				LevelCount: 1,
				LayerCount: 1,
			},
		})
		srcStages |= stateToStage(t.From)
		dstStages |= stateToStage(t.To)
	}
	if len(barriers) == 0 {
		return
	}

	vk.CmdPipelineBarrier(c.buffer,
		srcStages, dstStages, 0,
		0, nil, 0, nil,
		uint32(len(barriers)), barriers)
}

// BeginPass implements interface
func (c *commandBuffer) BeginPass(fb gfx.Framebuffer, clear []gfx.ClearValue) {
	framebuffer, ok := fb.(*Framebuffer)
	if !ok {
		log.Error("foreign framebuffer, pass not recorded")
		return
	}

	clearValues := make([]vk.ClearValue, len(clear))
	for i, cv := range clear {
		if i == 0 {
			clearValues[i].SetColor([]float32{cv.Color[0], cv.Color[1], cv.Color[2], cv.Color[3]})
		} else {
			clearValues[i].SetDepthStencil(cv.Depth, cv.Stencil)
		}
	}

	rpbi := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  framebuffer.pass,
		Framebuffer: framebuffer.framebuffer,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: vk.Extent2D{
				Width:  framebuffer.extent.Width,
				Height: framebuffer.extent.Height,
			},
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(c.buffer, &rpbi, vk.SubpassContentsInline)

	viewport := []vk.Viewport{{
		Width:    float32(framebuffer.extent.Width),
		Height:   float32(framebuffer.extent.Height),
		MinDepth: 0,
		MaxDepth: 1,
	}}
	vk.CmdSetViewport(c.buffer, 0, 1, viewport)

	scissor := []vk.Rect2D{{
		Offset: vk.Offset2D{X: 0, Y: 0},
		Extent: vk.Extent2D{
			Width:  framebuffer.extent.Width,
			Height: framebuffer.extent.Height,
		},
	}}
	vk.CmdSetScissor(c.buffer, 0, 1, scissor)

	c.pass = framebuffer.pass
	c.extent = framebuffer.extent
	c.bound = nil
}

// EndPass implements interface
func (c *commandBuffer) EndPass() {
	vk.CmdEndRenderPass(c.buffer)
	c.pass = vk.NullRenderPass
	c.bound = nil
}

// Composite implements interface
func (c *commandBuffer) Composite(src gfx.Texture, transform [16]float32) {
	texture, ok := src.(*Texture)
	if !ok {
		log.Error("foreign texture, composite not recorded")
		return
	}
	if c.pass == vk.NullRenderPass {
		log.Error("composite outside a pass, not recorded")
		return
	}

	pipeline, err := c.dev.composeFor(c.pass)
	if err != nil {
		log.WithError(err).Error("compose pipeline unavailable, draw dropped")
		return
	}
	if c.bound != pipeline {
		vk.CmdBindPipeline(c.buffer, vk.PipelineBindPointGraphics, pipeline.pipeline)
		c.bound = pipeline
	}

	set, err := c.allocateComposeSet(pipeline, texture)
	if err != nil {
		log.WithError(err).Error("compose descriptor set unavailable, draw dropped")
		return
	}

	vk.CmdBindDescriptorSets(c.buffer, vk.PipelineBindPointGraphics,
		pipeline.layout, 0, 1, []vk.DescriptorSet{set}, 0, nil)
	vk.CmdPushConstants(c.buffer, pipeline.layout,
		vk.ShaderStageFlags(vk.ShaderStageVertexBit), 0, 16*4,
		unsafe.Pointer(&transform[0]))
	vk.CmdDraw(c.buffer, 6, 1, 0, 0)
}

// Release implements interface
func (c *commandBuffer) Release() {
	vk.DestroyDescriptorPool(c.dev.device, c.descriptorPool, nil)
	vk.DestroyCommandPool(c.dev.device, c.pool, nil)
}

func (c *commandBuffer) allocateComposeSet(pipeline *composePipeline, texture *Texture) (vk.DescriptorSet, error) {
	sampler, err := c.dev.textureSampler()
	if err != nil {
		return vk.NullDescriptorSet, err
	}

	dsai := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     c.descriptorPool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{pipeline.setLayout},
	}
	sets := make([]vk.DescriptorSet, 1)
	if err := vk.Error(vk.AllocateDescriptorSets(c.dev.device, &dsai, &sets[0])); err != nil {
		return vk.NullDescriptorSet, errors.New("vk.AllocateDescriptorSets(): " + err.Error())
	}

	writes := []vk.WriteDescriptorSet{{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          sets[0],
		DstBinding:      0,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
		PImageInfo: []vk.DescriptorImageInfo{{
			Sampler:     sampler,
			ImageView:   texture.view,
			ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
		}},
	}}
	vk.UpdateDescriptorSets(c.dev.device, uint32(len(writes)), writes, 0, nil)
	return sets[0], nil
}

func stateToStage(s gfx.ResourceState) vk.PipelineStageFlags {
	switch s {
	case gfx.StateRenderTarget:
		return vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
	case gfx.StateDepthWrite:
		return vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit)
	case gfx.StateShaderRead:
		return vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit)
	case gfx.StateCopySrc, gfx.StateCopyDst:
		return vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	case gfx.StatePresent:
		return vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit)
	}
	return vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
}
