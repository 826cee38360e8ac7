// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"errors"

	vk "github.com/devblok/vulkan"

	"github.com/devblok/forge/gfx"
)

func newTexture(dev *Device, info gfx.TextureInfo) (*Texture, error) {
	var usage vk.ImageUsageFlagBits
	if info.RenderTarget {
		usage |= vk.ImageUsageColorAttachmentBit
	}
	if info.DepthStencil {
		usage |= vk.ImageUsageDepthStencilAttachmentBit
	}
	if info.Sampled {
		usage |= vk.ImageUsageSampledBit
	}

	format := formatToVk(info.Format)
	ici := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  info.Extent.Width,
			Height: info.Extent.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		InitialLayout: vk.ImageLayoutUndefined,
		Usage:         vk.ImageUsageFlags(usage),
		SharingMode:   vk.SharingModeExclusive,
	}

	var image vk.Image
	if err := vk.Error(vk.CreateImage(dev.device, &ici, nil, &image)); err != nil {
		return nil, errors.New("vk.CreateImage(): " + err.Error())
	}

	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(dev.device, image, &req)
	req.Deref()

	memory, err := dev.alloc.Malloc(req, vk.MemoryPropertyDeviceLocalBit)
	if err != nil {
		vk.DestroyImage(dev.device, image, nil)
		return nil, err
	}

	if err := vk.Error(vk.BindImageMemory(dev.device, image, memory.Get(), 0)); err != nil {
		memory.Release()
		vk.DestroyImage(dev.device, image, nil)
		return nil, errors.New("vk.BindImageMemory(): " + err.Error())
	}

	aspect := vk.ImageAspectFlags(vk.ImageAspectColorBit)
	if info.DepthStencil {
		aspect = vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}

	ivci := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: aspect,
			LevelCount: 1,
			LayerCount: 1,
		},
	}

	var view vk.ImageView
	if err := vk.Error(vk.CreateImageView(dev.device, &ivci, nil, &view)); err != nil {
		memory.Release()
		vk.DestroyImage(dev.device, image, nil)
		return nil, errors.New("vk.CreateImageView(): " + err.Error())
	}

	return &Texture{
		dev:    dev,
		info:   info,
		image:  image,
		view:   view,
		memory: memory,
		aspect: aspect,
	}, nil
}

// Texture implements gfx.Texture over a bound Vulkan image with a
// single view.
type Texture struct {
	dev    *Device
	info   gfx.TextureInfo
	image  vk.Image
	view   vk.ImageView
	memory Memory
	aspect vk.ImageAspectFlags
}

// Info implements interface
func (t *Texture) Info() gfx.TextureInfo {
	return t.info
}

// View returns the image view handle.
func (t *Texture) View() vk.ImageView {
	return t.view
}

// Image returns the image handle.
func (t *Texture) Image() vk.Image {
	return t.image
}

// Release implements interface
func (t *Texture) Release() {
	vk.DestroyImageView(t.dev.device, t.view, nil)
	vk.DestroyImage(t.dev.device, t.image, nil)
	t.memory.Release()
}

func newFramebuffer(dev *Device, info gfx.FramebufferInfo) (*Framebuffer, error) {
	color, ok := info.Color.(*Texture)
	if !ok {
		return nil, errors.New("vkr: foreign color texture")
	}

	key := passKey{color: formatToVk(color.info.Format)}
	attachments := []vk.ImageView{color.view}
	if info.Depth != nil {
		depth, ok := info.Depth.(*Texture)
		if !ok {
			return nil, errors.New("vkr: foreign depth texture")
		}
		key.depth = formatToVk(depth.info.Format)
		attachments = append(attachments, depth.view)
	}

	pass, err := dev.passFor(key)
	if err != nil {
		return nil, err
	}

	fci := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      pass,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		Width:           info.Extent.Width,
		Height:          info.Extent.Height,
		Layers:          1,
	}

	var framebuffer vk.Framebuffer
	if err := vk.Error(vk.CreateFramebuffer(dev.device, &fci, nil, &framebuffer)); err != nil {
		return nil, errors.New("vk.CreateFramebuffer(): " + err.Error())
	}

	return &Framebuffer{
		dev:         dev,
		framebuffer: framebuffer,
		pass:        pass,
		extent:      info.Extent,
	}, nil
}

// Framebuffer implements gfx.Framebuffer. The render pass it was
// created against is cached on the device and shared between
// compatible framebuffers.
type Framebuffer struct {
	dev         *Device
	framebuffer vk.Framebuffer
	pass        vk.RenderPass
	extent      gfx.Extent2D
}

// Extent implements interface
func (f *Framebuffer) Extent() gfx.Extent2D {
	return f.extent
}

// Pass returns the compatible render pass handle.
func (f *Framebuffer) Pass() vk.RenderPass {
	return f.pass
}

// Release implements interface. Attachment textures are owned by the
// caller and stay alive.
func (f *Framebuffer) Release() {
	vk.DestroyFramebuffer(f.dev.device, f.framebuffer, nil)
}
