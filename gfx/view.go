// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package gfx

import (
	log "github.com/sirupsen/logrus"
)

// NewView creates a view with no render targets yet. Targets are built
// on the first EnsureRenderTargets call.
func NewView(name string, dev Device, sub *Submitter) *View {
	return &View{
		name:        name,
		device:      dev,
		sub:         sub,
		colorFormat: FormatBGRA8,
		depthFormat: FormatD16,
	}
}

// View owns one logical view's render-target resources: a color
// texture, a depth texture and the framebuffer binding them. The three
// always live and die as one generation; a resize retires the complete
// previous set through the deferred release queue before the
// replacement is constructed, never synchronously, because the GPU may
// still reference the old set for up to the ring size in frames.
type View struct {
	name   string
	device Device
	sub    *Submitter

	color Texture
	depth Texture
	fb    Framebuffer

	extent      Extent2D
	colorFormat Format
	depthFormat Format
	ready       bool
}

// Name returns the view's identifying name.
func (v *View) Name() string {
	return v.name
}

// Ready reports whether the view's targets exist and the last render
// attempt succeeded. Compositing skips views that are not ready.
func (v *View) Ready() bool {
	return v.ready
}

// Extent returns the current target dimensions.
func (v *View) Extent() Extent2D {
	return v.extent
}

// ColorTarget returns the color texture, nil when not ready.
func (v *View) ColorTarget() Texture {
	return v.color
}

// DepthTarget returns the depth texture, nil when not ready.
func (v *View) DepthTarget() Texture {
	return v.depth
}

// Framebuffer returns the framebuffer binding, nil when not ready.
func (v *View) Framebuffer() Framebuffer {
	return v.fb
}

// SetColorFormat changes the wanted color format. An actual format
// change takes the same deferred-retire-and-rebuild path as a resize
// on the next EnsureRenderTargets call.
func (v *View) SetColorFormat(f Format) {
	v.colorFormat = f
}

// EnsureRenderTargets makes the view's targets match the wanted
// dimensions and format. A matching existing set is a no-op with zero
// resource churn. Otherwise the entire previous set is handed to the
// deferred release queue, replacements are created and their initial
// state transitions recorded into list, which must be recording.
// When several resize requests arrive before a frame boundary the most
// recent one wins; earlier sets are already queued for release and
// nothing leaks. On creation failure the view is left not ready and
// the partial set freed; creation is retried on the next call.
func (v *View) EnsureRenderTargets(list *CommandList, width, height uint32) error {
	extent := Extent2D{Width: width, Height: height}
	if v.fb != nil && v.extent == extent && v.color.Info().Format == v.colorFormat {
		v.ready = true
		return nil
	}
	v.retire()

	color, err := v.device.NewTexture(TextureInfo{
		Extent:       extent,
		Format:       v.colorFormat,
		RenderTarget: true,
		Sampled:      true,
	})
	if err != nil {
		return err
	}
	depth, err := v.device.NewTexture(TextureInfo{
		Extent:       extent,
		Format:       v.depthFormat,
		DepthStencil: true,
	})
	if err != nil {
		// The color texture was never seen by the GPU, freeing it
		// directly is safe.
		color.Release()
		return err
	}
	fb, err := v.device.NewFramebuffer(FramebufferInfo{
		Color:  color,
		Depth:  depth,
		Extent: extent,
	})
	if err != nil {
		depth.Release()
		color.Release()
		return err
	}

	list.Recorder().Transition([]Transition{
		{Texture: color, From: StateUndefined, To: StateRenderTarget},
		{Texture: depth, From: StateUndefined, To: StateDepthWrite},
	})

	v.color = color
	v.depth = depth
	v.fb = fb
	v.extent = extent
	v.ready = true
	return nil
}

// retire hands the complete current set to the deferred release queue
// and clears the local references. Framebuffer goes first since it
// holds references into the textures.
func (v *View) retire() {
	if v.fb == nil && v.color == nil && v.depth == nil {
		return
	}
	if v.fb != nil {
		v.sub.RegisterDeferredRelease(v.fb)
	}
	if v.color != nil {
		v.sub.RegisterDeferredRelease(v.color)
	}
	if v.depth != nil {
		v.sub.RegisterDeferredRelease(v.depth)
	}
	v.fb, v.color, v.depth = nil, nil, nil
	v.extent = Extent2D{}
	v.ready = false
}

// markFailed clears the ready flag for the rest of the frame after a
// failed render attempt. The targets stay allocated; readiness comes
// back on the next EnsureRenderTargets.
func (v *View) markFailed(err error) {
	v.ready = false
	log.WithError(err).WithField("view", v.name).Warn("view render failed, skipping composite")
}

// Release retires the view's resources through the deferred path. The
// view may be reused after another EnsureRenderTargets.
func (v *View) Release() {
	v.retire()
}
