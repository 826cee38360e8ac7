// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"errors"

	vk "github.com/devblok/vulkan"
)

// composePipeline is the fullscreen-quad pipeline that samples a view's
// color target onto the frame target. One is built lazily per render
// pass and cached on the device.
type composePipeline struct {
	pipeline  vk.Pipeline
	layout    vk.PipelineLayout
	setLayout vk.DescriptorSetLayout
}

func (p *composePipeline) release(dev vk.Device) {
	vk.DestroyPipeline(dev, p.pipeline, nil)
	vk.DestroyPipelineLayout(dev, p.layout, nil)
	vk.DestroyDescriptorSetLayout(dev, p.setLayout, nil)
}

// composeFor returns the compose pipeline compatible with pass.
func (d *Device) composeFor(pass vk.RenderPass) (*composePipeline, error) {
	d.mu.Lock()
	if pipeline, ok := d.compose[pass]; ok {
		d.mu.Unlock()
		return pipeline, nil
	}
	d.mu.Unlock()

	if len(d.cfg.ComposeVertexSPV) == 0 || len(d.cfg.ComposeFragmentSPV) == 0 {
		return nil, errors.New("vkr: compose shaders not configured")
	}

	pipeline, err := d.buildComposePipeline(pass)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.compose[pass] = pipeline
	d.mu.Unlock()
	return pipeline, nil
}

func (d *Device) buildComposePipeline(pass vk.RenderPass) (*composePipeline, error) {
	vert, err := d.shaderModule(d.cfg.ComposeVertexSPV)
	if err != nil {
		return nil, err
	}
	defer vk.DestroyShaderModule(d.device, vert, nil)

	frag, err := d.shaderModule(d.cfg.ComposeFragmentSPV)
	if err != nil {
		return nil, err
	}
	defer vk.DestroyShaderModule(d.device, frag, nil)

	bindings := []vk.DescriptorSetLayoutBinding{{
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
		StageFlags:      vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
		Binding:         0,
	}}
	dslci := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}

	var setLayout vk.DescriptorSetLayout
	if err := vk.Error(vk.CreateDescriptorSetLayout(d.device, &dslci, nil, &setLayout)); err != nil {
		return nil, errors.New("vk.CreateDescriptorSetLayout(): " + err.Error())
	}

	pcr := []vk.PushConstantRange{{
		Offset:     0,
		Size:       16 * 4,
		StageFlags: vk.ShaderStageFlags(vk.ShaderStageVertexBit),
	}}
	plci := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         1,
		PSetLayouts:            []vk.DescriptorSetLayout{setLayout},
		PushConstantRangeCount: uint32(len(pcr)),
		PPushConstantRanges:    pcr,
	}

	var layout vk.PipelineLayout
	if err := vk.Error(vk.CreatePipelineLayout(d.device, &plci, nil, &layout)); err != nil {
		vk.DestroyDescriptorSetLayout(d.device, setLayout, nil)
		return nil, errors.New("vk.CreatePipelineLayout(): " + err.Error())
	}

	stages := []vk.PipelineShaderStageCreateInfo{{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  vk.ShaderStageVertexBit,
		Module: vert,
		PName:  safeString("main"),
	}, {
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  vk.ShaderStageFragmentBit,
		Module: frag,
		PName:  safeString("main"),
	}}

	// The quad is generated in the vertex shader, no vertex input.
	pvisci := vk.PipelineVertexInputStateCreateInfo{
		SType: vk.StructureTypePipelineVertexInputStateCreateInfo,
	}
	piasci := vk.PipelineInputAssemblyStateCreateInfo{
		SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology: vk.PrimitiveTopologyTriangleList,
	}

	pvsci := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	pdsci := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: 2,
		PDynamicStates: []vk.DynamicState{
			vk.DynamicStateViewport,
			vk.DynamicStateScissor,
		},
	}

	prsci := vk.PipelineRasterizationStateCreateInfo{
		SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
		PolygonMode: vk.PolygonModeFill,
		CullMode:    vk.CullModeFlags(vk.CullModeNone),
		FrontFace:   vk.FrontFaceCounterClockwise,
		LineWidth:   1,
	}

	pmsci := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: vk.SampleCount1Bit,
	}

	pdssci := vk.PipelineDepthStencilStateCreateInfo{
		SType:            vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:  vk.False,
		DepthWriteEnable: vk.False,
	}

	attachments := []vk.PipelineColorBlendAttachmentState{{
		BlendEnable:         vk.True,
		SrcColorBlendFactor: vk.BlendFactorSrcAlpha,
		DstColorBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
		ColorBlendOp:        vk.BlendOpAdd,
		SrcAlphaBlendFactor: vk.BlendFactorOne,
		DstAlphaBlendFactor: vk.BlendFactorZero,
		AlphaBlendOp:        vk.BlendOpAdd,
		ColorWriteMask: vk.ColorComponentFlags(
			vk.ColorComponentRBit | vk.ColorComponentGBit |
				vk.ColorComponentBBit | vk.ColorComponentABit),
	}}
	pcbsci := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
	}

	gpci := []vk.GraphicsPipelineCreateInfo{{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &pvisci,
		PInputAssemblyState: &piasci,
		PViewportState:      &pvsci,
		PDynamicState:       &pdsci,
		PRasterizationState: &prsci,
		PMultisampleState:   &pmsci,
		PDepthStencilState:  &pdssci,
		PColorBlendState:    &pcbsci,
		Layout:              layout,
		RenderPass:          pass,
	}}

	pipelines := make([]vk.Pipeline, 1)
	if err := vk.Error(vk.CreateGraphicsPipelines(d.device, vk.NullPipelineCache, 1, gpci, nil, pipelines)); err != nil {
		vk.DestroyPipelineLayout(d.device, layout, nil)
		vk.DestroyDescriptorSetLayout(d.device, setLayout, nil)
		return nil, errors.New("vk.CreateGraphicsPipelines(): " + err.Error())
	}

	return &composePipeline{
		pipeline:  pipelines[0],
		layout:    layout,
		setLayout: setLayout,
	}, nil
}

func (d *Device) shaderModule(code []byte) (vk.ShaderModule, error) {
	smci := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    sliceUint32(code),
	}
	var module vk.ShaderModule
	if err := vk.Error(vk.CreateShaderModule(d.device, &smci, nil, &module)); err != nil {
		return vk.NullShaderModule, errors.New("vk.CreateShaderModule(): " + err.Error())
	}
	return module, nil
}
