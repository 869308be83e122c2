package state

import (
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_swapchain"
)

// Scope is the Vulkan synchronization scope that corresponds to a State: the memory accesses
// the state allows, the pipeline stages that perform them, and the image layout a texture must
// be in.
type Scope struct {
	Access core1_0.AccessFlags
	Stages core1_0.PipelineStageFlags
	Layout core1_0.ImageLayout
}

var stateScopes = []struct {
	state State
	scope Scope
}{
	{VertexBuffer, Scope{core1_0.AccessVertexAttributeRead, core1_0.PipelineStageVertexInput, core1_0.ImageLayoutUndefined}},
	{ConstantBuffer, Scope{core1_0.AccessUniformRead, core1_0.PipelineStageVertexShader | core1_0.PipelineStageFragmentShader, core1_0.ImageLayoutUndefined}},
	{IndexBuffer, Scope{core1_0.AccessIndexRead, core1_0.PipelineStageVertexInput, core1_0.ImageLayoutUndefined}},
	{RenderTarget, Scope{core1_0.AccessColorAttachmentRead | core1_0.AccessColorAttachmentWrite, core1_0.PipelineStageColorAttachmentOutput, core1_0.ImageLayoutColorAttachmentOptimal}},
	{ShaderResource, Scope{core1_0.AccessShaderRead, core1_0.PipelineStageVertexShader | core1_0.PipelineStageFragmentShader, core1_0.ImageLayoutShaderReadOnlyOptimal}},
	{CopyDest, Scope{core1_0.AccessTransferWrite, core1_0.PipelineStageTransfer, core1_0.ImageLayoutTransferDstOptimal}},
	{CopySource, Scope{core1_0.AccessTransferRead, core1_0.PipelineStageTransfer, core1_0.ImageLayoutTransferSrcOptimal}},
	{Present, Scope{0, core1_0.PipelineStageBottomOfPipe, khr_swapchain.ImageLayoutPresentSrc}},
}

// VulkanScope translates s into the equivalent Vulkan synchronization scope. Combined read
// states produce the union of their accesses and stages. Their image layout is only meaningful
// for single states; combined states report core1_0.ImageLayoutGeneral. Common maps to no
// access at the top of the pipe.
func VulkanScope(s State) Scope {
	if s == Common {
		return Scope{Stages: core1_0.PipelineStageTopOfPipe, Layout: core1_0.ImageLayoutGeneral}
	}

	var scope Scope
	matched := 0
	for _, entry := range stateScopes {
		if s&entry.state == 0 {
			continue
		}

		scope.Access |= entry.scope.Access
		scope.Stages |= entry.scope.Stages
		scope.Layout = entry.scope.Layout
		matched++
	}

	if matched > 1 {
		scope.Layout = core1_0.ImageLayoutGeneral
	}

	return scope
}

// Allows returns true if a resource in state s may be accessed with every access flag in access
func Allows(s State, access core1_0.AccessFlags) bool {
	return VulkanScope(s).Access&access == access
}
