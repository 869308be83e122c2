package state

import "github.com/vkngwrapper/core/v2/common"

// State is the pipeline usage mode a resource is currently valid for. States are flags: read
// states may be combined so that a resource can be consumed in several ways without further
// barriers, but write states (RenderTarget, CopyDest) must be used alone.
type State int32

var stateMapping = common.NewFlagStringMapping[State]()

func (s State) Register(str string) {
	stateMapping.Register(s, str)
}
func (s State) String() string {
	if s == Common {
		return "Common"
	}
	return stateMapping.FlagsToString(s)
}

const (
	// Common is the state every buffer is created in, and the only state that can be used
	// for access from any queue without a barrier
	Common State = 0
)

const (
	// VertexBuffer indicates the resource is read by the input assembler as vertex data
	VertexBuffer State = 1 << iota
	// ConstantBuffer indicates the resource is read by shaders as constant data
	ConstantBuffer
	// IndexBuffer indicates the resource is read by the input assembler as index data
	IndexBuffer
	// RenderTarget indicates the resource is written as a color attachment
	RenderTarget
	// ShaderResource indicates the resource is read by shaders through a shader resource view
	ShaderResource
	// CopyDest indicates the resource is written by a GPU copy
	CopyDest
	// CopySource indicates the resource is read by a GPU copy
	CopySource
	// Present indicates the resource is a back buffer owned by the presentation engine
	Present
)

const (
	// GenericRead is the union of every read state a buffer can be in
	GenericRead = VertexBuffer | ConstantBuffer | IndexBuffer | ShaderResource | CopySource

	writeStates = RenderTarget | CopyDest
)

func init() {
	VertexBuffer.Register("VertexBuffer")
	ConstantBuffer.Register("ConstantBuffer")
	IndexBuffer.Register("IndexBuffer")
	RenderTarget.Register("RenderTarget")
	ShaderResource.Register("ShaderResource")
	CopyDest.Register("CopyDest")
	CopySource.Register("CopySource")
	Present.Register("Present")
}

// IsWrite returns true if s includes a write state
func (s State) IsWrite() bool {
	return s&writeStates != 0
}

// Includes returns true if every flag of other is present in s
func (s State) Includes(other State) bool {
	return s&other == other
}

// Resource is anything whose state can be tracked. ResourceID must be unique among the live
// resources of a device.
type Resource interface {
	ResourceID() uint64
}

// Barrier is a recorded transition of Resource from Before to After
type Barrier struct {
	Resource Resource
	Before   State
	After    State
}

// Recorder accepts transition barriers, usually a command list
type Recorder interface {
	ResourceBarrier(barriers ...Barrier)
}
