package driver

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/viddriver/vidutils"
)

// Statistics summarizes the driver's descriptor and staging usage
type Statistics struct {
	Heaps   vidutils.HeapStatistics
	Uploads vidutils.UploadStatistics

	Buffers          int
	Views            int
	PipelineStates   int
	TrackedResources int
}

func (d *Driver) CalculateStatistics(stats *Statistics) {
	stats.Heaps.Clear()
	stats.Uploads.Clear()

	d.allocators.AddStatistics(&stats.Heaps)
	d.frames.AddStatistics(&stats.Uploads)

	stats.Buffers = d.buffers.Count()
	stats.Views = d.views.Count()
	stats.PipelineStates = d.pipelines.Count()
	stats.TrackedResources = d.tracker.Count()
}

// BuildStatsString returns a json document describing the driver's heaps, frame ring and
// staging buffers
func (d *Driver) BuildStatsString() string {
	var stats Statistics
	d.CalculateStatistics(&stats)

	writer := jwriter.NewWriter()
	obj := writer.Object()

	obj.Name("Flags").String(d.flags.String())
	obj.Name("FrameCount").Int(d.frameCount)

	total := obj.Name("Total").Object()
	total.Name("Buffers").Int(stats.Buffers)
	total.Name("Views").Int(stats.Views)
	total.Name("PipelineStates").Int(stats.PipelineStates)
	total.Name("TrackedResources").Int(stats.TrackedResources)
	total.Name("DescriptorCapacity").Int(stats.Heaps.Capacity)
	total.Name("DescriptorsLive").Int(stats.Heaps.Live)
	total.Name("UploadCount").Int(stats.Uploads.UploadCount)
	total.Name("UploadPayloadBytes").Int(stats.Uploads.PayloadBytes)
	total.Name("UploadStagingBytes").Int(stats.Uploads.StagingBytes)
	total.End()

	descriptors := obj.Name("Descriptors").Object()
	d.allocators.PrintJSON(&descriptors)
	descriptors.End()

	frames := obj.Name("Frames").Object()
	d.frames.PrintJSON(&frames)
	frames.End()

	obj.End()
	return string(writer.Bytes())
}
