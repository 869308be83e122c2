package vidutils_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/viddriver/vidutils"
)

func TestCheckPow2(t *testing.T) {
	require.NoError(t, vidutils.CheckPow2(1, "one"))
	require.NoError(t, vidutils.CheckPow2(256, "alignment"))
	require.NoError(t, vidutils.CheckPow2(uint64(1<<40), "large"))

	err := vidutils.CheckPow2(0, "zero")
	require.ErrorIs(t, err, vidutils.PowerOfTwoError)

	err = vidutils.CheckPow2(384, "alignment")
	require.ErrorIs(t, err, vidutils.PowerOfTwoError)
	require.Contains(t, err.Error(), "alignment is 384")
}

func TestAlign(t *testing.T) {
	require.Equal(t, 0, vidutils.AlignUp(0, 256))
	require.Equal(t, 256, vidutils.AlignUp(1, 256))
	require.Equal(t, 256, vidutils.AlignUp(255, 256))
	require.Equal(t, 256, vidutils.AlignUp(256, 256))
	require.Equal(t, 512, vidutils.AlignUp(257, 256))

	require.Equal(t, 0, vidutils.AlignDown(255, 256))
	require.Equal(t, 256, vidutils.AlignDown(257, 256))
}

func TestMarkResult(t *testing.T) {
	err := vidutils.MarkResult(vidutils.ErrSynchronization, core1_0.VKErrorUnknown, errors.New("boom"), "waiting on %s", "fence")
	require.ErrorIs(t, err, vidutils.ErrSynchronization)
	require.NotErrorIs(t, err, vidutils.ErrDeviceLost)
	require.Contains(t, err.Error(), "waiting on fence: boom")

	err = vidutils.MarkResult(vidutils.ErrPresent, core1_0.VKErrorDeviceLost, nil, "present")
	require.ErrorIs(t, err, vidutils.ErrPresent)
	require.ErrorIs(t, err, vidutils.ErrDeviceLost)
	require.NotErrorIs(t, err, vidutils.ErrSynchronization)
}

func TestUploadStatistics(t *testing.T) {
	var stats vidutils.UploadStatistics
	stats.AddUpload(100, 256)
	stats.AddUpload(10, 256)
	stats.AddUpload(300, 512)

	require.Equal(t, vidutils.UploadStatistics{
		UploadCount:   3,
		PayloadBytes:  410,
		StagingBytes:  1024,
		UploadSizeMin: 10,
		UploadSizeMax: 300,
	}, stats)

	var total vidutils.UploadStatistics
	total.AddUploadStatistics(&vidutils.UploadStatistics{})
	require.Equal(t, vidutils.UploadStatistics{}, total)

	total.AddUploadStatistics(&stats)
	total.AddUploadStatistics(&vidutils.UploadStatistics{UploadCount: 1, PayloadBytes: 5, StagingBytes: 256, UploadSizeMin: 5, UploadSizeMax: 5})
	require.Equal(t, 4, total.UploadCount)
	require.Equal(t, 5, total.UploadSizeMin)
	require.Equal(t, 300, total.UploadSizeMax)

	total.Clear()
	require.Equal(t, vidutils.UploadStatistics{}, total)
}
