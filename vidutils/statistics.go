package vidutils

// HeapStatistics summarizes descriptor heap usage. Values from several heaps can be summed
// with AddHeapStatistics.
type HeapStatistics struct {
	HeapCount int
	Capacity  int
	// HighWater is the bump cursor: the number of indices ever handed out by the heap
	HighWater int
	// Reclaimed is the number of released indices waiting on the reclaim stack
	Reclaimed int
	Live      int
}

func (s *HeapStatistics) Clear() {
	s.HeapCount = 0
	s.Capacity = 0
	s.HighWater = 0
	s.Reclaimed = 0
	s.Live = 0
}

func (s *HeapStatistics) AddHeapStatistics(other *HeapStatistics) {
	s.HeapCount += other.HeapCount
	s.Capacity += other.Capacity
	s.HighWater += other.HighWater
	s.Reclaimed += other.Reclaimed
	s.Live += other.Live
}

// UploadStatistics summarizes staging buffer usage across frame slots
type UploadStatistics struct {
	UploadCount int
	// PayloadBytes is the number of bytes requested by callers
	PayloadBytes int
	// StagingBytes is the number of bytes allocated for staging, after alignment
	StagingBytes  int
	UploadSizeMin int
	UploadSizeMax int
}

func (s *UploadStatistics) Clear() {
	s.UploadCount = 0
	s.PayloadBytes = 0
	s.StagingBytes = 0
	s.UploadSizeMin = 0
	s.UploadSizeMax = 0
}

func (s *UploadStatistics) AddUpload(payload, staging int) {
	if s.UploadCount == 0 || payload < s.UploadSizeMin {
		s.UploadSizeMin = payload
	}
	if payload > s.UploadSizeMax {
		s.UploadSizeMax = payload
	}

	s.UploadCount++
	s.PayloadBytes += payload
	s.StagingBytes += staging
}

func (s *UploadStatistics) AddUploadStatistics(other *UploadStatistics) {
	if other.UploadCount == 0 {
		return
	}

	if s.UploadCount == 0 || other.UploadSizeMin < s.UploadSizeMin {
		s.UploadSizeMin = other.UploadSizeMin
	}
	if other.UploadSizeMax > s.UploadSizeMax {
		s.UploadSizeMax = other.UploadSizeMax
	}

	s.UploadCount += other.UploadCount
	s.PayloadBytes += other.PayloadBytes
	s.StagingBytes += other.StagingBytes
}
