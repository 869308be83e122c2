package staging

import (
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/viddriver/backend"
	"github.com/vkngwrapper/viddriver/state"
	"github.com/vkngwrapper/viddriver/vidutils"
)

// Upload is a staging buffer holding the payload of a single upload until the frame slot that
// recorded it is retired
type Upload struct {
	buffer  backend.Buffer
	payload int

	prev *Upload
	next *Upload
}

func (u *Upload) Buffer() backend.Buffer { return u.buffer }
func (u *Upload) PayloadSize() int       { return u.payload }
func (u *Upload) StagingSize() int       { return u.buffer.Size() }
func (u *Upload) Next() *Upload          { return u.next }

func (u *Upload) printParameters(json *jwriter.ObjectState) {
	json.Name("Resource").Int(int(u.buffer.ResourceID()))
	json.Name("PayloadSize").Int(u.payload)
	json.Name("StagingSize").Int(u.buffer.Size())
}

// List is the set of uploads recorded while a frame slot was current. Its staging buffers can
// only be destroyed once the slot's fence proves the GPU has consumed them.
type List struct {
	count int
	bytes int
	head  *Upload
	tail  *Upload
}

func (l *List) Count() int     { return l.count }
func (l *List) Bytes() int     { return l.bytes }
func (l *List) IsEmpty() bool  { return l.count == 0 }
func (l *List) First() *Upload { return l.head }

func (l *List) Validate() error {
	declaredCount := l.count
	actualCount := 0
	actualBytes := 0

	for upload := l.head; upload != nil; upload = upload.next {
		actualCount++
		actualBytes += upload.StagingSize()
	}

	if declaredCount != actualCount {
		return errors.Errorf("the listed number of uploads in the list (%d) does not match the actual number of uploads (%d)", declaredCount, actualCount)
	}
	if l.bytes != actualBytes {
		return errors.Errorf("the listed staging size of the list (%d) does not match the actual staging size (%d)", l.bytes, actualBytes)
	}

	return nil
}

func (l *List) AddStatistics(stats *vidutils.UploadStatistics) {
	for upload := l.head; upload != nil; upload = upload.next {
		stats.AddUpload(upload.payload, upload.StagingSize())
	}
}

func (l *List) PrintJSON(json *jwriter.ArrayState) {
	for upload := l.head; upload != nil; upload = upload.next {
		o := json.Object()
		upload.printParameters(&o)
		o.End()
	}
}

// Register appends upload to the list
func (l *List) Register(upload *Upload) {
	if l.count == 0 {
		l.head = upload
		l.tail = upload
		l.count = 1
	} else {
		upload.prev = l.tail
		l.tail.next = upload

		l.tail = upload
		l.count++
	}
	l.bytes += upload.StagingSize()
}

// Clear destroys every staging buffer in the list and stops tracking its state. The caller must
// guarantee the GPU no longer reads from them.
func (l *List) Clear(tracker *state.Tracker) {
	for upload := l.head; upload != nil; {
		next := upload.next

		tracker.Forget(upload.buffer)
		upload.buffer.Destroy()
		upload.prev = nil
		upload.next = nil

		upload = next
	}

	l.head = nil
	l.tail = nil
	l.count = 0
	l.bytes = 0
}
