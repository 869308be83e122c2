package frame

// Status is the position of the scheduler in the frame lifecycle
type Status int

const (
	StatusIdle Status = iota
	StatusRecording
	StatusSubmitted
	StatusPresented
)

var statusNames = map[Status]string{
	StatusIdle:      "Idle",
	StatusRecording: "Recording",
	StatusSubmitted: "Submitted",
	StatusPresented: "Presented",
}

func (s Status) String() string {
	name, ok := statusNames[s]
	if !ok {
		return "Unknown"
	}
	return name
}
