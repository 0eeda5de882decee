package video

// ProducerState is the lifecycle state of the acquisition loop.
type ProducerState int32

const (
	ProducerIdle ProducerState = iota
	ProducerRunning
	ProducerStopping
	ProducerStopped
)

func (s ProducerState) String() string {
	switch s {
	case ProducerIdle:
		return "Idle"
	case ProducerRunning:
		return "Running"
	case ProducerStopping:
		return "Stopping"
	case ProducerStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// WriterState is the lifecycle state of the writer loop.
type WriterState int32

const (
	WriterIdle WriterState = iota
	WriterRunning
	WriterDraining
	WriterClosed
)

func (s WriterState) String() string {
	switch s {
	case WriterIdle:
		return "Idle"
	case WriterRunning:
		return "Running"
	case WriterDraining:
		return "Draining"
	case WriterClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

func (s ProducerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s WriterState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
