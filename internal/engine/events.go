package engine

// EventType discriminates the engine→caller message stream.
type EventType string

const (
	EventProgress EventType = "progress"
	EventResult   EventType = "result"
	EventError    EventType = "error"
)

// Event is one engine→caller message. Progress events carry Percent and
// an optional phase Message; result events carry the score vector and the
// compute duration (module load time excluded); error events carry the
// human-readable cause in Message.
type Event struct {
	Type          EventType
	TaskID        string
	Percent       float64
	Message       string
	Scores        []float64
	ComputeTimeMs float64
}
