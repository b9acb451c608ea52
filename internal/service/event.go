package service

import "fmt"

// EventType identifies the kind of event produced by a running sidecar.
type EventType int

const (
	// EventStdout carries one line of standard output in Line.
	EventStdout EventType = iota

	// EventStderr carries one line of standard error in Line.
	EventStderr

	// EventError carries a transport error in Message, e.g. an over-long
	// line which could not be read.
	EventError

	// EventTerminated is the last event of a process. Code is set when the
	// process exited, Signal when it was killed by a signal.
	EventTerminated
)

func (t EventType) String() string {
	switch t {
	case EventStdout:
		return "stdout"
	case EventStderr:
		return "stderr"
	case EventError:
		return "error"
	case EventTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Event is an output or lifecycle event of the sidecar process.
type Event struct {
	Type    EventType
	Line    []byte
	Message string
	Code    *int
	Signal  *int
}

// Outbound topics published by the Bridge.
const (
	TopicStdout     = "sidecar-stdout"
	TopicStderr     = "sidecar-stderr"
	TopicTerminated = "sidecar-terminated"
)

// TerminatedPayload is published on TopicTerminated. Absent values encode
// as JSON null, so a zero exit code stays distinguishable.
type TerminatedPayload struct {
	Code   *int `json:"code"`
	Signal *int `json:"signal"`
}

// Emitter publishes an event to the application. *event.Bus implements it.
type Emitter interface {
	Emit(topic string, payload any)
}
