package fractal

import (
	"errors"
	"fmt"
	"iter"

	"github.com/gogpu/fractal/internal/gpu"
	"github.com/gogpu/fractal/shader"
)

// State is the lifecycle state of a request.
type State uint8

// Request states. A request moves forward through Planning and Running and
// ends in exactly one of Complete, Cancelled or Failed.
const (
	StateIdle State = iota
	StatePlanning
	StateRunning
	StateComplete
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlanning:
		return "planning"
	case StateRunning:
		return "running"
	case StateComplete:
		return "complete"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Terminal reports whether s is Complete, Cancelled or Failed.
func (s State) Terminal() bool {
	return s >= StateComplete
}

// ErrorKind classifies the cause of a Failed request.
type ErrorKind uint8

// Failure kinds.
const (
	// ErrorTemplate: a fragment, slot or placeholder was missing or
	// malformed. The program cache is unaffected.
	ErrorTemplate ErrorKind = iota + 1

	// ErrorDevice: the device rejected a program or a dispatch. Every
	// running request fails with this kind and the program cache is
	// cleared.
	ErrorDevice

	// ErrorDeviceLost: the device became unusable. Every running request
	// fails with this kind and the program cache is cleared.
	ErrorDeviceLost

	// ErrorInternal: any other failure.
	ErrorInternal
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorTemplate:
		return "template"
	case ErrorDevice:
		return "device"
	case ErrorDeviceLost:
		return "device lost"
	case ErrorInternal:
		return "internal"
	default:
		return fmt.Sprintf("ErrorKind(%d)", uint8(k))
	}
}

// classify maps an error to its ErrorKind.
func classify(err error) ErrorKind {
	var te *shader.TemplateError
	var de *gpu.DeviceError
	switch {
	case errors.As(err, &te):
		return ErrorTemplate
	case gpu.IsLost(err):
		return ErrorDeviceLost
	case errors.As(err, &de), errors.Is(err, gpu.ErrClosed):
		return ErrorDevice
	default:
		return ErrorInternal
	}
}

// EventKind identifies an Event.
type EventKind uint8

// Event kinds. Every request produces zero or more Progress events followed
// by exactly one Complete, Cancelled or Failed event.
const (
	EventProgress EventKind = iota + 1
	EventComplete
	EventCancelled
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventProgress:
		return "progress"
	case EventComplete:
		return "complete"
	case EventCancelled:
		return "cancelled"
	case EventFailed:
		return "failed"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

// Event reports the progress or outcome of a request.
type Event struct {
	Kind EventKind

	// Done and Total count stitched and planned tiles. Set on Progress.
	Done, Total int

	// Output is the finished image. Set on Complete.
	Output *PixelBuffer

	// ErrorKind and Err describe a failure. Set on Failed.
	ErrorKind ErrorKind
	Err       error
}

// Terminal reports whether e ends its request's event sequence.
func (e Event) Terminal() bool {
	return e.Kind != EventProgress
}

func (e Event) String() string {
	switch e.Kind {
	case EventProgress:
		return fmt.Sprintf("progress %d/%d", e.Done, e.Total)
	case EventComplete:
		return fmt.Sprintf("complete %dx%d", e.Output.Width(), e.Output.Height())
	case EventFailed:
		return fmt.Sprintf("failed (%s): %v", e.ErrorKind, e.Err)
	default:
		return e.Kind.String()
	}
}

// eventLog is the append-only event history of one request. Readers block
// on changed until a new event is appended.
type eventLog struct {
	events  []Event
	changed chan struct{}
}

func (l *eventLog) append(e Event) {
	l.events = append(l.events, e)
	close(l.changed)
	l.changed = make(chan struct{})
}

// eventSeq returns a sequence replaying g's events from the first one and
// then following new ones until the terminal event.
func (g *generation) eventSeq() iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for i := 0; ; i++ {
			g.mu.Lock()
			for i >= len(g.log.events) {
				ch := g.log.changed
				g.mu.Unlock()
				<-ch
				g.mu.Lock()
			}
			e := g.log.events[i]
			g.mu.Unlock()

			if !yield(e) || e.Terminal() {
				return
			}
		}
	}
}
