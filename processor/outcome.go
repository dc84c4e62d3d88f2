package processor

import (
	"github.com/c360/streamguard/message"
)

// OutcomeKind classifies how a message left the pipeline
type OutcomeKind int

const (
	// OutcomeCompleted means the handler produced a response
	OutcomeCompleted OutcomeKind = iota
	// OutcomeDuplicateSkipped means the fingerprint was seen within the TTL window
	OutcomeDuplicateSkipped
	// OutcomeRejectedBackpressure means no permit was available
	OutcomeRejectedBackpressure
	// OutcomeRejectedCircuitOpen means the breaker refused the request
	OutcomeRejectedCircuitOpen
	// OutcomeFailed means the handler returned an error or panicked
	OutcomeFailed
	// OutcomeTimedOut means the task exceeded its deadline
	OutcomeTimedOut
	// OutcomeShuttingDown means the pipeline was draining when the message arrived
	OutcomeShuttingDown
)

// String returns the metric label for the outcome kind
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCompleted:
		return "completed"
	case OutcomeDuplicateSkipped:
		return "duplicate_skipped"
	case OutcomeRejectedBackpressure:
		return "rejected_backpressure"
	case OutcomeRejectedCircuitOpen:
		return "rejected_circuit_open"
	case OutcomeFailed:
		return "failed"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// Outcome is the terminal disposition of one message. Response is set only
// for OutcomeCompleted; Err only for OutcomeFailed.
type Outcome struct {
	Kind     OutcomeKind `json:"kind"`
	Response string      `json:"response,omitempty"`
	Err      error       `json:"-"`
}

// Result pairs a message with its outcome on the output stream
type Result struct {
	Channel string          `json:"channel"`
	Message message.Message `json:"message"`
	Outcome Outcome         `json:"outcome"`
}

func completed(response string) Outcome {
	return Outcome{Kind: OutcomeCompleted, Response: response}
}

func failed(err error) Outcome {
	return Outcome{Kind: OutcomeFailed, Err: err}
}

func outcomeOf(kind OutcomeKind) Outcome {
	return Outcome{Kind: kind}
}
