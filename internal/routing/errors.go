package routing

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedEvent marks inbound events the normalizer cannot accept;
	// they are dropped and logged, with no state mutated.
	ErrMalformedEvent = errors.New("routing: malformed event")
	// ErrEchoEvent marks redelivered copies of the engine's own outbound
	// prompts, recognized by the zero-width marker prefix.
	ErrEchoEvent = errors.New("routing: own echo event")
	// ErrFilteredEvent marks valid events the engine deliberately ignores
	// (broadcast channels, protocol stubs).
	ErrFilteredEvent = errors.New("routing: filtered event")
)

// SendError wraps a transport send failure. The inbound turn that triggered
// the send is already committed, so the reply is simply missing.
type SendError struct {
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("routing: transport send: %v", e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// StoreError wraps a persistence failure; the pipeline pass aborts on it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("routing: store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}
