package pool

import (
	"errors"
	"fmt"
)

var (
	// ErrPoolExhausted is returned when no endpoint is eligible for selection or
	// the selected endpoint's slot was taken before it could be acquired.
	ErrPoolExhausted = errors.New("relaypool: no eligible endpoint available")

	// ErrConfiguration marks an endpoint source that could not be read or parsed.
	// The registry logs it and continues with an empty pool.
	ErrConfiguration = errors.New("relaypool: endpoint configuration invalid")

	// ErrTimeout is the cause recorded when an attempt loses the timeout race.
	ErrTimeout = errors.New("relaypool: operation timed out")
)

// AttemptError is the terminal error returned by Executor.Execute. It carries
// the classification of the last attempt and unwraps to its cause.
type AttemptError struct {
	Attempts int
	Index    int
	Endpoint string
	Kind     ErrorKind
	Err      error
}

func (e *AttemptError) Error() string {
	if e == nil {
		return "relaypool: attempt failed"
	}
	if e.Index < 0 {
		return fmt.Sprintf("relaypool: %d attempt(s) failed (%s): %v", e.Attempts, e.Kind, e.Err)
	}
	return fmt.Sprintf("relaypool: %d attempt(s) failed, last on %q (%s): %v", e.Attempts, e.Endpoint, e.Kind, e.Err)
}

func (e *AttemptError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf returns the classification carried by err, classifying it when it is
// not an AttemptError.
func KindOf(err error) ErrorKind {
	var aerr *AttemptError
	if errors.As(err, &aerr) && aerr != nil {
		return aerr.Kind
	}
	return Classify(err)
}
