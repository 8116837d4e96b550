package output

import (
	"context"
	"fmt"

	"github.com/MuchTitan/go-log-shipper/internal"
)

// Uploader delivers one chunk per call and classifies the outcome. It never retries.
type Uploader interface {
	Name() string
	Send(ctx context.Context, chunk *internal.Chunk) Result
	Close() error
}

type Kind int

const (
	Delivered Kind = iota
	TransientFailure
	PermanentFailure
)

func (k Kind) String() string {
	switch k {
	case Delivered:
		return "delivered"
	case TransientFailure:
		return "transient-failure"
	case PermanentFailure:
		return "permanent-failure"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Result is the outcome of a single delivery attempt.
type Result struct {
	Kind     Kind
	Accepted int64
	Err      error
}

func DeliveredResult(n int64) Result {
	return Result{Kind: Delivered, Accepted: n}
}

func Transient(err error) Result {
	return Result{Kind: TransientFailure, Err: err}
}

func Permanent(err error) Result {
	return Result{Kind: PermanentFailure, Err: err}
}
