// Package modelclient is the injected model call step 9 of the
// Executor dispatches to once a request clears policy evaluation.
package modelclient

import (
	"context"
	"time"
)

// Request is what the Executor hands the model after policy evaluation
// allows a request through.
type Request struct {
	AgentModel string
	Prompt     string
	Context    map[string]any
	Deadline   time.Time
}

// Response is the model's answer plus accounting the Executor folds
// into the success envelope and the observability store.
type Response struct {
	Output     string
	TokensIn   int
	TokensOut  int
	LatencyMS  int64
	StopReason string
}

// Invoker is the seam the Executor calls through for the actual model
// call, per spec.md §6's "injected model call" — this package never
// assumes one specific provider.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (Response, error)
}
