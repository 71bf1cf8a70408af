package modelclient

import (
	"context"
	"time"
)

// NoopInvoker is a deterministic stand-in for tests and local
// development: it never makes a network call and returns a fixed
// response, unless Err is set or ctx is done while waiting out Delay.
type NoopInvoker struct {
	Output string
	Err    error
	Delay  time.Duration
}

func (n NoopInvoker) Invoke(ctx context.Context, req Request) (Response, error) {
	if n.Delay > 0 {
		select {
		case <-time.After(n.Delay):
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
	}
	if n.Err != nil {
		return Response{}, n.Err
	}
	output := n.Output
	if output == "" {
		output = "ok"
	}
	return Response{Output: output, TokensIn: len(req.Prompt) / 4, TokensOut: len(output) / 4}, nil
}
