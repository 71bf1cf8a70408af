package modelclient

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicInvoker is the Invoker backed by the real Claude API,
// grounded on the teacher pack's own Anthropic wiring.
type AnthropicInvoker struct {
	client    anthropic.Client
	maxTokens int64
}

// NewAnthropicInvoker builds an AnthropicInvoker against apiKey.
// maxTokens defaults to 4096 when zero, matching the pack's own
// Anthropic client default.
func NewAnthropicInvoker(apiKey string, maxTokens int64) *AnthropicInvoker {
	if maxTokens == 0 {
		maxTokens = 4096
	}
	return &AnthropicInvoker{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		maxTokens: maxTokens,
	}
}

// Invoke sends req.Prompt as a single user turn and returns the text of
// every text block of the response, concatenated in order.
func (a *AnthropicInvoker) Invoke(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.AgentModel),
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("anthropic invoke: %w", err)
	}

	var output string
	for _, block := range resp.Content {
		if block.Type == "text" {
			output += block.Text
		}
	}

	return Response{
		Output:     output,
		TokensIn:   int(resp.Usage.InputTokens),
		TokensOut:  int(resp.Usage.OutputTokens),
		LatencyMS:  time.Since(start).Milliseconds(),
		StopReason: string(resp.StopReason),
	}, nil
}
