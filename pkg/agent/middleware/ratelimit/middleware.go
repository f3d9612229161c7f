package ratelimit

import (
	"context"

	"chatagent/pkg/agent/llm"
	"chatagent/pkg/agent/middleware/metrics"
)

// Middleware returns a middleware that holds a limiter slot for the duration
// of each call. A nil limiter disables the middleware.
func Middleware(limiter *Limiter, recorder metrics.Recorder) llm.Middleware {
	if limiter == nil {
		return nil
	}
	if recorder == nil {
		recorder = metrics.Nop()
	}

	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				model := next.GetModelName()

				release, waited, err := limiter.Acquire(ctx)
				if waited > 0 {
					recorder.IncThrottle(model, "concurrency")
					recorder.ObserveQueueWait(model, waited)
				}
				if err != nil {
					return llm.CompletionResponse{}, err
				}
				defer release()

				return next.Complete(ctx, req) //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			next.GetModelName,
		)
	}
}
