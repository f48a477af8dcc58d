// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"net/http"
	"time"

	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/abort"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/stream"
)

// =============================================================================
// STREAMING EXECUTE
// =============================================================================

// ExecuteStream sends a prompt to the streaming endpoint. onChunk, if
// non-nil, is called on the calling goroutine with each piece of text as it
// arrives. A stream error event fails the call with KindUnknown carrying the
// server's message.
func (c *Client) ExecuteStream(ctx context.Context, prompt, modelName string, onChunk func(string)) (result *Result, err error) {
	start := time.Now()
	defer func() { c.observe(OpStream, modelName, result, start, err) }()

	var emit func(context.Context, string)
	if onChunk != nil {
		emit = func(_ context.Context, text string) { onChunk(text) }
	}

	st, err := c.runStream(ctx, prompt, modelName, emit)
	if err != nil {
		return nil, err
	}
	return resultFromState(st), nil
}

// StreamPrompt is the channel form of ExecuteStream. Text chunks arrive on
// the returned channel, which is closed when the stream ends. wait blocks
// until then and returns the final stream state or the failure.
//
// The consumer must keep reading the channel or cancel ctx; a stalled
// reader holds the request open until the timeout.
func (c *Client) StreamPrompt(ctx context.Context, prompt, modelName string) (<-chan string, func() (*stream.State, error)) {
	chunks := make(chan string, 64)
	done := make(chan struct{})

	var (
		final    stream.State
		finalErr error
	)

	go func() {
		defer close(done)
		defer close(chunks)

		start := time.Now()
		st, err := c.runStream(ctx, prompt, modelName, func(scopeCtx context.Context, text string) {
			select {
			case chunks <- text:
			case <-scopeCtx.Done():
			}
		})
		if err != nil {
			finalErr = err
			c.observe(OpStream, modelName, nil, start, err)
			return
		}
		final = st
		c.observe(OpStream, modelName, resultFromState(st), start, nil)
	}()

	wait := func() (*stream.State, error) {
		<-done
		if finalErr != nil {
			return nil, finalErr
		}
		st := final
		return &st, nil
	}
	return chunks, wait
}

// runStream runs the shared streaming pipeline: compose cancellation, POST
// through retries and the auth guard, then fold the body.
func (c *Client) runStream(ctx context.Context, prompt, modelName string, emit func(context.Context, string)) (stream.State, error) {
	scope := abort.Compose(ctx, c.timeout)
	defer scope.Cleanup()

	resp, err := c.post(scope.Context(), OpStream, pathStream, streamRequest{
		Prompt: prompt,
		Model:  modelName,
	})
	if err != nil {
		return stream.State{}, normalize(scope, err)
	}
	defer resp.Body.Close()

	if !isOK(resp.StatusCode) {
		return stream.State{}, c.errorFromResponse(resp)
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return stream.State{}, &Error{Kind: KindUnknown, Status: resp.StatusCode, Message: "empty stream", Cause: errNoBody}
	}

	var onChunk func(string)
	if emit != nil {
		scopeCtx := scope.Context()
		onChunk = func(text string) { emit(scopeCtx, text) }
	}

	st, err := stream.Fold(scope.Context(), resp.Body, onChunk)
	if err != nil {
		return st, normalize(scope, err)
	}
	if st.Failed() {
		return st, &Error{Kind: KindUnknown, Status: resp.StatusCode, Message: st.Err}
	}
	return st, nil
}

// resultFromState converts a finished stream into a Result.
func resultFromState(st stream.State) *Result {
	res := &Result{
		Text:               st.FullResponse,
		Sources:            st.Sources,
		ModelUsed:          st.ModelUsed,
		GroundingPerformed: st.GroundingPerformed,
	}
	if res.ModelUsed == "" {
		res.ModelUsed = UnknownModel
	}
	return res
}
