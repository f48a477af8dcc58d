// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const okStream = "data: {\"chunk\":\"Hel\",\"done\":false}\n\n" +
	"data: {\"chunk\":\"lo\",\"done\":false}\n\n" +
	"data: {\"done\":true,\"model_used\":\"m1\",\"sources\":[{\"title\":\"S\",\"url\":\"https://s\"}],\"grounding_performed\":true}\n\n"

func TestExecuteStream_DeliversChunks(t *testing.T) {
	b, client := newBackend(t)
	b.sse = okStream

	var chunks []string
	res, err := client.ExecuteStream(context.Background(), "hi", "", func(s string) {
		chunks = append(chunks, s)
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Hel", "lo"}, chunks)
	assert.Equal(t, "Hello", res.Text)
	assert.Equal(t, "m1", res.ModelUsed)
	assert.True(t, res.GroundingPerformed)
	require.Len(t, res.Sources, 1)

	_, hasStream := b.bodies[0]["stream"]
	assert.False(t, hasStream)
}

func TestExecuteStream_FlushedPieces(t *testing.T) {
	b, client := newBackend(t)
	b.handler = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for i := 0; i < len(okStream); i += 5 {
			end := i + 5
			if end > len(okStream) {
				end = len(okStream)
			}
			_, _ = io.WriteString(w, okStream[i:end])
			flusher.Flush()
		}
	}

	res, err := client.ExecuteStream(context.Background(), "hi", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello", res.Text)
	assert.Equal(t, "m1", res.ModelUsed)
}

func TestExecuteStream_ErrorEvent(t *testing.T) {
	b, client := newBackend(t)
	b.sse = "data: {\"chunk\":\"par\",\"done\":false}\n\ndata: {\"error\":\"model overloaded\"}\n\n"

	var chunks []string
	_, err := client.ExecuteStream(context.Background(), "hi", "", func(s string) { chunks = append(chunks, s) })
	require.Error(t, err)
	assert.Equal(t, KindUnknown, KindOf(err))
	assert.Contains(t, err.Error(), "model overloaded")
	assert.Equal(t, []string{"par"}, chunks)
}

func TestExecuteStream_DefaultsModel(t *testing.T) {
	b, client := newBackend(t)
	b.sse = "data: {\"chunk\":\"x\",\"done\":false}\n\ndata: [DONE]\n\n"

	res, err := client.ExecuteStream(context.Background(), "hi", "", nil)
	require.NoError(t, err)
	assert.Equal(t, UnknownModel, res.ModelUsed)
	assert.Empty(t, res.Sources)
}

func TestExecuteStream_RefreshThenReplay(t *testing.T) {
	b, client := newBackend(t)
	b.statuses = []int{401, 200}
	b.sse = okStream

	res, err := client.ExecuteStream(context.Background(), "hi", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello", res.Text)
	assert.EqualValues(t, 1, b.refreshes)
}

func TestExecuteStream_CancelMidStream(t *testing.T) {
	b, client := newBackend(t)
	b.handler = func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"chunk\":\"first\",\"done\":false}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}

	ctx, cancel := context.WithCancel(context.Background())
	_, err := client.ExecuteStream(ctx, "hi", "", func(string) { cancel() })
	assert.Equal(t, KindCancelled, KindOf(err))
}

func TestStreamPrompt_Channel(t *testing.T) {
	b, client := newBackend(t)
	b.sse = okStream

	chunks, wait := client.StreamPrompt(context.Background(), "hi", "")
	var got strings.Builder
	for c := range chunks {
		got.WriteString(c)
	}

	st, err := wait()
	require.NoError(t, err)
	assert.Equal(t, "Hello", got.String())
	assert.Equal(t, "Hello", st.FullResponse)
	assert.True(t, st.Done)
}

func TestStreamPrompt_Failure(t *testing.T) {
	b, client := newBackend(t)
	b.statuses = []int{429}

	chunks, wait := client.StreamPrompt(context.Background(), "hi", "")
	for range chunks {
	}
	st, err := wait()
	assert.Nil(t, st)
	assert.Equal(t, KindRateLimit, KindOf(err))
}
