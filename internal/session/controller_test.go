// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/cloud"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/locale"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/model"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/offline"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/storage"
)

// echoSender answers every prompt with "re: <prompt>" in two chunks.
type echoSender struct{}

func (echoSender) ExecuteStream(ctx context.Context, prompt, model string, onChunk func(string)) (*cloud.Result, error) {
	onChunk("re: ")
	onChunk(prompt)
	return &cloud.Result{Text: "re: " + prompt, ModelUsed: "m1"}, nil
}

// errSender fails every call with err.
type errSender struct{ err error }

func (s errSender) ExecuteStream(ctx context.Context, prompt, model string, onChunk func(string)) (*cloud.Result, error) {
	return nil, s.err
}

// gatedSender blocks each call until released and ignores cancellation, so
// late results can be observed.
type gatedSender struct {
	mu      sync.Mutex
	started chan string
	gates   map[string]chan struct{}
}

func newGatedSender() *gatedSender {
	return &gatedSender{started: make(chan string, 8), gates: map[string]chan struct{}{}}
}

func (g *gatedSender) gate(prompt string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.gates[prompt]
	if !ok {
		ch = make(chan struct{})
		g.gates[prompt] = ch
	}
	return ch
}

func (g *gatedSender) ExecuteStream(ctx context.Context, prompt, model string, onChunk func(string)) (*cloud.Result, error) {
	gate := g.gate(prompt)
	g.started <- prompt
	<-gate
	onChunk("late " + prompt)
	return &cloud.Result{Text: "answer to " + prompt, ModelUsed: "m"}, nil
}

func contents(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func TestSend_AppendsUserAndAssistant(t *testing.T) {
	c := NewController(echoSender{}, Config{})

	var chunks []string
	err := c.SendWith(context.Background(), "  hello ", "", func(s string) { chunks = append(chunks, s) })
	require.NoError(t, err)

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "re: hello", msgs[1].Content)
	assert.Equal(t, "m1", msgs[1].ModelUsed)
	assert.False(t, msgs[1].Pending)
	assert.Equal(t, []string{"re: ", "hello"}, chunks)
	assert.False(t, c.IsLoading())
	assert.Empty(t, c.Error())
}

func TestSend_EmptyPrompt(t *testing.T) {
	c := NewController(echoSender{}, Config{})
	assert.ErrorIs(t, c.Send(context.Background(), "   ", ""), ErrEmptyPrompt)
	assert.True(t, c.IsEmpty())
	assert.False(t, c.CanUndo())
}

func TestSend_BackToBackDiscardsFirstResult(t *testing.T) {
	sender := newGatedSender()
	c := NewController(sender, Config{})
	ctx := context.Background()

	firstDone := make(chan error, 1)
	go func() { firstDone <- c.Send(ctx, "first", "") }()
	require.Equal(t, "first", <-sender.started)

	secondDone := make(chan error, 1)
	go func() { secondDone <- c.Send(ctx, "second", "") }()
	require.Equal(t, "second", <-sender.started)

	// The first call resolves late, after it was superseded.
	close(sender.gate("first"))
	assert.ErrorIs(t, <-firstDone, ErrSuperseded)

	close(sender.gate("second"))
	require.NoError(t, <-secondDone)

	assert.Equal(t, []string{"first", "second", "answer to second"}, contents(c.Messages()))
	assert.Empty(t, c.Error())
}

func TestSend_SupersededCallIsCancelled(t *testing.T) {
	var firstCtx context.Context
	started := make(chan struct{})
	sender := senderFunc(func(ctx context.Context, prompt string) (*cloud.Result, error) {
		if prompt == "first" {
			firstCtx = ctx
			close(started)
			<-ctx.Done()
			return nil, &cloud.Error{Kind: cloud.KindCancelled, Cause: ctx.Err()}
		}
		return &cloud.Result{Text: "ok"}, nil
	})
	c := NewController(sender, Config{})

	done := make(chan error, 1)
	go func() { done <- c.Send(context.Background(), "first", "") }()
	<-started

	require.NoError(t, c.Send(context.Background(), "second", ""))
	assert.ErrorIs(t, <-done, ErrSuperseded)
	assert.Error(t, firstCtx.Err())
	assert.Equal(t, []string{"first", "second", "ok"}, contents(c.Messages()))
}

type senderFunc func(ctx context.Context, prompt string) (*cloud.Result, error)

func (f senderFunc) ExecuteStream(ctx context.Context, prompt, model string, onChunk func(string)) (*cloud.Result, error) {
	return f(ctx, prompt)
}

func TestSend_CancelledShowsNoError(t *testing.T) {
	c := NewController(errSender{err: &cloud.Error{Kind: cloud.KindCancelled}}, Config{})

	err := c.Send(context.Background(), "hi", "")
	assert.True(t, cloud.IsCancelled(err))
	assert.Empty(t, c.Error())
	assert.Equal(t, []string{"hi"}, contents(c.Messages()))
}

func TestSend_FailureLocalizedAndKeepsUserMessage(t *testing.T) {
	tests := []struct {
		kind cloud.Kind
		key  string
	}{
		{cloud.KindAuth, locale.ErrAuth},
		{cloud.KindTimeout, locale.ErrTimeout},
		{cloud.KindRateLimit, locale.ErrRateLimit},
		{cloud.KindUnknown, locale.ErrUnknown},
	}
	pl := locale.New("pl")
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			c := NewController(errSender{err: &cloud.Error{Kind: tt.kind}}, Config{Catalog: pl})

			err := c.Send(context.Background(), "pytanie", "")
			require.Error(t, err)
			assert.Equal(t, pl.T(tt.key), c.Error())
			assert.Equal(t, []string{"pytanie"}, contents(c.Messages()))

			c.ClearError()
			assert.Empty(t, c.Error())
		})
	}
}

func TestSend_PlainErrorIsUnknown(t *testing.T) {
	en := locale.New("en")
	c := NewController(errSender{err: errors.New("boom")}, Config{Catalog: en})
	require.Error(t, c.Send(context.Background(), "x", ""))
	assert.Equal(t, en.T(locale.ErrUnknown), c.Error())
}

func TestUndoRedo(t *testing.T) {
	c := NewController(echoSender{}, Config{})
	ctx := context.Background()

	require.NoError(t, c.Send(ctx, "one", ""))
	require.NoError(t, c.Send(ctx, "two", ""))
	require.NoError(t, c.Send(ctx, "three", ""))

	require.True(t, c.Undo())
	assert.Equal(t, []string{"one", "re: one", "two", "re: two"}, contents(c.Messages()))
	require.True(t, c.Undo())
	assert.Equal(t, []string{"one", "re: one"}, contents(c.Messages()))

	require.True(t, c.Redo())
	assert.Equal(t, []string{"one", "re: one", "two", "re: two"}, contents(c.Messages()))
	assert.True(t, c.CanRedo())

	// A new send starts a new branch.
	require.NoError(t, c.Send(ctx, "branch", ""))
	assert.False(t, c.CanRedo())
	assert.False(t, c.Redo())

	require.True(t, c.Undo())
	assert.Equal(t, []string{"one", "re: one", "two", "re: two"}, contents(c.Messages()))
}

func TestUndo_Empty(t *testing.T) {
	c := NewController(echoSender{}, Config{})
	assert.False(t, c.Undo())
	assert.False(t, c.Redo())
}

func TestHistoryIsBounded(t *testing.T) {
	c := NewController(echoSender{}, Config{HistoryLimit: 2})
	ctx := context.Background()
	for _, p := range []string{"a", "b", "c", "d"} {
		require.NoError(t, c.Send(ctx, p, ""))
	}
	assert.True(t, c.Undo())
	assert.True(t, c.Undo())
	assert.False(t, c.Undo())
	assert.Equal(t, []string{"a", "re: a", "b", "re: b"}, contents(c.Messages()))
}

func TestClear(t *testing.T) {
	c := NewController(echoSender{}, Config{})
	ctx := context.Background()

	c.Clear() // no-op on an empty conversation
	assert.False(t, c.CanUndo())

	require.NoError(t, c.Send(ctx, "hi", ""))
	require.True(t, c.Undo())
	require.True(t, c.CanRedo())
	require.NoError(t, c.Send(ctx, "hi again", ""))

	c.Clear()
	assert.True(t, c.IsEmpty())
	assert.False(t, c.CanRedo())
	require.True(t, c.Undo())
	assert.Equal(t, []string{"hi again", "re: hi again"}, contents(c.Messages()))
}

func TestCancel(t *testing.T) {
	sender := newGatedSender()
	c := NewController(sender, Config{})

	done := make(chan error, 1)
	go func() { done <- c.Send(context.Background(), "slow", "") }()
	<-sender.started
	assert.True(t, c.IsLoading())

	c.Cancel()
	assert.False(t, c.IsLoading())
	close(sender.gate("slow"))
	assert.ErrorIs(t, <-done, ErrSuperseded)
	assert.Equal(t, []string{"slow"}, contents(c.Messages()))
	assert.Empty(t, c.Error())
}

func TestSend_OfflineQueues(t *testing.T) {
	q, err := offline.New(context.Background(), offline.NewMemoryStore(), offline.Options{})
	require.NoError(t, err)
	conn := offline.NewConnectivity(false)
	en := locale.New("en")
	c := NewController(errSender{err: errors.New("must not be called")}, Config{
		Queue:        q,
		Connectivity: conn,
		Catalog:      en,
	})

	require.NoError(t, c.Send(context.Background(), "later", "m2"))
	assert.Equal(t, []string{"later"}, contents(c.Messages()))
	assert.Equal(t, en.T(locale.ErrQueued), c.Error())

	items := q.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "later", items[0].Prompt)
	assert.Equal(t, "m2", items[0].Model)
	assert.False(t, c.Status().Online)
}

func TestAddReplayed_AnswersQueuedPrompt(t *testing.T) {
	q, err := offline.New(context.Background(), offline.NewMemoryStore(), offline.Options{})
	require.NoError(t, err)
	conn := offline.NewConnectivity(false)
	c := NewController(echoSender{}, Config{Queue: q, Connectivity: conn})

	require.NoError(t, c.Send(context.Background(), "queued", ""))
	conn.SetOnline(true)
	require.NoError(t, c.Send(context.Background(), "live", ""))

	c.AddReplayed(" queued ", &cloud.Result{Text: "late answer", ModelUsed: "m1"})
	msgs := c.Messages()
	assert.Equal(t, []string{"queued", "late answer", "live", "re: live"}, contents(msgs))
	assert.Equal(t, "m1", msgs[1].ModelUsed)
	assert.False(t, msgs[1].Pending)
	assert.True(t, c.Status().Dirty)

	// A prompt no longer in the conversation is appended with its answer.
	c.AddReplayed("gone", &cloud.Result{Text: "still answered"})
	assert.Equal(t, []string{"gone", "still answered"}, contents(c.Messages())[4:])
}

func newBackups(t *testing.T) *storage.BackupStore {
	t.Helper()
	dir := t.TempDir()
	keyring, err := storage.LoadOrCreateKeyring(filepath.Join(dir, "key"))
	require.NoError(t, err)
	b, err := storage.NewBackupStore(filepath.Join(dir, "backups"), keyring, storage.Options{})
	require.NoError(t, err)
	return b
}

func TestSaveNowAndRestore(t *testing.T) {
	backups := newBackups(t)
	ctx := context.Background()

	c := NewController(echoSender{}, Config{Backups: backups})
	require.NoError(t, c.Send(ctx, "remember me", ""))
	assert.True(t, c.Status().Dirty)
	require.NoError(t, c.SaveNow(ctx))
	assert.False(t, c.Status().Dirty)

	// Nothing changed, so no second backup.
	require.NoError(t, c.SaveNow(ctx))
	n, err := backups.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	restored := NewController(echoSender{}, Config{Backups: backups})
	ok, err := restored.Restore(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"remember me", "re: remember me"}, contents(restored.Messages()))
}

func TestRestore_NoBackup(t *testing.T) {
	c := NewController(echoSender{}, Config{Backups: newBackups(t)})
	ok, err := c.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAutoSave_SavesOnShutdown(t *testing.T) {
	backups := newBackups(t)
	c := NewController(echoSender{}, Config{Backups: backups})
	require.NoError(t, c.Send(context.Background(), "x", ""))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.AutoSave(ctx, time.Hour)
		close(done)
	}()
	cancel()
	<-done

	n, err := backups.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
