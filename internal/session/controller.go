// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/cloud"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/locale"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/model"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/offline"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/storage"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Sender issues a streaming prompt. *cloud.Client implements it.
type Sender interface {
	ExecuteStream(ctx context.Context, prompt, model string, onChunk func(string)) (*cloud.Result, error)
}

// Backups persists conversation snapshots. *storage.BackupStore implements it.
type Backups interface {
	Save(ctx context.Context, messages []model.Message) (storage.BackupInfo, error)
	LoadLatest(ctx context.Context) (*storage.Backup, error)
}

// Queue accepts prompts while offline. *offline.Queue implements it.
type Queue interface {
	Enqueue(ctx context.Context, prompt, model string) (offline.Request, error)
}

var (
	// ErrEmptyPrompt is returned when a blank prompt is sent.
	ErrEmptyPrompt = errors.New("prompt is empty")

	// ErrSuperseded is returned by a send whose result was discarded because
	// a newer operation replaced it.
	ErrSuperseded = errors.New("request superseded")
)

// =============================================================================
// CONFIG
// =============================================================================

const (
	// DefaultHistoryLimit bounds each of the undo and redo stacks.
	DefaultHistoryLimit = 50

	// DefaultAutoSaveInterval is how often AutoSave checks for changes.
	DefaultAutoSaveInterval = 5 * time.Minute

	finalSaveTimeout = 5 * time.Second
)

// Config holds the optional collaborators of a Controller.
type Config struct {
	// HistoryLimit bounds the undo and redo stacks (default 50).
	HistoryLimit int

	Catalog      *locale.Catalog
	Backups      Backups
	Queue        Queue
	Connectivity *offline.Connectivity
	Logger       *zap.Logger
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller manages one conversation and its in-flight request.
type Controller struct {
	sender  Sender
	backups Backups
	queue   Queue
	conn    *offline.Connectivity
	catalog *locale.Catalog
	logger  *zap.Logger

	mu         sync.Mutex
	messages   []model.Message
	undo       *model.History
	redo       *model.History
	errMsg     string
	generation uint64
	cancel     context.CancelFunc
	loading    bool
	version    uint64 // bumped on every change to messages
	saved      uint64 // version covered by the last backup
	lastSave   time.Time
}

// NewController creates a controller that sends through sender.
func NewController(sender Sender, cfg Config) *Controller {
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	c := &Controller{
		sender:  sender,
		backups: cfg.Backups,
		queue:   cfg.Queue,
		conn:    cfg.Connectivity,
		catalog: cfg.Catalog,
		logger:  cfg.Logger,
		undo:    model.NewHistory(limit),
		redo:    model.NewHistory(limit),
	}
	if c.catalog == nil {
		c.catalog = locale.New("")
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// Send submits a prompt. See SendWith.
func (c *Controller) Send(ctx context.Context, prompt, modelName string) error {
	return c.SendWith(ctx, prompt, modelName, nil)
}

// SendWith cancels any in-flight request, appends the user message and
// streams the answer into a pending assistant message. onChunk, if set, sees
// every chunk of the current call.
//
// A CANCELLED failure leaves no error; other failures set a localized error
// and keep the user message. If the request is superseded before it
// finishes, its outcome is dropped and ErrSuperseded is returned.
func (c *Controller) SendWith(ctx context.Context, prompt, modelName string, onChunk func(string)) error {
	user := model.NewUserMessage(prompt)
	if user.IsEmpty() {
		return ErrEmptyPrompt
	}

	c.mu.Lock()
	c.supersedeLocked()
	gen := c.generation

	c.undo.Push(model.TakeSnapshot(c.messages))
	c.redo.Clear()
	c.messages = append(c.messages, user)
	c.errMsg = ""
	c.version++

	if c.offlineLocked() {
		c.mu.Unlock()
		return c.enqueue(ctx, gen, user.Content, modelName)
	}

	pending := model.NewAssistantMessage()
	c.messages = append(c.messages, pending)
	callCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.loading = true
	c.mu.Unlock()
	defer cancel()

	result, err := c.sender.ExecuteStream(callCtx, user.Content, modelName, func(chunk string) {
		c.mu.Lock()
		current := gen == c.generation
		if current {
			if i := c.indexLocked(pending.ID); i >= 0 {
				c.messages[i].Content += chunk
			}
		}
		c.mu.Unlock()
		if current && onChunk != nil {
			onChunk(chunk)
		}
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		c.logger.Debug("discarding superseded result", zap.Uint64("generation", gen))
		return ErrSuperseded
	}
	c.cancel = nil
	c.loading = false

	i := c.indexLocked(pending.ID)
	if err != nil {
		if i >= 0 {
			c.messages = slices.Delete(c.messages, i, i+1)
		}
		if cloud.IsCancelled(err) {
			return err
		}
		c.errMsg = c.localize(err)
		c.logger.Warn("send failed", zap.String("kind", cloud.KindOf(err).String()), zap.Error(err))
		return err
	}

	if i >= 0 {
		msg := &c.messages[i]
		msg.Content = result.Text
		msg.Sources = result.Sources
		msg.ModelUsed = result.ModelUsed
		msg.Timestamp = time.Now()
		msg.Pending = false
	}
	c.version++
	return nil
}

func (c *Controller) enqueue(ctx context.Context, gen uint64, prompt, modelName string) error {
	req, err := c.queue.Enqueue(ctx, prompt, modelName)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return ErrSuperseded
	}
	if err != nil {
		c.errMsg = c.catalog.T(locale.ErrUnknown)
		c.logger.Error("failed to queue prompt", zap.Error(err))
		return err
	}
	c.errMsg = c.catalog.T(locale.ErrQueued)
	c.logger.Info("offline, prompt queued", zap.String("id", req.ID))
	return nil
}

// AddReplayed records the answer to a prompt that was queued while offline.
// The answer is placed after the latest unanswered user message with the
// same text. When the conversation no longer holds it, the prompt and
// answer are appended. An in-flight request is left running.
func (c *Controller) AddReplayed(prompt string, result *cloud.Result) {
	if result == nil {
		return
	}
	answer := model.NewMessage(model.RoleAssistant, result.Text)
	answer.Sources = result.Sources
	answer.ModelUsed = result.ModelUsed

	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.unansweredLocked(strings.TrimSpace(prompt)); i >= 0 {
		c.messages = slices.Insert(c.messages, i+1, answer)
	} else {
		c.messages = append(c.messages, model.NewUserMessage(prompt), answer)
	}
	c.version++
}

// unansweredLocked returns the index of the latest user message with text
// prompt that no assistant message follows, or -1.
func (c *Controller) unansweredLocked(prompt string) int {
	for i := len(c.messages) - 1; i >= 0; i-- {
		m := c.messages[i]
		if m.Role != model.RoleUser || m.Content != prompt {
			continue
		}
		if i+1 < len(c.messages) && c.messages[i+1].Role == model.RoleAssistant {
			return -1
		}
		return i
	}
	return -1
}

// Cancel aborts the in-flight request, if any. No error is shown.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.supersedeLocked()
}

// Undo restores the snapshot taken before the last change.
func (c *Controller) Undo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.undo.Len() == 0 {
		return false
	}
	c.supersedeLocked()
	prev, _ := c.undo.Pop()
	c.redo.Push(model.TakeSnapshot(c.messages))
	c.messages = prev.Messages()
	c.version++
	return true
}

// Redo reapplies the most recently undone change.
func (c *Controller) Redo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.redo.Len() == 0 {
		return false
	}
	c.supersedeLocked()
	next, _ := c.redo.Pop()
	c.undo.Push(model.TakeSnapshot(c.messages))
	c.messages = next.Messages()
	c.version++
	return true
}

// Clear empties the conversation. The previous state can be restored with
// Undo.
func (c *Controller) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.supersedeLocked()
	if len(c.messages) == 0 {
		return
	}
	c.undo.Push(model.TakeSnapshot(c.messages))
	c.redo.Clear()
	c.messages = nil
	c.errMsg = ""
	c.version++
}

// Messages returns a copy of the conversation.
func (c *Controller) Messages() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.TakeSnapshot(c.messages).Messages()
}

// Error returns the current user-facing error, or "".
func (c *Controller) Error() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errMsg
}

// ClearError dismisses the current error.
func (c *Controller) ClearError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errMsg = ""
}

func (c *Controller) CanUndo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.undo.Len() > 0
}

func (c *Controller) CanRedo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.redo.Len() > 0
}

func (c *Controller) IsLoading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

func (c *Controller) IsEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages) == 0
}

// Status is a point-in-time view of the controller.
type Status struct {
	Messages  int
	UndoDepth int
	RedoDepth int
	Loading   bool
	Dirty     bool
	LastSave  time.Time
	Online    bool
}

// Status returns counters for display.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Messages:  len(c.messages),
		UndoDepth: c.undo.Len(),
		RedoDepth: c.redo.Len(),
		Loading:   c.loading,
		Dirty:     c.version != c.saved,
		LastSave:  c.lastSave,
		Online:    !c.offlineLocked(),
	}
}

// supersedeLocked cancels the in-flight call and drops its pending message.
func (c *Controller) supersedeLocked() {
	c.generation++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.loading = false
	c.messages = slices.DeleteFunc(c.messages, func(m model.Message) bool { return m.Pending })
}

func (c *Controller) offlineLocked() bool {
	return c.conn != nil && c.queue != nil && !c.conn.Online()
}

func (c *Controller) indexLocked(id string) int {
	return slices.IndexFunc(c.messages, func(m model.Message) bool { return m.ID == id })
}

func (c *Controller) localize(err error) string {
	return c.catalog.Error(err)
}

// =============================================================================
// BACKUP
// =============================================================================

// Restore replaces the conversation with the latest backup. It reports
// false when there is nothing to restore.
func (c *Controller) Restore(ctx context.Context) (bool, error) {
	if c.backups == nil {
		return false, nil
	}
	b, err := c.backups.LoadLatest(ctx)
	if errors.Is(err, storage.ErrNoBackup) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.supersedeLocked()
	if len(c.messages) > 0 {
		c.undo.Push(model.TakeSnapshot(c.messages))
		c.redo.Clear()
	}
	c.messages = model.TakeSnapshot(b.Messages).Messages()
	c.version++
	c.saved = c.version
	c.lastSave = b.CreatedAt
	c.logger.Info("restored conversation", zap.String("backup", b.ID), zap.Int("messages", len(b.Messages)))
	return true, nil
}

// SaveNow writes a backup if the conversation changed since the last save.
func (c *Controller) SaveNow(ctx context.Context) error {
	if c.backups == nil {
		return nil
	}
	c.mu.Lock()
	if c.version == c.saved {
		c.mu.Unlock()
		return nil
	}
	msgs := slices.DeleteFunc(model.TakeSnapshot(c.messages).Messages(), func(m model.Message) bool { return m.Pending })
	version := c.version
	c.mu.Unlock()

	if _, err := c.backups.Save(ctx, msgs); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Changes made during the save stay unsaved.
	if version > c.saved {
		c.saved = version
	}
	c.lastSave = time.Now()
	return nil
}

// AutoSave saves every interval while there are unsaved changes, and once
// more when ctx ends. It blocks until ctx is done.
func (c *Controller) AutoSave(ctx context.Context, interval time.Duration) {
	if c.backups == nil {
		return
	}
	if interval <= 0 {
		interval = DefaultAutoSaveInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalSaveTimeout)
			if err := c.SaveNow(finalCtx); err != nil {
				c.logger.Warn("final backup failed", zap.Error(err))
			}
			cancel()
			return
		case <-ticker.C:
			if err := c.SaveNow(ctx); err != nil {
				c.logger.Warn("backup failed", zap.Error(err))
			}
		}
	}
}
