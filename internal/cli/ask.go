// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - The ask command: one prompt, streamed or buffered.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/glamour"
	"go.uber.org/zap"

	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/cloud"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/locale"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/model"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/offline"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/util"
)

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

var (
	markdownOnce     sync.Once
	markdownRenderer *glamour.TermRenderer
)

// renderMarkdown renders markdown content for terminal display.
// Returns the original content if the renderer is unavailable.
func renderMarkdown(content string) string {
	markdownOnce.Do(func() {
		width := GetTerminalWidth() - 4
		if width > 100 {
			width = 100
		}
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		if err == nil {
			markdownRenderer = r
		}
	})
	if markdownRenderer == nil {
		return content
	}
	rendered, err := markdownRenderer.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// displayResponse writes a complete response, rendering markdown only when
// enabled and stdout is a terminal so piped output stays raw.
func (a *App) displayResponse(text string) {
	if a.Config.UI.Markdown && isStdout(a.Out) && IsStdoutTTY() {
		fmt.Fprint(a.Out, renderMarkdown(text))
		return
	}
	fmt.Fprint(a.Out, text)
	if !strings.HasSuffix(text, "\n") {
		fmt.Fprintln(a.Out)
	}
}

// displaySources lists grounding sources under a response.
func displaySources(w io.Writer, sources []model.Source) {
	if len(sources) == 0 {
		return
	}
	fmt.Fprintln(w, DimStyle.Render("Sources:"))
	for i, s := range sources {
		title := s.Title
		if title == "" {
			title = s.URL
		}
		fmt.Fprintf(w, "  %d. %s %s\n", i+1, util.TruncateWidth(util.OneLine(title), 60), DimStyle.Render(s.URL))
	}
}

// =============================================================================
// ASK COMMAND
// =============================================================================

func (a *App) runAsk(ctx context.Context, args Args) error {
	prompt := strings.TrimSpace(args.Query)
	if prompt == "" {
		return NewUsageError("ask", "prompt is required", `regis ask "What is a goroutine?"`)
	}
	if err := a.requireRuntime("ask"); err != nil {
		return err
	}
	modelName := a.model(args)

	if !a.online() {
		return a.askQueued(ctx, args, prompt, modelName)
	}

	start := time.Now()
	var (
		result   *cloud.Result
		err      error
		streamed bool
	)
	if args.NoStream || args.JSON {
		result, err = a.Client.Execute(ctx, prompt, modelName)
	} else {
		streamed = true
		result, err = a.Client.ExecuteStream(ctx, prompt, modelName, func(chunk string) {
			fmt.Fprint(a.Out, chunk)
		})
	}
	elapsed := time.Since(start)

	if err != nil {
		if streamed {
			fmt.Fprintln(a.Out)
		}
		if cloud.IsCancelled(err) {
			return err
		}
		a.Logger.Warn("ask failed", zap.String("kind", cloud.KindOf(err).String()), zap.Error(err))
		return fmt.Errorf("%s: %w", a.Catalog.Error(err), err)
	}

	if args.JSON {
		return NewJSONResponse("ask", AskData{
			Response:   result.Text,
			Model:      result.ModelUsed,
			Sources:    result.Sources,
			DurationMs: elapsed.Milliseconds(),
		}).Print(a.Out)
	}

	if streamed {
		if !strings.HasSuffix(result.Text, "\n") {
			fmt.Fprintln(a.Out)
		}
	} else {
		a.displayResponse(result.Text)
	}
	displaySources(a.Out, result.Sources)
	fmt.Fprintln(a.Err, DimStyle.Render(fmt.Sprintf("%s · %s", result.ModelUsed, elapsed.Round(time.Millisecond))))
	return nil
}

// askQueued stores the prompt for replay when the backend is unreachable.
func (a *App) askQueued(ctx context.Context, args Args, prompt, modelName string) error {
	req, err := a.Queue.Enqueue(ctx, prompt, modelName)
	if err != nil {
		return fmt.Errorf("%s: %w", a.Catalog.T(locale.ErrUnknown), err)
	}
	if args.JSON {
		return NewJSONResponse("ask", AskData{
			Model:   modelName,
			Queued:  true,
			QueueID: req.ID,
		}).Print(a.Out)
	}
	fmt.Fprintf(a.Out, "%s %s\n", RenderStatus("queued"), a.Catalog.T(locale.ErrQueued))
	fmt.Fprintln(a.Out, DimStyle.Render(fmt.Sprintf("Queue position %d (id %s). Run 'regis queue drain' once online.", a.Queue.Len(), req.ID)))
	return nil
}

// Replay sends one queued request without streaming and prints the answer.
// It is the offline.Executor for queue drains.
func (a *App) Replay(ctx context.Context, req offline.Request) error {
	result, err := a.replay(ctx, req)
	if err != nil {
		return err
	}
	a.printReplay(req, result)
	return nil
}

// ReplayToSession is the executor for background drains during chat. The
// answer joins the conversation and is only logged, since the terminal
// belongs to the line editor.
func (a *App) ReplayToSession(ctx context.Context, req offline.Request) error {
	result, err := a.replay(ctx, req)
	if err != nil {
		return err
	}
	a.Session.AddReplayed(req.Prompt, result)
	a.Logger.Info("queued prompt answered", zap.String("id", req.ID), zap.String("model", result.ModelUsed))
	return nil
}

// replayInChat serves /queue drain: the answer is printed and kept.
func (a *App) replayInChat(ctx context.Context, req offline.Request) error {
	result, err := a.replay(ctx, req)
	if err != nil {
		return err
	}
	a.Session.AddReplayed(req.Prompt, result)
	a.printReplay(req, result)
	return nil
}

func (a *App) replay(ctx context.Context, req offline.Request) (*cloud.Result, error) {
	result, err := a.Client.Execute(ctx, req.Prompt, req.Model)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, errors.New("empty result")
	}
	return result, nil
}

func (a *App) printReplay(req offline.Request, result *cloud.Result) {
	fmt.Fprintf(a.Out, "%s %s\n", UserStyle.Render(">"), util.TruncateWidth(util.OneLine(req.Prompt), GetTerminalWidth()-4))
	a.displayResponse(result.Text)
}
