// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat over a session.Controller.
//
// Input uses liner for history and line editing. Ctrl-C while an answer
// streams cancels that answer; at the prompt it only clears the line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/peterh/liner"
	"go.uber.org/zap"

	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/config"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/model"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/session"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/util"
)

// =============================================================================
// INPUT
// =============================================================================

// LineReader reads one line of chat input. It returns io.EOF when input
// ends and ErrInterrupted when the user pressed Ctrl-C at the prompt.
type LineReader interface {
	Prompt(prompt string) (string, error)
	Close() error
}

// ErrInterrupted is returned by a LineReader on Ctrl-C.
var ErrInterrupted = errors.New("interrupted")

// historyFileName is stored in the regis data directory.
const historyFileName = "chat_history"

// termLineReader is a LineReader on the terminal with persistent history.
type termLineReader struct {
	line        *liner.State
	historyFile string
}

// NewTermLineReader creates a liner-backed reader and loads saved history.
func NewTermLineReader() LineReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.Dir()
	if err != nil {
		dir = os.TempDir()
	}
	r := &termLineReader{
		line:        line,
		historyFile: filepath.Join(dir, historyFileName),
	}
	if f, err := os.Open(r.historyFile); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	return r
}

func (r *termLineReader) Prompt(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", ErrInterrupted
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history with owner-only permissions and restores the terminal.
func (r *termLineReader) Close() error {
	if err := util.EnsureDir(filepath.Dir(r.historyFile)); err == nil {
		if f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			_, _ = r.line.WriteHistory(f)
			f.Close()
		}
	}
	return r.line.Close()
}

// =============================================================================
// CHAT LOOP
// =============================================================================

func (a *App) runChat(ctx context.Context, args Args) error {
	if a.Session == nil {
		return errors.New("chat: session not initialized")
	}
	modelName := a.model(args)

	reader := a.LineReader
	if reader == nil {
		reader = NewTermLineReader()
	}
	defer reader.Close()

	if restored, err := a.Session.Restore(ctx); err != nil {
		a.Logger.Warn("could not restore conversation", zap.Error(err))
		fmt.Fprintln(a.Out, WarningStyle.Render("Could not restore the previous conversation: "+err.Error()))
	} else if restored {
		fmt.Fprintln(a.Out, DimStyle.Render(fmt.Sprintf("Restored %d message(s) from the last backup. /clear to start over.", len(a.Session.Messages()))))
	}

	saveCtx, stopSave := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.Session.AutoSave(saveCtx, a.Config.AutoSaveInterval())
	}()
	defer func() {
		stopSave()
		wg.Wait()
	}()

	a.printWelcome(modelName)

	for {
		if ctx.Err() != nil {
			return nil
		}
		input, err := reader.Prompt(a.promptLabel())
		if errors.Is(err, ErrInterrupted) {
			fmt.Fprintln(a.Out, DimStyle.Render("(type /quit to exit)"))
			continue
		}
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(a.Out)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if strings.HasPrefix(input, "/") {
			quit, err := a.handleSlashCommand(ctx, input, &modelName)
			if err != nil {
				fmt.Fprintf(a.Out, "%s %v\n", ErrorStyle.Render("[ERROR]"), err)
			}
			if quit {
				return nil
			}
			continue
		}

		a.chatSend(ctx, input, modelName)
	}
}

func (a *App) promptLabel() string {
	if a.online() {
		return "> "
	}
	return "(offline) > "
}

// chatSend streams one answer. Ctrl-C during the stream cancels it.
func (a *App) chatSend(ctx context.Context, prompt, modelName string) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	done := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			a.Session.Cancel()
		case <-done:
		}
	}()
	defer func() {
		signal.Stop(sigCh)
		close(done)
	}()

	streaming := false
	err := a.Session.SendWith(ctx, prompt, modelName, func(chunk string) {
		if !streaming {
			streaming = true
			fmt.Fprint(a.Out, AssistantStyle.Render("Assistant: "))
		}
		fmt.Fprint(a.Out, chunk)
	})
	if streaming {
		fmt.Fprintln(a.Out)
	}

	switch {
	case errors.Is(err, session.ErrSuperseded):
		fmt.Fprintln(a.Out, DimStyle.Render("(cancelled)"))
		return
	case errors.Is(err, session.ErrEmptyPrompt):
		return
	}

	if msg := a.Session.Error(); msg != "" {
		style := ErrorStyle
		if err == nil {
			style = WarningStyle
		}
		fmt.Fprintln(a.Out, style.Render(msg))
		a.Session.ClearError()
		return
	}
	if err != nil {
		// Cancellation from outside the chat.
		fmt.Fprintln(a.Out, DimStyle.Render("(cancelled)"))
		return
	}

	msgs := a.Session.Messages()
	if n := len(msgs); n > 0 && msgs[n-1].Role == model.RoleAssistant {
		last := msgs[n-1]
		if !streaming {
			a.displayResponse(last.Content)
		}
		displaySources(a.Out, last.Sources)
		if last.ModelUsed != "" {
			fmt.Fprintln(a.Out, DimStyle.Render(last.ModelUsed))
		}
	}
}

// handleSlashCommand runs a /command. It reports whether chat should end.
func (a *App) handleSlashCommand(ctx context.Context, input string, modelName *string) (bool, error) {
	fields := strings.Fields(input)
	cmd := strings.ToLower(fields[0])

	switch cmd {
	case "/quit", "/exit", "/q":
		return true, nil

	case "/help", "/?":
		printChatHelp(a.Out)

	case "/undo":
		if !a.Session.Undo() {
			fmt.Fprintln(a.Out, DimStyle.Render("Nothing to undo."))
			return false, nil
		}
		a.printLastTurn()

	case "/redo":
		if !a.Session.Redo() {
			fmt.Fprintln(a.Out, DimStyle.Render("Nothing to redo."))
			return false, nil
		}
		a.printLastTurn()

	case "/clear":
		a.Session.Clear()
		fmt.Fprintln(a.Out, DimStyle.Render("Conversation cleared. /undo brings it back."))

	case "/cancel":
		if !a.Session.IsLoading() {
			a.Session.ClearError()
			fmt.Fprintln(a.Out, DimStyle.Render("Nothing in flight."))
			return false, nil
		}
		a.Session.Cancel()
		fmt.Fprintln(a.Out, DimStyle.Render("(cancelled)"))

	case "/history", "/show":
		printTranscript(a.Out, a.Session.Messages())

	case "/model":
		if len(fields) < 2 {
			fmt.Fprintln(a.Out, RenderField("Model", orDash(*modelName)))
			return false, nil
		}
		*modelName = fields[1]
		fmt.Fprintln(a.Out, DimStyle.Render("Model set to "+*modelName))

	case "/queue":
		if a.Queue == nil {
			return false, errors.New("queue not available")
		}
		if len(fields) > 1 && fields[1] == "drain" {
			return false, a.queueDrain(ctx, Args{}, a.replayInChat)
		}
		if a.Queue.Processing() {
			fmt.Fprintln(a.Out, DimStyle.Render("(draining)"))
		}
		fmt.Fprint(a.Out, FormatQueue(a.Queue.Items(), a.Queue.MaxRetries()))

	case "/save":
		if err := a.Session.SaveNow(ctx); err != nil {
			return false, fmt.Errorf("backup failed: %w", err)
		}
		fmt.Fprintln(a.Out, DimStyle.Render("Saved."))

	case "/status":
		a.printChatStatus()

	default:
		return false, fmt.Errorf("unknown command %s (try /help)", cmd)
	}
	return false, nil
}

func (a *App) printWelcome(modelName string) {
	fmt.Fprintln(a.Out, TitleStyle.Render("regis chat"))
	status := "online"
	if !a.online() {
		status = "offline"
	}
	backend := RenderLabel("Backend") + RenderStatus(status)
	if a.Client != nil {
		backend += " " + DimStyle.Render(a.Client.BaseURL())
	}
	fmt.Fprintln(a.Out, backend)
	fmt.Fprintln(a.Out, RenderField("Model", orDash(modelName)))
	fmt.Fprintln(a.Out, DimStyle.Render("Type /help for commands, /quit to exit."))
	fmt.Fprintln(a.Out)
}

func (a *App) printLastTurn() {
	msgs := a.Session.Messages()
	if len(msgs) == 0 {
		fmt.Fprintln(a.Out, DimStyle.Render("(empty conversation)"))
		return
	}
	start := max(0, len(msgs)-2)
	printTranscript(a.Out, msgs[start:])
}

// lastPromptPreview bounds the prompt shown by /status.
const lastPromptPreview = 48

func (a *App) printChatStatus() {
	st := a.Session.Status()
	fmt.Fprintln(a.Out, RenderField("Messages", st.Messages))
	fmt.Fprintln(a.Out, RenderField("Undo / redo", fmt.Sprintf("%d / %d", st.UndoDepth, st.RedoDepth)))
	if st.Online {
		fmt.Fprintln(a.Out, RenderLabel("Connection")+RenderStatus("online"))
	} else {
		fmt.Fprintln(a.Out, RenderLabel("Connection")+RenderStatus("offline"))
	}
	if a.Queue != nil {
		queued := strconv.Itoa(a.Queue.Len())
		if a.Queue.Processing() {
			queued += " (draining)"
		}
		fmt.Fprintln(a.Out, RenderField("Queued", queued))
	}
	if last, ok := model.Snapshot(a.Session.Messages()).LastUserMessage(); ok {
		fmt.Fprintln(a.Out, RenderField("Last prompt", util.OneLine(last.Preview(lastPromptPreview))))
	}
	saved := "never"
	if !st.LastSave.IsZero() {
		saved = st.LastSave.Local().Format("15:04:05")
	}
	if st.Dirty {
		saved += " (unsaved changes)"
	}
	fmt.Fprintln(a.Out, RenderField("Last backup", saved))
}

func printChatHelp(w io.Writer) {
	fmt.Fprintln(w, SectionStyle.Render("Commands"))
	for _, row := range [][2]string{
		{"/undo, /redo", "Step through conversation history"},
		{"/clear", "Start over (undoable)"},
		{"/cancel", "Cancel the in-flight request"},
		{"/history", "Show the conversation"},
		{"/model [NAME]", "Show or change the model"},
		{"/queue [drain]", "Show or replay queued offline prompts"},
		{"/save", "Write a backup now"},
		{"/status", "Session counters"},
		{"/quit", "Exit"},
	} {
		fmt.Fprintf(w, "  %s %s\n", util.PadRight(row[0], 18), DimStyle.Render(row[1]))
	}
	fmt.Fprintln(w, DimStyle.Render("  Ctrl-C while an answer streams cancels it."))
}
