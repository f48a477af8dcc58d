// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// queue_cmd.go - The queue command: inspect and replay offline prompts.
package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/offline"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/util"
)

func (a *App) runQueue(ctx context.Context, args Args) error {
	if a.Queue == nil {
		return errors.New("queue: not initialized")
	}
	p := NewArgParser(args.Raw)

	switch p.Subcommand() {
	case "", "list", "ls":
		return a.queueList(args)
	case "drain", "flush":
		return a.queueDrain(ctx, args, a.Replay)
	case "clear":
		if !p.BoolFlag("confirm") {
			return NewUsageError("queue clear", "refusing to clear without --confirm", "regis queue clear --confirm")
		}
		n := a.Queue.Len()
		if err := a.Queue.Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear queue: %w", err)
		}
		fmt.Fprintf(a.Out, "%s Removed %d queued prompt(s)\n", RenderStatus("ok"), n)
		return nil
	default:
		return NewUsageError("queue", "unknown subcommand "+strconv.Quote(p.Subcommand()), "regis queue [list|drain|clear]")
	}
}

func (a *App) queueList(args Args) error {
	items := a.Queue.Items()
	if args.JSON {
		return NewJSONResponse("queue", QueueData{
			Items:      items,
			MaxRetries: a.Queue.MaxRetries(),
			Draining:   a.Queue.Processing(),
		}).Print(a.Out)
	}
	fmt.Fprint(a.Out, FormatQueue(items, a.Queue.MaxRetries()))
	return nil
}

func (a *App) queueDrain(ctx context.Context, args Args, exec offline.Executor) error {
	if a.Client == nil {
		return errors.New("queue drain: client not initialized")
	}
	if a.Queue.Len() == 0 {
		if args.JSON {
			return NewJSONResponse("queue", QueueData{MaxRetries: a.Queue.MaxRetries(), Drain: &offline.DrainReport{}}).Print(a.Out)
		}
		fmt.Fprintln(a.Out, "Queue is empty.")
		return nil
	}

	if args.JSON {
		exec = func(ctx context.Context, req offline.Request) error {
			_, err := a.Client.Execute(ctx, req.Prompt, req.Model)
			return err
		}
	}
	report, err := a.Queue.Drain(ctx, exec)
	if err != nil {
		if errors.Is(err, offline.ErrOffline) {
			return fmt.Errorf("backend unreachable at %s: %w", a.Client.BaseURL(), err)
		}
		return err
	}

	if args.JSON {
		return NewJSONResponse("queue", QueueData{
			Items:      a.Queue.Items(),
			MaxRetries: a.Queue.MaxRetries(),
			Drain:      &report,
		}).Print(a.Out)
	}
	fmt.Fprintf(a.Out, "%s sent %d, failed %d, dropped %d, remaining %d\n",
		RenderStatus(drainStatus(report)), report.Sent, report.Failed, report.Dropped, report.Remaining)
	return nil
}

func drainStatus(r offline.DrainReport) string {
	switch {
	case r.Failed == 0 && r.Dropped == 0:
		return "ok"
	case r.Sent > 0:
		return "warn"
	default:
		return "fail"
	}
}

// FormatQueue renders queued requests as a table for the terminal.
func FormatQueue(items []offline.Request, maxRetries int) string {
	if len(items) == 0 {
		return "Queue is empty.\n"
	}
	return formatQueueTable(items, maxRetries, time.Now())
}

func formatQueueTable(items []offline.Request, maxRetries int, now time.Time) string {
	var sb strings.Builder
	sb.WriteString(util.PadRight("#", 4) + util.PadRight("Queued", 12) + util.PadRight("Tries", 7) + util.PadRight("Model", 16) + "Prompt\n")
	sb.WriteString(strings.Repeat("-", 72) + "\n")
	for i, it := range items {
		sb.WriteString(util.PadRight(strconv.Itoa(i+1), 4))
		sb.WriteString(util.PadRight(formatAge(now.Sub(it.EnqueuedAt)), 12))
		sb.WriteString(util.PadRight(fmt.Sprintf("%d/%d", it.Retries, maxRetries), 7))
		sb.WriteString(util.PadRight(util.TruncateWidth(orDash(it.Model), 15), 16))
		sb.WriteString(util.TruncateWidth(util.OneLine(it.Prompt), 48))
		sb.WriteString("\n")
	}
	return sb.String()
}

// formatAge renders a duration as a short "ago" string.
func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
