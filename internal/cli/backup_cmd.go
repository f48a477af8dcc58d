// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// backup_cmd.go - The backup command: list, show, export and clear conversation backups.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/export"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/model"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/storage"
)

func (a *App) runBackup(ctx context.Context, args Args) error {
	if a.Backups == nil {
		return errors.New("backup: store not initialized")
	}
	p := NewArgParser(args.Raw)

	switch p.Subcommand() {
	case "", "list", "ls":
		infos, err := a.Backups.List(ctx)
		if err != nil {
			return fmt.Errorf("failed to list backups: %w", err)
		}
		if args.JSON {
			return NewJSONResponse("backup", BackupData{
				Encrypted: a.Backups.Encrypted(),
				Dir:       a.Backups.Dir(),
				Backups:   infos,
			}).Print(a.Out)
		}
		fmt.Fprintln(a.Out, RenderField("Directory", a.Backups.Dir()))
		fmt.Fprintln(a.Out, RenderField("Encrypted", a.Backups.Encrypted()))
		fmt.Fprintln(a.Out)
		fmt.Fprintln(a.Out, storage.FormatBackupList(infos))
		return nil

	case "restore", "show":
		return a.backupRestore(ctx, args, p.Positional(1))

	case "export":
		return a.backupExport(ctx, args, p)

	case "clear":
		if !p.BoolFlag("confirm") {
			return NewUsageError("backup clear", "refusing to delete backups without --confirm", "regis backup clear --confirm")
		}
		n, err := a.Backups.Count(ctx)
		if err != nil {
			return err
		}
		if err := a.Backups.Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear backups: %w", err)
		}
		fmt.Fprintf(a.Out, "%s Deleted %d backup(s)\n", RenderStatus("ok"), n)
		return nil

	default:
		return NewUsageError("backup", "unknown subcommand "+strconv.Quote(p.Subcommand()), "regis backup [list|restore [ID]|export [ID]|clear]")
	}
}

// backupRestore decrypts a backup, by id or the newest readable one, and
// prints its transcript. Chat restores the newest backup on its own.
func (a *App) backupRestore(ctx context.Context, args Args, id string) error {
	b, err := a.loadBackup(ctx, id)
	if err != nil {
		return err
	}

	if args.JSON {
		info := storage.BackupInfo{ID: b.ID, CreatedAt: b.CreatedAt}
		return NewJSONResponse("backup", BackupData{
			Encrypted: a.Backups.Encrypted(),
			Dir:       a.Backups.Dir(),
			Restored:  &info,
			Messages:  len(b.Messages),
		}).Print(a.Out)
	}

	fmt.Fprintln(a.Out, TitleStyle.Render(fmt.Sprintf("Backup %s (%s)", b.ID, b.CreatedAt.Local().Format("2006-01-02 15:04:05"))))
	printTranscript(a.Out, b.Messages)
	return nil
}

// backupExport writes a backup to a Markdown or JSON file.
func (a *App) backupExport(ctx context.Context, args Args, p *ArgParser) error {
	opts := export.DefaultOptions()
	if dir := p.Flag("out"); dir != "" {
		opts.OutputDir = dir
	}
	exporter, err := export.ForFormat(p.Flag("format"), opts)
	if err != nil {
		return NewUsageError("backup export", err.Error(), "regis backup export --format json --out ./exports")
	}

	b, err := a.loadBackup(ctx, p.Positional(1))
	if err != nil {
		return err
	}
	path, err := export.ToFile(b, exporter, opts)
	if err != nil {
		return err
	}

	if args.JSON {
		info := storage.BackupInfo{ID: b.ID, CreatedAt: b.CreatedAt}
		return NewJSONResponse("backup", BackupData{
			Encrypted: a.Backups.Encrypted(),
			Dir:       a.Backups.Dir(),
			Restored:  &info,
			Messages:  len(b.Messages),
			Exported:  path,
		}).Print(a.Out)
	}
	fmt.Fprintf(a.Out, "%s Exported backup %s to %s\n", RenderStatus("ok"), b.ID, path)
	return nil
}

// loadBackup loads id, or the newest readable backup when id is empty.
func (a *App) loadBackup(ctx context.Context, id string) (*storage.Backup, error) {
	if id != "" {
		return a.Backups.Load(ctx, id)
	}
	return a.Backups.LoadLatest(ctx)
}

// printTranscript writes messages as alternating labelled turns.
func printTranscript(w io.Writer, messages []model.Message) {
	if len(messages) == 0 {
		fmt.Fprintln(w, DimStyle.Render("(empty conversation)"))
		return
	}
	for _, m := range messages {
		style := AssistantStyle
		if m.Role == model.RoleUser {
			style = UserStyle
		}
		fmt.Fprintf(w, "%s %s\n", style.Render(m.Role.DisplayName()+":"), m.Content)
		if m.Role == model.RoleAssistant && m.ModelUsed != "" {
			fmt.Fprintln(w, DimStyle.Render("  "+m.ModelUsed))
		}
		fmt.Fprintln(w)
	}
}
