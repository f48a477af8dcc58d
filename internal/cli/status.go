// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// status.go - The health command.
package cli

import (
	"context"
	"fmt"
	"time"
)

const healthTimeout = 10 * time.Second

func (a *App) runHealth(ctx context.Context, args Args) error {
	if err := a.requireRuntime("health"); err != nil {
		return err
	}

	data := HealthData{
		BaseURL: a.Client.BaseURL(),
		Queued:  a.Queue.Len(),
	}
	if a.Connectivity != nil && a.Connectivity.Forced() {
		data.Forced = true
	} else {
		checkCtx, cancel := context.WithTimeout(ctx, healthTimeout)
		start := time.Now()
		data.Online = a.Client.CheckHealth(checkCtx)
		data.LatencyMs = time.Since(start).Milliseconds()
		cancel()
		if a.Connectivity != nil {
			a.Connectivity.SetOnline(data.Online)
		}
	}

	if args.JSON {
		return NewJSONResponse("health", data).Print(a.Out)
	}

	fmt.Fprintln(a.Out, TitleStyle.Render("regis health"))
	fmt.Fprintln(a.Out, RenderField("Backend", data.BaseURL))
	switch {
	case data.Forced:
		fmt.Fprintln(a.Out, RenderLabel("Status")+RenderStatus("offline")+DimStyle.Render(" forced offline"))
	case data.Online:
		fmt.Fprintln(a.Out, RenderLabel("Status")+RenderStatus("online")+DimStyle.Render(fmt.Sprintf(" %d ms", data.LatencyMs)))
	default:
		fmt.Fprintln(a.Out, RenderLabel("Status")+RenderStatus("offline")+DimStyle.Render(" unreachable"))
	}
	fmt.Fprintln(a.Out, RenderField("Queued prompts", data.Queued))
	if a.Backups != nil {
		if n, err := a.Backups.Count(ctx); err == nil {
			fmt.Fprintln(a.Out, RenderField("Backups", n))
		}
	}
	return nil
}
