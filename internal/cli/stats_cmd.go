// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// stats_cmd.go - The stats command: request telemetry across runs.
package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/telemetry"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/util"
)

const defaultStatsDays = 7

func (a *App) runStats(args Args) error {
	p := NewArgParser(args.Raw)
	days := p.FlagIntOrDefault("days", defaultStatsDays)
	if days <= 0 {
		return NewUsageError("stats", "--days must be positive", "regis stats --days 30")
	}

	var data StatsData
	if a.Recorder != nil {
		data.Current = a.Recorder.Summary()
	}
	if a.Telemetry != nil {
		now := time.Now()
		ids, err := a.Telemetry.List(now.AddDate(0, 0, -days), now)
		if err != nil {
			return fmt.Errorf("failed to list telemetry: %w", err)
		}
		for _, id := range ids {
			if id == data.Current.SessionID {
				continue
			}
			s, err := a.Telemetry.Load(id)
			if err != nil {
				a.Logger.Debug("skipping unreadable telemetry file")
				continue
			}
			data.History = append(data.History, s)
		}
	}

	if args.JSON {
		return NewJSONResponse("stats", data).Print(a.Out)
	}

	total := aggregate(data.History)
	fmt.Fprintln(a.Out, TitleStyle.Render(fmt.Sprintf("regis stats (last %d days)", days)))
	fmt.Fprintln(a.Out, RenderField("Runs", len(data.History)))
	writeSummary(a.Out, total)
	if len(data.History) > 0 {
		fmt.Fprintln(a.Out, SectionStyle.Render("Recent runs"))
		start := max(0, len(data.History)-10)
		for _, s := range data.History[start:] {
			fmt.Fprintf(a.Out, "  %s  %s  %s\n",
				util.PadRight(s.StartTime.Local().Format("2006-01-02 15:04"), 17),
				util.PadRight(fmt.Sprintf("%d req", s.TotalRequests), 9),
				fmt.Sprintf("%.0f%% ok", s.SuccessRate*100))
		}
	}
	return nil
}

// aggregate combines per-run summaries. Average latency is weighted by
// request count; percentiles are not combined.
func aggregate(runs []telemetry.Summary) telemetry.Summary {
	out := telemetry.Summary{
		ErrorsByType:    make(map[string]int),
		RequestsByModel: make(map[string]int),
		QueueEvents:     make(map[string]int),
	}
	var latency time.Duration
	var successes float64
	for _, s := range runs {
		out.TotalRequests += s.TotalRequests
		out.Retries += s.Retries
		latency += s.AvgLatency * time.Duration(s.TotalRequests)
		successes += s.SuccessRate * float64(s.TotalRequests)
		for k, v := range s.ErrorsByType {
			out.ErrorsByType[k] += v
		}
		for k, v := range s.RequestsByModel {
			out.RequestsByModel[k] += v
		}
		for k, v := range s.QueueEvents {
			out.QueueEvents[k] += v
		}
	}
	if out.TotalRequests > 0 {
		out.AvgLatency = latency / time.Duration(out.TotalRequests)
		out.SuccessRate = successes / float64(out.TotalRequests)
	}
	return out
}

func writeSummary(w io.Writer, s telemetry.Summary) {
	fmt.Fprintln(w, RenderField("Requests", s.TotalRequests))
	if s.TotalRequests == 0 {
		return
	}
	fmt.Fprintln(w, RenderField("Success rate", fmt.Sprintf("%.1f%%", s.SuccessRate*100)))
	fmt.Fprintln(w, RenderField("Avg latency", s.AvgLatency.Round(time.Millisecond)))
	fmt.Fprintln(w, RenderField("Retries", s.Retries))
	writeCounts(w, "Errors", s.ErrorsByType)
	writeCounts(w, "Models", s.RequestsByModel)
	writeCounts(w, "Queue", s.QueueEvents)
}

func writeCounts(w io.Writer, label string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprintln(w, SectionStyle.Render(label))
	for _, k := range slices.Sorted(maps.Keys(counts)) {
		fmt.Fprintf(w, "  %s %d\n", util.PadRight(k, 24), counts[k])
	}
}
