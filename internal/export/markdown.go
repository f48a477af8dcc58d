// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/model"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/storage"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports conversations to Markdown format.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export converts a backup to Markdown. Message content is already
// Markdown and is written as is.
func (e *MarkdownExporter) Export(b *storage.Backup) ([]byte, error) {
	if b == nil {
		return nil, fmt.Errorf("backup is nil")
	}
	if len(b.Messages) == 0 {
		return nil, ErrEmpty
	}

	var sb strings.Builder

	// YAML frontmatter with metadata
	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		fmt.Fprintf(&sb, "title: %s\n", escapeYAML(Title(b.Messages)))
		fmt.Fprintf(&sb, "backup: %s\n", b.ID)
		fmt.Fprintf(&sb, "date: %s\n", b.CreatedAt.Format(time.RFC3339))
		fmt.Fprintf(&sb, "messages: %d\n", len(b.Messages))
		if models := modelsUsed(b.Messages); len(models) > 0 {
			fmt.Fprintf(&sb, "models: %s\n", escapeYAML(strings.Join(models, ", ")))
		}
		sb.WriteString("generator: regis\n")
		sb.WriteString("---\n\n")
	}

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(Title(b.Messages)))
	if e.options.IncludeMetadata {
		fmt.Fprintf(&sb, "*Saved %s*\n\n", formatTimestamp(b.CreatedAt))
	}

	for i, msg := range b.Messages {
		if e.options.IncludeTimestamps && !msg.Timestamp.IsZero() {
			fmt.Fprintf(&sb, "### %s <sub>%s</sub>\n\n", roleLabel(msg.Role), formatShortTimestamp(msg.Timestamp))
		} else {
			fmt.Fprintf(&sb, "### %s\n\n", roleLabel(msg.Role))
		}

		sb.WriteString(strings.TrimSpace(msg.Content))
		sb.WriteString("\n\n")

		if msg.Role == model.RoleAssistant {
			if e.options.IncludeSources && len(msg.Sources) > 0 {
				sb.WriteString(formatSources(msg.Sources))
				sb.WriteString("\n")
			}
			if e.options.IncludeMetadata && msg.ModelUsed != "" {
				fmt.Fprintf(&sb, "<sub>Model: %s</sub>\n\n", msg.ModelUsed)
			}
		}

		if i < len(b.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// =============================================================================
// FORMATTING HELPERS
// =============================================================================

func roleLabel(role model.Role) string {
	switch role {
	case model.RoleUser:
		return "[User]"
	case model.RoleAssistant:
		return "[Assistant]"
	case "":
		return "Unknown"
	default:
		return string(role)
	}
}

func formatSources(sources []model.Source) string {
	var sb strings.Builder
	sb.WriteString("**Sources**\n\n")
	for i, s := range sources {
		title := s.Title
		if title == "" {
			title = s.URL
		}
		if s.URL != "" {
			fmt.Fprintf(&sb, "%d. [%s](%s)\n", i+1, escapeMarkdown(title), s.URL)
		} else {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, escapeMarkdown(title))
		}
	}
	return sb.String()
}

// modelsUsed lists distinct assistant models in sorted order.
func modelsUsed(messages []model.Message) []string {
	seen := make(map[string]struct{})
	for _, m := range messages {
		if m.Role == model.RoleAssistant && m.ModelUsed != "" {
			seen[m.ModelUsed] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(seen))
}

// =============================================================================
// ESCAPING HELPERS
// =============================================================================

// escapeMarkdown escapes special Markdown characters in plain text.
func escapeMarkdown(s string) string {
	// Only characters that would break titles and link text
	r := strings.NewReplacer("#", `\#`, "*", `\*`, "_", `\_`, "[", `\[`, "]", `\]`)
	return r.Replace(s)
}

// escapeYAML quotes a frontmatter value when it holds special characters.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		s = strings.ReplaceAll(s, "\\", "\\\\")
		s = strings.ReplaceAll(s, "\"", "\\\"")
		s = strings.ReplaceAll(s, "\n", "\\n")
		s = strings.ReplaceAll(s, "\r", "\\r")
		return fmt.Sprintf("\"%s\"", s)
	}
	return s
}
