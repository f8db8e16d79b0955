// Package output provides formatters for CLI output.
package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"

	"tasksync/internal/service"
)

// DescriptionWidth is the wrap width for rendered descriptions.
const DescriptionWidth = 72

// FormatTask formats a task line for the list command.
// Format: "{N:>4}  [x] {TITLE}" with "  (due YYYY-MM-DD)" when set.
func FormatTask(w io.Writer, num int, task service.Task) {
	fmt.Fprintf(w, "%4d  %s %s%s\n", num, Checkbox(task.Status), NormalizeTitle(task.Title), dueSuffix(task))
}

// FormatEvent formats one line of the plain watch stream.
func FormatEvent(w io.Writer, verb string, task service.Task) {
	fmt.Fprintf(w, "%-8s #%d %s %s%s\n", verb, task.ID, Checkbox(task.Status), NormalizeTitle(task.Title), dueSuffix(task))
}

// FormatDetail formats the show command output. The description is
// rendered as markdown.
func FormatDetail(w io.Writer, task service.Task) {
	fmt.Fprintf(w, "#%d %s\n", task.ID, NormalizeTitle(task.Title))
	fmt.Fprintf(w, "status:  %s\n", task.Status)
	if !task.DueDate.IsZero() {
		fmt.Fprintf(w, "due:     %s\n", task.DueDate)
	}
	if !task.CreatedAt.IsZero() {
		fmt.Fprintf(w, "created: %s\n", task.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	if !task.UpdatedAt.IsZero() && !task.UpdatedAt.Equal(task.CreatedAt) {
		fmt.Fprintf(w, "updated: %s\n", task.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	if desc := RenderMarkdown(task.Description, DescriptionWidth); desc != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, desc)
	}
}

// Checkbox returns "[x]" for completed tasks and "[ ]" otherwise.
func Checkbox(s service.Status) string {
	if s == service.StatusCompleted {
		return "[x]"
	}
	return "[ ]"
}

func dueSuffix(task service.Task) string {
	if task.DueDate.IsZero() {
		return ""
	}
	return "  (due " + task.DueDate.String() + ")"
}

// RenderMarkdown renders md for a terminal without colors. It falls back
// to the trimmed source if rendering fails.
func RenderMarkdown(md string, width int) string {
	md = strings.TrimSpace(md)
	if md == "" {
		return ""
	}
	if width < 10 {
		width = 10
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("notty"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return strings.Trim(out, "\n")
}

// NormalizeTitle normalizes a task title for display.
// - Empty or whitespace-only titles become "(untitled)"
// - Newlines are replaced with spaces
func NormalizeTitle(title string) string {
	title = strings.ReplaceAll(title, "\r", " ")
	title = strings.ReplaceAll(title, "\n", " ")

	if strings.TrimSpace(title) == "" {
		return "(untitled)"
	}
	return title
}
