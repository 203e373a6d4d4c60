// Package logging provides the styled, timestamped progress output used by
// every orchestration step. A failed run must be diagnosable from captured
// log output alone, so every line carries an RFC3339 timestamp.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	// Color palette
	primaryColor = lipgloss.Color("#00D4AA")
	textColor    = lipgloss.Color("#E5E7EB")
	mutedColor   = lipgloss.Color("#9CA3AF")

	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Bold(true)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true)
	infoStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#3B82F6"))
	warningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B")).Bold(true)
	progressStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#8B5CF6"))
	stepStyle     = lipgloss.NewStyle().Foreground(primaryColor).Bold(true)
	messageStyle  = lipgloss.NewStyle().Foreground(textColor)
	stampStyle    = lipgloss.NewStyle().Foreground(mutedColor)
)

// Output is where all log lines go. Overridable for tests.
var Output io.Writer = os.Stdout

func stamp() string {
	return stampStyle.Render(fmt.Sprintf("[%s]", time.Now().Format(time.RFC3339)))
}

func printLine(prefix string, style lipgloss.Style, message string) {
	fmt.Fprintf(Output, "%s %s %s\n", stamp(), prefix, style.Render(message))
}

// Step logs a numbered top-level phase of the run.
func Step(step int, message string) {
	fmt.Fprintf(Output, "%s %s %s\n", stamp(), stepStyle.Render(fmt.Sprintf("[%d]", step)), messageStyle.Render(message))
}

// Progress logs an in-flight action, typically before a slow external command.
func Progress(message string) {
	printLine("🔄", progressStyle, message)
}

// Success logs a completed phase.
func Success(message string) {
	printLine("✅", successStyle, message)
}

// Error logs a failure. It does not exit.
func Error(message string) {
	printLine("❌", errorStyle, message)
}

// Info logs supplementary detail.
func Info(message string) {
	printLine("ℹ️ ", infoStyle, message)
}

// Warning logs a recoverable problem.
func Warning(message string) {
	printLine("⚠️ ", warningStyle, message)
}

// Infof is Info with formatting.
func Infof(format string, args ...any) {
	Info(fmt.Sprintf(format, args...))
}

// Errorf is Error with formatting.
func Errorf(format string, args ...any) {
	Error(fmt.Sprintf(format, args...))
}
