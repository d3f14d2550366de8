// Package shim supplies the production collaborators the command layer
// drives: colored/progress terminal output, a TTY-backed UserPrompter,
// an external-coding-agent-CLI AgentRunner, and a device-auth login
// flow wired against internal/registry's auth endpoints. It is grounded
// on kraklabs-cie's cmd/cie/progress.go and internal/ui/color.go for the
// terminal conventions, and on internal/registry/auth.go's documented
// "internal/shim defines the interface the command layer drives"
// contract for login.
package shim

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

// Color-coded print helpers, matching the pack's red/yellow/green/cyan
// convention for error/warning/success/info output.
var (
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	green  = color.New(color.FgGreen)
	cyan   = color.New(color.FgCyan)
	bold   = color.New(color.Bold)
	dim    = color.New(color.Faint)
)

// InitColors wires the --no-color flag into fatih/color's global
// switch. color already honors NO_COLOR; this adds explicit CLI control.
func InitColors(noColor bool) {
	color.NoColor = noColor
}

// Success prints a green success line.
func Success(msg string) { _, _ = green.Println("✓ " + msg) }

// Successf is Success with formatting.
func Successf(format string, args ...any) { _, _ = green.Printf("✓ "+format+"\n", args...) }

// Warning prints a yellow warning line.
func Warning(msg string) { _, _ = yellow.Println("⚠ " + msg) }

// Warningf is Warning with formatting.
func Warningf(format string, args ...any) { _, _ = yellow.Printf("⚠ "+format+"\n", args...) }

// Error prints a red error line.
func Error(msg string) { _, _ = red.Println("✗ " + msg) }

// Errorf is Error with formatting.
func Errorf(format string, args ...any) { _, _ = red.Printf("✗ "+format+"\n", args...) }

// Info prints a cyan informational line.
func Info(msg string) { _, _ = cyan.Println("ℹ " + msg) }

// Infof is Info with formatting.
func Infof(format string, args ...any) { _, _ = cyan.Printf("ℹ "+format+"\n", args...) }

// Header prints a bold title followed by an underline of the same width.
func Header(text string) {
	_, _ = bold.Println(text)
	fmt.Println(strings.Repeat("=", len(text)))
}

// Label returns text bolded for inline use in a larger line.
func Label(text string) string { return bold.Sprint(text) }

// DimText returns text in the faint style, for secondary details like
// file paths.
func DimText(text string) string { return dim.Sprint(text) }
