package main

import (
	"fmt"
	"os"
)

// All status output goes to stderr so that JSON printed by commands like
// "pets show" and "cart" stays pipeable.

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func stderrLine(color, prefix, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(color, prefix+msg))
}

func printSuccess(format string, args ...any) { stderrLine(colorGreen, "✓ ", format, args...) }

func printError(format string, args ...any) { stderrLine(colorRed, "✗ ", format, args...) }

func printWarning(format string, args ...any) { stderrLine(colorYellow, "⚠ ", format, args...) }

func printStep(format string, args ...any) { stderrLine(colorCyan, "→ ", format, args...) }

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "  %s %s\n", colorize(colorBold, label+":"), val)
}
