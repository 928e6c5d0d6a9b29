package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/joseph-ayodele/doc-analyzer/constants"
	"github.com/joseph-ayodele/doc-analyzer/internal/llm"
)

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	keyColor    = color.New(color.FgYellow)
	okColor     = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	failColor   = color.New(color.FgRed)
)

func printInfo(format string, args ...any) {
	_, _ = fmt.Fprintln(os.Stderr, color.BlueString(format, args...))
}

func printWarn(format string, args ...any) {
	_, _ = warnColor.Fprintf(os.Stderr, "Warning: "+format+"\n", args...)
}

func printResult(res llm.AnalysisResult) {
	_, _ = headerColor.Println("Narrative")
	fmt.Println(res.Narrative)
	if len(res.Metadata) == 0 {
		return
	}
	fmt.Println()
	_, _ = headerColor.Println("Metadata")
	for _, slot := range constants.Slots() {
		if v, ok := res.Value(slot); ok {
			_, _ = keyColor.Printf("  %s: ", slot)
			fmt.Println(v)
		}
	}
}

func printSummary(total, failed int, out string) {
	_, _ = fmt.Fprintln(os.Stderr)
	_, _ = headerColor.Fprintln(os.Stderr, "Batch complete")
	_, _ = fmt.Fprintf(os.Stderr, "- Jobs: %d\n", total)
	_, _ = okColor.Fprintf(os.Stderr, "- Succeeded: %d\n", total-failed)
	if failed > 0 {
		_, _ = failColor.Fprintf(os.Stderr, "- Failed: %d\n", failed)
	} else {
		_, _ = fmt.Fprintf(os.Stderr, "- Failed: 0\n")
	}
	if out != "" {
		_, _ = fmt.Fprintf(os.Stderr, "- Output: %s\n", out)
	}
}
