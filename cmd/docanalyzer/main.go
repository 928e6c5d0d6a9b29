package main

import (
	"os"

	"github.com/fatih/color"
)

func main() {
	root, a := newRootCmd()
	err := root.Execute()
	a.close()
	if err != nil {
		_, _ = color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
