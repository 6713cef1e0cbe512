package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		s := newStyles(os.Stderr)
		os.Stderr.WriteString(s.err.Render("Error: "+err.Error()) + "\n")
		os.Exit(1)
	}
}
