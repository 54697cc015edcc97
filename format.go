package main

import (
	"fmt"
	"io"
)

// statusf prints a status message unless quiet mode is set.
func statusf(w io.Writer, quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(w, format, args...)
	}
}

// describeSource names where the effective configuration came from.
func describeSource(path string) string {
	if path == "" {
		return "defaults and environment"
	}

	return path
}
