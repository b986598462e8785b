// Package ui is the terminal front end of droidpanel: the dashboard, its
// prompts and the plain log output of the headless commands.
package ui

import (
	"os"

	"github.com/mattn/go-isatty"
)

// Interactive reports whether stdin and stdout are terminals, the dashboard
// and the prompts need both.
func Interactive() bool {
	return isTerminal(os.Stdin) && isTerminal(os.Stdout)
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
