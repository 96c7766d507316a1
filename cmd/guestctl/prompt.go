package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/cochaviz/guestctl/internal/build"
)

// promptConfirmer asks on the terminal before an existing build directory is replaced.
type promptConfirmer struct {
	in          io.Reader
	out         io.Writer
	interactive bool
	assumeYes   bool
}

var _ build.Confirmer = (*promptConfirmer)(nil)

func (p *promptConfirmer) Confirm(prompt string) (bool, error) {
	if p.assumeYes {
		return true, nil
	}
	if !p.interactive {
		fmt.Fprintf(p.out, "%s (no terminal to ask on, pass --yes to confirm)\n", prompt)
		return false, nil
	}

	fmt.Fprintf(p.out, "%s [y/N] ", prompt)
	line, err := bufio.NewReader(p.in).ReadString('\n')
	if err != nil && line == "" {
		if err == io.EOF {
			return false, nil
		}
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func (a *app) confirmer(assumeYes bool) *promptConfirmer {
	interactive := false
	if file, ok := a.stdin.(*os.File); ok {
		interactive = term.IsTerminal(int(file.Fd()))
	}
	return &promptConfirmer{
		in:          a.stdin,
		out:         a.stderr,
		interactive: interactive,
		assumeYes:   assumeYes,
	}
}
