package shell

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"saddlebag/internal/logging"

	"golang.org/x/term"
)

var logger = logging.For("shell")

type lineReader interface {
	ReadLine() (string, error)
}

// scanner reads lines from a non-interactive source such as a pipe.
type scanner struct {
	*bufio.Scanner
}

func (s scanner) ReadLine() (string, error) {
	if s.Scan() {
		return s.Text(), nil
	}
	if err := s.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// Shell runs registered commands against lines read from a terminal or a
// plain reader.
type Shell struct {
	in       lineReader
	out      io.Writer
	terminal *term.Terminal
	commands *CommandRegistry
}

// NewTerminal wraps rw in an x/term line editor.
func NewTerminal(rw io.ReadWriter, prompt string, commands *CommandRegistry) *Shell {
	t := term.NewTerminal(rw, prompt)
	return &Shell{in: t, out: t, terminal: t, commands: commands}
}

// NewScripted reads one command per line from r and writes to w.
func NewScripted(r io.Reader, w io.Writer, commands *CommandRegistry) *Shell {
	return &Shell{in: scanner{bufio.NewScanner(r)}, out: w, commands: commands}
}

// SetPrompt changes the prompt of interactive shells.
func (s *Shell) SetPrompt(prompt string) {
	if s.terminal != nil {
		s.terminal.SetPrompt(prompt)
	}
}

// Run reads and dispatches lines until EOF or a command asks to exit.
// Lines not starting with "/" are rejected.
func (s *Shell) Run() error {
	s.commands.Freeze()
	for {
		line, err := s.in.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading command: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			_, _ = fmt.Fprintln(s.out, "Commands start with / (try /help)")
			continue
		}
		logger.Debug("dispatch", "line", line)
		if s.commands.Dispatch(line, s, s.out) {
			return nil
		}
	}
}

// RunStdio runs an interactive shell on stdin/stdout when stdin is a
// terminal and a scripted one otherwise.
func RunStdio(prompt string, commands *CommandRegistry) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return NewScripted(os.Stdin, os.Stdout, commands).Run()
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("raw terminal: %w", err)
	}
	defer func() { _ = term.Restore(fd, state) }()

	s := NewTerminal(stdio{os.Stdin, os.Stdout}, prompt, commands)
	_, _ = fmt.Fprintln(s.out, "Type /help for commands.")
	return s.Run()
}

// stdio combines separate read and write halves into an io.ReadWriter.
type stdio struct {
	io.Reader
	io.Writer
}
