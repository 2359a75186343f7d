// Package prompt provides utilities for interactive user prompts.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
	"golang.org/x/term"
)

var (
	// ErrEmptyInput is returned when the user provides empty input and no default is set.
	ErrEmptyInput = errors.New("empty input")

	// ErrInvalidInput is returned when the user provides invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrPassphraseMismatch is returned when passphrase confirmation doesn't match.
	ErrPassphraseMismatch = errors.New("passphrases do not match")
)

// Prompter defines the interface for interactive prompts.
type Prompter interface {
	// Confirm prompts for a yes/no confirmation.
	Confirm(prompt string, defaultValue bool) (bool, error)

	// Passphrase prompts for a secret without echoing it. When confirm is
	// true the passphrase is read twice and both entries must match.
	Passphrase(prompt string, confirm bool) ([]byte, error)
}

// StdPrompter is the standard implementation of Prompter using stdin/stdout.
type StdPrompter struct {
	reader *bufio.Reader
	writer io.Writer

	// terminal reports whether stdin is a terminal. Secrets are read
	// without echo only on a real terminal; otherwise they come from the
	// injected reader, line by line.
	terminal bool
}

// NewStdPrompter creates a new StdPrompter.
func NewStdPrompter() *StdPrompter {
	return &StdPrompter{
		reader:   bufio.NewReader(os.Stdin),
		writer:   os.Stdout,
		terminal: term.IsTerminal(int(syscall.Stdin)),
	}
}

// NewPrompter creates a new Prompter with custom reader and writer (for testing).
func NewPrompter(reader io.Reader, writer io.Writer) *StdPrompter {
	return &StdPrompter{
		reader: bufio.NewReader(reader),
		writer: writer,
	}
}

// Confirm prompts for a yes/no confirmation.
func (p *StdPrompter) Confirm(prompt string, defaultValue bool) (bool, error) {
	defaultStr := "y/N"
	if defaultValue {
		defaultStr = "Y/n"
	}

	if _, err := fmt.Fprintf(p.writer, "%s [%s]: ", prompt, defaultStr); err != nil {
		return false, errors.Wrap(err, "failed to write prompt")
	}

	input, err := p.reader.ReadString('\n')
	if err != nil {
		return false, errors.Wrap(err, "failed to read input")
	}

	input = strings.TrimSpace(strings.ToLower(input))

	if input == "" {
		return defaultValue, nil
	}

	switch input {
	case "y", "yes":
		return true, nil
	case "n", "no":
		return false, nil
	default:
		return false, errors.Wrapf(ErrInvalidInput, "expected y/n, got %q", input)
	}
}

// Passphrase prompts for a secret on the terminal without echoing.
// The secret never appears in argv or the process environment.
func (p *StdPrompter) Passphrase(prompt string, confirm bool) ([]byte, error) {
	first, err := p.readSecret(prompt)
	if err != nil {
		return nil, err
	}

	if len(first) == 0 {
		return nil, ErrEmptyInput
	}

	if !confirm {
		return first, nil
	}

	second, err := p.readSecret("Confirm " + strings.ToLower(prompt))
	if err != nil {
		return nil, err
	}

	if string(first) != string(second) {
		return nil, ErrPassphraseMismatch
	}

	return first, nil
}

func (p *StdPrompter) readSecret(prompt string) ([]byte, error) {
	if _, err := fmt.Fprintf(p.writer, "%s: ", prompt); err != nil {
		return nil, errors.Wrap(err, "failed to write prompt")
	}

	if !p.terminal {
		// Piped stdin or an injected reader: no echo to suppress.
		line, err := p.reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, errors.Wrap(err, "failed to read passphrase")
		}

		return []byte(strings.TrimRight(line, "\r\n")), nil
	}

	secret, err := term.ReadPassword(int(syscall.Stdin))

	// ReadPassword swallows the trailing newline the user typed.
	_, _ = fmt.Fprintln(p.writer)

	if err != nil {
		return nil, errors.Wrap(err, "failed to read passphrase")
	}

	return secret, nil
}
