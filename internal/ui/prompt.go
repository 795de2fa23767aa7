package ui

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ReadPassword prompts on stderr and reads a line without echo when stdin
// is a terminal. Piped input is read as a plain line.
func ReadPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, PromptStyle.Render(prompt))
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(b), nil
	}
	return readLine(os.Stdin)
}

// Confirm asks a yes/no question; anything but y or yes is no.
func Confirm(prompt string) bool {
	fmt.Fprint(os.Stderr, PromptStyle.Render(prompt+" [y/N]: "))
	answer, err := readLine(os.Stdin)
	if err != nil {
		return false
	}
	return parseYes(answer)
}

func parseYes(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes":
		return true
	}
	return false
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
