package utils

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// Prompt prints label to out and reads lines from in until valid accepts one.
// A nil valid accepts any non-empty line.
func Prompt(ctx context.Context, in io.Reader, out io.Writer, label string, valid func(string) bool) (string, error) {
	lines := make(chan string)
	errCh := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(in)
		// SDP blobs are long
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errCh <- err
			return
		}
		errCh <- io.EOF
	}()

	for {
		fmt.Fprint(out, label)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case err := <-errCh:
			return "", fmt.Errorf("failed to read input: %w", err)
		case line := <-lines:
			if line != "" && (valid == nil || valid(line)) {
				return line, nil
			}
			fmt.Fprintf(out, "Invalid input. Please enter again.\n")
		}
	}
}

// AskForCode prompts for a signalling session code
func AskForCode(ctx context.Context, in io.Reader, out io.Writer) (string, error) {
	code, err := Prompt(ctx, in, out, "Enter code from sender: ", IsValidCode)
	if err != nil {
		return "", err
	}
	return NormalizeCode(code), nil
}
