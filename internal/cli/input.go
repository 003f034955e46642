package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// maxInputBytes bounds a single answer read from a file or stdin.
const maxInputBytes = 16 << 20

// readInput returns the contents of args[0], or stdin when no file is
// given. An interactive terminal on stdin is refused rather than waited on.
func readInput(cmd *cobra.Command, args []string) (text, source string, err error) {
	if len(args) > 0 && args[0] != "-" {
		data, err := readFile(args[0])
		if err != nil {
			return "", "", err
		}
		return string(data), args[0], nil
	}

	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "", "", fmt.Errorf("no input: pass a file or pipe the model output on stdin")
	}
	data, err := io.ReadAll(io.LimitReader(in, maxInputBytes+1))
	if err != nil {
		return "", "", fmt.Errorf("failed to read stdin: %w", err)
	}
	if len(data) > maxInputBytes {
		return "", "", fmt.Errorf("stdin exceeds %d bytes", maxInputBytes)
	}
	return string(data), "stdin", nil
}

func readFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > maxInputBytes {
		return nil, fmt.Errorf("%s exceeds %d bytes", path, maxInputBytes)
	}
	return os.ReadFile(path)
}
