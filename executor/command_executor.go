package executor

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandTransformer builds a Transformer that pipes the message's raw
// content to a shell command's stdin and takes the command's stdout as the
// transformed output. This is the escape hatch for channels that need an
// external tool rather than an in-process script.
func CommandTransformer(shell, command string) Transformer {
	if shell == "" {
		shell = "/bin/sh"
	}
	return func(ctx context.Context, v *View) (string, error) {
		cmd := exec.CommandContext(ctx, shell, "-c", command)
		cmd.Stdin = strings.NewReader(v.Raw)
		output, err := cmd.Output()
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				return "", fmt.Errorf("command transformer exited %d: %s", exitErr.ExitCode(), string(exitErr.Stderr))
			}
			return "", fmt.Errorf("command transformer: %w", err)
		}
		return string(output), nil
	}
}
