package integration

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Refresher notifies the desktop environment that the applications
// directory changed.
type Refresher interface {
	Refresh(ctx context.Context, applicationsDir string) error
}

// CommandRefresher runs an external command with the applications directory
// as its last argument. An empty Command disables the refresh.
type CommandRefresher struct {
	Command string
	Args    []string
}

// NewCommandRefresher returns a refresher for command, run quietly.
func NewCommandRefresher(command string) *CommandRefresher {
	return &CommandRefresher{Command: command, Args: []string{"-q"}}
}

// Refresh runs the command.
func (c *CommandRefresher) Refresh(ctx context.Context, applicationsDir string) error {
	if c == nil || c.Command == "" {
		return nil
	}

	args := append(append([]string(nil), c.Args...), applicationsDir)
	cmd := exec.CommandContext(ctx, c.Command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", c.Command, err, msg)
		}
		return fmt.Errorf("%s: %w", c.Command, err)
	}
	return nil
}
