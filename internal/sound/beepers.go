package sound

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// Bell writes the terminal bell character.
type Bell struct {
	mu sync.Mutex
	W  io.Writer
}

func (b *Bell) Beep(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.W.Write([]byte{'\a'})
	return err
}

// Command runs an external player such as "paplay /usr/share/sounds/alert.wav".
type Command struct {
	Name string
	Args []string
}

// ParseCommand splits a whitespace-separated command line.
func ParseCommand(line string) (*Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty sound command")
	}
	return &Command{Name: fields[0], Args: fields[1:]}, nil
}

func (c *Command) Beep(ctx context.Context) error {
	out, err := exec.CommandContext(ctx, c.Name, c.Args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("run %s: %w: %s", c.Name, err, strings.TrimSpace(string(out)))
	}
	return nil
}
