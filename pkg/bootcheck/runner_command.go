package bootcheck

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// commandExec runs an external command and returns its combined output.
// Tests replace it to observe or fake the commands partfix issues.
var commandExec = func(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	log := logger().With(zap.String("cmd", name), zap.Strings("args", args))
	log.Debug("exec")

	out, err := commandExec(ctx, name, args...)
	text := strings.TrimSpace(string(out))
	if len(text) > 0 {
		log.Debug("output", zap.String("output", text))
	}
	if err != nil {
		if text != "" {
			return text, fmt.Errorf("%s failed: %w: %s", name, err, text)
		}
		return text, fmt.Errorf("%s failed: %w", name, err)
	}
	return text, nil
}
