package process

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// DefaultHookTimeout bounds a blocking hook when the hook sets none.
const DefaultHookTimeout = 30 * time.Second

// Hooks run around capture process lifecycle transitions: camera device
// checks before start, SD card sync after stop, and similar payload chores.
type Hooks struct {
	PreStart  []Hook `json:"pre_start" mapstructure:"pre_start"`
	PostStart []Hook `json:"post_start" mapstructure:"post_start"`
	PreStop   []Hook `json:"pre_stop" mapstructure:"pre_stop"`
	PostStop  []Hook `json:"post_stop" mapstructure:"post_stop"`
}

// Hook is a single lifecycle command.
type Hook struct {
	Name        string        `json:"name" mapstructure:"name"`
	Command     string        `json:"command" mapstructure:"command"`
	WorkDir     string        `json:"work_dir" mapstructure:"work_dir"`
	Env         []string      `json:"env" mapstructure:"env"`
	Timeout     time.Duration `json:"timeout" mapstructure:"timeout"`
	FailureMode FailureMode   `json:"failure_mode" mapstructure:"failure_mode"`
	RunMode     RunMode       `json:"run_mode" mapstructure:"run_mode"`
}

// FailureMode defines how a hook failure affects the surrounding operation.
type FailureMode string

const (
	FailureModeIgnore FailureMode = "ignore" // log and continue
	FailureModeFail   FailureMode = "fail"   // abort the operation
	FailureModeRetry  FailureMode = "retry"  // retry once, then abort
)

// RunMode defines whether the operation waits for the hook.
type RunMode string

const (
	RunModeBlocking RunMode = "blocking"
	RunModeAsync    RunMode = "async"
)

// Validate checks hook configuration across all phases.
func (h *Hooks) Validate() error {
	seen := make(map[string]string)
	for phase, hooks := range map[string][]Hook{
		"pre_start":  h.PreStart,
		"post_start": h.PostStart,
		"pre_stop":   h.PreStop,
		"post_stop":  h.PostStop,
	} {
		for i, hook := range hooks {
			if err := hook.Validate(); err != nil {
				return fmt.Errorf("%s hook %d: %w", phase, i, err)
			}
			if prev, dup := seen[hook.Name]; dup {
				return fmt.Errorf("duplicate hook name %q in %s and %s", hook.Name, prev, phase)
			}
			seen[hook.Name] = phase
		}
	}
	return nil
}

// Validate checks a single hook.
func (h *Hook) Validate() error {
	if strings.TrimSpace(h.Name) == "" {
		return fmt.Errorf("hook name is required")
	}
	if strings.TrimSpace(h.Command) == "" {
		return fmt.Errorf("hook %q requires a command", h.Name)
	}
	switch h.FailureMode {
	case "", FailureModeIgnore, FailureModeFail, FailureModeRetry:
	default:
		return fmt.Errorf("hook %q: invalid failure_mode %q", h.Name, h.FailureMode)
	}
	switch h.RunMode {
	case "", RunModeBlocking, RunModeAsync:
	default:
		return fmt.Errorf("hook %q: invalid run_mode %q", h.Name, h.RunMode)
	}
	return nil
}

// RunHooks executes the hooks of one phase in order. Blocking hooks run to
// completion under their timeout; async hooks are fired and logged when they
// finish. baseEnv is the composed capture environment; hook Env entries are
// appended on top.
func RunHooks(ctx context.Context, log *slog.Logger, hooks []Hook, baseEnv []string) error {
	for _, h := range hooks {
		hook := h
		if hook.RunMode == RunModeAsync {
			go func() {
				if err := runHook(ctx, hook, baseEnv); err != nil {
					log.Warn("async hook failed", "hook", hook.Name, "err", err)
				} else {
					log.Debug("async hook done", "hook", hook.Name)
				}
			}()
			continue
		}
		err := runHook(ctx, hook, baseEnv)
		if err != nil && hook.FailureMode == FailureModeRetry {
			log.Warn("hook failed, retrying", "hook", hook.Name, "err", err)
			err = runHook(ctx, hook, baseEnv)
		}
		if err != nil {
			if hook.FailureMode == FailureModeIgnore || hook.FailureMode == "" {
				log.Warn("hook failed, continuing", "hook", hook.Name, "err", err)
				continue
			}
			return fmt.Errorf("hook %q: %w", hook.Name, err)
		}
		log.Debug("hook done", "hook", hook.Name)
	}
	return nil
}

func runHook(ctx context.Context, h Hook, baseEnv []string) error {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = DefaultHookTimeout
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	base := BuildShellCommand(h.Command)
	// Rebuild under the hook context so the timeout can kill the command.
	cmd := commandWithContext(hctx, base)
	if h.WorkDir != "" {
		cmd.Dir = h.WorkDir
	}
	if len(baseEnv) > 0 || len(h.Env) > 0 {
		cmd.Env = append(append([]string{}, baseEnv...), h.Env...)
	}
	return cmd.Run()
}

// commandWithContext rebinds a built command to ctx so the timeout can kill
// it.
func commandWithContext(ctx context.Context, c *exec.Cmd) *exec.Cmd {
	// #nosec G204
	return exec.CommandContext(ctx, c.Path, c.Args[1:]...)
}
