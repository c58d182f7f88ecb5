package events

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/LadderMine/SoroFund/pkg/model"
)

const defaultHookTimeout = 60 * time.Second

// ExecHook represents a single hook configuration
type ExecHook struct {
	Command []string `toml:"command"`
	Timeout int      `toml:"timeout"` // timeout in seconds, 0 means use default (60s)
	// Events limits the hook to the given event types, empty means all events
	Events []string `toml:"events"`
}

// Invoke runs a hook with the provided environment variables
func (h *ExecHook) Invoke(ctx context.Context, env []string) error {
	if h == nil {
		return nil
	}
	if len(h.Command) == 0 {
		return errors.New("hook command is empty")
	}

	timeout := defaultHookTimeout
	if h.Timeout > 0 {
		timeout = time.Duration(h.Timeout) * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	if len(h.Command) == 1 {
		// Single command, use shell to parse
		cmd = exec.CommandContext(ctx, "/bin/sh", "-c", h.Command[0])
	} else {
		cmd = exec.CommandContext(ctx, h.Command[0], h.Command[1:]...)
	}

	cmd.Env = append(os.Environ(), env...)

	data, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Errorf("hook execution failed: %v, output: %s", err, string(data))
	}

	return nil
}

// Accepts reports whether the hook is subscribed to the event type.
func (h *ExecHook) Accepts(typ model.EventType) bool {
	if len(h.Events) == 0 {
		return true
	}
	for _, name := range h.Events {
		if name == string(typ) {
			return true
		}
	}
	return false
}

// HookSink runs shell commands for every event, passing event fields as environment variables.
type HookSink struct {
	hooks []*ExecHook
}

func NewHookSink(hooks []*ExecHook) *HookSink {
	return &HookSink{hooks: hooks}
}

func (s *HookSink) Publish(ctx context.Context, event *model.Event) error {
	env := hookEnv(event)

	for idx, hook := range s.hooks {
		if !hook.Accepts(event.Type) {
			continue
		}

		if err := hook.Invoke(ctx, env); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"hook":  idx,
				"event": event.ID,
			}).Error("hook failed")
			return errors.Wrapf(err, "hook %d", idx)
		}
	}

	return nil
}

func hookEnv(event *model.Event) []string {
	return []string{
		fmt.Sprintf("SOROFUND_EVENT_ID=%s", event.ID),
		fmt.Sprintf("SOROFUND_EVENT_SEQ=%d", event.Seq),
		fmt.Sprintf("SOROFUND_EVENT_TYPE=%s", event.Type),
		fmt.Sprintf("SOROFUND_CAMPAIGN_ID=%s", event.CampaignID),
		fmt.Sprintf("SOROFUND_ENTITY=%s", event.Entity),
		fmt.Sprintf("SOROFUND_OLD=%s", event.Old),
		fmt.Sprintf("SOROFUND_NEW=%s", event.New),
		"SOROFUND_AMOUNT=" + strconv.FormatInt(event.Amount, 10),
		fmt.Sprintf("SOROFUND_TIMESTAMP=%s", event.Timestamp.Format(time.RFC3339)),
	}
}
