package events

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LadderMine/SoroFund/pkg/model"
)

func TestExecuteHook_WriteEnvToFile(t *testing.T) {
	tempFile := filepath.Join(t.TempDir(), "env_output.txt")

	hook := &ExecHook{
		Command: []string{"sh", "-c", "printenv | grep '^TEST_VAR=' > " + tempFile},
		Timeout: 5,
	}

	err := hook.Invoke(testCtx, []string{"TEST_VAR=test-value"})
	require.NoError(t, err)

	content, err := os.ReadFile(tempFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "TEST_VAR=test-value")
}

func TestExecuteHook_CornerCases(t *testing.T) {
	tests := []struct {
		name        string
		hook        *ExecHook
		expectError bool
		errorMsg    string
	}{
		{
			name:        "nil hook",
			hook:        nil,
			expectError: false,
		},
		{
			name:        "empty command",
			hook:        &ExecHook{Command: []string{}},
			expectError: true,
			errorMsg:    "hook command is empty",
		},
		{
			name:        "invalid command",
			hook:        &ExecHook{Command: []string{"nonexistentcommand12345"}},
			expectError: true,
			errorMsg:    "hook execution failed",
		},
		{
			name:        "timeout",
			hook:        &ExecHook{Command: []string{"sleep 5"}, Timeout: 1},
			expectError: true,
			errorMsg:    "hook execution failed",
		},
		{
			name:        "successful command",
			hook:        &ExecHook{Command: []string{"echo", "test"}},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.hook.Invoke(testCtx, []string{"TEST=value"})

			if tt.expectError {
				require.Error(t, err)
				if tt.errorMsg != "" {
					assert.Contains(t, err.Error(), tt.errorMsg)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHookSink_Publish(t *testing.T) {
	dir := t.TempDir()
	released := filepath.Join(dir, "released.txt")
	all := filepath.Join(dir, "all.txt")

	sink := NewHookSink([]*ExecHook{
		{
			Command: []string{"echo \"$SOROFUND_CAMPAIGN_ID $SOROFUND_ENTITY $SOROFUND_AMOUNT\" >> " + released},
			Events:  []string{string(model.EventFundsReleased)},
		},
		{
			Command: []string{"echo \"$SOROFUND_EVENT_TYPE $SOROFUND_OLD>$SOROFUND_NEW\" >> " + all},
		},
	})

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, sink.Publish(testCtx, &model.Event{
		Type:       model.EventCampaignStateChanged,
		CampaignID: "c1",
		Entity:     "campaign/c1",
		Old:        "funding",
		New:        "active",
		Timestamp:  now,
	}))
	require.NoError(t, sink.Publish(testCtx, &model.Event{
		Type:       model.EventFundsReleased,
		CampaignID: "c1",
		Entity:     "milestone/c1/0",
		New:        "creator",
		Amount:     600,
		Timestamp:  now,
	}))

	content, err := os.ReadFile(released)
	require.NoError(t, err)
	assert.Equal(t, "c1 milestone/c1/0 600\n", string(content))

	content, err = os.ReadFile(all)
	require.NoError(t, err)
	assert.Equal(t, "CampaignStateChanged funding>active\nFundsReleased >creator\n", string(content))
}

func TestHookSink_Failure(t *testing.T) {
	sink := NewHookSink([]*ExecHook{{Command: []string{"exit 3"}}})

	err := sink.Publish(testCtx, &model.Event{Type: model.EventVoteCast})
	assert.Error(t, err)
}

func TestExecHook_Accepts(t *testing.T) {
	hook := &ExecHook{Events: []string{"FundsRefunded", "FundsReleased"}}
	assert.True(t, hook.Accepts(model.EventFundsRefunded))
	assert.False(t, hook.Accepts(model.EventVoteCast))

	hook = &ExecHook{}
	assert.True(t, hook.Accepts(model.EventVoteCast))
}
