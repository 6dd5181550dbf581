package guard

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surehand-ai/surehand/internal/audit"
	"github.com/surehand-ai/surehand/internal/types"
)

type stubSession struct {
	network bool
	apps    []string // nil allows any app
}

func (s *stubSession) NetworkAllowed() bool { return s.network }

func (s *stubSession) AppAllowed(name string) bool {
	if s.apps == nil {
		return true
	}
	for _, app := range s.apps {
		if strings.EqualFold(app, name) {
			return true
		}
	}
	return false
}

func newTestGuard(t *testing.T, opts ...Option) *PlanGuard {
	t.Helper()
	return New(DefaultConfig(), &stubSession{network: true}, opts...)
}

func testPlan(steps ...types.ActionStep) *types.ExecutionPlan {
	return &types.ExecutionPlan{
		ID:    types.NewID(),
		Task:  "test task",
		Steps: steps,
	}
}

func step(tool string, args map[string]any) types.ActionStep {
	return types.ActionStep{
		ID:   types.NewID(),
		Tool: tool,
		Args: args,
	}
}

func TestPlanGuardCleanPlanPasses(t *testing.T) {
	g := newTestGuard(t)

	plan := testPlan(
		step("open_app", map[string]any{"app_name": "notepad.exe"}),
		step("type_text", map[string]any{"text": "hello world"}),
		step("press_key", map[string]any{"keys": []any{"ctrl", "s"}}),
		step("screenshot", nil),
	)

	err := g.Validate(context.Background(), plan)
	assert.NoError(t, err)
}

func TestPlanGuardBlockedTools(t *testing.T) {
	g := newTestGuard(t)

	for _, tool := range []string{"run_shell", "delete_file", "registry_edit", "format_disk"} {
		t.Run(tool, func(t *testing.T) {
			plan := testPlan(step(tool, map[string]any{"arg": "anything"}))

			err := g.Validate(context.Background(), plan)
			require.Error(t, err)

			ve, ok := AsValidationError(err)
			require.True(t, ok)
			require.Len(t, ve.Violations, 1)
			assert.Contains(t, ve.Violations[0], "blocked for safety")
			assert.Contains(t, ve.Violations[0], tool)
		})
	}
}

func TestPlanGuardUnknownToolIsDenied(t *testing.T) {
	g := newTestGuard(t)

	plan := testPlan(step("transmogrify", map[string]any{"target": "window"}))

	err := g.Validate(context.Background(), plan)
	require.Error(t, err)

	ve, ok := AsValidationError(err)
	require.True(t, ok)
	require.Len(t, ve.Violations, 1)
	assert.Contains(t, ve.Violations[0], "not recognized")
	assert.Contains(t, ve.Violations[0], "allowed tools")
	assert.Contains(t, ve.Violations[0], "click")
}

func TestPlanGuardStepCountLimit(t *testing.T) {
	g := newTestGuard(t)

	steps := make([]types.ActionStep, 21)
	for i := range steps {
		steps[i] = step("screenshot", nil)
	}
	plan := testPlan(steps...)

	err := g.Validate(context.Background(), plan)
	require.Error(t, err)

	ve, ok := AsValidationError(err)
	require.True(t, ok)
	require.Len(t, ve.Violations, 1)
	assert.Contains(t, ve.Violations[0], "21")
	assert.Contains(t, ve.Violations[0], "20")
}

func TestPlanGuardDangerousKeypresses(t *testing.T) {
	g := newTestGuard(t)

	tests := []struct {
		name    string
		keys    []any
		blocked bool
	}{
		{"ctrl alt del", []any{"ctrl", "alt", "del"}, true},
		{"order does not matter", []any{"del", "alt", "ctrl"}, true},
		{"synonyms fold", []any{"control", "alt", "delete"}, true},
		{"alt f4", []any{"alt", "f4"}, true},
		{"win l", []any{"win", "l"}, true},
		{"meta maps to win", []any{"meta", "r"}, true},
		{"task manager", []any{"ctrl", "shift", "escape"}, true},
		{"save is fine", []any{"ctrl", "s"}, false},
		{"copy is fine", []any{"ctrl", "c"}, false},
		{"plain enter", []any{"enter"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := testPlan(step("press_key", map[string]any{"keys": tt.keys}))
			err := g.Validate(context.Background(), plan)
			if tt.blocked {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "dangerous keypress")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPlanGuardDestructivePatterns(t *testing.T) {
	g := newTestGuard(t)

	tests := []struct {
		name    string
		tool    string
		args    map[string]any
		blocked bool
	}{
		{"rm recursive force", "type_text", map[string]any{"text": "rm -rf /"}, true},
		{"del quiet", "type_text", map[string]any{"text": `del /q C:\Users\*`}, true},
		{"format drive", "type_text", map[string]any{"text": "format c:"}, true},
		{"registry delete", "type_text", map[string]any{"text": "reg delete HKLM\\Software"}, true},
		{"quote splitting", "type_text", map[string]any{"text": `rm "-rf" /home`}, true},
		{"zero width evasion", "type_text", map[string]any{"text": "rm \u200b-rf /tmp"}, true},
		{"wildcard delete", "type_text", map[string]any{"text": "del *.docx"}, true},
		{"nested argument", "wait_for", map[string]any{"options": map[string]any{"note": "mkfs.ext4 /dev/sda"}}, true},
		{"prose mentioning delete", "type_text", map[string]any{"text": "delete the second paragraph"}, false},
		{"ordinary text", "type_text", map[string]any{"text": "quarterly report draft"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := testPlan(step(tt.tool, tt.args))
			err := g.Validate(context.Background(), plan)
			if tt.blocked {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "destructive pattern")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPlanGuardTrustedApps(t *testing.T) {
	g := newTestGuard(t)

	tests := []struct {
		name    string
		app     string
		allowed bool
	}{
		{"bare name", "notepad", true},
		{"with extension", "notepad.exe", true},
		{"full path", `C:\Windows\System32\notepad.exe`, true},
		{"case folded", "NOTEPAD.EXE", true},
		{"alias", "calculator", true},
		{"shell is untrusted", "powershell", false},
		{"cmd is untrusted", "cmd.exe", false},
		{"path to untrusted binary", `C:\tools\nc.exe`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := testPlan(step("open_app", map[string]any{"app_name": tt.app}))
			err := g.Validate(context.Background(), plan)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "not in trusted list")
			}
		})
	}
}

func TestPlanGuardSessionAppScoping(t *testing.T) {
	// Trusted apps still need to be covered by the session grant.
	g := New(DefaultConfig(), &stubSession{network: true, apps: []string{"notepad.exe"}})

	t.Run("granted app passes", func(t *testing.T) {
		plan := testPlan(step("open_app", map[string]any{"app_name": "notepad.exe"}))
		assert.NoError(t, g.Validate(context.Background(), plan))
	})

	t.Run("path form of granted app passes", func(t *testing.T) {
		plan := testPlan(step("open_app", map[string]any{"app_name": `C:\Windows\System32\NOTEPAD.EXE`}))
		assert.NoError(t, g.Validate(context.Background(), plan))
	})

	t.Run("trusted but ungranted app is rejected", func(t *testing.T) {
		plan := testPlan(step("open_app", map[string]any{"app_name": "calc"}))
		err := g.Validate(context.Background(), plan)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "session permit")
	})

	t.Run("nil session denies every app", func(t *testing.T) {
		g := New(DefaultConfig(), nil)
		plan := testPlan(step("open_app", map[string]any{"app_name": "notepad.exe"}))
		err := g.Validate(context.Background(), plan)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "session permit")
	})
}

func TestPlanGuardTrustedURLs(t *testing.T) {
	g := newTestGuard(t)

	tests := []struct {
		name     string
		url      string
		allowed  bool
		fragment string
	}{
		{"trusted domain", "https://docs.python.org/3/library/", true, ""},
		{"trusted subdomain", "https://en.wikipedia.org/wiki/Go", true, ""},
		{"untrusted domain", "https://example.com/page", false, "not in trusted list"},
		{"localhost", "http://localhost:8080/admin", false, "localhost"},
		{"loopback ip", "http://127.0.0.1/", false, "localhost"},
		{"literal ip", "http://192.168.1.1/router", false, "IP address"},
		{"lookalike suffix", "https://evilwikipedia.org/", false, "not in trusted list"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := testPlan(step("open_url", map[string]any{"url": tt.url}))
			err := g.Validate(context.Background(), plan)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.fragment)
			}
		})
	}
}

func TestPlanGuardMissingRestrictedArgs(t *testing.T) {
	g := newTestGuard(t)

	plan := testPlan(
		step("open_app", nil),
		step("open_url", nil),
	)

	err := g.Validate(context.Background(), plan)
	require.Error(t, err)

	ve, ok := AsValidationError(err)
	require.True(t, ok)
	assert.Len(t, ve.Violations, 2)
}

func TestPlanGuardRetryBudget(t *testing.T) {
	g := newTestGuard(t)

	var steps []types.ActionStep
	for i := 0; i < 4; i++ {
		s := step("click", map[string]any{"name": "OK"})
		s.MaxRetries = 10
		steps = append(steps, s)
	}
	plan := testPlan(steps...)

	err := g.Validate(context.Background(), plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "total retries")
}

func TestPlanGuardHighRiskCeiling(t *testing.T) {
	g := newTestGuard(t)

	var steps []types.ActionStep
	for i := 0; i < 4; i++ {
		s := step("click", map[string]any{"name": "Apply"})
		s.Risk = types.RiskLevelHigh
		steps = append(steps, s)
	}
	plan := testPlan(steps...)

	err := g.Validate(context.Background(), plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "high-risk")
}

func TestPlanGuardNetworkPermit(t *testing.T) {
	plan := testPlan(step("open_url", map[string]any{"url": "https://docs.python.org/3/"}))
	plan.RequiresNetwork = true

	t.Run("allowed by permit", func(t *testing.T) {
		g := New(DefaultConfig(), &stubSession{network: true})
		assert.NoError(t, g.Validate(context.Background(), plan))
	})

	t.Run("denied by permit", func(t *testing.T) {
		g := New(DefaultConfig(), &stubSession{network: false})
		err := g.Validate(context.Background(), plan)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "network")
	})

	t.Run("no session at all", func(t *testing.T) {
		g := New(DefaultConfig(), nil)
		err := g.Validate(context.Background(), plan)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "network")
	})
}

func TestPlanGuardElevationNeverAllowed(t *testing.T) {
	g := newTestGuard(t)

	plan := testPlan(step("screenshot", nil))
	plan.RequiresElevation = true

	err := g.Validate(context.Background(), plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "elevated")
}

func TestPlanGuardAccumulatesAllViolations(t *testing.T) {
	g := newTestGuard(t)

	plan := testPlan(
		step("run_shell", map[string]any{"command": "dir"}),
		step("transmogrify", nil),
		step("open_app", map[string]any{"app_name": "powershell"}),
		step("type_text", map[string]any{"text": "rm -rf /"}),
	)

	err := g.Validate(context.Background(), plan)
	require.Error(t, err)

	ve, ok := AsValidationError(err)
	require.True(t, ok)
	require.Len(t, ve.Violations, 4)
	assert.Contains(t, ve.Violations[0], "blocked for safety")
	assert.Contains(t, ve.Violations[1], "not recognized")
	assert.Contains(t, ve.Violations[2], "not in trusted list")
	assert.Contains(t, ve.Violations[3], "destructive pattern")
}

func TestPlanGuardWritesAuditTrail(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "audit.jsonl")

	auditor, err := audit.Open(logPath)
	require.NoError(t, err)
	defer auditor.Close()

	g := newTestGuard(t, WithAudit(auditor))

	plan := testPlan(
		step("run_shell", map[string]any{"command": "dir"}),
		step("transmogrify", nil),
	)

	verr := g.Validate(context.Background(), plan)
	require.Error(t, verr)
	require.NoError(t, auditor.Close())

	f, err := os.Open(logPath)
	require.NoError(t, err)
	defer f.Close()

	var records []audit.Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec audit.Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, "blocked", rec.Status)
		assert.Equal(t, plan.ID.String(), rec.PlanID)
		assert.NotEmpty(t, rec.Violation)
		assert.False(t, rec.Timestamp.IsZero())
	}
}
