package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/config"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/orchestrator"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/server"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

func TestTargetFlags(t *testing.T) {
	tests := []struct {
		name     string
		flags    targetFlags
		wantType types.TargetType
		wantErr  bool
	}{
		{name: "company", flags: targetFlags{company: " Acme Robotics ", website: "acme.example"}, wantType: types.TargetCompany},
		{name: "person inferred", flags: targetFlags{person: "Ada Lovelace"}, wantType: types.TargetPerson},
		{name: "country normalized", flags: targetFlags{company: "Acme", country: "gb"}, wantType: types.TargetCompany},
		{name: "empty", flags: targetFlags{}, wantErr: true},
		{name: "bad type", flags: targetFlags{targetType: "fund", company: "Acme"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, err := tt.flags.target()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, target.TargetType)
			assert.Equal(t, strings.TrimSpace(target.CompanyName), target.CompanyName)
		})
	}
}

func TestPrintPlan(t *testing.T) {
	target := types.TargetInput{CompanyName: "Acme Robotics", Website: "acme.example"}.Normalized()
	caps := types.Capabilities{types.ConnectorExa: true, types.ConnectorGLEIF: true}

	var buf bytes.Buffer
	require.NoError(t, printPlan(&buf, target, caps, false))
	assert.Contains(t, buf.String(), "RESEARCH PLAN")

	buf.Reset()
	require.NoError(t, printPlan(&buf, target, caps, true))
	var out struct {
		Capabilities []types.ConnectorID `json:"capabilities"`
		Steps        []types.PlanStep    `json:"steps"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, []types.ConnectorID{types.ConnectorExa, types.ConnectorGLEIF}, out.Capabilities)
	require.NotEmpty(t, out.Steps)
	for _, step := range out.Steps {
		assert.True(t, caps.Enabled(step.ConnectorID), step.Name)
	}
}

func TestPrintPlan_NoCapabilities(t *testing.T) {
	target := types.TargetInput{CompanyName: "Acme Robotics"}.Normalized()
	err := printPlan(&bytes.Buffer{}, target, types.Capabilities{}, false)
	assert.Error(t, err)
}

func TestLoadConfig_FileOverridesEnv(t *testing.T) {
	t.Setenv("EXECUTOR_MAX_IN_FLIGHT", "3")
	t.Setenv("JOB_TIMEOUT_SECONDS", "120")

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"job_timeout_seconds": 900}`), 0o600))

	old := configPath
	configPath = path
	t.Cleanup(func() { configPath = old })

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, 900, cfg.JobTimeoutSeconds)
	assert.Equal(t, 3, cfg.ExecutorMaxInFlight)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	old := configPath
	configPath = filepath.Join(t.TempDir(), "missing.json")
	t.Cleanup(func() { configPath = old })

	_, err := loadConfig()
	assert.Error(t, err)
}

func TestTokenCommand(t *testing.T) {
	secret := "token-command-secret-0123456789"
	t.Setenv("JWT_SECRET", secret)

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"token", "analyst@example.com"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	require.NoError(t, rootCmd.Execute())

	svc := server.NewJWTService(&config.JWTConfig{Secret: secret, ExpirationHours: 1})
	claims, err := svc.ValidateToken(strings.TrimSpace(buf.String()))
	require.NoError(t, err)
	assert.Equal(t, "analyst@example.com", claims.Subject)
}

func TestProgressPrinter(t *testing.T) {
	var buf bytes.Buffer
	progressPrinter(&buf)(orchestrator.ProgressEvent{Stage: 2, Message: "Executing 7 plan steps"})
	assert.Equal(t, "Step 2/5: Executing 7 plan steps\n", buf.String())
}
