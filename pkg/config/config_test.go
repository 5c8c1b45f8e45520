package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mama-os/mama/pkg/roles"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.Backend != BackendSubprocess || cfg.RateLimit.MaxRequestsPerMinute != 50 {
		t.Errorf("defaults not applied: %+v", cfg.Agent)
	}
	if cfg.MultiAgent.LoopPrevention.MaxDelegationDepth != 1 {
		t.Errorf("loop prevention defaults: %+v", cfg.MultiAgent.LoopPrevention)
	}
}

func TestLoadLayersFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"agent": {"model": "gpt-4o", "backend": "openai"},
		"rate_limit": {"max_requests_per_minute": 10}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.Model != "gpt-4o" || cfg.Agent.Backend != BackendOpenAI {
		t.Errorf("agent = %+v", cfg.Agent)
	}
	if cfg.RateLimit.MaxRequestsPerMinute != 10 {
		t.Errorf("file value lost: %d", cfg.RateLimit.MaxRequestsPerMinute)
	}
	// Untouched keys keep their defaults.
	if cfg.RateLimit.MaxQueueSize != 100 {
		t.Errorf("default lost: %d", cfg.RateLimit.MaxQueueSize)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `{"agent": {"model": "from-file"}}`)
	t.Setenv("MAMA_AGENT_MODEL", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.Model != "from-env" {
		t.Errorf("model = %q, want env override", cfg.Agent.Model)
	}
}

func TestNormalizeClearsDelegationBelowTierOne(t *testing.T) {
	path := writeConfig(t, `{
		"multi_agent": {
			"enabled": true,
			"default_agent_id": "mama",
			"agents": {
				"mama": {"tier": 1, "can_delegate": true, "enabled": true},
				"helper": {"tier": 2, "can_delegate": true, "enabled": true}
			}
		}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.MultiAgent.Agents["mama"].CanDelegate {
		t.Error("tier-1 delegation cleared")
	}
	if cfg.MultiAgent.Agents["helper"].CanDelegate {
		t.Error("tier-2 agent kept can_delegate")
	}
	if cfg.MultiAgent.Agents["mama"].Name != "mama" {
		t.Errorf("agent name not defaulted: %q", cfg.MultiAgent.Agents["mama"].Name)
	}
}

func TestValidateRejectsDanglingReferences(t *testing.T) {
	path := writeConfig(t, `{
		"multi_agent": {"enabled": true, "default_agent_id": "ghost", "agents": {}}
	}`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "ghost") {
		t.Errorf("err = %v, want dangling default agent rejection", err)
	}

	path = writeConfig(t, `{"source_roles": {"discord": "missing_role"}}`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "missing_role") {
		t.Errorf("err = %v, want undefined role rejection", err)
	}

	path = writeConfig(t, `{"enforcement": {"scope_guard": {"enabled": true, "mode": "explode"}}}`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "scope_guard.mode") {
		t.Errorf("err = %v, want mode rejection", err)
	}
}

func TestExportMasksSecrets(t *testing.T) {
	path := writeConfig(t, `{"gateways": {"discord": {"enabled": true, "token": "MTA4.secret"}}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	out, err := cfg.Export(&roles.RoleConfig{Name: "chat_bot"})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	discord := out["gateways"].(map[string]any)["discord"].(map[string]any)
	if discord["token"] == "MTA4.secret" {
		t.Error("token leaked to role without sensitive access")
	}

	out, _ = cfg.Export(&roles.RoleConfig{Name: "os_agent", SensitiveAccess: true})
	discord = out["gateways"].(map[string]any)["discord"].(map[string]any)
	if discord["token"] != "MTA4.secret" {
		t.Error("sensitive role must see the raw token")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Default()
	cfg.Agent.Model = "custom-model"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Agent.Model != "custom-model" {
		t.Errorf("round trip lost model: %q", loaded.Agent.Model)
	}
}
