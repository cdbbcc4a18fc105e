package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TRANSPORT_MAX_ATTEMPTS", "")
	t.Setenv("TRANSPORT_BASE_BACKOFF_MS", "")
	t.Setenv("DEDUP_TTL_SECONDS", "")
	t.Setenv("INTEGRATIONS_SCHEMA_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transport.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.Transport.MaxAttempts)
	}
	if cfg.Transport.BaseBackoff != 500*time.Millisecond {
		t.Errorf("BaseBackoff = %s, want 500ms", cfg.Transport.BaseBackoff)
	}
	if cfg.Transport.DedupTTL != 10*time.Minute {
		t.Errorf("DedupTTL = %s, want 10m", cfg.Transport.DedupTTL)
	}
	if cfg.Integrations.ServiceNow.Table != "incident" {
		t.Errorf("ServiceNow table = %q", cfg.Integrations.ServiceNow.Table)
	}
}

func TestLoadReadsIntegrationsFromEnv(t *testing.T) {
	t.Setenv("INTEGRATIONS_SCHEMA_FILE", "")
	t.Setenv("JIRA_BASE_URL", "https://example.atlassian.net")
	t.Setenv("JIRA_PROJECT_KEY", "SEC")
	t.Setenv("ROUTING_NOTIFY_PLATFORMS", "slack, teams,,email")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Integrations.Jira.ProjectKey != "SEC" {
		t.Errorf("ProjectKey = %q", cfg.Integrations.Jira.ProjectKey)
	}
	if got := cfg.Routing.NotifyPlatforms; len(got) != 3 || got[1] != "teams" {
		t.Errorf("NotifyPlatforms = %v", got)
	}
}

func TestApplySchemaFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	content := `
jira:
  custom_fields:
    cvss_score: customfield_10050
  priorities:
    critical: High
  statuses:
    "Triage": OPEN
servicenow:
  priorities:
    low: "5 - Planning"
teams:
  channels:
    secops: https://teams.example/webhook/secops
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write schema: %v", err)
	}

	cfg := IntegrationsConfig{}
	if err := ApplySchemaFile(&cfg, path); err != nil {
		t.Fatalf("ApplySchemaFile: %v", err)
	}
	if cfg.Jira.CustomFields["cvss_score"] != "customfield_10050" {
		t.Errorf("custom fields = %v", cfg.Jira.CustomFields)
	}
	if cfg.Jira.Statuses["Triage"] != "OPEN" {
		t.Errorf("statuses = %v", cfg.Jira.Statuses)
	}
	if cfg.ServiceNow.Priorities["low"] != "5 - Planning" {
		t.Errorf("servicenow priorities = %v", cfg.ServiceNow.Priorities)
	}
	if cfg.Teams.Channels["secops"] == "" {
		t.Errorf("teams channels = %v", cfg.Teams.Channels)
	}
}

func TestApplySchemaRejectsBadCustomFieldID(t *testing.T) {
	cfg := IntegrationsConfig{}
	err := ApplySchema(&cfg, []byte("jira:\n  custom_fields:\n    cvss: cvss_field\n"))
	if err == nil {
		t.Fatal("expected error for non customfield_ id")
	}
}
