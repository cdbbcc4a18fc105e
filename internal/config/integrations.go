package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// IntegrationsConfig holds connection settings for every external platform.
type IntegrationsConfig struct {
	Jira       JiraConfig
	ServiceNow ServiceNowConfig
	Slack      SlackConfig
	Teams      TeamsConfig
	Email      EmailConfig
}

// JiraConfig configures the Jira Cloud REST v3 adapter.
type JiraConfig struct {
	BaseURL     string
	Email       string
	APIToken    string
	BearerToken string
	ProjectKey  string
	IssueType   string
	// CustomFields maps a local field name to a pre-registered Jira field ID.
	CustomFields map[string]string
	Priorities   map[string]string
	// Statuses maps a Jira status name to a local status.
	Statuses map[string]string
}

// ServiceNowConfig configures the ServiceNow Table API adapter.
type ServiceNowConfig struct {
	InstanceURL     string
	Username        string
	Password        string
	BearerToken     string
	Table           string
	AssignmentGroup string
	Category        string
	Priorities      map[string]string
}

// SlackConfig configures the Slack adapter. Either a webhook URL or a bot
// token is required.
type SlackConfig struct {
	WebhookURL     string
	BotToken       string
	APIBaseURL     string
	DefaultChannel string
}

// TeamsConfig configures the Teams incoming-webhook adapter.
type TeamsConfig struct {
	WebhookURL string
	// Channels maps a message target name to a dedicated webhook URL.
	Channels map[string]string
}

// EmailConfig configures SMTP submission.
type EmailConfig struct {
	Host        string
	Port        string
	Username    string
	Password    string
	From        string
	ImplicitTLS bool
}

// schemaFile mirrors the YAML field-schema override document.
type schemaFile struct {
	Jira struct {
		CustomFields map[string]string `yaml:"custom_fields"`
		Priorities   map[string]string `yaml:"priorities"`
		Statuses     map[string]string `yaml:"statuses"`
	} `yaml:"jira"`
	ServiceNow struct {
		Priorities map[string]string `yaml:"priorities"`
	} `yaml:"servicenow"`
	Teams struct {
		Channels map[string]string `yaml:"channels"`
	} `yaml:"teams"`
}

func loadIntegrations() (IntegrationsConfig, error) {
	cfg := IntegrationsConfig{
		Jira: JiraConfig{
			BaseURL:     os.Getenv("JIRA_BASE_URL"),
			Email:       os.Getenv("JIRA_EMAIL"),
			APIToken:    os.Getenv("JIRA_API_TOKEN"),
			BearerToken: os.Getenv("JIRA_BEARER_TOKEN"),
			ProjectKey:  os.Getenv("JIRA_PROJECT_KEY"),
			IssueType:   getEnv("JIRA_ISSUE_TYPE", "Bug"),
		},
		ServiceNow: ServiceNowConfig{
			InstanceURL:     os.Getenv("SERVICENOW_INSTANCE_URL"),
			Username:        os.Getenv("SERVICENOW_USERNAME"),
			Password:        os.Getenv("SERVICENOW_PASSWORD"),
			BearerToken:     os.Getenv("SERVICENOW_BEARER_TOKEN"),
			Table:           getEnv("SERVICENOW_TABLE", "incident"),
			AssignmentGroup: os.Getenv("SERVICENOW_ASSIGNMENT_GROUP"),
			Category:        getEnv("SERVICENOW_CATEGORY", "security"),
		},
		Slack: SlackConfig{
			WebhookURL:     os.Getenv("SLACK_WEBHOOK_URL"),
			BotToken:       os.Getenv("SLACK_BOT_TOKEN"),
			APIBaseURL:     getEnv("SLACK_API_BASE_URL", "https://slack.com/api"),
			DefaultChannel: os.Getenv("SLACK_DEFAULT_CHANNEL"),
		},
		Teams: TeamsConfig{
			WebhookURL: os.Getenv("TEAMS_WEBHOOK_URL"),
		},
		Email: EmailConfig{
			Host:        os.Getenv("SMTP_HOST"),
			Port:        getEnv("SMTP_PORT", "587"),
			Username:    os.Getenv("SMTP_USERNAME"),
			Password:    os.Getenv("SMTP_PASSWORD"),
			From:        os.Getenv("SMTP_FROM"),
			ImplicitTLS: getEnvAsBool("SMTP_IMPLICIT_TLS", false),
		},
	}

	if path := os.Getenv("INTEGRATIONS_SCHEMA_FILE"); path != "" {
		if err := ApplySchemaFile(&cfg, path); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// ApplySchemaFile merges field-schema overrides from a YAML document into cfg.
func ApplySchemaFile(cfg *IntegrationsConfig, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read schema file: %w", err)
	}
	return ApplySchema(cfg, content)
}

// ApplySchema merges field-schema overrides from YAML content into cfg.
func ApplySchema(cfg *IntegrationsConfig, content []byte) error {
	var doc schemaFile
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return fmt.Errorf("parse schema file: %w", err)
	}

	cfg.Jira.CustomFields = merge(cfg.Jira.CustomFields, doc.Jira.CustomFields)
	cfg.Jira.Priorities = merge(cfg.Jira.Priorities, doc.Jira.Priorities)
	cfg.Jira.Statuses = merge(cfg.Jira.Statuses, doc.Jira.Statuses)
	cfg.ServiceNow.Priorities = merge(cfg.ServiceNow.Priorities, doc.ServiceNow.Priorities)
	cfg.Teams.Channels = merge(cfg.Teams.Channels, doc.Teams.Channels)

	for field, id := range cfg.Jira.CustomFields {
		if !strings.HasPrefix(id, "customfield_") {
			return fmt.Errorf("jira custom field %q: id %q is not a customfield_ identifier", field, id)
		}
	}
	return nil
}

func merge(dst, src map[string]string) map[string]string {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]string, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
