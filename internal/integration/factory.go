package integration

import (
	"fmt"
	"net/url"

	"github.com/spec-kit/integration-service/internal/adapters/email"
	"github.com/spec-kit/integration-service/internal/adapters/jira"
	"github.com/spec-kit/integration-service/internal/adapters/servicenow"
	"github.com/spec-kit/integration-service/internal/adapters/slack"
	"github.com/spec-kit/integration-service/internal/adapters/teams"
	"github.com/spec-kit/integration-service/internal/config"
	"github.com/spec-kit/integration-service/internal/domain"
	"github.com/spec-kit/integration-service/internal/transport"
	apperrors "github.com/spec-kit/integration-service/pkg/util"
)

// Option customizes adapter construction.
type Option func(*options)

type options struct {
	emailSender email.Sender
}

// WithEmailSender replaces SMTP submission for the email adapter.
func WithEmailSender(sender email.Sender) Option {
	return func(o *options) { o.emailSender = sender }
}

// NewTicketSink builds the ticket adapter for platform. Missing credentials
// fail here, so a returned sink is always usable.
func NewTicketSink(platform domain.Platform, cfg config.IntegrationsConfig, client *transport.Client) (TicketSink, error) {
	if client == nil {
		return nil, apperrors.NewConfigurationError("transport client is required", nil)
	}
	switch platform {
	case domain.PlatformJira:
		if err := validateJira(cfg.Jira); err != nil {
			return nil, err
		}
		return jira.NewAdapter(cfg.Jira, client)
	case domain.PlatformServiceNow:
		if err := validateServiceNow(cfg.ServiceNow); err != nil {
			return nil, err
		}
		return servicenow.NewAdapter(cfg.ServiceNow, client)
	case domain.PlatformSlack, domain.PlatformTeams, domain.PlatformEmail:
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("%s is not a ticketing platform", platform), nil)
	}
	return nil, apperrors.NewConfigurationError(fmt.Sprintf("unknown platform %q", platform), nil)
}

// NewMessageSink builds the message adapter for platform.
func NewMessageSink(platform domain.Platform, cfg config.IntegrationsConfig, client *transport.Client, opts ...Option) (MessageSink, error) {
	if client == nil {
		return nil, apperrors.NewConfigurationError("transport client is required", nil)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	switch platform {
	case domain.PlatformSlack:
		if err := validateSlack(cfg.Slack); err != nil {
			return nil, err
		}
		return slack.NewAdapter(cfg.Slack, client), nil
	case domain.PlatformTeams:
		if err := validateTeams(cfg.Teams); err != nil {
			return nil, err
		}
		return teams.NewAdapter(cfg.Teams, client), nil
	case domain.PlatformEmail:
		if err := validateEmail(cfg.Email); err != nil {
			return nil, err
		}
		return email.NewAdapter(cfg.Email, client, o.emailSender)
	case domain.PlatformJira, domain.PlatformServiceNow:
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("%s is not a messaging platform", platform), nil)
	}
	return nil, apperrors.NewConfigurationError(fmt.Sprintf("unknown platform %q", platform), nil)
}

func validateJira(cfg config.JiraConfig) error {
	if err := requireURL("JIRA_BASE_URL", cfg.BaseURL); err != nil {
		return err
	}
	if cfg.ProjectKey == "" {
		return missing(domain.PlatformJira, "JIRA_PROJECT_KEY")
	}
	if cfg.BearerToken == "" && (cfg.Email == "" || cfg.APIToken == "") {
		return missing(domain.PlatformJira, "JIRA_EMAIL and JIRA_API_TOKEN, or JIRA_BEARER_TOKEN")
	}
	return nil
}

func validateServiceNow(cfg config.ServiceNowConfig) error {
	if err := requireURL("SERVICENOW_INSTANCE_URL", cfg.InstanceURL); err != nil {
		return err
	}
	if cfg.BearerToken == "" && (cfg.Username == "" || cfg.Password == "") {
		return missing(domain.PlatformServiceNow, "SERVICENOW_USERNAME and SERVICENOW_PASSWORD, or SERVICENOW_BEARER_TOKEN")
	}
	return nil
}

func validateSlack(cfg config.SlackConfig) error {
	if cfg.BotToken != "" {
		return requireURL("SLACK_API_BASE_URL", cfg.APIBaseURL)
	}
	if cfg.WebhookURL == "" {
		return missing(domain.PlatformSlack, "SLACK_WEBHOOK_URL or SLACK_BOT_TOKEN")
	}
	return requireURL("SLACK_WEBHOOK_URL", cfg.WebhookURL)
}

func validateTeams(cfg config.TeamsConfig) error {
	if cfg.WebhookURL == "" && len(cfg.Channels) == 0 {
		return missing(domain.PlatformTeams, "TEAMS_WEBHOOK_URL or teams.channels")
	}
	if cfg.WebhookURL != "" {
		if err := requireURL("TEAMS_WEBHOOK_URL", cfg.WebhookURL); err != nil {
			return err
		}
	}
	for name, hook := range cfg.Channels {
		if err := requireURL("teams channel "+name, hook); err != nil {
			return err
		}
	}
	return nil
}

func validateEmail(cfg config.EmailConfig) error {
	switch {
	case cfg.Host == "":
		return missing(domain.PlatformEmail, "SMTP_HOST")
	case cfg.Port == "":
		return missing(domain.PlatformEmail, "SMTP_PORT")
	case cfg.From == "":
		return missing(domain.PlatformEmail, "SMTP_FROM")
	case cfg.Username != "" && cfg.Password == "":
		return missing(domain.PlatformEmail, "SMTP_PASSWORD")
	}
	return nil
}

func requireURL(name, raw string) error {
	if raw == "" {
		return apperrors.NewConfigurationError(name+" is required", nil)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return apperrors.NewConfigurationError(fmt.Sprintf("%s %q is not an http(s) URL", name, raw), nil)
	}
	return nil
}

func missing(platform domain.Platform, what string) error {
	return apperrors.NewConfigurationError(
		fmt.Sprintf("%s integration is missing %s", platform, what),
		map[string]any{"platform": string(platform)},
	)
}
