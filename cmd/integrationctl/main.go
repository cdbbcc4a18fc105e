// integrationctl drives the integration adapters from the command line,
// in-process and without the HTTP service. It reads the same environment
// as the API server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/spec-kit/integration-service/internal/api/dto"
	"github.com/spec-kit/integration-service/internal/auth"
	"github.com/spec-kit/integration-service/internal/config"
	"github.com/spec-kit/integration-service/internal/domain"
	"github.com/spec-kit/integration-service/internal/integration"
	"github.com/spec-kit/integration-service/internal/observability"
	"github.com/spec-kit/integration-service/internal/service"
	"github.com/spec-kit/integration-service/internal/transport"
)

// errFailed marks a call that completed but reported failure; the response
// has already been printed.
var errFailed = errors.New("call failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		printUsage(stderr)
		return nil
	}
	command, rest := args[0], args[1:]
	switch command {
	case "send-message":
		return sendMessage(ctx, rest, stdout, stderr)
	case "create-ticket":
		return createTicket(ctx, rest, stdout, stderr)
	case "get-ticket":
		return getTicket(ctx, rest, stdout, stderr)
	case "mint-token":
		return mintToken(rest, stdout)
	}
	printUsage(stderr)
	return fmt.Errorf("unknown command %q", command)
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Usage: integrationctl <command> [flags]

Commands:
  send-message   deliver a message to Slack, Teams or Email
  create-ticket  open a ticket in Jira or ServiceNow
  get-ticket     read a ticket back in normalized form
  mint-token     issue a service token for the HTTP API

Run "integrationctl <command> --help" for command flags.
`)
}

func sendMessage(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var (
		platform, target, subject, body, format, priority string
		timeout                                           time.Duration
	)
	flags := pflag.NewFlagSet("send-message", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&platform, "platform", "", "SLACK, TEAMS or EMAIL")
	flags.StringVar(&target, "target", "", "channel, Teams target or comma-separated recipients")
	flags.StringVar(&subject, "subject", "", "message subject")
	flags.StringVar(&body, "body", "", "message body; - reads stdin")
	flags.StringVar(&format, "format", string(domain.FormatPlain), "PLAIN, MARKDOWN, HTML or ADAPTIVE_CARD")
	flags.StringVar(&priority, "priority", string(domain.MessagePriorityNormal), "LOW, NORMAL, HIGH or URGENT")
	flags.DurationVar(&timeout, "timeout", time.Minute, "overall deadline")
	if err := flags.Parse(args); err != nil {
		return helpIsOK(err)
	}
	p, err := domain.ParsePlatform(platform)
	if err != nil {
		return err
	}
	if body == "-" {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		body = string(raw)
	}

	facade, cleanup, err := newFacade(stderr)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp := facade.SendMessage(ctx, domain.Message{
		Platform: p,
		Target:   target,
		Subject:  subject,
		Body:     body,
		Format:   domain.MessageFormat(strings.ToUpper(format)),
		Priority: domain.MessagePriority(strings.ToUpper(priority)),
	})
	if err := printJSON(stdout, dto.FromMessageResponse(resp)); err != nil {
		return err
	}
	if !resp.Success {
		return errFailed
	}
	return nil
}

func createTicket(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var (
		platform, findingID, title, description string
		severity                                float64
		fields                                  []string
		timeout                                 time.Duration
	)
	flags := pflag.NewFlagSet("create-ticket", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&platform, "platform", "", "JIRA or SERVICENOW")
	flags.StringVar(&findingID, "finding-id", "", "scanner finding identity")
	flags.StringVar(&title, "title", "", "ticket title")
	flags.StringVar(&description, "description", "", "ticket description")
	flags.Float64Var(&severity, "severity", -1, "severity score in [0, 10]")
	flags.StringArrayVar(&fields, "field", nil, "custom field as key=value (repeatable)")
	flags.DurationVar(&timeout, "timeout", time.Minute, "overall deadline")
	if err := flags.Parse(args); err != nil {
		return helpIsOK(err)
	}
	p, err := domain.ParsePlatform(platform)
	if err != nil {
		return err
	}
	custom, err := parseFields(fields)
	if err != nil {
		return err
	}

	facade, cleanup, err := newFacade(stderr)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp := facade.CreateTicket(ctx, domain.Ticket{
		Platform:      p,
		FindingID:     findingID,
		Title:         title,
		Description:   description,
		SeverityScore: severity,
		CustomFields:  custom,
	})
	if err := printJSON(stdout, dto.FromTicketResponse(resp)); err != nil {
		return err
	}
	if !resp.Success {
		return errFailed
	}
	return nil
}

func getTicket(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var (
		platform, id string
		timeout      time.Duration
	)
	flags := pflag.NewFlagSet("get-ticket", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&platform, "platform", "", "JIRA or SERVICENOW")
	flags.StringVar(&id, "id", "", "external ticket ID")
	flags.DurationVar(&timeout, "timeout", 30*time.Second, "overall deadline")
	if err := flags.Parse(args); err != nil {
		return helpIsOK(err)
	}
	p, err := domain.ParsePlatform(platform)
	if err != nil {
		return err
	}

	facade, cleanup, err := newFacade(stderr)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticket, err := facade.GetTicket(ctx, p, id)
	if err != nil {
		return err
	}
	return printJSON(stdout, dto.FromTicket(ticket))
}

func mintToken(args []string, stdout io.Writer) error {
	var (
		serviceName string
		scopes      []string
	)
	flags := pflag.NewFlagSet("mint-token", pflag.ContinueOnError)
	flags.StringVar(&serviceName, "service", "", "calling service name (token subject)")
	flags.StringSliceVar(&scopes, "scope", auth.AllScopes, "granted scopes")
	if err := flags.Parse(args); err != nil {
		return helpIsOK(err)
	}
	for _, scope := range scopes {
		if !knownScope(scope) {
			return fmt.Errorf("unknown scope %q (known: %s)", scope, strings.Join(auth.AllScopes, ", "))
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	token, expiresAt, err := tokens.GenerateToken(serviceName, scopes)
	if err != nil {
		return err
	}
	return printJSON(stdout, map[string]any{
		"token":      token,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
		"scopes":     scopes,
	})
}

// newFacade builds the integration facade from the environment. Logs go to
// stderr so stdout stays machine-readable.
func newFacade(stderr io.Writer) (*service.IntegrationService, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger := zap.New(observability.NewConsoleCore(cfg.Logger, stderr))

	client := transport.NewClient(transport.Options{
		ConnectTimeout: cfg.Transport.ConnectTimeout,
		RequestTimeout: cfg.Transport.RequestTimeout,
		Policy:         transport.DefaultPolicy(),
	})

	var deps service.IntegrationDependencies
	for _, platform := range domain.Platforms {
		if platform.IsTicketing() {
			if sink, err := integration.NewTicketSink(platform, cfg.Integrations, client); err == nil {
				deps.TicketSinks = append(deps.TicketSinks, sink)
			}
			continue
		}
		if sink, err := integration.NewMessageSink(platform, cfg.Integrations, client); err == nil {
			deps.MessageSinks = append(deps.MessageSinks, sink)
		}
	}
	deps.Audit = observability.NewZapAuditHook(logger)
	return service.NewIntegrationService(deps), func() { _ = logger.Sync() }, nil
}

func parseFields(raw []string) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(raw))
	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("field %q: want key=value", kv)
		}
		out[key] = value
	}
	return out, nil
}

func knownScope(scope string) bool {
	for _, s := range auth.AllScopes {
		if s == scope {
			return true
		}
	}
	return false
}

func helpIsOK(err error) error {
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	return err
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
