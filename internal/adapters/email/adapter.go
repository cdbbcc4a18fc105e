// Package email implements the message sink for SMTP submission.
//
// A successful response means the relay accepted the message. It is not a
// delivery or read confirmation, and every response carries a warning saying so.
package email

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/spec-kit/integration-service/internal/config"
	"github.com/spec-kit/integration-service/internal/domain"
	"github.com/spec-kit/integration-service/internal/mapper"
	"github.com/spec-kit/integration-service/internal/transport"
	apperrors "github.com/spec-kit/integration-service/pkg/util"
)

// RelayWarning accompanies every successful send.
const RelayWarning = "accepted by relay; delivery to the recipient is not confirmed"

// Adapter implements integration.MessageSink for email.
type Adapter struct {
	client  *transport.Client
	sender  Sender
	from    *mail.Address
	formats domain.FormatSet
	now     func() time.Time
}

// NewAdapter builds an email adapter. A nil sender submits over SMTP using cfg.
func NewAdapter(cfg config.EmailConfig, client *transport.Client, sender Sender) (*Adapter, error) {
	from, err := mail.ParseAddress(cfg.From)
	if err != nil {
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("invalid sender address %q: %v", cfg.From, err), nil)
	}
	if sender == nil {
		sender = NewSMTPSender(cfg)
	}
	return &Adapter{
		client:  client,
		sender:  sender,
		from:    from,
		formats: domain.NewFormatSet(domain.FormatPlain, domain.FormatHTML),
		now:     time.Now,
	}, nil
}

// Platform returns domain.PlatformEmail.
func (a *Adapter) Platform() domain.Platform {
	return domain.PlatformEmail
}

// SupportedFormats returns PLAIN and HTML.
func (a *Adapter) SupportedFormats() domain.FormatSet {
	return a.formats
}

// SendMessage composes msg and submits it. Target is a comma-separated
// address list. The message ID is the generated Message-Id header.
func (a *Adapter) SendMessage(ctx context.Context, msg domain.Message) (*domain.MessageResponse, error) {
	if !a.formats.Supports(msg.Format) {
		return nil, apperrors.NewValidationError(fmt.Sprintf("email does not support %s messages", msg.Format), nil)
	}
	rcpts, err := mail.ParseAddressList(msg.Target)
	if err != nil || len(rcpts) == 0 {
		return nil, apperrors.NewValidationError(fmt.Sprintf("invalid recipient list %q", msg.Target), nil)
	}

	submit := func() (*transport.Response, error) {
		raw, messageID, err := a.compose(msg, rcpts)
		if err != nil {
			return nil, err
		}
		to := make([]string, len(rcpts))
		for i, r := range rcpts {
			to[i] = r.Address
		}
		err = a.client.Retry(ctx, func(int) error {
			return a.sender.Send(ctx, a.from.Address, to, raw)
		})
		if err != nil {
			return nil, err
		}
		return &transport.Response{
			StatusCode: 250,
			Header:     http.Header{"Message-Id": {messageID}},
		}, nil
	}

	var resp *transport.Response
	key := transport.IdempotencyKeyFrom(ctx)
	if dedup := a.client.Dedup(); key != "" && dedup != nil {
		resp, _, err = dedup.Do(ctx, key, submit)
	} else {
		resp, err = submit()
	}
	if err != nil {
		return nil, fmt.Errorf("submitting email to %s: %w", msg.Target, err)
	}
	return &domain.MessageResponse{
		Success:   true,
		MessageID: resp.Header.Get("Message-Id"),
		Warning:   RelayWarning,
	}, nil
}

func (a *Adapter) compose(msg domain.Message, rcpts []*mail.Address) ([]byte, string, error) {
	priority := mapper.FromMessagePriority(msg.Priority)
	xPriority, _ := mapper.EmailPriorities.Native(priority)

	var h mail.Header
	h.SetDate(a.now())
	h.SetAddressList("From", []*mail.Address{a.from})
	h.SetAddressList("To", rcpts)
	h.SetSubject(msg.Subject)
	h.Set("X-Priority", xPriority)
	if priority.Rank() >= domain.PriorityHigh.Rank() {
		h.Set("Importance", "high")
	}
	if err := h.GenerateMessageID(); err != nil {
		return nil, "", fmt.Errorf("generating message id: %w", err)
	}
	messageID, err := h.MessageID()
	if err != nil {
		return nil, "", fmt.Errorf("reading message id: %w", err)
	}

	contentType := "text/plain"
	if msg.Format == domain.FormatHTML {
		contentType = "text/html"
	}
	params := map[string]string{"charset": "utf-8"}

	var buf bytes.Buffer
	if len(msg.Attachments) == 0 {
		h.SetContentType(contentType, params)
		w, err := mail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			return nil, "", fmt.Errorf("creating mail writer: %w", err)
		}
		if _, err := io.WriteString(w, msg.Body); err != nil {
			return nil, "", fmt.Errorf("writing mail body: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, "", fmt.Errorf("closing mail body: %w", err)
		}
		return buf.Bytes(), messageID, nil
	}

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, "", fmt.Errorf("creating mail writer: %w", err)
	}
	iw, err := mw.CreateInline()
	if err != nil {
		return nil, "", fmt.Errorf("creating inline part: %w", err)
	}
	var ih mail.InlineHeader
	ih.SetContentType(contentType, params)
	pw, err := iw.CreatePart(ih)
	if err != nil {
		return nil, "", fmt.Errorf("creating body part: %w", err)
	}
	if _, err := io.WriteString(pw, msg.Body); err != nil {
		return nil, "", fmt.Errorf("writing mail body: %w", err)
	}
	pw.Close()
	iw.Close()

	for _, att := range msg.Attachments {
		var ah mail.AttachmentHeader
		mimeType := att.MimeType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		ah.SetContentType(mimeType, nil)
		ah.SetFilename(sanitizeFilename(att.FileName))
		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, "", fmt.Errorf("creating attachment %s: %w", att.FileName, err)
		}
		if _, err := aw.Write(att.Content); err != nil {
			return nil, "", fmt.Errorf("writing attachment %s: %w", att.FileName, err)
		}
		aw.Close()
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("closing mail writer: %w", err)
	}
	return buf.Bytes(), messageID, nil
}

func sanitizeFilename(name string) string {
	name = strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' || r == '/' || r == '\\' {
			return '_'
		}
		return r
	}, name)
	if name == "" {
		return "attachment"
	}
	return name
}
