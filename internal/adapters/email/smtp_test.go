package email

import (
	"context"
	"net"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/spec-kit/integration-service/internal/config"
)

// fakeRelay accepts one SMTP transaction and drops the connection when the
// client sends QUIT.
func fakeRelay(t *testing.T) (host, port string, data <-chan string) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	received := make(chan string, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
		text := textproto.NewConn(conn)
		_ = text.PrintfLine("220 relay.test ESMTP")
		for {
			line, err := text.ReadLine()
			if err != nil {
				return
			}
			switch verb := strings.ToUpper(strings.SplitN(line, " ", 2)[0]); verb {
			case "EHLO", "HELO":
				_ = text.PrintfLine("250 relay.test")
			case "MAIL", "RCPT":
				_ = text.PrintfLine("250 OK")
			case "DATA":
				_ = text.PrintfLine("354 go ahead")
				body, err := text.ReadDotBytes()
				if err != nil {
					return
				}
				received <- string(body)
				_ = text.PrintfLine("250 queued")
			case "QUIT":
				return
			default:
				_ = text.PrintfLine("502 not implemented")
			}
		}
	}()

	host, port, _ = net.SplitHostPort(listener.Addr().String())
	return host, port, received
}

func TestSMTPSenderIgnoresQuitFailureAfterAcceptedData(t *testing.T) {
	host, port, data := fakeRelay(t)
	sender := NewSMTPSender(config.EmailConfig{Host: host, Port: port})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg := []byte("Subject: finding\r\n\r\nCVE-2026-1234 on api-gateway\r\n")
	if err := sender.Send(ctx, "security@example.com", []string{"oncall@example.com"}, msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case body := <-data:
		if !strings.Contains(body, "CVE-2026-1234") {
			t.Errorf("relay received %q", body)
		}
	default:
		t.Fatal("relay did not receive the message")
	}
}
