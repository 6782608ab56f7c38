// Package relay delivers outbound mail through an upstream SMTP relay and
// records a sent-folder copy after the relay accepts it.
package relay

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"github.io/infrasutra/mailcore/internal/mailparse"
	"github.io/infrasutra/mailcore/internal/store"
)

// Transport pushes a raw message to the upstream relay.
type Transport interface {
	Transmit(from string, to []string, raw []byte) error
}

type smtpTransport struct {
	addr     string
	username string
	password string
}

// NewSMTPTransport builds the production transport: a plaintext SMTP client
// to the configured relay, with PLAIN auth when credentials are set.
func NewSMTPTransport(host string, port int, username, password string) Transport {
	return &smtpTransport{
		addr:     fmt.Sprintf("%s:%d", host, port),
		username: username,
		password: password,
	}
}

func (t *smtpTransport) Transmit(from string, to []string, raw []byte) error {
	client, err := smtp.Dial(t.addr)
	if err != nil {
		return fmt.Errorf("dial relay %s: %w", t.addr, err)
	}
	defer client.Close()

	if t.username != "" {
		if err := client.Auth(sasl.NewPlainClient("", t.username, t.password)); err != nil {
			return fmt.Errorf("authenticate to relay: %w", err)
		}
	}
	if err := client.SendMail(from, to, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("relay message: %w", err)
	}
	return client.Quit()
}

type ComposeRequest struct {
	Owner   string
	From    string
	To      []string
	Subject string
	Text    string
	HTML    string
}

type Sender struct {
	store     *store.Store
	transport Transport
	logger    *slog.Logger
}

func NewSender(st *store.Store, transport Transport, logger *slog.Logger) *Sender {
	return &Sender{store: st, transport: transport, logger: logger}
}

// Send relays the composed message, then records the sent copy. The relay
// call blocks, and a relay failure leaves no partial state. The relay/record
// pair is not transactional across the network hop; a crash between the two
// loses only the local copy.
func (s *Sender) Send(ctx context.Context, req ComposeRequest) error {
	raw := buildMessage(req.From, req.To, req.Subject, req.Text, req.HTML)
	if err := s.transport.Transmit(req.From, req.To, raw); err != nil {
		return err
	}

	message := store.Message{
		MessageID:  fmt.Sprintf("%s@mailcore", uuid.NewString()),
		From:       mailparse.NormalizeAddress(req.From),
		To:         req.To,
		Subject:    req.Subject,
		TextBody:   req.Text,
		HTMLBody:   req.HTML,
		Folder:     store.FolderSent,
		Owner:      req.Owner,
		IsRead:     true,
		ReceivedAt: time.Now(),
	}
	if _, err := s.store.InsertMessage(ctx, message); err != nil {
		return fmt.Errorf("record sent copy: %w", err)
	}
	s.logger.Info("message relayed", "from", req.From, "recipients", len(req.To))
	return nil
}

func buildMessage(from string, to []string, subject, textBody, htmlBody string) []byte {
	boundary := fmt.Sprintf("mailcore-%d", time.Now().UnixNano())
	from = sanitizeHeader(from)
	subject = sanitizeHeader(subject)
	cleanTo := make([]string, 0, len(to))
	for _, recipient := range to {
		cleanTo = append(cleanTo, sanitizeHeader(recipient))
	}
	headers := []string{
		fmt.Sprintf("From: %s", from),
		fmt.Sprintf("To: %s", strings.Join(cleanTo, ", ")),
		fmt.Sprintf("Subject: %s", subject),
		fmt.Sprintf("Date: %s", time.Now().Format(time.RFC1123Z)),
		fmt.Sprintf("Message-Id: <%s@mailcore>", uuid.NewString()),
		"MIME-Version: 1.0",
	}

	if textBody != "" && htmlBody != "" {
		headers = append(headers, fmt.Sprintf("Content-Type: multipart/alternative; boundary=%q", boundary))
		body := []string{
			"",
			fmt.Sprintf("--%s", boundary),
			"Content-Type: text/plain; charset=utf-8",
			"",
			textBody,
			fmt.Sprintf("--%s", boundary),
			"Content-Type: text/html; charset=utf-8",
			"",
			htmlBody,
			fmt.Sprintf("--%s--", boundary),
			"",
		}
		return []byte(strings.Join(append(headers, body...), "\r\n"))
	}

	contentType := "text/plain"
	body := textBody
	if body == "" {
		contentType = "text/html"
		body = htmlBody
	}
	headers = append(headers, fmt.Sprintf("Content-Type: %s; charset=utf-8", contentType))
	return []byte(strings.Join(append(headers, "", body, ""), "\r\n"))
}

func sanitizeHeader(value string) string {
	cleaned := strings.ReplaceAll(value, "\r", "")
	cleaned = strings.ReplaceAll(cleaned, "\n", "")
	return strings.TrimSpace(cleaned)
}
