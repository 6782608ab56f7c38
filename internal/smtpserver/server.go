// Package smtpserver accepts inbound mail on a plaintext SMTP port. The
// listener sits behind a trusted boundary and requires no authentication or
// TLS; every accepted transaction ends in a store write or a rejection.
package smtpserver

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/emersion/go-smtp"

	"github.io/infrasutra/mailcore/internal/mailparse"
	"github.io/infrasutra/mailcore/internal/store"
)

type Server struct {
	smtp   *smtp.Server
	logger *slog.Logger
}

func New(st *store.Store, logger *slog.Logger, addr, domain string) *Server {
	backend := &backend{
		store:  st,
		logger: logger,
	}
	server := smtp.NewServer(backend)
	server.Addr = addr
	server.Domain = domain
	server.ReadTimeout = 15 * time.Second
	server.WriteTimeout = 15 * time.Second
	server.MaxRecipients = 100
	server.MaxMessageBytes = 25 << 20

	return &Server{smtp: server, logger: logger}
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("smtp server listening", "addr", s.smtp.Addr)
	return s.smtp.ListenAndServe()
}

func (s *Server) Close() error {
	return s.smtp.Close()
}

type backend struct {
	store  *store.Store
	logger *slog.Logger
}

func (b *backend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &session{backend: b}, nil
}

type session struct {
	backend *backend
	from    string
	to      []string
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	s.from = mailparse.NormalizeAddress(from)
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.to = append(s.to, mailparse.NormalizeAddress(to))
	return nil
}

// Data runs the staged pipeline for one transaction: read the full body,
// parse, resolve owners, persist. A failure at any stage rejects the
// transaction; the listener itself keeps accepting sessions.
func (s *session) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	parsed, err := mailparse.Parse(data)
	if err != nil {
		s.backend.logger.Warn("reject unparseable message", "from", s.from, "error", err)
		return &smtp.SMTPError{
			Code:         554,
			EnhancedCode: smtp.EnhancedCode{5, 6, 0},
			Message:      "message could not be parsed",
		}
	}
	if parsed.TextBody == "" && parsed.HTMLBody == "" {
		s.backend.logger.Warn("reject message without body", "from", s.from)
		return &smtp.SMTPError{
			Code:         554,
			EnhancedCode: smtp.EnhancedCode{5, 6, 0},
			Message:      "message body required",
		}
	}

	from := parsed.From
	if from == "" {
		from = s.from
	}
	messageID := parsed.MessageID
	if messageID == "" {
		messageID = mailparse.FallbackID(data)
	}
	recipients := s.to
	if len(recipients) == 0 {
		recipients = parsed.To
	}

	// One inbox copy per recipient; the dedup key makes redelivery and
	// concurrent duplicates collapse to a single row per owner.
	ctx := context.Background()
	now := time.Now()
	for _, recipient := range recipients {
		message := store.Message{
			MessageID:  messageID,
			From:       from,
			To:         parsed.To,
			Subject:    parsed.Subject,
			TextBody:   parsed.TextBody,
			HTMLBody:   parsed.HTMLBody,
			Folder:     store.FolderInbox,
			Owner:      recipient,
			ReceivedAt: now,
		}
		inserted, err := s.backend.store.InsertMessage(ctx, message)
		if err != nil {
			s.backend.logger.Error("store inbound message", "owner", recipient, "error", err)
			return &smtp.SMTPError{
				Code:         451,
				EnhancedCode: smtp.EnhancedCode{4, 3, 0},
				Message:      "temporary storage failure",
			}
		}
		if !inserted {
			s.backend.logger.Debug("duplicate delivery ignored", "messageId", messageID, "owner", recipient)
		}
	}

	return nil
}

func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *session) Logout() error {
	return nil
}
