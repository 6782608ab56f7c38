package smtpserver

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.io/infrasutra/mailcore/internal/store"
)

func newTestSession(t *testing.T) (*session, *store.Store) {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	if err := st.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensuring schema: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &session{backend: &backend{store: st, logger: logger}}, st
}

func rawMessage(messageID, subject, body string) string {
	lines := []string{
		"From: sender@x",
		"To: alice@x",
		"Subject: " + subject,
	}
	if messageID != "" {
		lines = append(lines, "Message-Id: <"+messageID+">")
	}
	lines = append(lines,
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
		"",
	)
	return strings.Join(lines, "\r\n")
}

func deliver(t *testing.T, s *session, from string, to []string, raw string) error {
	t.Helper()
	if err := s.Mail(from, nil); err != nil {
		t.Fatalf("MAIL FROM: %v", err)
	}
	for _, rcpt := range to {
		if err := s.Rcpt(rcpt, nil); err != nil {
			t.Fatalf("RCPT TO: %v", err)
		}
	}
	err := s.Data(strings.NewReader(raw))
	s.Reset()
	return err
}

func TestDuplicateDeliveryStoresOneRow(t *testing.T) {
	s, st := newTestSession(t)
	raw := rawMessage("abc@x", "Hi", "hello")

	for i := 0; i < 2; i++ {
		if err := deliver(t, s, "sender@x", []string{"alice@x"}, raw); err != nil {
			t.Fatalf("delivery %d: %v", i+1, err)
		}
	}

	messages, err := st.ListFolder(context.Background(), "alice@x", store.FolderInbox, 10, 0)
	if err != nil {
		t.Fatalf("listing inbox: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("got %d inbox rows after duplicate delivery, want 1", len(messages))
	}
	if messages[0].Owner != "alice@x" || messages[0].Subject != "Hi" {
		t.Errorf("stored row = owner %q subject %q", messages[0].Owner, messages[0].Subject)
	}
}

func TestMultiRecipientFanOut(t *testing.T) {
	s, st := newTestSession(t)
	raw := rawMessage("fan@x", "All hands", "meeting at noon")

	if err := deliver(t, s, "sender@x", []string{"alice@x", "bob@x"}, raw); err != nil {
		t.Fatalf("delivery: %v", err)
	}

	ctx := context.Background()
	for _, owner := range []string{"alice@x", "bob@x"} {
		messages, err := st.ListFolder(ctx, owner, store.FolderInbox, 10, 0)
		if err != nil {
			t.Fatalf("listing inbox for %s: %v", owner, err)
		}
		if len(messages) != 1 {
			t.Errorf("%s has %d inbox rows, want 1", owner, len(messages))
		}
	}
}

func TestEmptyBodyRejected(t *testing.T) {
	s, st := newTestSession(t)
	raw := strings.Join([]string{
		"From: sender@x",
		"To: alice@x",
		"Subject: empty",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"",
	}, "\r\n")

	if err := deliver(t, s, "sender@x", []string{"alice@x"}, raw); err == nil {
		t.Fatal("empty body accepted, want transaction rejection")
	}

	messages, err := st.ListFolder(context.Background(), "alice@x", store.FolderInbox, 10, 0)
	if err != nil {
		t.Fatalf("listing inbox: %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("rejected message was persisted (%d rows)", len(messages))
	}
}

func TestMissingMessageIDStillDeduplicates(t *testing.T) {
	s, st := newTestSession(t)
	raw := rawMessage("", "No id", "still deduplicated")

	for i := 0; i < 2; i++ {
		if err := deliver(t, s, "sender@x", []string{"alice@x"}, raw); err != nil {
			t.Fatalf("delivery %d: %v", i+1, err)
		}
	}

	messages, err := st.ListFolder(context.Background(), "alice@x", store.FolderInbox, 10, 0)
	if err != nil {
		t.Fatalf("listing inbox: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("got %d rows, want 1 (content-derived id should deduplicate)", len(messages))
	}
	if messages[0].MessageID == "" {
		t.Error("stored row has empty message id")
	}
}

func TestEnvelopeNormalization(t *testing.T) {
	s, st := newTestSession(t)
	raw := rawMessage("norm@x", "Case", "body")

	if err := deliver(t, s, "Sender@X", []string{"ALICE@X"}, raw); err != nil {
		t.Fatalf("delivery: %v", err)
	}

	messages, err := st.ListFolder(context.Background(), "alice@x", store.FolderInbox, 10, 0)
	if err != nil {
		t.Fatalf("listing inbox: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("lower-cased owner read returned %d rows, want 1", len(messages))
	}
}
