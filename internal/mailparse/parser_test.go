package mailparse

import (
	"strings"
	"testing"
)

const crlf = "\r\n"

func plainMessage(messageID string) []byte {
	lines := []string{
		"From: Sender <sender@x>",
		"To: Alice <alice@x>, bob@x",
		"Subject: Hi",
		"Date: Mon, 02 Jan 2006 15:04:05 -0700",
	}
	if messageID != "" {
		lines = append(lines, "Message-Id: <"+messageID+">")
	}
	lines = append(lines,
		"Content-Type: text/plain; charset=utf-8",
		"",
		"hello there",
		"",
	)
	return []byte(strings.Join(lines, crlf))
}

func TestParsePlainText(t *testing.T) {
	parsed, err := Parse(plainMessage("abc@x"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if parsed.MessageID != "abc@x" {
		t.Errorf("MessageID = %q, want %q", parsed.MessageID, "abc@x")
	}
	if parsed.From != "sender@x" {
		t.Errorf("From = %q, want %q", parsed.From, "sender@x")
	}
	if len(parsed.To) != 2 || parsed.To[0] != "alice@x" || parsed.To[1] != "bob@x" {
		t.Errorf("To = %v, want [alice@x bob@x]", parsed.To)
	}
	if parsed.Subject != "Hi" {
		t.Errorf("Subject = %q, want %q", parsed.Subject, "Hi")
	}
	if !strings.Contains(parsed.TextBody, "hello there") {
		t.Errorf("TextBody = %q, want it to contain %q", parsed.TextBody, "hello there")
	}
	if parsed.Date.IsZero() {
		t.Error("Date not parsed")
	}
}

func TestParseMultipartAlternative(t *testing.T) {
	raw := []byte(strings.Join([]string{
		"From: sender@x",
		"To: alice@x",
		"Subject: Both bodies",
		"MIME-Version: 1.0",
		`Content-Type: multipart/alternative; boundary="bnd"`,
		"",
		"--bnd",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"plain part",
		"--bnd",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>html part</p>",
		"--bnd--",
		"",
	}, crlf))

	parsed, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !strings.Contains(parsed.TextBody, "plain part") {
		t.Errorf("TextBody = %q, want plain part", parsed.TextBody)
	}
	if !strings.Contains(parsed.HTMLBody, "html part") {
		t.Errorf("HTMLBody = %q, want html part", parsed.HTMLBody)
	}
}

func TestParseMissingMessageID(t *testing.T) {
	parsed, err := Parse(plainMessage(""))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if parsed.MessageID != "" {
		t.Errorf("MessageID = %q, want empty for a message without the header", parsed.MessageID)
	}
}

func TestFallbackIDDeterministic(t *testing.T) {
	raw := plainMessage("")
	first := FallbackID(raw)
	second := FallbackID(raw)
	if first != second {
		t.Errorf("FallbackID not stable: %q vs %q", first, second)
	}
	if first == FallbackID([]byte("different content")) {
		t.Error("FallbackID collides for different content")
	}
	if !strings.Contains(first, "@") {
		t.Errorf("FallbackID %q does not look like a message id", first)
	}
}

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Alice@X", "alice@x"},
		{"  bob@x  ", "bob@x"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeAddress(tt.input); got != tt.expected {
			t.Errorf("NormalizeAddress(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
