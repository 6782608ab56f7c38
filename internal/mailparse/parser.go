// Package mailparse turns raw RFC 822 messages into the structured fields the
// store persists. Both the inbound listener and the mailbox reconciler feed it.
package mailparse

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

type Parsed struct {
	MessageID string
	From      string
	To        []string
	Subject   string
	TextBody  string
	HTMLBody  string
	Date      time.Time
}

// Parse reads headers and inline bodies out of a raw message. Attachments are
// skipped; only text/plain and text/html parts are collected.
func Parse(raw []byte) (*Parsed, error) {
	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}
	defer reader.Close()

	parsed := &Parsed{}

	if subject, err := reader.Header.Subject(); err == nil {
		parsed.Subject = subject
	}
	if fromList, err := reader.Header.AddressList("From"); err == nil && len(fromList) > 0 {
		parsed.From = NormalizeAddress(fromList[0].Address)
	}
	if toList, err := reader.Header.AddressList("To"); err == nil {
		for _, addr := range toList {
			if normalized := NormalizeAddress(addr.Address); normalized != "" {
				parsed.To = append(parsed.To, normalized)
			}
		}
	}
	if id, err := reader.Header.MessageID(); err == nil && id != "" {
		parsed.MessageID = id
	}
	if date, err := reader.Header.Date(); err == nil {
		parsed.Date = date
	}

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return parsed, fmt.Errorf("read part: %w", err)
		}

		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		mediaType, _, _ := header.ContentType()
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch {
		case strings.HasPrefix(mediaType, "text/plain") || mediaType == "":
			if parsed.TextBody == "" {
				parsed.TextBody = string(body)
			} else {
				parsed.TextBody += "\n" + string(body)
			}
		case strings.HasPrefix(mediaType, "text/html"):
			if parsed.HTMLBody == "" {
				parsed.HTMLBody = string(body)
			} else {
				parsed.HTMLBody += "\n" + string(body)
			}
		}
	}

	return parsed, nil
}

// FallbackID derives a stable identifier from message content, so re-delivery
// of a message without a Message-Id header still deduplicates.
func FallbackID(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:16]) + "@mailcore"
}

func NormalizeAddress(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
