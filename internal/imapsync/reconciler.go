// Package imapsync pulls an external IMAP mailbox into the local store. The
// sync is one-directional and additive: nothing local is ever deleted when a
// message disappears upstream, and every failure degrades to serving whatever
// is already durable.
package imapsync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.io/infrasutra/mailcore/internal/mailparse"
	"github.io/infrasutra/mailcore/internal/store"
)

type Reconciler struct {
	store  *store.Store
	addr   string
	useTLS bool
	logger *slog.Logger
}

func New(st *store.Store, host string, port int, useTLS bool, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:  st,
		addr:   fmt.Sprintf("%s:%d", host, port),
		useTLS: useTLS,
		logger: logger,
	}
}

// Sync logs in as the given address, fetches the entire upstream inbox, and
// upserts each message under that address. The credential is held only for
// the duration of the session. There is no incremental cursor; the idempotent
// insert makes the full re-fetch safe to repeat.
func (r *Reconciler) Sync(ctx context.Context, address, secret string) error {
	client, err := r.connect(address, secret)
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return fmt.Errorf("selecting INBOX: %w", err)
	}

	// Empty criteria matches everything.
	searchData, err := client.UIDSearch(&imap.SearchCriteria{}, nil).Wait()
	if err != nil {
		return fmt.Errorf("searching messages: %w", err)
	}
	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil
	}

	uidSet := imap.UIDSetNum(uids...)
	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := client.Fetch(uidSet, fetchOpts)
	defer fetchCmd.Close()

	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			r.logger.Warn("collect fetched message", "mailbox", address, "error", err)
			continue
		}
		raw := buf.FindBodySection(bodySection)
		if raw == nil {
			continue
		}
		if err := r.ingest(ctx, address, raw); err != nil {
			r.logger.Warn("ingest fetched message", "mailbox", address, "uid", uint32(buf.UID), "error", err)
		}
	}

	if err := fetchCmd.Close(); err != nil {
		return fmt.Errorf("fetching messages: %w", err)
	}
	return nil
}

func (r *Reconciler) connect(address, secret string) (*imapclient.Client, error) {
	var client *imapclient.Client
	var err error
	if r.useTLS {
		client, err = imapclient.DialTLS(r.addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(r.addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", r.addr, err)
	}

	if err := client.Login(address, secret).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("authenticating %s: %w", address, err)
	}
	return client, nil
}

// ingest parses one raw message and upserts it under the synced mailbox.
// Repeat fetches of the same message are no-ops.
func (r *Reconciler) ingest(ctx context.Context, owner string, raw []byte) error {
	parsed, err := mailparse.Parse(raw)
	if err != nil {
		return err
	}

	messageID := parsed.MessageID
	if messageID == "" {
		messageID = mailparse.FallbackID(raw)
	}
	receivedAt := parsed.Date
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	message := store.Message{
		MessageID:  messageID,
		From:       parsed.From,
		To:         parsed.To,
		Subject:    parsed.Subject,
		TextBody:   parsed.TextBody,
		HTMLBody:   parsed.HTMLBody,
		Folder:     store.FolderInbox,
		Owner:      mailparse.NormalizeAddress(owner),
		ReceivedAt: receivedAt,
	}
	_, err = r.store.InsertMessage(ctx, message)
	return err
}
