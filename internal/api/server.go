// Package api serves folder-scoped mailbox reads, counts, search, compose,
// and flag toggles to bearer-authenticated callers.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.io/infrasutra/mailcore/internal/auth"
	"github.io/infrasutra/mailcore/internal/pagination"
	"github.io/infrasutra/mailcore/internal/relay"
	"github.io/infrasutra/mailcore/internal/store"
)

// mailboxSecretHeader carries the caller's external mailbox credential for
// opportunistic reconciliation. It is used for one sync and never persisted.
const mailboxSecretHeader = "X-Mailbox-Secret"

// Sender relays a composed message and records its sent copy.
type Sender interface {
	Send(ctx context.Context, req relay.ComposeRequest) error
}

// Reconciler pulls an external mailbox into the store before inbox reads.
type Reconciler interface {
	Sync(ctx context.Context, address, secret string) error
}

type Server struct {
	store      *store.Store
	verifier   *auth.Verifier
	sender     Sender
	reconciler Reconciler
	logger     *slog.Logger
	mux        *http.ServeMux
}

func NewServer(st *store.Store, verifier *auth.Verifier, sender Sender, reconciler Reconciler, logger *slog.Logger) *Server {
	server := &Server{
		store:      st,
		verifier:   verifier,
		sender:     sender,
		reconciler: reconciler,
		logger:     logger,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/inbox", server.handleInbox)
	mux.HandleFunc("/api/sent", server.folderHandler(store.FolderSent))
	mux.HandleFunc("/api/spam", server.folderHandler(store.FolderSpam))
	mux.HandleFunc("/api/trash", server.folderHandler(store.FolderTrash))
	mux.HandleFunc("/api/important", server.handleImportant)
	mux.HandleFunc("/api/counts", server.handleCounts)
	mux.HandleFunc("/api/search", server.handleSearch)
	mux.HandleFunc("/api/send", server.handleSend)
	mux.HandleFunc("/api/drafts", server.handleDrafts)
	mux.HandleFunc("/api/messages/", server.handleMessageFlags)
	mux.HandleFunc("/health", server.handleHealth)
	server.mux = mux
	return server
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) identity(w http.ResponseWriter, r *http.Request) (string, bool) {
	identity, err := s.verifier.Identify(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", false
	}
	return identity, true
}

// handleInbox reconciles the caller's external mailbox best-effort before the
// read. A sync failure is logged and the read serves whatever is durable.
func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	identity, ok := s.identity(w, r)
	if !ok {
		return
	}

	if s.reconciler != nil {
		if secret := r.Header.Get(mailboxSecretHeader); secret != "" {
			if err := s.reconciler.Sync(r.Context(), identity, secret); err != nil {
				s.logger.Warn("mailbox reconciliation failed", "identity", identity, "error", err)
			}
		}
	}

	s.respondFolder(w, r, identity, store.FolderInbox)
}

func (s *Server) folderHandler(folder string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		identity, ok := s.identity(w, r)
		if !ok {
			return
		}
		s.respondFolder(w, r, identity, folder)
	}
}

func (s *Server) respondFolder(w http.ResponseWriter, r *http.Request, identity, folder string) {
	params := pagination.GetParams(r.URL.Query())
	messages, err := s.store.ListFolder(r.Context(), identity, folder, params.Limit, params.Offset)
	if err != nil {
		s.logger.Error("list folder", "folder", folder, "error", err)
		http.Error(w, "unable to list messages", http.StatusInternalServerError)
		return
	}
	s.respondMessages(w, messages)
}

func (s *Server) handleImportant(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	identity, ok := s.identity(w, r)
	if !ok {
		return
	}
	params := pagination.GetParams(r.URL.Query())
	messages, err := s.store.ListStarred(r.Context(), identity, params.Limit, params.Offset)
	if err != nil {
		s.logger.Error("list starred", "error", err)
		http.Error(w, "unable to list messages", http.StatusInternalServerError)
		return
	}
	s.respondMessages(w, messages)
}

func (s *Server) handleCounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	identity, ok := s.identity(w, r)
	if !ok {
		return
	}
	counts, err := s.store.CountFolders(r.Context(), identity)
	if err != nil {
		s.logger.Error("count folders", "error", err)
		http.Error(w, "unable to count folders", http.StatusInternalServerError)
		return
	}
	s.respondJSON(w, http.StatusOK, counts)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	identity, ok := s.identity(w, r)
	if !ok {
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		http.Error(w, "search text required", http.StatusBadRequest)
		return
	}
	params := pagination.GetParams(r.URL.Query())
	messages, err := s.store.Search(r.Context(), identity, query, params.Limit)
	if err != nil {
		s.logger.Error("search messages", "error", err)
		http.Error(w, "unable to search messages", http.StatusInternalServerError)
		return
	}
	s.respondMessages(w, messages)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	identity, ok := s.identity(w, r)
	if !ok {
		return
	}

	var payload sendRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	recipients := normalizeRecipients(payload.To)
	if len(recipients) == 0 {
		http.Error(w, "at least one recipient required", http.StatusBadRequest)
		return
	}
	subject := strings.TrimSpace(payload.Subject)
	textBody := strings.TrimSpace(payload.Text)
	htmlBody := strings.TrimSpace(payload.HTML)
	if textBody == "" && htmlBody == "" {
		http.Error(w, "message body required", http.StatusBadRequest)
		return
	}

	err := s.sender.Send(r.Context(), relay.ComposeRequest{
		Owner:   identity,
		From:    identity,
		To:      recipients,
		Subject: subject,
		Text:    textBody,
		HTML:    htmlBody,
	})
	if err != nil {
		s.logger.Error("send mail", "from", identity, "error", err)
		http.Error(w, "unable to send mail", http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDrafts(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identity(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		params := pagination.GetParams(r.URL.Query())
		drafts, err := s.store.ListDrafts(r.Context(), identity, params.Limit)
		if err != nil {
			s.logger.Error("list drafts", "error", err)
			http.Error(w, "unable to list drafts", http.StatusInternalServerError)
			return
		}
		response := make([]draftJSON, 0, len(drafts))
		for _, draft := range drafts {
			response = append(response, toDraftJSON(draft))
		}
		s.respondJSON(w, http.StatusOK, response)
	case http.MethodPost:
		var payload draftRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "invalid JSON", http.StatusBadRequest)
			return
		}
		id, err := s.store.SaveDraft(r.Context(), store.Draft{
			Owner:     identity,
			To:        strings.TrimSpace(payload.To),
			Subject:   strings.TrimSpace(payload.Subject),
			Body:      payload.Body,
			UpdatedAt: time.Now(),
		})
		if err != nil {
			s.logger.Error("save draft", "error", err)
			http.Error(w, "unable to save draft", http.StatusInternalServerError)
			return
		}
		s.respondJSON(w, http.StatusCreated, map[string]int64{"id": id})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleMessageFlags serves POST /api/messages/{id}/read and /star.
func (s *Server) handleMessageFlags(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	identity, ok := s.identity(w, r)
	if !ok {
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/messages/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 {
		http.NotFound(w, r)
		return
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		http.Error(w, "invalid message id", http.StatusBadRequest)
		return
	}

	var payload struct {
		Value bool `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	var updated bool
	switch parts[1] {
	case "read":
		updated, err = s.store.SetRead(r.Context(), identity, id, payload.Value)
	case "star":
		updated, err = s.store.SetStarred(r.Context(), identity, id, payload.Value)
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.logger.Error("update flag", "id", id, "error", err)
		http.Error(w, "unable to update message", http.StatusInternalServerError)
		return
	}
	if !updated {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) respondMessages(w http.ResponseWriter, messages []store.Message) {
	response := make([]messageJSON, 0, len(messages))
	for _, message := range messages {
		response = append(response, toMessageJSON(message))
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type messageJSON struct {
	ID         int64    `json:"id"`
	MessageID  string   `json:"messageId"`
	From       string   `json:"from"`
	To         []string `json:"to"`
	Subject    string   `json:"subject"`
	Text       string   `json:"text"`
	HTML       string   `json:"html"`
	Folder     string   `json:"folder"`
	IsRead     bool     `json:"isRead"`
	IsStarred  bool     `json:"isStarred"`
	ReceivedAt string   `json:"receivedAt"`
}

type draftJSON struct {
	ID        int64  `json:"id"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	UpdatedAt string `json:"updatedAt"`
}

type sendRequest struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
	HTML    string   `json:"html"`
}

type draftRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func toMessageJSON(message store.Message) messageJSON {
	to := message.To
	if to == nil {
		to = []string{}
	}
	return messageJSON{
		ID:         message.ID,
		MessageID:  message.MessageID,
		From:       message.From,
		To:         to,
		Subject:    message.Subject,
		Text:       message.TextBody,
		HTML:       message.HTMLBody,
		Folder:     message.Folder,
		IsRead:     message.IsRead,
		IsStarred:  message.IsStarred,
		ReceivedAt: message.ReceivedAt.UTC().Format(time.RFC3339),
	}
}

func toDraftJSON(draft store.Draft) draftJSON {
	return draftJSON{
		ID:        draft.ID,
		To:        draft.To,
		Subject:   draft.Subject,
		Body:      draft.Body,
		UpdatedAt: draft.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func normalizeRecipients(recipients []string) []string {
	seen := map[string]struct{}{}
	result := []string{}
	for _, recipient := range recipients {
		trimmed := strings.ToLower(strings.TrimSpace(recipient))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}
