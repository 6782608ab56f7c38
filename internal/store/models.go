package store

import "time"

const (
	FolderInbox = "INBOX"
	FolderSent  = "SENT"
	FolderSpam  = "SPAM"
	FolderTrash = "TRASH"
)

// Message is one mailbox-view copy of a mail. The same wire message may be
// stored once per owner (each recipient's inbox copy, the sender's sent copy);
// the (MessageID, Folder, Owner) triple is unique.
type Message struct {
	ID         int64
	MessageID  string
	From       string
	To         []string
	Subject    string
	TextBody   string
	HTMLBody   string
	Folder     string
	Owner      string
	IsRead     bool
	IsStarred  bool
	IsSpam     bool
	ReceivedAt time.Time
}

// Draft lives outside the message dedup invariant and is keyed by owner.
type Draft struct {
	ID        int64
	Owner     string
	To        string
	Subject   string
	Body      string
	UpdatedAt time.Time
}

// FolderCounts aggregates unread counts per folder plus the draft total.
type FolderCounts struct {
	Inbox     int `json:"inbox"`
	Important int `json:"important"`
	Spam      int `json:"spam"`
	Trash     int `json:"trash"`
	Draft     int `json:"draft"`
}
