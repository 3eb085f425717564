package model

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"
)

// Priority of a broadcast and of the per-recipient messages it creates.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ParsePriority maps a raw value onto a known priority. Unknown or empty
// values fall back to normal; priority is not part of request validation.
func ParsePriority(raw string) Priority {
	switch Priority(raw) {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return Priority(raw)
	default:
		return PriorityNormal
	}
}

// QualifiesForEmail reports whether the priority escalates to email delivery.
func (p Priority) QualifiesForEmail() bool {
	return p == PriorityHigh || p == PriorityUrgent
}

// Scope describes how the recipient set was targeted.
type Scope string

const (
	ScopeAll    Scope = "all"
	ScopeCustom Scope = "custom"
)

// EmailStatus is the persisted state of a broadcast's email escalation.
type EmailStatus string

const (
	EmailSkipped EmailStatus = "skipped"
	EmailQueued  EmailStatus = "queued"
	EmailSent    EmailStatus = "sent"
	EmailPartial EmailStatus = "partial"
	EmailFailed  EmailStatus = "failed"
)

// Snapshot caps bound the audit size of a stored broadcast regardless of how
// many recipients it targeted.
const (
	SnapshotIDCap    = 200
	SnapshotErrorCap = 100
)

// EmailDeliveryState is embedded in every broadcast row and advanced by the
// flusher. Status "sent" implies no missing emails and no failed chunks;
// "partial" implies at least one of those is non-empty. CompletedAt is set
// only when a flush pass settles the row, never by the initial enqueue.
type EmailDeliveryState struct {
	Triggered           bool        `json:"triggered"`
	AttemptedRecipients int         `json:"attempted_recipients"`
	SuccessfulChunks    int         `json:"successful_chunks"`
	FailedChunks        int         `json:"failed_chunks"`
	FailedRecipientIDs  []int64     `json:"failed_recipient_ids"`
	FailedIDsTruncated  bool        `json:"failed_recipient_ids_truncated,omitempty"`
	MissingEmailUserIDs []int64     `json:"missing_email_user_ids"`
	MissingIDsTruncated bool        `json:"missing_email_user_ids_truncated,omitempty"`
	Status              EmailStatus `json:"status"`
	Errors              []string    `json:"errors"`
	ErrorsTruncated     bool        `json:"errors_truncated,omitempty"`
	CompletedAt         *time.Time  `json:"completed_at"`
}

// NewEmailDeliveryState returns the initial state: not triggered, skipped.
func NewEmailDeliveryState() EmailDeliveryState {
	return EmailDeliveryState{Status: EmailSkipped}
}

// AddError appends msg to the ordered error set, dropping duplicates.
func (s *EmailDeliveryState) AddError(msg string) {
	if msg == "" {
		return
	}
	for _, e := range s.Errors {
		if e == msg {
			return
		}
	}
	s.Errors = append(s.Errors, msg)
}

// Settled reports whether the state no longer awaits a flush.
func (s *EmailDeliveryState) Settled() bool {
	return s.Status == EmailSent || s.Status == EmailSkipped
}

// Truncate caps the state's collections before serialization and normalizes
// nil slices to empty ones. Truncation markers are sticky: once data has been
// dropped the marker stays set.
func (s *EmailDeliveryState) Truncate() {
	var t bool
	if s.FailedRecipientIDs, t = CapInt64s(s.FailedRecipientIDs, SnapshotErrorCap); t {
		s.FailedIDsTruncated = true
	}
	if s.MissingEmailUserIDs, t = CapInt64s(s.MissingEmailUserIDs, SnapshotErrorCap); t {
		s.MissingIDsTruncated = true
	}
	if s.Errors, t = CapStrings(s.Errors, SnapshotErrorCap); t {
		s.ErrorsTruncated = true
	}
	if s.FailedRecipientIDs == nil {
		s.FailedRecipientIDs = []int64{}
	}
	if s.MissingEmailUserIDs == nil {
		s.MissingEmailUserIDs = []int64{}
	}
	if s.Errors == nil {
		s.Errors = []string{}
	}
}

// Broadcast is one durable row per admin-triggered send attempt. It references
// the per-recipient messages it created but never owns them.
type Broadcast struct {
	ID        int64
	CreatedAt time.Time
	AdminID   int64

	Title    string
	Content  string
	Priority Priority

	Scope    Scope
	Criteria *TargetCriteria

	TargetCount int
	SentCount   int

	InvalidIDs             []int64
	InvalidIDsTruncated    bool
	FailedUserIDs          []int64
	FailedUserIDsTruncated bool
	MessageIDsSnapshot     []int64
	MessageIDsTruncated    bool
	MessageIDMapSnapshot   map[int64]int64
	MessageIDMapTruncated  bool

	// ContentHash is sha256(title||content): it identifies the broadcast's
	// messages when id tracking is incomplete, and collides for two
	// broadcasts with identical text.
	ContentHash string

	Email EmailDeliveryState

	AuditLogID   *int64
	RequestLogID *int64
	ErrorLogIDs  []int64
	RequestID    string
}

// RecipientUserIDs returns the user ids recorded in the message-id map
// snapshot, or nil when the snapshot is empty.
func (b *Broadcast) RecipientUserIDs() []int64 {
	if len(b.MessageIDMapSnapshot) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(b.MessageIDMapSnapshot))
	for id := range b.MessageIDMapSnapshot {
		ids = append(ids, id)
	}
	return ids
}

// ContentHash computes the hex sha256 over title||content. It depends only on
// the text, not on recipients: deterministic for a given broadcast body.
func ContentHash(title, content string) string {
	sum := sha256.Sum256([]byte(title + content))
	return hex.EncodeToString(sum[:])
}

// CapInt64s truncates ids to at most n entries, reporting whether anything
// was dropped. The input slice is never mutated.
func CapInt64s(ids []int64, n int) ([]int64, bool) {
	if len(ids) <= n {
		return ids, false
	}
	out := make([]int64, n)
	copy(out, ids[:n])
	return out, true
}

// CapStrings truncates values to at most n entries, reporting whether
// anything was dropped.
func CapStrings(values []string, n int) ([]string, bool) {
	if len(values) <= n {
		return values, false
	}
	out := make([]string, n)
	copy(out, values[:n])
	return out, true
}

// CapIDMap samples at most n entries from m, keeping the lowest user ids so
// the sample is deterministic. Reports whether anything was dropped.
func CapIDMap(m map[int64]int64, n int) (map[int64]int64, bool) {
	if len(m) <= n {
		return m, false
	}
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make(map[int64]int64, n)
	for _, k := range keys[:n] {
		out[k] = m[k]
	}
	return out, true
}
