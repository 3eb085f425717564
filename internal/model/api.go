package model

import "time"

// SendBroadcastRequest is the body of POST /broadcast. TargetUsers and
// TargetFilters are both optional; supplying neither broadcasts to all
// active users.
type SendBroadcastRequest struct {
	Title         string            `json:"title"`
	Content       string            `json:"content"`
	Priority      string            `json:"priority"`
	TargetUsers   []int64           `json:"target_users"`
	TargetFilters []RecipientFilter `json:"target_filters"`
}

// SendBroadcastResponse reports the outcome of one broadcast attempt.
// MessageIDs is capped at SnapshotIDCap entries; MessageIDCount carries the
// full count.
type SendBroadcastResponse struct {
	Success        bool               `json:"success"`
	SentCount      int                `json:"sent_count"`
	TotalTargets   int                `json:"total_targets"`
	FailedUserIDs  []int64            `json:"failed_user_ids"`
	InvalidUserIDs []int64            `json:"invalid_user_ids"`
	Scope          Scope              `json:"scope"`
	MessageIDs     []int64            `json:"message_ids"`
	MessageIDCount int                `json:"message_id_count"`
	EmailDelivery  EmailDeliveryState `json:"email_delivery"`
	ErrorLogIDs    []int64            `json:"error_log_ids"`
	RequestID      string             `json:"request_id"`
	BroadcastID    int64              `json:"broadcast_id,omitempty"`
}

// FlushOutcome is one processed candidate in a flush report.
type FlushOutcome struct {
	ID                  int64       `json:"id"`
	Status              EmailStatus `json:"status"`
	Attempted           int         `json:"attempted"`
	Force               bool        `json:"force"`
	MissingEmailUserIDs []int64     `json:"missing_email_user_ids"`
	Errors              []string    `json:"errors"`
}

// FlushReport is the body of POST /broadcast/flush. Skipped lists candidates
// that were selected but found ineligible at processing time.
type FlushReport struct {
	Success   bool           `json:"success"`
	Processed []FlushOutcome `json:"processed"`
	Skipped   []int64        `json:"skipped"`
	Count     int            `json:"count"`
}

// BroadcastSummary projects one stored broadcast for history and detail
// reads, joined against the current read flags of its messages.
type BroadcastSummary struct {
	ID          int64               `json:"id"`
	CreatedAt   time.Time           `json:"created_at"`
	AdminID     int64               `json:"admin_id"`
	Title       string              `json:"title"`
	Priority    Priority            `json:"priority"`
	Scope       Scope               `json:"scope"`
	TargetCount int                 `json:"target_count"`
	SentCount   int                 `json:"sent_count"`
	EmailStatus EmailStatus         `json:"email_status"`
	ReadUsers   []int64             `json:"read_users"`
	UnreadUsers []int64             `json:"unread_users"`
	ReadCount   int                 `json:"read_count"`
	UnreadCount int                 `json:"unread_count"`
	RequestID   string              `json:"request_id,omitempty"`
	EmailDetail *EmailDeliveryState `json:"email_delivery,omitempty"`
}

// HistoryPage is the body of GET /broadcast/history.
type HistoryPage struct {
	Success    bool               `json:"success"`
	Page       int                `json:"page"`
	Limit      int                `json:"limit"`
	Total      int64              `json:"total"`
	Broadcasts []BroadcastSummary `json:"broadcasts"`
}

// History paging bounds.
const (
	HistoryLimitMin     = 5
	HistoryLimitMax     = 50
	HistoryLimitDefault = 20
)

// Flush batch bounds.
const (
	FlushLimitMin     = 1
	FlushLimitMax     = 50
	FlushLimitDefault = 10
)

// ClampHistoryLimit normalizes the history page size.
func ClampHistoryLimit(limit int) int {
	switch {
	case limit <= 0:
		return HistoryLimitDefault
	case limit < HistoryLimitMin:
		return HistoryLimitMin
	case limit > HistoryLimitMax:
		return HistoryLimitMax
	}
	return limit
}

// ClampFlushLimit normalizes the flush batch size.
func ClampFlushLimit(limit int) int {
	switch {
	case limit <= 0:
		return FlushLimitDefault
	case limit > FlushLimitMax:
		return FlushLimitMax
	}
	return limit
}
