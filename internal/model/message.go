package model

import "time"

// MessageKindSystem marks messages created by broadcast fan-out.
const MessageKindSystem = "system"

// Message is an in-app message row. Messages are owned by their recipient;
// a broadcast references the ones it created but never mutates them.
type Message struct {
	ID         int64      `db:"id"`
	ReceiverID int64      `db:"receiver_id"`
	Kind       string     `db:"kind"`
	Title      string     `db:"title"`
	Content    string     `db:"content"`
	Priority   Priority   `db:"priority"`
	IsRead     bool       `db:"is_read"`
	CreatedAt  time.Time  `db:"created_at"`
	DeletedAt  *time.Time `db:"deleted_at"`
}
