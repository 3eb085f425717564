package model

// User statuses as stored in the directory. Only active users receive
// broadcasts.
const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// User is a directory row. The resolver produces one immutable record per
// recipient per request; the same shape backs the admin gate.
type User struct {
	ID       int64  `db:"id" json:"id"`
	Username string `db:"username" json:"username"`
	Email    string `db:"email" json:"email"`
	School   string `db:"school" json:"school"`
	SchoolID int64  `db:"school_id" json:"school_id"`
	Location string `db:"location" json:"location"`
	IsAdmin  bool   `db:"is_admin" json:"is_admin"`
	Status   string `db:"status" json:"status"`
}

// Active reports whether the user may receive broadcasts.
func (u *User) Active() bool {
	return u.Status == UserStatusActive
}

// DisplayName is the name used on outgoing email, falling back to the
// address when the username is empty.
func (u *User) DisplayName() string {
	if u.Username != "" {
		return u.Username
	}
	return u.Email
}

// Searchable fields accepted in RecipientFilter.Fields.
const (
	FilterFieldUsername = "username"
	FilterFieldEmail    = "email"
	FilterFieldSchool   = "school"
	FilterFieldLocation = "location"
)

// FilterFieldKnown reports whether f names a searchable column.
func FilterFieldKnown(f string) bool {
	switch f {
	case FilterFieldUsername, FilterFieldEmail, FilterFieldSchool, FilterFieldLocation:
		return true
	}
	return false
}

// Bounds applied to each filter group's paging before it hits the directory.
const (
	FilterLimitMin     = 10
	FilterLimitMax     = 500
	FilterLimitDefault = 100
)

// RecipientFilter is one independent bounded search over the directory.
// Results of all groups are unioned and deduplicated by user id.
type RecipientFilter struct {
	Search      string   `json:"search,omitempty"`
	Fields      []string `json:"fields,omitempty"`
	SchoolID    *int64   `json:"school_id,omitempty"`
	School      string   `json:"school,omitempty"`
	EmailSuffix string   `json:"email_suffix,omitempty"`
	Status      string   `json:"status,omitempty"`
	IsAdmin     *bool    `json:"is_admin,omitempty"`
	IncludeIDs  []int64  `json:"include_ids,omitempty"`
	ExcludeIDs  []int64  `json:"exclude_ids,omitempty"`
	Limit       int      `json:"limit,omitempty"`
	Offset      int      `json:"offset,omitempty"`
}

// Normalize clamps paging into the supported window. A missing limit gets the
// default; explicit values are clamped into [FilterLimitMin, FilterLimitMax].
func (f *RecipientFilter) Normalize() {
	switch {
	case f.Limit <= 0:
		f.Limit = FilterLimitDefault
	case f.Limit < FilterLimitMin:
		f.Limit = FilterLimitMin
	case f.Limit > FilterLimitMax:
		f.Limit = FilterLimitMax
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// TargetCriteria is the snapshot of how a broadcast was targeted, persisted
// verbatim with the broadcast row.
type TargetCriteria struct {
	TargetUsers []int64           `json:"target_users,omitempty"`
	Filters     []RecipientFilter `json:"target_filters,omitempty"`
}

// Empty reports whether no explicit targeting was supplied, which selects the
// all-active-users scope.
func (c *TargetCriteria) Empty() bool {
	return c == nil || (len(c.TargetUsers) == 0 && len(c.Filters) == 0)
}
