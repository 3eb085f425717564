package model

import "testing"

func TestRecipientFilter_Normalize(t *testing.T) {
	tests := []struct {
		name       string
		limit      int
		offset     int
		wantLimit  int
		wantOffset int
	}{
		{name: "zero gets default", limit: 0, wantLimit: FilterLimitDefault},
		{name: "below floor clamps up", limit: 3, wantLimit: FilterLimitMin},
		{name: "above ceiling clamps down", limit: 9999, wantLimit: FilterLimitMax},
		{name: "in range untouched", limit: 42, wantLimit: 42},
		{name: "negative offset resets", limit: 42, offset: -5, wantLimit: 42, wantOffset: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := RecipientFilter{Limit: tt.limit, Offset: tt.offset}
			f.Normalize()
			if f.Limit != tt.wantLimit || f.Offset != tt.wantOffset {
				t.Errorf("Normalize() = limit %d offset %d, want %d/%d",
					f.Limit, f.Offset, tt.wantLimit, tt.wantOffset)
			}
		})
	}
}

func TestFilterFieldKnown(t *testing.T) {
	for _, f := range []string{FilterFieldUsername, FilterFieldEmail, FilterFieldSchool, FilterFieldLocation} {
		if !FilterFieldKnown(f) {
			t.Errorf("%q must be a known field", f)
		}
	}
	for _, f := range []string{"password", "status", "", "Username"} {
		if FilterFieldKnown(f) {
			t.Errorf("%q must not be a known field", f)
		}
	}
}

func TestTargetCriteria_Empty(t *testing.T) {
	var nilCriteria *TargetCriteria
	if !nilCriteria.Empty() {
		t.Error("nil criteria is empty")
	}
	if !(&TargetCriteria{}).Empty() {
		t.Error("zero criteria is empty")
	}
	if (&TargetCriteria{TargetUsers: []int64{1}}).Empty() {
		t.Error("explicit ids are not empty")
	}
	if (&TargetCriteria{Filters: []RecipientFilter{{School: "x"}}}).Empty() {
		t.Error("filters are not empty")
	}
}

func TestUser_DisplayName(t *testing.T) {
	u := User{Username: "amira", Email: "a@x.io"}
	if got := u.DisplayName(); got != "amira" {
		t.Errorf("DisplayName() = %q", got)
	}
	u.Username = ""
	if got := u.DisplayName(); got != "a@x.io" {
		t.Errorf("DisplayName() = %q", got)
	}
}

func TestUser_Active(t *testing.T) {
	if !(&User{Status: UserStatusActive}).Active() {
		t.Error("active user reported inactive")
	}
	if (&User{Status: UserStatusDisabled}).Active() {
		t.Error("disabled user reported active")
	}
	if (&User{}).Active() {
		t.Error("blank status must not count as active")
	}
}
