package storage

import (
	"reflect"
	"strings"
	"testing"

	appErr "github.com/campuskit/broadcast/internal/errors"
	"github.com/campuskit/broadcast/internal/model"
)

func int64Ptr(v int64) *int64 { return &v }
func boolPtr(v bool) *bool    { return &v }

func Test_buildUserSearch(t *testing.T) {
	tests := []struct {
		name         string
		filter       model.RecipientFilter
		wantContains []string
		wantAbsent   []string
		wantArgs     []interface{}
		wantErr      func(error) bool
	}{
		{
			name:         "bare group defaults to active",
			filter:       model.RecipientFilter{Limit: 100},
			wantContains: []string{`status = ?`, `ORDER BY id LIMIT ? OFFSET ?`},
			wantAbsent:   []string{`ILIKE`, `IN (`},
			wantArgs:     []interface{}{model.UserStatusActive, 100, 0},
		},
		{
			name:   "search spans all fields when none named",
			filter: model.RecipientFilter{Search: "north", Limit: 50},
			wantContains: []string{
				`username ILIKE ?`, `email ILIKE ?`, `school ILIKE ?`, `location ILIKE ?`,
			},
			wantArgs: []interface{}{
				"%north%", "%north%", "%north%", "%north%",
				model.UserStatusActive, 50, 0,
			},
		},
		{
			name: "search restricted to named fields",
			filter: model.RecipientFilter{
				Search: "north",
				Fields: []string{model.FilterFieldEmail},
				Limit:  50,
			},
			wantContains: []string{`(email ILIKE ?)`},
			wantAbsent:   []string{`username ILIKE`},
			wantArgs:     []interface{}{"%north%", model.UserStatusActive, 50, 0},
		},
		{
			name: "unknown search field rejected",
			filter: model.RecipientFilter{
				Search: "x",
				Fields: []string{"password"},
			},
			wantErr: appErr.IsValidation,
		},
		{
			name: "school id and admin flag",
			filter: model.RecipientFilter{
				SchoolID: int64Ptr(12),
				IsAdmin:  boolPtr(false),
				Limit:    10,
			},
			wantContains: []string{`school_id = ?`, `is_admin = ?`},
			wantArgs:     []interface{}{int64(12), model.UserStatusActive, false, 10, 0},
		},
		{
			name:         "email suffix anchors the pattern end",
			filter:       model.RecipientFilter{EmailSuffix: "@campus.edu", Limit: 10},
			wantContains: []string{`email ILIKE ?`},
			wantArgs:     []interface{}{"%@campus.edu", model.UserStatusActive, 10, 0},
		},
		{
			name:         "explicit status overrides the default",
			filter:       model.RecipientFilter{Status: model.UserStatusDisabled, Limit: 10},
			wantContains: []string{`status = ?`},
			wantArgs:     []interface{}{model.UserStatusDisabled, 10, 0},
		},
		{
			name: "include and exclude ids expand",
			filter: model.RecipientFilter{
				IncludeIDs: []int64{7, 8},
				ExcludeIDs: []int64{9},
				Limit:      10,
			},
			wantContains: []string{`id IN (?, ?)`, `id NOT IN (?)`},
			wantArgs: []interface{}{
				model.UserStatusActive, int64(7), int64(8), int64(9), 10, 0,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args, err := buildUserSearch(tt.filter)
			if tt.wantErr != nil {
				if err == nil || !tt.wantErr(err) {
					t.Errorf("buildUserSearch() error = %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("buildUserSearch() error = %v", err)
			}
			for _, frag := range tt.wantContains {
				if !strings.Contains(query, frag) {
					t.Errorf("query %q missing %q", query, frag)
				}
			}
			for _, frag := range tt.wantAbsent {
				if strings.Contains(query, frag) {
					t.Errorf("query %q must not contain %q", query, frag)
				}
			}
			if !reflect.DeepEqual(args, tt.wantArgs) {
				t.Errorf("args = %#v, want %#v", args, tt.wantArgs)
			}
		})
	}
}

func Test_escapeLike(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`plain`, `plain`},
		{`50%`, `50\%`},
		{`a_b`, `a\_b`},
		{`back\slash`, `back\\slash`},
		{`%_\`, `\%\_\\`},
	}
	for _, tt := range tests {
		if got := escapeLike(tt.in); got != tt.want {
			t.Errorf("escapeLike(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
