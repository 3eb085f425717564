package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	appErr "github.com/campuskit/broadcast/internal/errors"
	"github.com/campuskit/broadcast/internal/model"
)

type userStorage struct {
	db *sqlx.DB
}

// NewUserStorage returns the Postgres-backed user directory.
func NewUserStorage(db *sqlx.DB) UserStorage {
	return &userStorage{db: db}
}

const userColumns = `id, username, email, school, school_id, location, is_admin, status`

func (s *userStorage) FindByID(ctx context.Context, id int64) (*model.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, userColumns)

	var user model.User
	if err := s.db.GetContext(ctx, &user, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %d: %w", id, appErr.ErrNotFound)
		}
		return nil, fmt.Errorf("find user by id failed: %w", err)
	}
	return &user, nil
}

func (s *userStorage) FindActiveByIDs(ctx context.Context, ids []int64) ([]model.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(fmt.Sprintf(
		`SELECT %s FROM users WHERE id IN (?) AND status = ?`, userColumns),
		ids, model.UserStatusActive)
	if err != nil {
		return nil, fmt.Errorf("build id lookup query: %w", err)
	}
	query = s.db.Rebind(query)

	var users []model.User
	if err := s.db.SelectContext(ctx, &users, query, args...); err != nil {
		return nil, fmt.Errorf("find users by ids failed: %w", err)
	}
	return users, nil
}

func (s *userStorage) FindAllActive(ctx context.Context) ([]model.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE status = $1 ORDER BY id`, userColumns)

	var users []model.User
	if err := s.db.SelectContext(ctx, &users, query, model.UserStatusActive); err != nil {
		return nil, fmt.Errorf("find all active users failed: %w", err)
	}
	return users, nil
}

func (s *userStorage) Search(ctx context.Context, f model.RecipientFilter) ([]model.User, error) {
	query, args, err := buildUserSearch(f)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var users []model.User
	if err := s.db.SelectContext(ctx, &users, query, args...); err != nil {
		return nil, fmt.Errorf("user search failed: %w", err)
	}
	return users, nil
}

// buildUserSearch renders one filter group into a bounded SELECT using "?"
// placeholders; the caller rebinds for the active driver. Filters default to
// active users unless the group names a status explicitly.
func buildUserSearch(f model.RecipientFilter) (string, []interface{}, error) {
	var (
		conds []string
		args  []interface{}
	)

	if f.Search != "" {
		fields := f.Fields
		if len(fields) == 0 {
			fields = []string{
				model.FilterFieldUsername, model.FilterFieldEmail,
				model.FilterFieldSchool, model.FilterFieldLocation,
			}
		}
		var sub []string
		pattern := "%" + escapeLike(f.Search) + "%"
		for _, field := range fields {
			if !model.FilterFieldKnown(field) {
				return "", nil, appErr.NewValidation("unknown filter field %q", field)
			}
			sub = append(sub, field+` ILIKE ?`)
			args = append(args, pattern)
		}
		conds = append(conds, "("+strings.Join(sub, " OR ")+")")
	}

	if f.SchoolID != nil {
		conds = append(conds, `school_id = ?`)
		args = append(args, *f.SchoolID)
	}
	if f.School != "" {
		conds = append(conds, `school = ?`)
		args = append(args, f.School)
	}
	if f.EmailSuffix != "" {
		conds = append(conds, `email ILIKE ?`)
		args = append(args, "%"+escapeLike(f.EmailSuffix))
	}
	status := f.Status
	if status == "" {
		status = model.UserStatusActive
	}
	conds = append(conds, `status = ?`)
	args = append(args, status)
	if f.IsAdmin != nil {
		conds = append(conds, `is_admin = ?`)
		args = append(args, *f.IsAdmin)
	}
	if len(f.IncludeIDs) > 0 {
		conds = append(conds, `id IN (?)`)
		args = append(args, f.IncludeIDs)
	}
	if len(f.ExcludeIDs) > 0 {
		conds = append(conds, `id NOT IN (?)`)
		args = append(args, f.ExcludeIDs)
	}

	query := fmt.Sprintf(`SELECT %s FROM users WHERE %s ORDER BY id LIMIT ? OFFSET ?`,
		userColumns, strings.Join(conds, " AND "))
	args = append(args, f.Limit, f.Offset)

	query, expanded, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, fmt.Errorf("build search query: %w", err)
	}
	return query, expanded, nil
}

func escapeLike(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `%`, `\%`)
	return strings.ReplaceAll(v, `_`, `\_`)
}
