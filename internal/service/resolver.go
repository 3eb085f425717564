package service

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	appErr "github.com/campuskit/broadcast/internal/errors"
	"github.com/campuskit/broadcast/internal/model"
	"github.com/campuskit/broadcast/internal/storage"
	"github.com/campuskit/broadcast/internal/tracing"
)

// Resolution is the outcome of recipient resolution: a deduplicated recipient
// set plus the explicit ids that could not be resolved to an active user.
// Order carries no contract.
type Resolution struct {
	Scope      model.Scope
	Recipients []model.User
	InvalidIDs []int64
}

// RecipientResolver turns targeting criteria into a resolved recipient set.
type RecipientResolver interface {
	Resolve(ctx context.Context, criteria *model.TargetCriteria) (*Resolution, error)
}

type recipientResolver struct {
	users  storage.UserStorage
	logger *slog.Logger
	tracer trace.Tracer
}

func NewRecipientResolver(users storage.UserStorage, logger *slog.Logger) RecipientResolver {
	l := logger.With("layer", "service", "component", "recipientResolver")
	return &recipientResolver{
		users:  users,
		logger: l,
		tracer: tracing.Tracer("broadcast-service"),
	}
}

// Resolve unions explicit ids and filter groups, first-seen record wins.
// Supplying neither selects every active user. An empty final set is not an
// error here; the caller decides how to report it.
func (r *recipientResolver) Resolve(ctx context.Context, criteria *model.TargetCriteria) (*Resolution, error) {
	ctx, span := r.tracer.Start(ctx, "Resolve")
	defer span.End()

	if criteria.Empty() {
		users, err := r.users.FindAllActive(ctx)
		if err != nil {
			r.logger.Error("Failed to load active users", slog.Any("error", err))
			tracing.RecordError(span, err)
			return nil, appErr.NewInternal("resolve all active users: %v", err)
		}
		span.SetAttributes(
			attribute.String("broadcast.scope", string(model.ScopeAll)),
			attribute.Int("broadcast.recipients", len(users)),
		)
		r.logger.Info("Resolved all active users", slog.Int("count", len(users)))
		return &Resolution{Scope: model.ScopeAll, Recipients: users}, nil
	}

	res := &Resolution{Scope: model.ScopeCustom}
	seen := make(map[int64]struct{})

	if len(criteria.TargetUsers) > 0 {
		ids := sanitizeIDs(criteria.TargetUsers)
		if len(ids) == 0 {
			return nil, appErr.NewValidation("target_users contains no valid ids")
		}

		users, err := r.users.FindActiveByIDs(ctx, ids)
		if err != nil {
			r.logger.Error("Failed to look up target users", slog.Any("error", err))
			tracing.RecordError(span, err)
			return nil, appErr.NewInternal("resolve target users: %v", err)
		}

		byID := make(map[int64]model.User, len(users))
		for _, u := range users {
			byID[u.ID] = u
		}
		for _, id := range ids {
			u, ok := byID[id]
			if !ok {
				res.InvalidIDs = append(res.InvalidIDs, id)
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			res.Recipients = append(res.Recipients, u)
		}
	}

	for i := range criteria.Filters {
		f := criteria.Filters[i]
		f.Normalize()

		users, err := r.users.Search(ctx, f)
		if err != nil {
			if appErr.IsValidation(err) {
				return nil, err
			}
			r.logger.Error("Filter group search failed",
				slog.Int("group", i),
				slog.Any("error", err))
			tracing.RecordError(span, err)
			return nil, appErr.NewInternal("filter group %d: %v", i, err)
		}
		for _, u := range users {
			if _, dup := seen[u.ID]; dup {
				continue
			}
			seen[u.ID] = struct{}{}
			res.Recipients = append(res.Recipients, u)
		}
	}

	span.SetAttributes(
		attribute.String("broadcast.scope", string(res.Scope)),
		attribute.Int("broadcast.recipients", len(res.Recipients)),
		attribute.Int("broadcast.invalid_ids", len(res.InvalidIDs)),
	)
	r.logger.Info("Recipient resolution finished",
		slog.Int("count", len(res.Recipients)),
		slog.Int("invalid", len(res.InvalidIDs)))
	return res, nil
}

// sanitizeIDs keeps positive ids, deduplicated in first-seen order.
func sanitizeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
