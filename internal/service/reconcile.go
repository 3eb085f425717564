package service

import (
	"context"
	"fmt"
	"time"

	"github.com/campuskit/broadcast/internal/model"
	"github.com/campuskit/broadcast/internal/storage"
)

// reconcileWindow bounds the creation-time search around a broadcast when its
// message tracking is incomplete and recipients must be recovered by content
// hash.
const reconcileWindow = 10 * time.Minute

// reconcileRecipientIDs recovers the user ids a broadcast was delivered to.
// The persisted id-map snapshot is preferred; the plain message-id snapshot
// is second; the content-hash window match is the last resort. The hash match
// is a heuristic: two broadcasts with identical title and content within the
// window collide.
func reconcileRecipientIDs(ctx context.Context, messages storage.MessageStorage, b *model.Broadcast) ([]int64, error) {
	if ids := b.RecipientUserIDs(); len(ids) > 0 {
		return ids, nil
	}

	var msgs []model.Message
	var err error
	if len(b.MessageIDsSnapshot) > 0 {
		msgs, err = messages.FindByIDs(ctx, b.MessageIDsSnapshot)
	} else {
		msgs, err = findMessagesByContentHash(ctx, messages, b)
	}
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{}, len(msgs))
	ids := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		if _, dup := seen[m.ReceiverID]; dup {
			continue
		}
		seen[m.ReceiverID] = struct{}{}
		ids = append(ids, m.ReceiverID)
	}
	return ids, nil
}

// reconcileMessages recovers the message rows a broadcast created, for
// read/unread reporting. Same preference order as reconcileRecipientIDs but
// always materializes full rows.
func reconcileMessages(ctx context.Context, messages storage.MessageStorage, b *model.Broadcast) ([]model.Message, error) {
	ids := b.MessageIDsSnapshot
	if len(ids) == 0 && len(b.MessageIDMapSnapshot) > 0 {
		ids = make([]int64, 0, len(b.MessageIDMapSnapshot))
		for _, msgID := range b.MessageIDMapSnapshot {
			ids = append(ids, msgID)
		}
	}
	if len(ids) > 0 {
		return messages.FindByIDs(ctx, ids)
	}
	return findMessagesByContentHash(ctx, messages, b)
}

// findMessagesByContentHash matches system messages by title within the
// reconcile window, keeping only rows whose recomputed sha256(title||content)
// equals the stored hash.
func findMessagesByContentHash(ctx context.Context, messages storage.MessageStorage, b *model.Broadcast) ([]model.Message, error) {
	from := b.CreatedAt.Add(-reconcileWindow)
	to := b.CreatedAt.Add(reconcileWindow)

	candidates, err := messages.FindSystemByTitleInWindow(ctx, b.Title, from, to)
	if err != nil {
		return nil, fmt.Errorf("content-hash reconciliation: %w", err)
	}

	matched := candidates[:0]
	for _, m := range candidates {
		if model.ContentHash(m.Title, m.Content) == b.ContentHash {
			matched = append(matched, m)
		}
	}
	return matched, nil
}

// mergeIDs unions b into a, preserving a's order and appending unseen ids.
func mergeIDs(a, b []int64) []int64 {
	seen := make(map[int64]struct{}, len(a))
	for _, id := range a {
		seen[id] = struct{}{}
	}
	out := a
	for _, id := range b {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
