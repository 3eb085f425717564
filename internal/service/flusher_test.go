package service

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/campuskit/broadcast/internal/email"
	"github.com/campuskit/broadcast/internal/model"
	"github.com/campuskit/broadcast/internal/tracing"
)

func newTestFlusher(store *mockBroadcastStorage, users *mockUserStorage, messages *mockMessageStorage, sender *mockSender, errLog *nopAudit, producer *recordingProducer) *queueFlusher {
	return &queueFlusher{
		store:    store,
		users:    users,
		messages: messages,
		sender:   sender,
		errLog:   errLog,
		events:   producer,
		logger:   slog.Default(),
		tracer:   tracing.Tracer("test"),
	}
}

// idSetMatcher matches a []int64 argument regardless of order.
func idSetMatcher(want ...int64) interface{} {
	return mock.MatchedBy(func(got []int64) bool {
		if len(got) != len(want) {
			return false
		}
		a := append([]int64{}, got...)
		b := append([]int64{}, want...)
		sort.Slice(a, func(i, j int) bool { return a[i] < a[j] })
		sort.Slice(b, func(i, j int) bool { return b[i] < b[j] })
		return reflect.DeepEqual(a, b)
	})
}

func queuedRow(id int64, idMap map[int64]int64) model.Broadcast {
	return model.Broadcast{
		ID:                   id,
		CreatedAt:            time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Title:                "Maintenance",
		Content:              "System will be down",
		Priority:             model.PriorityUrgent,
		MessageIDMapSnapshot: idMap,
		ContentHash:          model.ContentHash("Maintenance", "System will be down"),
		RequestID:            "req-f",
		Email: model.EmailDeliveryState{
			Triggered:           true,
			AttemptedRecipients: len(idMap),
			Status:              model.EmailQueued,
		},
	}
}

// Reconciliation mode settles the row from address availability alone. The
// send collaborator must never be invoked.
func Test_queueFlusher_Flush_reconcileModeNeverSends(t *testing.T) {
	row := queuedRow(7, map[int64]int64{10: 101, 11: 102})

	store := new(mockBroadcastStorage)
	store.On("FindFlushCandidates", mock.Anything, []model.EmailStatus{model.EmailQueued, model.EmailPartial}, 10).
		Return([]model.Broadcast{row}, nil)
	var persisted model.EmailDeliveryState
	store.On("UpdateEmailState", mock.Anything, int64(7), mock.Anything).
		Run(func(args mock.Arguments) {
			persisted = args.Get(2).(model.EmailDeliveryState)
		}).Return(nil)

	users := new(mockUserStorage)
	users.On("FindActiveByIDs", mock.Anything, idSetMatcher(10, 11)).
		Return([]model.User{{ID: 10, Email: "ten@x.io"}, {ID: 11, Email: "eleven@x.io"}}, nil)

	sender := new(mockSender)
	producer := &recordingProducer{}
	f := newTestFlusher(store, users, new(mockMessageStorage), sender, &nopAudit{}, producer)

	report, err := f.Flush(context.Background(), 0, false, "api")
	if err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if report.Count != 1 || len(report.Processed) != 1 {
		t.Fatalf("report = %+v, want one processed row", report)
	}
	if got := report.Processed[0].Status; got != model.EmailSent {
		t.Fatalf("status = %s, want sent", got)
	}
	sender.AssertNotCalled(t, "SendAnnouncementBroadcast", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	if persisted.Status != model.EmailSent {
		t.Fatalf("persisted status = %s, want sent", persisted.Status)
	}
	if persisted.FailedChunks != 0 || len(persisted.FailedRecipientIDs) != 0 {
		t.Fatalf("sent state must carry no failures: %+v", persisted)
	}
	if persisted.CompletedAt == nil {
		t.Fatal("CompletedAt not stamped on settle")
	}
	if len(producer.events) != 1 || producer.events[0].EmailStatus != string(model.EmailSent) {
		t.Fatalf("events = %+v, want one email_flushed sent event", producer.events)
	}
}

func Test_queueFlusher_Flush_reconcileModeMissingMeansPartial(t *testing.T) {
	row := queuedRow(8, map[int64]int64{10: 101, 11: 102})

	store := new(mockBroadcastStorage)
	store.On("FindFlushCandidates", mock.Anything, mock.Anything, mock.Anything).
		Return([]model.Broadcast{row}, nil)
	store.On("UpdateEmailState", mock.Anything, int64(8), mock.Anything).Return(nil)

	users := new(mockUserStorage)
	users.On("FindActiveByIDs", mock.Anything, idSetMatcher(10, 11)).
		Return([]model.User{{ID: 10, Email: "ten@x.io"}, {ID: 11}}, nil)

	f := newTestFlusher(store, users, new(mockMessageStorage), new(mockSender), &nopAudit{}, &recordingProducer{})
	report, err := f.Flush(context.Background(), 5, false, "api")
	if err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	out := report.Processed[0]
	if out.Status != model.EmailPartial {
		t.Fatalf("status = %s, want partial", out.Status)
	}
	if !reflect.DeepEqual(out.MissingEmailUserIDs, []int64{11}) {
		t.Fatalf("missing = %v, want [11]", out.MissingEmailUserIDs)
	}
}

// Rows already settled are reported under skipped, never reprocessed.
func Test_queueFlusher_Flush_sentRowIsSkipped(t *testing.T) {
	sent := queuedRow(3, map[int64]int64{10: 101})
	sent.Email.Status = model.EmailSent

	store := new(mockBroadcastStorage)
	store.On("FindFlushCandidates", mock.Anything, mock.Anything, mock.Anything).
		Return([]model.Broadcast{sent}, nil)

	f := newTestFlusher(store, new(mockUserStorage), new(mockMessageStorage), new(mockSender), &nopAudit{}, &recordingProducer{})
	report, err := f.Flush(context.Background(), 10, true, "api")
	if err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if len(report.Processed) != 0 {
		t.Fatalf("processed = %+v, want none", report.Processed)
	}
	if !reflect.DeepEqual(report.Skipped, []int64{3}) {
		t.Fatalf("skipped = %v, want [3]", report.Skipped)
	}
	store.AssertNotCalled(t, "UpdateEmailState", mock.Anything, mock.Anything, mock.Anything)
}

func Test_queueFlusher_Flush_failedRowNeedsForce(t *testing.T) {
	failed := queuedRow(4, map[int64]int64{10: 101})
	failed.Email.Status = model.EmailFailed

	store := new(mockBroadcastStorage)
	store.On("FindFlushCandidates", mock.Anything, []model.EmailStatus{model.EmailQueued, model.EmailPartial}, 10).
		Return([]model.Broadcast{failed}, nil)

	f := newTestFlusher(store, new(mockUserStorage), new(mockMessageStorage), new(mockSender), &nopAudit{}, &recordingProducer{})
	report, err := f.Flush(context.Background(), 10, false, "cron")
	if err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if !reflect.DeepEqual(report.Skipped, []int64{4}) {
		t.Fatalf("skipped = %v, want [4]", report.Skipped)
	}
}

// Forced delivery with one undeliverable recipient settles partial and keeps
// the missing id on record, matching the end-to-end scenario in the docs.
func Test_queueFlusher_Flush_forceSendWithMissingAddress(t *testing.T) {
	row := queuedRow(9, map[int64]int64{10: 101, 11: 102})

	store := new(mockBroadcastStorage)
	store.On("FindFlushCandidates", mock.Anything, []model.EmailStatus{model.EmailQueued, model.EmailPartial, model.EmailFailed}, 10).
		Return([]model.Broadcast{row}, nil)
	var persisted model.EmailDeliveryState
	store.On("UpdateEmailState", mock.Anything, int64(9), mock.Anything).
		Run(func(args mock.Arguments) {
			persisted = args.Get(2).(model.EmailDeliveryState)
		}).Return(nil)

	users := new(mockUserStorage)
	users.On("FindActiveByIDs", mock.Anything, idSetMatcher(10, 11)).
		Return([]model.User{{ID: 10, Email: "ten@x.io"}, {ID: 11}}, nil)

	sender := new(mockSender)
	sender.On("SendAnnouncementBroadcast", mock.Anything,
		[]email.Recipient{{Email: "ten@x.io", Name: "ten@x.io"}},
		"Maintenance", "System will be down", model.PriorityUrgent).
		Return(email.SendReport{Attempted: 1, SuccessfulChunks: 1}, nil)

	f := newTestFlusher(store, users, new(mockMessageStorage), sender, &nopAudit{}, &recordingProducer{})
	report, err := f.Flush(context.Background(), 10, true, "api")
	if err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	out := report.Processed[0]
	if out.Status != model.EmailPartial {
		t.Fatalf("status = %s, want partial", out.Status)
	}
	if out.Attempted != 1 {
		t.Fatalf("attempted = %d, want 1", out.Attempted)
	}
	if !out.Force {
		t.Fatal("outcome must record force mode")
	}
	if !reflect.DeepEqual(persisted.MissingEmailUserIDs, []int64{11}) {
		t.Fatalf("persisted missing = %v, want [11]", persisted.MissingEmailUserIDs)
	}
	if persisted.SuccessfulChunks != 1 {
		t.Fatalf("persisted chunks = %+v", persisted)
	}
	sender.AssertExpectations(t)
}

// An outright provider failure settles failed and folds the attempted ids
// into the failed set on top of any previously recorded ones.
func Test_queueFlusher_Flush_forceSendFailureRetainsFailedIDs(t *testing.T) {
	row := queuedRow(12, map[int64]int64{10: 101})
	row.Email.Status = model.EmailPartial
	row.Email.FailedRecipientIDs = []int64{99}

	store := new(mockBroadcastStorage)
	store.On("FindFlushCandidates", mock.Anything, mock.Anything, mock.Anything).
		Return([]model.Broadcast{row}, nil)
	var persisted model.EmailDeliveryState
	store.On("UpdateEmailState", mock.Anything, int64(12), mock.Anything).
		Run(func(args mock.Arguments) {
			persisted = args.Get(2).(model.EmailDeliveryState)
		}).Return(nil)

	users := new(mockUserStorage)
	users.On("FindActiveByIDs", mock.Anything, idSetMatcher(10)).
		Return([]model.User{{ID: 10, Email: "ten@x.io"}}, nil)

	sender := new(mockSender)
	sender.On("SendAnnouncementBroadcast", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(email.SendReport{Attempted: 1, FailedChunks: 1, Errors: []string{"429 too many requests"}},
			errors.New("announcement send failed"))

	errLog := &nopAudit{}
	f := newTestFlusher(store, users, new(mockMessageStorage), sender, errLog, &recordingProducer{})
	report, err := f.Flush(context.Background(), 10, true, "api")
	if err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	if got := report.Processed[0].Status; got != model.EmailFailed {
		t.Fatalf("status = %s, want failed", got)
	}
	if !reflect.DeepEqual(persisted.FailedRecipientIDs, []int64{99, 10}) {
		t.Fatalf("failed ids = %v, want prior id retained", persisted.FailedRecipientIDs)
	}
	if !reflect.DeepEqual(errLog.errorKinds, []string{"broadcast.email_send_failed"}) {
		t.Fatalf("error kinds = %v", errLog.errorKinds)
	}
}

// With no snapshots the flusher recovers recipients through the title and
// content-hash window match, discarding unrelated same-title messages.
func Test_queueFlusher_Flush_contentHashFallback(t *testing.T) {
	row := queuedRow(15, nil)
	created := row.CreatedAt

	store := new(mockBroadcastStorage)
	store.On("FindFlushCandidates", mock.Anything, mock.Anything, mock.Anything).
		Return([]model.Broadcast{row}, nil)
	store.On("UpdateEmailState", mock.Anything, int64(15), mock.Anything).Return(nil)

	messages := new(mockMessageStorage)
	messages.On("FindSystemByTitleInWindow", mock.Anything, "Maintenance",
		created.Add(-10*time.Minute), created.Add(10*time.Minute)).
		Return([]model.Message{
			{ID: 201, ReceiverID: 21, Title: "Maintenance", Content: "System will be down"},
			{ID: 202, ReceiverID: 22, Title: "Maintenance", Content: "Unrelated other text"},
		}, nil)

	users := new(mockUserStorage)
	users.On("FindActiveByIDs", mock.Anything, []int64{21}).
		Return([]model.User{{ID: 21, Email: "u21@x.io"}}, nil)

	f := newTestFlusher(store, users, messages, new(mockSender), &nopAudit{}, &recordingProducer{})
	report, err := f.Flush(context.Background(), 10, false, "api")
	if err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if got := report.Processed[0].Status; got != model.EmailSent {
		t.Fatalf("status = %s, want sent", got)
	}
	messages.AssertNotCalled(t, "FindByIDs", mock.Anything, mock.Anything)
	users.AssertExpectations(t)
}

// A persistence failure keeps the batch going and surfaces on the outcome.
func Test_queueFlusher_Flush_persistFailureReported(t *testing.T) {
	row := queuedRow(20, map[int64]int64{10: 101})

	store := new(mockBroadcastStorage)
	store.On("FindFlushCandidates", mock.Anything, mock.Anything, mock.Anything).
		Return([]model.Broadcast{row}, nil)
	store.On("UpdateEmailState", mock.Anything, int64(20), mock.Anything).
		Return(errors.New("connection reset"))

	users := new(mockUserStorage)
	users.On("FindActiveByIDs", mock.Anything, idSetMatcher(10)).
		Return([]model.User{{ID: 10, Email: "ten@x.io"}}, nil)

	errLog := &nopAudit{}
	f := newTestFlusher(store, users, new(mockMessageStorage), new(mockSender), errLog, &recordingProducer{})
	report, err := f.Flush(context.Background(), 10, false, "api")
	if err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	out := report.Processed[0]
	found := false
	for _, e := range out.Errors {
		if e == "connection reset" {
			found = true
		}
	}
	if !found {
		t.Fatalf("outcome errors = %v, want persist error included", out.Errors)
	}
	if !reflect.DeepEqual(errLog.errorKinds, []string{"broadcast.flush_persist_failed"}) {
		t.Fatalf("error kinds = %v", errLog.errorKinds)
	}
}

func Test_flushable(t *testing.T) {
	tests := []struct {
		status model.EmailStatus
		force  bool
		want   bool
	}{
		{model.EmailQueued, false, true},
		{model.EmailQueued, true, true},
		{model.EmailPartial, false, true},
		{model.EmailPartial, true, true},
		{model.EmailFailed, false, false},
		{model.EmailFailed, true, true},
		{model.EmailSent, true, false},
		{model.EmailSent, false, false},
		{model.EmailSkipped, true, false},
	}
	for _, tt := range tests {
		if got := flushable(tt.status, tt.force); got != tt.want {
			t.Errorf("flushable(%s, %v) = %v, want %v", tt.status, tt.force, got, tt.want)
		}
	}
}

func Test_mergeIDs(t *testing.T) {
	got := mergeIDs([]int64{1, 2}, []int64{2, 3, 1, 4})
	if !reflect.DeepEqual(got, []int64{1, 2, 3, 4}) {
		t.Fatalf("mergeIDs() = %v", got)
	}
}
