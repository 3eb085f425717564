package service

import (
	"context"
	"errors"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/campuskit/broadcast/internal/audit"
	"github.com/campuskit/broadcast/internal/email"
	"github.com/campuskit/broadcast/internal/kafka"
	"github.com/campuskit/broadcast/internal/model"
)

type mockUserStorage struct{ mock.Mock }

func (m *mockUserStorage) FindByID(ctx context.Context, id int64) (*model.User, error) {
	args := m.Called(ctx, id)
	var u *model.User
	if v := args.Get(0); v != nil {
		u = v.(*model.User)
	}
	return u, args.Error(1)
}

func (m *mockUserStorage) FindActiveByIDs(ctx context.Context, ids []int64) ([]model.User, error) {
	args := m.Called(ctx, ids)
	var users []model.User
	if v := args.Get(0); v != nil {
		users = v.([]model.User)
	}
	return users, args.Error(1)
}

func (m *mockUserStorage) FindAllActive(ctx context.Context) ([]model.User, error) {
	args := m.Called(ctx)
	var users []model.User
	if v := args.Get(0); v != nil {
		users = v.([]model.User)
	}
	return users, args.Error(1)
}

func (m *mockUserStorage) Search(ctx context.Context, f model.RecipientFilter) ([]model.User, error) {
	args := m.Called(ctx, f)
	var users []model.User
	if v := args.Get(0); v != nil {
		users = v.([]model.User)
	}
	return users, args.Error(1)
}

type mockBroadcastStorage struct{ mock.Mock }

func (m *mockBroadcastStorage) Save(ctx context.Context, b *model.Broadcast) error {
	args := m.Called(ctx, b)
	return args.Error(0)
}

func (m *mockBroadcastStorage) FindByID(ctx context.Context, id int64) (*model.Broadcast, error) {
	args := m.Called(ctx, id)
	var b *model.Broadcast
	if v := args.Get(0); v != nil {
		b = v.(*model.Broadcast)
	}
	return b, args.Error(1)
}

func (m *mockBroadcastStorage) FindFlushCandidates(ctx context.Context, statuses []model.EmailStatus, limit int) ([]model.Broadcast, error) {
	args := m.Called(ctx, statuses, limit)
	var rows []model.Broadcast
	if v := args.Get(0); v != nil {
		rows = v.([]model.Broadcast)
	}
	return rows, args.Error(1)
}

func (m *mockBroadcastStorage) UpdateEmailState(ctx context.Context, id int64, state model.EmailDeliveryState) error {
	args := m.Called(ctx, id, state)
	return args.Error(0)
}

func (m *mockBroadcastStorage) List(ctx context.Context, offset, limit int) ([]model.Broadcast, int64, error) {
	args := m.Called(ctx, offset, limit)
	var rows []model.Broadcast
	if v := args.Get(0); v != nil {
		rows = v.([]model.Broadcast)
	}
	return rows, args.Get(1).(int64), args.Error(2)
}

func (m *mockBroadcastStorage) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type mockMessageStorage struct{ mock.Mock }

func (m *mockMessageStorage) Insert(ctx context.Context, msg *model.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *mockMessageStorage) FindByIDs(ctx context.Context, ids []int64) ([]model.Message, error) {
	args := m.Called(ctx, ids)
	var msgs []model.Message
	if v := args.Get(0); v != nil {
		msgs = v.([]model.Message)
	}
	return msgs, args.Error(1)
}

func (m *mockMessageStorage) FindSystemByTitleInWindow(ctx context.Context, title string, from, to time.Time) ([]model.Message, error) {
	args := m.Called(ctx, title, from, to)
	var msgs []model.Message
	if v := args.Get(0); v != nil {
		msgs = v.([]model.Message)
	}
	return msgs, args.Error(1)
}

type mockMessenger struct{ mock.Mock }

func (m *mockMessenger) SendSystemMessage(ctx context.Context, userID int64, title, content string, priority model.Priority) (*model.Message, error) {
	args := m.Called(ctx, userID, title, content, priority)
	var msg *model.Message
	if v := args.Get(0); v != nil {
		msg = v.(*model.Message)
	}
	return msg, args.Error(1)
}

type mockQueue struct{ mock.Mock }

func (m *mockQueue) QueueBroadcastEmail(ctx context.Context, req email.QueueRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

type mockSender struct{ mock.Mock }

func (m *mockSender) SendAnnouncementBroadcast(ctx context.Context, recipients []email.Recipient, title, content string, priority model.Priority) (email.SendReport, error) {
	args := m.Called(ctx, recipients, title, content, priority)
	return args.Get(0).(email.SendReport), args.Error(1)
}

// nopAudit satisfies every audit collaborator without a backing store. Error
// log ids count up from 1000 so tests can assert forwarding.
type nopAudit struct {
	auditCalls   int
	requestCalls int
	errorKinds   []string
	failErrors   bool
}

func (n *nopAudit) Log(context.Context, int64, string, any) (int64, error) {
	n.auditCalls++
	return int64(n.auditCalls), nil
}

func (n *nopAudit) LogRequest(context.Context, audit.RequestRecord) (int64, error) {
	n.requestCalls++
	return int64(500 + n.requestCalls), nil
}

func (n *nopAudit) LogError(_ context.Context, kind, _, _ string, _ any) (int64, error) {
	n.errorKinds = append(n.errorKinds, kind)
	if n.failErrors {
		return 0, errors.New("error log unavailable")
	}
	return int64(1000 + len(n.errorKinds)), nil
}

// recordingProducer captures published lifecycle events.
type recordingProducer struct {
	events  []kafka.Event
	failAll bool
}

func (p *recordingProducer) Start(context.Context) {}

func (p *recordingProducer) Publish(_ context.Context, ev kafka.Event) error {
	if p.failAll {
		return errors.New("event stream unavailable")
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingProducer) Close(context.Context) {}
