package room

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"livechat-backend/internal/authz"
	"livechat-backend/internal/lock"
	"livechat-backend/internal/model"
	"livechat-backend/internal/queue"
	"livechat-backend/internal/store"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingDispatcher struct {
	mu   sync.Mutex
	jobs []queue.Job
	full bool
}

func (d *recordingDispatcher) TryEnqueue(job queue.Job) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.full {
		return false
	}
	d.jobs = append(d.jobs, job)
	return true
}

func (d *recordingDispatcher) RunAll(t *testing.T) {
	d.mu.Lock()
	jobs := d.jobs
	d.jobs = nil
	d.mu.Unlock()
	for _, job := range jobs {
		require.NoError(t, job.Fn())
	}
}

func (d *recordingDispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.jobs)
}

type recordingKnowledge struct {
	mu       sync.Mutex
	messages []model.MessageItem
	err      error
}

func (k *recordingKnowledge) OnMessage(ctx context.Context, room model.RoomItem, message model.MessageItem) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.messages = append(k.messages, message)
	return k.err
}

type recordingEvents struct {
	mu     sync.Mutex
	events []model.RoomEvent
}

func (e *recordingEvents) Publish(ctx context.Context, roomID string, event model.RoomEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

// flakyRepo fails DeleteAuxiliaryByRoom a set number of times.
type flakyRepo struct {
	*store.MemoryRepository
	auxFailures atomic.Int32
}

func (r *flakyRepo) DeleteAuxiliaryByRoom(ctx context.Context, roomID string) error {
	if r.auxFailures.Load() > 0 {
		r.auxFailures.Add(-1)
		return errors.New("table unavailable")
	}
	return r.MemoryRepository.DeleteAuxiliaryByRoom(ctx, roomID)
}

// watchedRepo records whether room data was read.
type watchedRepo struct {
	*store.MemoryRepository
	touched atomic.Bool
}

func (r *watchedRepo) GetRoom(ctx context.Context, roomID string) (model.RoomItem, error) {
	r.touched.Store(true)
	return r.MemoryRepository.GetRoom(ctx, roomID)
}

func (r *watchedRepo) ListRoomsByVisitor(ctx context.Context, visitorID string) ([]model.RoomItem, error) {
	r.touched.Store(true)
	return r.MemoryRepository.ListRoomsByVisitor(ctx, visitorID)
}

type denyAll struct{}

func (denyAll) HasPermission(ctx context.Context, userID, permission string) (bool, error) {
	return false, nil
}

type fixture struct {
	repo       store.Repository
	mem        *store.MemoryRepository
	svc        *Service
	locker     *lock.MemoryLocker
	clock      *testClock
	dispatcher *recordingDispatcher
	knowledge  *recordingKnowledge
	events     *recordingEvents
}

const requester = "agent-1"

func newFixture(t *testing.T, wrap func(*store.MemoryRepository) store.Repository) *fixture {
	t.Helper()
	mem := store.NewMemoryRepository()
	var repo store.Repository = mem
	if wrap != nil {
		repo = wrap(mem)
	}
	f := &fixture{
		repo:       repo,
		mem:        mem,
		locker:     lock.NewMemoryLocker(0),
		clock:      &testClock{t: time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)},
		dispatcher: &recordingDispatcher{},
		knowledge:  &recordingKnowledge{},
		events:     &recordingEvents{},
	}
	f.svc = New(Dependencies{
		Repo:       repo,
		Locker:     f.locker,
		Authorizer: authz.NewRoleAuthorizer(repo),
		Dispatcher: f.dispatcher,
		Knowledge:  f.knowledge,
		Events:     f.events,
		Log:        zerolog.Nop(),
		Now:        f.clock.Now,
	})
	ctx := context.Background()
	require.NoError(t, mem.PutAgent(ctx, model.AgentItem{UserID: requester, Role: model.AgentRoleAgent}))
	require.NoError(t, mem.PutAgent(ctx, model.AgentItem{UserID: "agent-2", Role: model.AgentRoleAgent}))
	return f
}

// seedScenario creates closed room A with three messages and open room B
// with one, both for visitor v1.
func (f *fixture) seedScenario(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	m := f.mem

	require.NoError(t, m.PutVisitor(ctx, model.VisitorItem{VisitorID: "v1", Token: "tok-1", Username: "+4915100000"}))
	require.NoError(t, m.CreateRoom(ctx, model.RoomItem{
		RoomID:    "A",
		VisitorID: "v1",
		Open:      false,
		Ts:        "2024-01-01T10:00:00Z",
		MsgCount:  3,
		RBInfo:    map[string]string{"source": "whatsapp"},
		Comment:   "visitor left",
		Duration:  120,
	}))
	require.NoError(t, m.CreateRoom(ctx, model.RoomItem{
		RoomID:    "B",
		VisitorID: "v1",
		Open:      true,
		Ts:        "2024-01-02T09:00:00Z",
		MsgCount:  1,
		Comment:   "stale",
		Duration:  30,
	}))

	for _, msg := range []model.MessageItem{
		{MessageID: "a1", RoomID: "A", SenderType: model.SenderTypeVisitor, Body: "hi", CreatedAt: "2024-01-01T10:00:01Z"},
		{MessageID: "a2", RoomID: "A", SenderType: model.SenderTypeAgent, Body: "hello", CreatedAt: "2024-01-01T10:00:02Z"},
		{MessageID: "a3", RoomID: "A", SenderType: model.SenderTypeVisitor, Body: "bye", CreatedAt: "2024-01-01T10:00:03Z"},
		{MessageID: "b1", RoomID: "B", SenderType: model.SenderTypeVisitor, Body: "me again", CreatedAt: "2024-01-02T09:00:00Z"},
	} {
		require.NoError(t, m.CreateMessage(ctx, msg))
	}

	require.NoError(t, m.PutSubscription(ctx, model.SubscriptionItem{
		RoomID:               "A",
		UserID:               requester,
		Answered:             true,
		LastActivity:         "2024-01-01T10:00:02Z",
		LastCustomerActivity: "2024-01-01T10:00:03Z",
	}))
	require.NoError(t, m.PutSubscription(ctx, model.SubscriptionItem{RoomID: "B", UserID: requester, Open: false}))
	require.NoError(t, m.PutSubscription(ctx, model.SubscriptionItem{RoomID: "B", UserID: "agent-2", Open: true}))

	require.NoError(t, m.CreateInquiry(ctx, model.InquiryItem{InquiryID: "inq-a", RoomID: "A"}))
	require.NoError(t, m.CreateExternalMessage(ctx, model.ExternalMessageItem{RoomID: "A", MessageID: "a1", ServiceName: "sms"}))
}

func requireCode(t *testing.T, err error, code ErrorCode) {
	t.Helper()
	require.Error(t, err)
	var svcErr *Error
	require.True(t, errors.As(err, &svcErr), "expected *room.Error, got %T", err)
	assert.Equal(t, code, svcErr.Code, svcErr.Error())
}

func TestMergeRoomsScenario(t *testing.T) {
	f := newFixture(t, nil)
	f.seedScenario(t)
	ctx := context.Background()

	result, err := f.svc.MergeRooms(ctx, requester, "A", "B")
	require.NoError(t, err)
	assert.Equal(t, 3, result.MovedMessages)
	assert.False(t, result.Resumed)

	_, err = f.mem.GetRoom(ctx, "A")
	assert.ErrorIs(t, err, store.ErrNotFound)

	target, err := f.mem.GetRoom(ctx, "B")
	require.NoError(t, err)
	assert.True(t, target.Open)
	assert.Equal(t, 4, target.MsgCount)
	assert.Empty(t, target.Comment)
	assert.Zero(t, target.Duration)
	assert.Equal(t, "2024-01-03T12:00:00Z", target.LastMessageAt)

	messages, err := f.mem.ListMessages(ctx, "B")
	require.NoError(t, err)
	ids := make([]string, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.MessageID)
	}
	assert.Equal(t, []string{"a1", "a2", "a3", "b1"}, ids)
	assert.Equal(t, "2024-01-01T10:00:01Z", messages[0].CreatedAt)

	leftovers, err := f.mem.ListMessages(ctx, "A")
	require.NoError(t, err)
	assert.Empty(t, leftovers)

	closeSubs, err := f.mem.ListSubscriptions(ctx, "A")
	require.NoError(t, err)
	assert.Empty(t, closeSubs)

	inquiries, err := f.mem.ListInquiries(ctx, "A")
	require.NoError(t, err)
	assert.Empty(t, inquiries)
	external, err := f.mem.ListExternalMessages(ctx, "A")
	require.NoError(t, err)
	assert.Empty(t, external)

	targetSubs, err := f.mem.ListSubscriptions(ctx, "B")
	require.NoError(t, err)
	require.Len(t, targetSubs, 2)
	for _, sub := range targetSubs {
		assert.True(t, sub.Answered)
		assert.Equal(t, map[string]string{"source": "whatsapp"}, sub.RBInfo)
		assert.Equal(t, "2024-01-01T10:00:02Z", sub.LastActivity)
		assert.Equal(t, "2024-01-01T10:00:03Z", sub.LastCustomerActivity)
	}
	mine, err := f.mem.GetSubscription(ctx, "B", requester)
	require.NoError(t, err)
	assert.True(t, mine.Open)

	_, err = f.mem.GetMergeJournal(ctx, "A")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.Equal(t, 1, f.dispatcher.Len())
	f.dispatcher.RunAll(t)
	require.Len(t, f.knowledge.messages, 1)
	assert.Equal(t, "b1", f.knowledge.messages[0].MessageID)

	require.Len(t, f.events.events, 2)
	assert.Equal(t, model.RoomEventMerged, f.events.events[0].Type)
	assert.Equal(t, "B", f.events.events[0].RoomID)
	assert.Equal(t, 3, f.events.events[0].MovedMessages)
	assert.Equal(t, model.RoomEventRetired, f.events.events[1].Type)
	assert.Equal(t, "A", f.events.events[1].RoomID)
}

func TestMergeRoomsSecondCallFailsNotFound(t *testing.T) {
	f := newFixture(t, nil)
	f.seedScenario(t)
	ctx := context.Background()

	_, err := f.svc.MergeRooms(ctx, requester, "A", "B")
	require.NoError(t, err)

	_, err = f.svc.MergeRooms(ctx, requester, "A", "B")
	requireCode(t, err, ErrorCodeNotFound)

	target, err := f.mem.GetRoom(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, 4, target.MsgCount)
}

func TestMergeRoomsNotAuthorizedBeforeStoreAccess(t *testing.T) {
	watched := &watchedRepo{MemoryRepository: store.NewMemoryRepository()}
	svc := New(Dependencies{
		Repo:       watched,
		Locker:     lock.NewMemoryLocker(0),
		Authorizer: denyAll{},
		Log:        zerolog.Nop(),
	})

	_, err := svc.MergeRooms(context.Background(), requester, "A", "B")
	requireCode(t, err, ErrorCodeNotAuthorized)

	_, err = svc.FindPreviousRoom(context.Background(), requester, "B")
	requireCode(t, err, ErrorCodeNotAuthorized)

	assert.False(t, watched.touched.Load())
}

func TestMergeRoomsRequiresKnownAgent(t *testing.T) {
	f := newFixture(t, nil)
	f.seedScenario(t)

	_, err := f.svc.MergeRooms(context.Background(), "stranger", "A", "B")
	requireCode(t, err, ErrorCodeNotAuthorized)

	_, err = f.mem.GetRoom(context.Background(), "A")
	assert.NoError(t, err)
}

func TestMergeRoomsValidation(t *testing.T) {
	f := newFixture(t, nil)
	f.seedScenario(t)
	ctx := context.Background()

	_, err := f.svc.MergeRooms(ctx, requester, "A", "A")
	requireCode(t, err, ErrorCodeValidation)

	_, err = f.svc.MergeRooms(ctx, requester, "", "B")
	requireCode(t, err, ErrorCodeValidation)

	_, err = f.svc.MergeRooms(ctx, requester, "A", "missing")
	requireCode(t, err, ErrorCodeNotFound)

	room, err := f.mem.GetRoom(ctx, "A")
	require.NoError(t, err)
	assert.False(t, room.Open)
}

func TestMergeRoomsCountsOnlyVisibleMessages(t *testing.T) {
	f := newFixture(t, nil)
	f.seedScenario(t)
	ctx := context.Background()
	require.NoError(t, f.mem.CreateMessage(ctx, model.MessageItem{
		MessageID: "a4", RoomID: "A", SenderType: model.SenderTypeAgent, Hidden: true, CreatedAt: "2024-01-01T10:00:04Z",
	}))

	result, err := f.svc.MergeRooms(ctx, requester, "A", "B")
	require.NoError(t, err)
	assert.Equal(t, 3, result.MovedMessages)

	target, err := f.mem.GetRoom(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, 4, target.MsgCount)

	messages, err := f.mem.ListMessages(ctx, "B")
	require.NoError(t, err)
	assert.Len(t, messages, 5)
}

func TestMergeRoomsRejectsThirdOpenRoom(t *testing.T) {
	f := newFixture(t, nil)
	f.seedScenario(t)
	ctx := context.Background()
	require.NoError(t, f.mem.CreateRoom(ctx, model.RoomItem{RoomID: "C", VisitorID: "v1", Open: true, Ts: "2024-01-02T10:00:00Z"}))

	_, err := f.svc.MergeRooms(ctx, requester, "A", "B")
	requireCode(t, err, ErrorCodeConflict)

	_, err = f.mem.GetRoom(ctx, "A")
	assert.NoError(t, err)
	_, err = f.mem.GetMergeJournal(ctx, "A")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMergeRoomsExistingJournalConflicts(t *testing.T) {
	f := newFixture(t, nil)
	f.seedScenario(t)
	ctx := context.Background()
	require.NoError(t, f.mem.CreateMergeJournal(ctx, model.MergeJournalItem{CloseRoomID: "A", TargetRoomID: "Z"}))

	_, err := f.svc.MergeRooms(ctx, requester, "A", "B")
	requireCode(t, err, ErrorCodeConflict)

	target, err := f.mem.GetRoom(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, 1, target.MsgCount)
}

func TestMergeRoomsConcurrentCallsMergeOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.seedScenario(t)
	ctx := context.Background()

	const callers = 8
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		errs      = make(chan error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.MergeRooms(ctx, requester, "A", "B"); err != nil {
				errs <- err
				return
			}
			successes.Add(1)
		}()
	}
	wg.Wait()
	close(errs)

	assert.Equal(t, int32(1), successes.Load())
	for err := range errs {
		var svcErr *Error
		require.True(t, errors.As(err, &svcErr))
		assert.Contains(t, []ErrorCode{ErrorCodeNotFound, ErrorCodeConflict}, svcErr.Code)
	}

	target, err := f.mem.GetRoom(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, 4, target.MsgCount)
	messages, err := f.mem.ListMessages(ctx, "B")
	require.NoError(t, err)
	assert.Len(t, messages, 4)
}

func TestMergeRoomsResumesAfterPartialFailure(t *testing.T) {
	var flaky *flakyRepo
	f := newFixture(t, func(m *store.MemoryRepository) store.Repository {
		flaky = &flakyRepo{MemoryRepository: m}
		return flaky
	})
	f.seedScenario(t)
	ctx := context.Background()
	flaky.auxFailures.Store(1)

	_, err := f.svc.MergeRooms(ctx, requester, "A", "B")
	requireCode(t, err, ErrorCodePartialFailure)
	assert.Contains(t, err.Error(), "delete_close_auxiliary")

	journal, err := f.mem.GetMergeJournal(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 5, journal.Step)
	assert.Equal(t, model.MergeStatusFailed, journal.Status)
	assert.Equal(t, 3, journal.MovedCount)

	// The room is gone already, so a fresh merge cannot start over.
	_, err = f.svc.MergeRooms(ctx, requester, "A", "B")
	requireCode(t, err, ErrorCodeNotFound)

	result, err := f.svc.ResumeMerge(ctx, "A")
	require.NoError(t, err)
	assert.True(t, result.Resumed)
	assert.Equal(t, 3, result.MovedMessages)

	target, err := f.mem.GetRoom(ctx, "B")
	require.NoError(t, err)
	assert.True(t, target.Open)
	assert.Equal(t, 4, target.MsgCount)

	inquiries, err := f.mem.ListInquiries(ctx, "A")
	require.NoError(t, err)
	assert.Empty(t, inquiries)

	sub, err := f.mem.GetSubscription(ctx, "B", "agent-2")
	require.NoError(t, err)
	assert.True(t, sub.Answered)
	assert.Equal(t, map[string]string{"source": "whatsapp"}, sub.RBInfo)

	_, err = f.mem.GetMergeJournal(ctx, "A")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.svc.ResumeMerge(ctx, "A")
	requireCode(t, err, ErrorCodeNotFound)
}

func TestResumePendingMergesPicksUpStaleJournals(t *testing.T) {
	var flaky *flakyRepo
	f := newFixture(t, func(m *store.MemoryRepository) store.Repository {
		flaky = &flakyRepo{MemoryRepository: m}
		return flaky
	})
	f.seedScenario(t)
	ctx := context.Background()
	flaky.auxFailures.Store(1)

	_, err := f.svc.MergeRooms(ctx, requester, "A", "B")
	requireCode(t, err, ErrorCodePartialFailure)

	resumed, err := f.svc.ResumePendingMerges(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, resumed)

	f.clock.Advance(2 * time.Minute)
	resumed, err = f.svc.ResumePendingMerges(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)

	target, err := f.mem.GetRoom(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, 4, target.MsgCount)
}

func TestMergeRoomsSurvivesKnowledgeProblems(t *testing.T) {
	t.Run("queue full", func(t *testing.T) {
		f := newFixture(t, nil)
		f.seedScenario(t)
		f.dispatcher.full = true

		_, err := f.svc.MergeRooms(context.Background(), requester, "A", "B")
		require.NoError(t, err)
		assert.Equal(t, 0, f.dispatcher.Len())
		assert.Empty(t, f.knowledge.messages)
	})

	t.Run("adapter error", func(t *testing.T) {
		f := newFixture(t, nil)
		f.seedScenario(t)
		f.knowledge.err = errors.New("indexer down")

		_, err := f.svc.MergeRooms(context.Background(), requester, "A", "B")
		require.NoError(t, err)
		f.dispatcher.RunAll(t)
		assert.Len(t, f.knowledge.messages, 1)
	})

	t.Run("no adapter", func(t *testing.T) {
		repo := store.NewMemoryRepository()
		f := &fixture{mem: repo}
		svc := New(Dependencies{
			Repo:       repo,
			Locker:     lock.NewMemoryLocker(0),
			Authorizer: authz.NewRoleAuthorizer(repo),
			Log:        zerolog.Nop(),
		})
		require.NoError(t, repo.PutAgent(context.Background(), model.AgentItem{UserID: requester, Role: model.AgentRoleAgent}))
		f.seedScenario(t)

		_, err := svc.MergeRooms(context.Background(), requester, "A", "B")
		require.NoError(t, err)
	})
}

func TestFindPreviousRoom(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for _, r := range []model.RoomItem{
		{RoomID: "current", VisitorID: "v1", Open: true, Ts: "2024-01-05T00:00:00Z"},
		{RoomID: "older", VisitorID: "v1", Open: false, Ts: "2024-01-01T00:00:00Z"},
		{RoomID: "newer", VisitorID: "v1", Open: false, Ts: "2024-01-03T00:00:00Z"},
		{RoomID: "someone-else", VisitorID: "v2", Open: false, Ts: "2024-01-04T00:00:00Z"},
		{RoomID: "lonely", VisitorID: "v3", Open: true, Ts: "2024-01-04T00:00:00Z"},
	} {
		require.NoError(t, f.mem.CreateRoom(ctx, r))
	}

	previous, err := f.svc.FindPreviousRoom(ctx, requester, "current")
	require.NoError(t, err)
	assert.Equal(t, "newer", previous.RoomID)

	// A closed room never returns itself.
	previous, err = f.svc.FindPreviousRoom(ctx, requester, "newer")
	require.NoError(t, err)
	assert.Equal(t, "older", previous.RoomID)

	_, err = f.svc.FindPreviousRoom(ctx, requester, "lonely")
	requireCode(t, err, ErrorCodeNotFound)

	_, err = f.svc.FindPreviousRoom(ctx, requester, "missing")
	requireCode(t, err, ErrorCodeNotFound)

	_, err = f.svc.FindPreviousRoom(ctx, "stranger", "current")
	requireCode(t, err, ErrorCodeNotAuthorized)
}
