package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"mindsync-backend/internal/models"
	"mindsync-backend/internal/realtime"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type messageFixture struct {
	db      *fakeDB
	redis   *miniredis.Miniredis
	broker  *realtime.Broker
	service *MessageService
}

func newMessageFixture(t *testing.T) *messageFixture {
	t.Helper()
	db := newFakeDB()
	broker := realtime.NewBroker(16)
	store, mr := newTestRedis(t)
	service := NewMessageService(messageRepo{db}, db, groupRepo{db}, store, broker)
	service.now = func() time.Time { return baseTime }
	return &messageFixture{db: db, redis: mr, broker: broker, service: service}
}

// publishInserts makes every stored message show up on the change feed
func (f *messageFixture) publishInserts(t *testing.T) {
	f.db.mu.Lock()
	f.db.onCreate = func(m models.Message) {
		row, err := json.Marshal(m)
		require.NoError(t, err)
		f.broker.Publish(realtime.Event{Table: "messages", Action: realtime.ActionInsert, New: row})
	}
	f.db.mu.Unlock()
}

func nextUpdate(t *testing.T, s *ChatSession) models.FormattedMessage {
	t.Helper()
	select {
	case m, ok := <-s.Updates():
		require.True(t, ok, "updates closed")
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no live message")
		return models.FormattedMessage{}
	}
}

func TestHistoryFormatsAndOrders(t *testing.T) {
	f := newMessageFixture(t)
	f.db.addProfile("u1", "alice@example.com")
	f.db.profiles["u1"].ImageURL = strPtr("https://img/alice.png")

	f.db.addMessage(1, strPtr("u2"), "second", baseTime.Add(2*time.Minute))
	f.db.addMessage(1, strPtr("u1"), "first", baseTime.Add(time.Minute))
	f.db.addMessage(1, nil, "third", baseTime.Add(3*time.Minute))
	f.db.addMessage(2, strPtr("u1"), "elsewhere", baseTime)

	history, err := f.service.History(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, history, 3)

	assert.Equal(t, "first", history[0].Content)
	assert.Equal(t, "alice", history[0].SenderName)
	assert.Equal(t, "https://img/alice.png", history[0].SenderAvatar)

	assert.Equal(t, "second", history[1].Content)
	assert.Equal(t, "User", history[1].SenderName)
	assert.Equal(t, "/placeholder.svg", history[1].SenderAvatar)

	assert.Nil(t, history[2].SenderID)
	assert.Equal(t, "User", history[2].SenderName)

	for i := 1; i < len(history); i++ {
		assert.False(t, history[i].Timestamp.Before(history[i-1].Timestamp))
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	f := newMessageFixture(t)
	f.db.addProfile("u1", "bob@example.com")

	stored := make([]models.Message, 0, 5)
	for i := 0; i < 5; i++ {
		stored = append(stored, f.db.addMessage(9, strPtr("u1"), "msg", baseTime.Add(time.Duration(i)*time.Second)))
	}

	history, err := f.service.History(context.Background(), 9)
	require.NoError(t, err)
	require.Len(t, history, len(stored))
	for i, m := range stored {
		assert.Equal(t, m.ID, history[i].ID)
		assert.Equal(t, m.Content, history[i].Content)
		assert.Equal(t, "bob", history[i].SenderName)
	}
}

func TestHistoryIsCached(t *testing.T) {
	f := newMessageFixture(t)
	f.db.addMessage(1, nil, "hi", baseTime)

	_, err := f.service.History(context.Background(), 1)
	require.NoError(t, err)
	calls := f.db.callCount()

	f.db.addMessage(1, nil, "unseen", baseTime.Add(time.Second))
	history, err := f.service.History(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, history, 1)
	assert.Equal(t, calls, f.db.callCount())
}

func TestHistoryRetriesOnce(t *testing.T) {
	f := newMessageFixture(t)
	f.db.addMessage(1, nil, "hi", baseTime)
	f.db.failLists = 1

	history, err := f.service.History(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestInvalidGroupMakesNoCalls(t *testing.T) {
	f := newMessageFixture(t)

	for _, id := range []int64{0, -3} {
		history, err := f.service.History(context.Background(), id)
		require.NoError(t, err)
		assert.Empty(t, history)

		session := f.service.Open(context.Background(), id)
		assert.NoError(t, session.Err())
		msgs, err := session.Messages(context.Background())
		require.NoError(t, err)
		assert.Empty(t, msgs)
		_, open := <-session.Updates()
		assert.False(t, open)
		session.Close()
	}

	assert.Equal(t, 0, f.db.callCount())
	assert.Equal(t, 0, f.broker.Count())
}

func TestSendValidation(t *testing.T) {
	f := newMessageFixture(t)
	f.db.addGroup(models.Group{ID: 1, Name: "g"}, "u1")

	tests := []struct {
		name    string
		groupID int64
		userID  string
		content string
	}{
		{name: "blank content", groupID: 1, userID: "u1", content: "   "},
		{name: "missing sender", groupID: 1, userID: "", content: "hi"},
		{name: "zero group", groupID: 0, userID: "u1", content: "hi"},
		{name: "negative group", groupID: -1, userID: "u1", content: "hi"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Send(context.Background(), tt.groupID, tt.userID, tt.content)
			assert.ErrorIs(t, err, models.ErrInvalidInput)
		})
	}
	assert.Equal(t, 0, f.db.callCount())
}

func TestSendToArchivedGroup(t *testing.T) {
	f := newMessageFixture(t)
	expired := baseTime
	f.db.addGroup(models.Group{ID: 1, Name: "g", ExpiresAt: &expired}, "u1")

	_, err := f.service.Send(context.Background(), 1, "u1", "hi")
	assert.ErrorIs(t, err, models.ErrGroupArchived)
	assert.Empty(t, f.db.messagesIn(1))
}

func TestSendUnknownGroup(t *testing.T) {
	f := newMessageFixture(t)

	_, err := f.service.Send(context.Background(), 5, "u1", "hi")
	assert.ErrorIs(t, err, models.ErrGroupNotFound)
}

func TestSendReachesLiveSessions(t *testing.T) {
	f := newMessageFixture(t)
	f.publishInserts(t)
	f.db.addProfile("u1", "carol@example.com")
	later := baseTime.Add(time.Hour)
	f.db.addGroup(models.Group{ID: 7, Name: "g", ExpiresAt: &later}, "u1", "u2")
	f.db.addMessage(7, strPtr("u2"), "earlier", baseTime.Add(-time.Minute))

	ctx := context.Background()
	first := f.service.Open(ctx, 7)
	defer first.Close()
	second := f.service.Open(ctx, 7)
	defer second.Close()
	require.NoError(t, first.Err())
	assert.Equal(t, 1, f.broker.Count())
	assert.Equal(t, 1, f.service.OpenFeeds())

	sent, err := f.service.Send(ctx, 7, "u1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", sent.Content)
	assert.Equal(t, "u1", *sent.UserID)
	assert.False(t, sent.CreatedAt.Before(baseTime))

	for _, s := range []*ChatSession{first, second} {
		got := nextUpdate(t, s)
		assert.Equal(t, sent.ID, got.ID)
		assert.Equal(t, "hello", got.Content)
		assert.Equal(t, "carol", got.SenderName)
		require.NotNil(t, got.SenderID)
		assert.Equal(t, "u1", *got.SenderID)

		msgs, err := s.Messages(ctx)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "earlier", msgs[0].Content)
		assert.Equal(t, "hello", msgs[1].Content)
	}

	// the shared entry gets the message once even with two sessions open
	history, err := f.service.History(ctx, 7)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, sent.ID, history[1].ID)
}

func TestSessionWithoutLiveEventsReadsCache(t *testing.T) {
	f := newMessageFixture(t)
	f.publishInserts(t)
	f.db.addGroup(models.Group{ID: 3, Name: "g"}, "u1")

	ctx := context.Background()
	watcher := f.service.Open(ctx, 3)
	defer watcher.Close()

	msgs, err := watcher.Messages(ctx)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	_, err = f.service.Send(ctx, 3, "u1", "hey")
	require.NoError(t, err)
	nextUpdate(t, watcher)

	late := f.service.Open(ctx, 3)
	defer late.Close()
	msgs, err = late.Messages(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hey", msgs[0].Content)
}

func TestLiveAppendKeepsDeliveryOrder(t *testing.T) {
	f := newMessageFixture(t)
	f.db.addGroup(models.Group{ID: 4, Name: "g"})

	ctx := context.Background()
	session := f.service.Open(ctx, 4)
	defer session.Close()

	newer := models.Message{ID: 2, GroupID: 4, Content: "newer", CreatedAt: baseTime.Add(time.Minute)}
	older := models.Message{ID: 1, GroupID: 4, Content: "older", CreatedAt: baseTime}
	for _, m := range []models.Message{newer, older} {
		row, _ := json.Marshal(m)
		f.broker.Publish(realtime.Event{Table: "messages", Action: realtime.ActionInsert, New: row})
		nextUpdate(t, session)
	}

	msgs, err := session.Messages(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "newer", msgs[0].Content)
	assert.Equal(t, "older", msgs[1].Content)
}

func TestTruncatedEventIsReRead(t *testing.T) {
	f := newMessageFixture(t)
	f.db.addGroup(models.Group{ID: 5, Name: "g"})
	f.db.addGroup(models.Group{ID: 6, Name: "other"})

	ctx := context.Background()
	session := f.service.Open(ctx, 5)
	defer session.Close()

	foreign := f.db.addMessage(6, nil, "not for us", baseTime)
	long := f.db.addMessage(5, nil, "a very long message", baseTime)

	for _, m := range []models.Message{foreign, long} {
		id, _ := json.Marshal(m.ID)
		f.broker.Publish(realtime.Event{Table: "messages", Action: realtime.ActionInsert, TooLong: true, ID: id})
	}

	got := nextUpdate(t, session)
	assert.Equal(t, long.ID, got.ID)
	assert.Equal(t, "a very long message", got.Content)
	assert.Len(t, session.Updates(), 0)
}

func TestCloseReleasesFeed(t *testing.T) {
	f := newMessageFixture(t)
	f.db.addGroup(models.Group{ID: 8, Name: "g"})

	ctx := context.Background()
	first := f.service.Open(ctx, 8)
	second := f.service.Open(ctx, 8)

	first.Close()
	first.Close()
	assert.Equal(t, 1, f.broker.Count())

	_, open := <-first.Updates()
	assert.False(t, open)

	second.Close()
	assert.Equal(t, 0, f.broker.Count())
	assert.Equal(t, 0, f.service.OpenFeeds())

	row, _ := json.Marshal(models.Message{ID: 1, GroupID: 8, Content: "late"})
	f.broker.Publish(realtime.Event{Table: "messages", Action: realtime.ActionInsert, New: row})
	_, open = <-second.Updates()
	assert.False(t, open)
}

func TestConcurrentOpenClose(t *testing.T) {
	f := newMessageFixture(t)
	f.db.addGroup(models.Group{ID: 10, Name: "g"})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := f.service.Open(context.Background(), 10)
			s.Close()
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, f.broker.Count())
	assert.Equal(t, 0, f.service.OpenFeeds())
}

func TestHistoryAfterCacheEntryCollected(t *testing.T) {
	f := newMessageFixture(t)
	f.publishInserts(t)
	f.db.addGroup(models.Group{ID: 7, Name: "g"}, "u1")
	for i := 0; i < 3; i++ {
		f.db.addMessage(7, strPtr("u1"), "old", baseTime.Add(time.Duration(i)*time.Second))
	}

	ctx := context.Background()
	session := f.service.Open(ctx, 7)
	defer session.Close()
	require.NoError(t, session.Err())

	f.redis.FastForward(11 * time.Minute)

	_, err := f.service.Send(ctx, 7, "u1", "hello")
	require.NoError(t, err)
	nextUpdate(t, session)

	history, err := f.service.History(ctx, 7)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, "hello", history[3].Content)

	msgs, err := session.Messages(ctx)
	require.NoError(t, err)
	assert.Len(t, msgs, 4)
}
