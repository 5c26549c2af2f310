package services

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"mindsync-backend/internal/cache"
	"mindsync-backend/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var baseTime = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func newTestCache(t *testing.T) *cache.Store {
	t.Helper()
	store, _ := newTestRedis(t)
	return store
}

func newTestRedis(t *testing.T) (*cache.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return cache.New(client, 5*time.Minute, 10*time.Minute), mr
}

// fakeDB is an in-memory stand-in for the repositories
type fakeDB struct {
	mu sync.Mutex

	groups   map[int64]*models.Group
	members  []models.GroupMember
	messages []models.Message
	profiles map[string]*models.Profile

	nextID       int64
	calls        int
	welcomeReads int
	onCreate     func(models.Message)
	failLists    int
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		groups:   make(map[int64]*models.Group),
		profiles: make(map[string]*models.Profile),
		nextID:   100,
	}
}

func (db *fakeDB) callCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.calls
}

func (db *fakeDB) addGroup(g models.Group, memberIDs ...string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	group := g
	db.groups[g.ID] = &group
	for _, id := range memberIDs {
		db.nextID++
		uid := id
		db.members = append(db.members, models.GroupMember{ID: db.nextID, GroupID: g.ID, UserID: &uid})
	}
}

func (db *fakeDB) addProfile(userID, email string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.profiles[userID] = &models.Profile{ID: int64(len(db.profiles) + 1), UserID: userID, Email: &email}
}

func (db *fakeDB) addMessage(groupID int64, userID *string, content string, at time.Time) models.Message {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.nextID++
	m := models.Message{ID: db.nextID, GroupID: groupID, UserID: userID, Content: content, CreatedAt: at}
	db.messages = append(db.messages, m)
	return m
}

// messages

func (db *fakeDB) Create(_ context.Context, groupID int64, userID *string, content string) (*models.Message, error) {
	db.mu.Lock()
	db.calls++
	db.nextID++
	m := models.Message{ID: db.nextID, GroupID: groupID, UserID: userID, Content: content, CreatedAt: baseTime.Add(time.Duration(db.nextID) * time.Second)}
	db.messages = append(db.messages, m)
	hook := db.onCreate
	db.mu.Unlock()

	if hook != nil {
		hook(m)
	}
	return &m, nil
}

func (db *fakeDB) GetByIDMessage(id int64) (*models.Message, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, m := range db.messages {
		if m.ID == id {
			msg := m
			return &msg, nil
		}
	}
	return nil, models.ErrMessageNotFound
}

func (db *fakeDB) ListByGroup(_ context.Context, groupID int64) ([]models.Message, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.calls++
	if db.failLists > 0 {
		db.failLists--
		return nil, context.DeadlineExceeded
	}
	out := make([]models.Message, 0)
	for _, m := range db.messages {
		if m.GroupID == groupID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (db *fakeDB) CountByGroup(_ context.Context, groupID int64) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.calls++
	var n int64
	for _, m := range db.messages {
		if m.GroupID == groupID {
			n++
		}
	}
	return n, nil
}

func (db *fakeDB) LastActivity(_ context.Context, groupID int64) (*time.Time, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.calls++
	var last *time.Time
	for _, m := range db.messages {
		if m.GroupID == groupID && (last == nil || m.CreatedAt.After(*last)) {
			at := m.CreatedAt
			last = &at
		}
	}
	return last, nil
}

// profiles

func (db *fakeDB) GetSummary(_ context.Context, userID string) (*models.ProfileSummary, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.calls++
	p, ok := db.profiles[userID]
	if !ok {
		return nil, nil
	}
	return &models.ProfileSummary{UserID: p.UserID, Email: p.Email, ImageURL: p.ImageURL}, nil
}

func (db *fakeDB) GetSummaries(_ context.Context, userIDs []string) (map[string]models.ProfileSummary, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.calls++
	out := make(map[string]models.ProfileSummary)
	for _, id := range userIDs {
		if p, ok := db.profiles[id]; ok {
			out[id] = models.ProfileSummary{UserID: p.UserID, Email: p.Email, ImageURL: p.ImageURL}
		}
	}
	return out, nil
}

// groups

func (db *fakeDB) GetGroup(id int64) (*models.Group, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.calls++
	g, ok := db.groups[id]
	if !ok {
		return nil, models.ErrGroupNotFound
	}
	group := *g
	return &group, nil
}

func (db *fakeDB) ListForUser(_ context.Context, userID string) ([]models.Group, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.calls++
	out := make([]models.Group, 0)
	for _, m := range db.members {
		if m.UserID != nil && *m.UserID == userID {
			out = append(out, *db.groups[m.GroupID])
		}
	}
	return out, nil
}

func (db *fakeDB) Members(_ context.Context, groupID int64) ([]models.GroupMember, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.calls++
	out := make([]models.GroupMember, 0)
	for _, m := range db.members {
		if m.GroupID == groupID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (db *fakeDB) IsMember(_ context.Context, groupID int64, userID string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.calls++
	for _, m := range db.members {
		if m.GroupID == groupID && m.UserID != nil && *m.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (db *fakeDB) IsWelcomed(_ context.Context, groupID int64) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.welcomeReads++
	g, ok := db.groups[groupID]
	if !ok {
		return false, models.ErrGroupNotFound
	}
	return g.Welcomed, nil
}

func (db *fakeDB) ClaimWelcome(_ context.Context, groupID int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	g, ok := db.groups[groupID]
	if !ok {
		return models.ErrGroupNotFound
	}
	if g.Welcomed {
		return models.ErrAlreadyWelcomed
	}
	g.Welcomed = true
	return nil
}

func (db *fakeDB) messagesIn(groupID int64) []models.Message {
	out, _ := db.ListByGroup(context.Background(), groupID)
	return out
}

// Thin adapters where two repositories share a method name

type groupRepo struct{ *fakeDB }

func (r groupRepo) GetByID(_ context.Context, id int64) (*models.Group, error) {
	return r.GetGroup(id)
}

type messageRepo struct{ *fakeDB }

func (r messageRepo) GetByID(_ context.Context, id int64) (*models.Message, error) {
	return r.GetByIDMessage(id)
}

type stubGenerator struct {
	text string
	err  error

	mu    sync.Mutex
	calls int
}

func (g *stubGenerator) GenerateWelcomeMessage(context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.text, g.err
}

func (db *fakeDB) welcomeReadCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.welcomeReads
}
