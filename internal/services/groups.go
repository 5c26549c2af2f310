package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mindsync-backend/internal/cache"
	"mindsync-backend/internal/models"
	"mindsync-backend/internal/realtime"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	enrichConcurrency = 8
	welcomeTimeout    = 30 * time.Second
)

// GroupStore is the persistence the group flow needs
type GroupStore interface {
	GetByID(ctx context.Context, id int64) (*models.Group, error)
	ListForUser(ctx context.Context, userID string) ([]models.Group, error)
	Members(ctx context.Context, groupID int64) ([]models.GroupMember, error)
	IsMember(ctx context.Context, groupID int64, userID string) (bool, error)
}

// MessageStats counts a group's messages and finds its latest activity
type MessageStats interface {
	CountByGroup(ctx context.Context, groupID int64) (int64, error)
	LastActivity(ctx context.Context, groupID int64) (*time.Time, error)
}

// Presence reports whether a user has a live connection
type Presence interface {
	IsOnline(userID string) bool
}

// groupDetail is the cached part of a GroupDetail
type groupDetail struct {
	Group        *models.Group                    `json:"group"`
	Members      []models.GroupMember             `json:"members"`
	Profiles     map[string]models.ProfileSummary `json:"profiles"`
	MessageCount int64                            `json:"message_count"`
}

// GroupService resolves group lists and details
type GroupService struct {
	groups   GroupStore
	stats    MessageStats
	profiles ProfileLookup
	welcomer *Welcomer
	presence Presence
	cache    *cache.Store
	now      func() time.Time

	welcomes sync.WaitGroup
}

// NewGroupService creates a new group service
func NewGroupService(
	groups GroupStore,
	stats MessageStats,
	profiles ProfileLookup,
	welcomer *Welcomer,
	presence Presence,
	cacheStore *cache.Store,
) *GroupService {
	return &GroupService{
		groups:   groups,
		stats:    stats,
		profiles: profiles,
		welcomer: welcomer,
		presence: presence,
		cache:    cacheStore,
		now:      time.Now,
	}
}

// ListGroups returns the user's groups split into active and archived.
// An empty user id yields empty lists.
func (s *GroupService) ListGroups(ctx context.Context, userID string) (*models.GroupLists, error) {
	if userID == "" {
		return &models.GroupLists{Active: []models.GroupSummary{}, Archived: []models.GroupSummary{}}, nil
	}

	summaries, err := cache.Fetch(ctx, s.cache, cache.GroupsKey(userID), func(ctx context.Context) ([]models.GroupSummary, error) {
		return s.loadSummaries(ctx, userID)
	})
	if err != nil {
		return nil, err
	}

	lists := Partition(summaries, s.now())
	return &lists, nil
}

// Partition splits groups by expiry at the given instant, keeping order.
// No expiry or an expiry after now is active, anything else archived.
func Partition(groups []models.GroupSummary, now time.Time) models.GroupLists {
	lists := models.GroupLists{
		Active:   make([]models.GroupSummary, 0, len(groups)),
		Archived: make([]models.GroupSummary, 0),
	}
	for _, g := range groups {
		if g.IsArchived(now) {
			lists.Archived = append(lists.Archived, g)
		} else {
			lists.Active = append(lists.Active, g)
		}
	}
	return lists
}

func (s *GroupService) loadSummaries(ctx context.Context, userID string) ([]models.GroupSummary, error) {
	groups, err := s.groups.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load groups: %w", err)
	}

	summaries := make([]models.GroupSummary, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichConcurrency)

	for i := range groups {
		group := groups[i]
		g.Go(func() error {
			summary, err := s.summarize(gctx, group)
			if err != nil {
				return err
			}
			summaries[i] = *summary
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summaries, nil
}

func (s *GroupService) summarize(ctx context.Context, group models.Group) (*models.GroupSummary, error) {
	members, err := s.groups.Members(ctx, group.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load members of group %d: %w", group.ID, err)
	}

	profiles, err := s.profiles.GetSummaries(ctx, memberUserIDs(members))
	if err != nil {
		return nil, fmt.Errorf("failed to load member profiles of group %d: %w", group.ID, err)
	}

	views := make([]models.MemberView, 0, len(members))
	for _, m := range members {
		view := models.MemberView{Name: models.DefaultSenderName, Avatar: models.PlaceholderAvatar}
		if m.UserID != nil {
			view.ID = *m.UserID
			if p, ok := profiles[*m.UserID]; ok {
				view.Name = models.DisplayName(p.Email)
				view.Avatar = models.Avatar(p.ImageURL)
			}
		}
		views = append(views, view)
	}

	count, err := s.stats.CountByGroup(ctx, group.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count messages of group %d: %w", group.ID, err)
	}

	lastActive, err := s.stats.LastActivity(ctx, group.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load last activity of group %d: %w", group.ID, err)
	}

	return &models.GroupSummary{
		ID:           group.ID,
		Name:         group.Name,
		Description:  group.Description,
		Members:      views,
		MessageCount: count,
		LastActive:   lastActive,
		ExpiresAt:    group.ExpiresAt,
		CreatedAt:    group.CreatedAt,
	}, nil
}

// GetGroup returns a group with its members. A group that has no messages
// and was never welcomed gets its welcome flow started in the background;
// the detail is returned without waiting for it.
func (s *GroupService) GetGroup(ctx context.Context, groupID int64) (*models.GroupDetail, error) {
	if groupID <= 0 {
		return nil, fmt.Errorf("%w: group id must be positive", models.ErrInvalidInput)
	}

	cached, err := cache.Fetch(ctx, s.cache, cache.GroupKey(groupID), func(ctx context.Context) (*groupDetail, error) {
		return s.loadDetail(ctx, groupID)
	})
	if err != nil {
		return nil, err
	}

	if cached.MessageCount == 0 && !cached.Group.Welcomed {
		s.startWelcome(groupID)
	}

	members := make([]models.MemberDetail, 0, len(cached.Members))
	for _, m := range cached.Members {
		detail := models.MemberDetail{ID: m.ID, UserID: m.UserID}
		if m.UserID != nil {
			if p, ok := cached.Profiles[*m.UserID]; ok {
				detail.Profile = &p
			}
			if s.presence != nil {
				detail.Online = s.presence.IsOnline(*m.UserID)
			}
		}
		members = append(members, detail)
	}

	return &models.GroupDetail{
		Group:        cached.Group,
		Members:      members,
		MessageCount: cached.MessageCount,
	}, nil
}

func (s *GroupService) loadDetail(ctx context.Context, groupID int64) (*groupDetail, error) {
	group, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}

	count, err := s.stats.CountByGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}

	members, err := s.groups.Members(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load members: %w", err)
	}

	profiles, err := s.profiles.GetSummaries(ctx, memberUserIDs(members))
	if err != nil {
		return nil, fmt.Errorf("failed to load member profiles: %w", err)
	}

	return &groupDetail{
		Group:        group,
		Members:      members,
		Profiles:     profiles,
		MessageCount: count,
	}, nil
}

func (s *GroupService) startWelcome(groupID int64) {
	if s.welcomer == nil {
		return
	}
	s.welcomes.Add(1)
	go func() {
		defer s.welcomes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), welcomeTimeout)
		defer cancel()
		s.welcomer.Welcome(ctx, groupID)
	}()
}

// Wait blocks until every welcome flow started so far has finished
func (s *GroupService) Wait() {
	s.welcomes.Wait()
}

// Watch drops cached group entries when a group row changes, so the
// welcomed flag and expiry are not served stale. The returned func stops
// watching.
func (s *GroupService) Watch(broker *realtime.Broker) func() {
	sub := broker.Subscribe(realtime.Filter{
		Table:   "groups",
		Actions: []realtime.Action{realtime.ActionUpdate, realtime.ActionDelete},
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for event := range sub.Events() {
			groupID, ok := event.RowID()
			if !ok {
				log.Warn().Str("action", string(event.Action)).Msg("Group change without id")
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
			s.invalidateGroup(ctx, groupID)
			cancel()
		}
	}()

	return func() {
		sub.Release()
		<-done
	}
}

func (s *GroupService) invalidateGroup(ctx context.Context, groupID int64) {
	keys := []string{cache.GroupKey(groupID)}

	members, err := s.groups.Members(ctx, groupID)
	if err != nil {
		log.Warn().Err(err).Int64("group_id", groupID).Msg("Failed to load members for cache invalidation")
	}
	for _, id := range memberUserIDs(members) {
		keys = append(keys, cache.GroupsKey(id))
	}

	if err := s.cache.Invalidate(ctx, keys...); err != nil {
		log.Warn().Err(err).Int64("group_id", groupID).Msg("Failed to invalidate group cache")
	}
}

// IsMember reports whether the user belongs to the group
func (s *GroupService) IsMember(ctx context.Context, groupID int64, userID string) (bool, error) {
	if groupID <= 0 || userID == "" {
		return false, nil
	}
	return s.groups.IsMember(ctx, groupID, userID)
}

func memberUserIDs(members []models.GroupMember) []string {
	seen := make(map[string]struct{}, len(members))
	ids := make([]string, 0, len(members))
	for _, m := range members {
		if m.UserID == nil {
			continue
		}
		if _, ok := seen[*m.UserID]; ok {
			continue
		}
		seen[*m.UserID] = struct{}{}
		ids = append(ids, *m.UserID)
	}
	return ids
}
