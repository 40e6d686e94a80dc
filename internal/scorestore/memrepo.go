package scorestore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/park285/scorekeeper/internal/livegame"
)

// memrepo is an in-memory Repository used when no database is configured.
type memrepo struct {
	mu sync.RWMutex

	nextID int64

	byID       map[int64]*Score
	byLiveGame map[string]int64
	byPublicID map[string]int64
}

func NewMemoryRepository() Repository {
	return &memrepo{
		byID:       make(map[int64]*Score),
		byLiveGame: make(map[string]int64),
		byPublicID: make(map[string]int64),
	}
}

func (m *memrepo) InsertScore(ctx context.Context, s *Score) (int64, error) {
	if err := validateScore(s); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	lg := strings.TrimSpace(s.LiveGameID)
	if _, dup := m.byLiveGame[lg]; lg != "" && dup {
		return 0, ErrDuplicateScore
	}
	if _, dup := m.byPublicID[s.PublicID]; dup {
		return 0, ErrDuplicateScore
	}

	m.nextID++
	stored := cloneScore(s)
	stored.ID = m.nextID
	stored.Pool = nil
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	m.byID[stored.ID] = stored
	m.byPublicID[stored.PublicID] = stored.ID
	if lg != "" {
		m.byLiveGame[lg] = stored.ID
	}
	s.ID = stored.ID
	return stored.ID, nil
}

func (m *memrepo) ScoreByLiveGame(ctx context.Context, liveGameID string) (*Score, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byLiveGame[strings.TrimSpace(liveGameID)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneScore(m.byID[id]), nil
}

func (m *memrepo) AttachPool(ctx context.Context, scoreID int64, liveGameID string, ps livegame.PoolState) error {
	if err := validatePool(ps); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[scoreID]
	if !ok {
		return ErrNotFound
	}
	p := ps
	s.Pool = &p
	return nil
}

func (m *memrepo) GetScore(ctx context.Context, id int64) (*Score, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneScore(s), nil
}

func (m *memrepo) RecentScores(ctx context.Context, userID string, limit int) ([]*Score, error) {
	if limit <= 0 {
		limit = 10
	}
	userID = strings.TrimSpace(userID)
	m.mu.RLock()
	items := make([]*Score, 0)
	for _, s := range m.byID {
		if s.CreatorID == userID || (s.OpponentID != "" && s.OpponentID == userID) {
			items = append(items, cloneScore(s))
		}
	}
	m.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if !items[i].Date.Equal(items[j].Date) {
			return items[i].Date.After(items[j].Date)
		}
		return items[i].ID > items[j].ID
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *memrepo) UpdateScore(ctx context.Context, id int64, ownerID string, e Edit) (*Score, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.CreatorID != strings.TrimSpace(ownerID) {
		return nil, ErrNotOwner
	}
	next := cloneScore(s)
	if err := applyEdit(next, e); err != nil {
		return nil, err
	}
	m.byID[id] = next
	return cloneScore(next), nil
}

func (m *memrepo) DeleteScore(ctx context.Context, id int64, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	if s.CreatorID != strings.TrimSpace(ownerID) {
		return ErrNotOwner
	}
	delete(m.byID, id)
	delete(m.byPublicID, s.PublicID)
	if s.LiveGameID != "" {
		delete(m.byLiveGame, s.LiveGameID)
	}
	return nil
}

func cloneScore(s *Score) *Score {
	if s == nil {
		return nil
	}
	out := *s
	if s.Pool != nil {
		p := *s.Pool
		out.Pool = &p
	}
	return &out
}
