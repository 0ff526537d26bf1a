package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/KnotATypo/Telegram-Bots/internal/models"
)

type MemoryStorage struct {
	mu        sync.RWMutex
	items     []models.Item
	occupancy []models.Occupancy
	chats     map[int64]struct{}
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		chats: make(map[int64]struct{}),
	}
}

// Item methods
func (s *MemoryStorage) AddItem(ctx context.Context, item *models.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = append(s.items, *item)
	return nil
}

func (s *MemoryStorage) ListItems(ctx context.Context) ([]*models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]*models.Item, 0, len(s.items))
	for i := range s.items {
		item := s.items[i]
		items = append(items, &item)
	}
	return items, nil
}

func (s *MemoryStorage) RemoveItems(ctx context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.items[:0]
	var removed int64
	for _, item := range s.items {
		if item.Name == name {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	s.items = kept
	return removed, nil
}

// Occupancy methods
func (s *MemoryStorage) AddOccupancy(ctx context.Context, o *models.Occupancy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.occupancy = append(s.occupancy, *o)
	return nil
}

func (s *MemoryStorage) ListOccupancy(ctx context.Context) ([]*models.Occupancy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]*models.Occupancy, 0, len(s.occupancy))
	for i := range s.occupancy {
		o := s.occupancy[i]
		rows = append(rows, &o)
	}
	return rows, nil
}

// Chat registry methods
func (s *MemoryStorage) RegisterChat(ctx context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chats[chatID] = struct{}{}
	return nil
}

func (s *MemoryStorage) ListChats(ctx context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chats := make([]int64, 0, len(s.chats))
	for id := range s.chats {
		chats = append(chats, id)
	}
	sort.Slice(chats, func(i, j int) bool { return chats[i] < chats[j] })
	return chats, nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
