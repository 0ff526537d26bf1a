package storage

import (
	"context"

	"github.com/KnotATypo/Telegram-Bots/internal/models"
)

type Storage interface {
	ItemStorage
	OccupancyStorage
	ChatRegistry
	Close() error
}

// ItemStorage holds the products tracked by the expiry bot.
type ItemStorage interface {
	AddItem(ctx context.Context, item *models.Item) error
	ListItems(ctx context.Context) ([]*models.Item, error)
	// RemoveItems deletes every item with the given name and returns how many
	// rows were removed.
	RemoveItems(ctx context.Context, name string) (int64, error)
}

type OccupancyStorage interface {
	AddOccupancy(ctx context.Context, o *models.Occupancy) error
	ListOccupancy(ctx context.Context) ([]*models.Occupancy, error)
}

// ChatRegistry is the set of chats that receive scheduled notifications.
type ChatRegistry interface {
	RegisterChat(ctx context.Context, chatID int64) error
	ListChats(ctx context.Context) ([]int64, error)
}
