package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Item is one deck entry. Payload is stored as jsonb and handed to the
// game untouched.
type Item struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Game      string    `json:"game" gorm:"not null;index:idx_content_game_position,priority:1"`
	Position  int       `json:"position" gorm:"not null;index:idx_content_game_position,priority:2"`
	Payload   string    `json:"payload" gorm:"type:jsonb;not null"`
	CreatedAt time.Time `json:"created_at"`
}

func (Item) TableName() string {
	return "content_items"
}

var (
	ErrEmptyDeck   = errors.New("deck must contain at least one item")
	ErrInvalidItem = errors.New("deck item is not valid JSON")
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(&Item{})
}

// Decks returns every stored deck keyed by game, items in position order.
func (r *Repository) Decks(ctx context.Context) (map[string][]json.RawMessage, error) {
	var items []Item
	if err := r.db.WithContext(ctx).Order("game, position").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("load content items: %w", err)
	}

	decks := make(map[string][]json.RawMessage)
	for _, it := range items {
		name := deckName(it.Game)
		decks[name] = append(decks[name], json.RawMessage(it.Payload))
	}
	return decks, nil
}

// ReplaceDeck swaps a game's deck atomically.
func (r *Repository) ReplaceDeck(ctx context.Context, game string, items []json.RawMessage) error {
	if len(items) == 0 {
		return ErrEmptyDeck
	}
	name := deckName(game)

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("game = ?", name).Delete(&Item{}).Error; err != nil {
			return err
		}
		rows := make([]Item, 0, len(items))
		for i, raw := range items {
			if !json.Valid(raw) {
				return fmt.Errorf("%w: item %d", ErrInvalidItem, i)
			}
			rows = append(rows, Item{Game: name, Position: i, Payload: string(raw)})
		}
		return tx.Create(&rows).Error
	})
}
