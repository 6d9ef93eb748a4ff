package models

import (
	"time"

	"github.com/google/uuid"
)

// SwapOption определяет, что владелец хочет получить за вещь
type SwapOption string

const (
	SwapOptionFree SwapOption = "free" // Отдать даром
	SwapOptionSwap SwapOption = "swap" // Обменять на другую вещь
)

// ItemStatus представляет статус объявления
type ItemStatus string

const (
	ItemStatusActive   ItemStatus = "active"
	ItemStatusBlocked  ItemStatus = "blocked"
	ItemStatusArchived ItemStatus = "archived"
)

// Item представляет вещь, выставленную на обмен или в дар
type Item struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Categories  []string   `json:"categories"`
	SwapOption  SwapOption `json:"swap_option"`
	Status      ItemStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ItemSnapshot представляет срез вещи на момент создания сделки.
// Денормализованная копия, чтобы сделка не менялась при редактировании объявления.
type ItemSnapshot struct {
	ID         uuid.UUID  `json:"id"`
	UserID     uuid.UUID  `json:"user_id"`
	Title      string     `json:"title"`
	Categories []string   `json:"categories,omitempty"`
	SwapOption SwapOption `json:"swap_option"`
}

// Snapshot создаёт срез вещи для вложения в сделку
func (i *Item) Snapshot() *ItemSnapshot {
	return &ItemSnapshot{
		ID:         i.ID,
		UserID:     i.UserID,
		Title:      i.Title,
		Categories: i.Categories,
		SwapOption: i.SwapOption,
	}
}
