package models

import (
	"time"

	"github.com/google/uuid"
)

// DealStatus представляет статус сделки
type DealStatus string

const (
	DealStatusNew      DealStatus = "new"      // Предложение создано, ждёт решения владельца
	DealStatusAccepted DealStatus = "accepted" // Владелец принял предложение
	DealStatusRejected DealStatus = "rejected" // Владелец отклонил предложение
	DealStatusCanceled DealStatus = "canceled" // Предложение отменено
	DealStatusClosed   DealStatus = "closed"   // Обмен состоялся, сделка завершена
)

// IsActive сообщает, считается ли сделка активной.
// Активная сделка блокирует создание нового предложения по той же паре (вещь, заявитель).
func (s DealStatus) IsActive() bool {
	return s == DealStatusNew || s == DealStatusAccepted
}

// IsTerminal сообщает, является ли статус конечным
func (s DealStatus) IsTerminal() bool {
	return s == DealStatusRejected || s == DealStatusCanceled || s == DealStatusClosed
}

// Deal представляет сделку между заявителем и владельцем вещи
type Deal struct {
	ID          uuid.UUID     `json:"id"`
	ItemID      uuid.UUID     `json:"item_id"`
	Item        *ItemSnapshot `json:"item,omitempty"`
	SwapItemID  *uuid.UUID    `json:"swap_item_id,omitempty"`
	SwapItem    *ItemSnapshot `json:"swap_item,omitempty"`
	RequesterID uuid.UUID     `json:"requester_id"`
	OwnerID     uuid.UUID     `json:"owner_id"`

	// Participants дублирует requester_id/owner_id строками,
	// чтобы запросы "все сделки пользователя" работали одним фильтром
	Participants []string `json:"participants"`

	Status    DealStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`

	// UnseenByUser хранит для каждого участника ID сообщений собеседника,
	// которые он ещё не подтвердил как прочитанные
	UnseenByUser map[string][]string `json:"unseen_by_user,omitempty"`

	// Rating хранит оценки по завершённой сделке, ключ — ID оцениваемого пользователя
	Rating map[string]Rating `json:"rating,omitempty"`
}

// Rating представляет оценку участника по завершённой сделке
type Rating struct {
	Weight    int       `json:"weight"` // 1..5
	Comments  string    `json:"comments,omitempty"`
	RaterID   uuid.UUID `json:"rater_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Counterpart возвращает ID второго участника сделки
func (d *Deal) Counterpart(userID uuid.UUID) uuid.UUID {
	if userID == d.RequesterID {
		return d.OwnerID
	}
	return d.RequesterID
}

// IsParticipant сообщает, участвует ли пользователь в сделке
func (d *Deal) IsParticipant(userID uuid.UUID) bool {
	return userID == d.RequesterID || userID == d.OwnerID
}

// UnseenCount возвращает число непрочитанных сообщений для пользователя
func (d *Deal) UnseenCount(userID uuid.UUID) int {
	return len(d.UnseenByUser[userID.String()])
}
