package deal

import (
	"time"

	"github.com/google/uuid"

	"github.com/obmenka/obmenka-api/internal/models"
)

// Action представляет действие участника над сделкой
type Action string

const (
	ActionAccept Action = "accept"
	ActionReject Action = "reject"
	ActionCancel Action = "cancel"
	ActionClose  Action = "close"
)

// edge описывает одно ребро таблицы переходов
type edge struct {
	to    models.DealStatus
	guard func(d *models.Deal, caller uuid.UUID) bool
}

func isOwner(d *models.Deal, caller uuid.UUID) bool {
	return caller == d.OwnerID
}

func isRequester(d *models.Deal, caller uuid.UUID) bool {
	return caller == d.RequesterID
}

func anyParticipant(d *models.Deal, caller uuid.UUID) bool {
	return d.IsParticipant(caller)
}

// transitions — таблица переходов статусов.
// Все проверки ролей собраны здесь, а не разбросаны по обработчикам.
var transitions = map[models.DealStatus]map[Action]edge{
	models.DealStatusNew: {
		ActionAccept: {to: models.DealStatusAccepted, guard: isOwner},
		ActionReject: {to: models.DealStatusRejected, guard: isOwner},
		ActionCancel: {to: models.DealStatusCanceled, guard: isRequester},
	},
	models.DealStatusAccepted: {
		ActionCancel: {to: models.DealStatusCanceled, guard: anyParticipant},
		ActionClose:  {to: models.DealStatusClosed, guard: isOwner},
	},
}

// target возвращает статус, в который ведёт действие, независимо от исходного состояния
func (a Action) target() models.DealStatus {
	switch a {
	case ActionAccept:
		return models.DealStatusAccepted
	case ActionReject:
		return models.DealStatusRejected
	case ActionCancel:
		return models.DealStatusCanceled
	case ActionClose:
		return models.DealStatusClosed
	}
	return ""
}

// retryGuard проверяет роль при повторном применении уже выполненного действия
func (a Action) retryGuard() func(d *models.Deal, caller uuid.UUID) bool {
	switch a {
	case ActionAccept, ActionReject, ActionClose:
		return isOwner
	default:
		return anyParticipant
	}
}

// Transition применяет действие к сделке по таблице переходов.
// Возвращает true, если статус изменился. Повторное применение действия,
// которое уже перевело сделку в целевой статус, — no-op без ошибки:
// на этом держится сходимость саги "принять и отклонить остальных" при ретраях.
func Transition(d *models.Deal, action Action, caller uuid.UUID, now time.Time) (bool, error) {
	if !d.IsParticipant(caller) {
		return false, ErrNotParticipant
	}

	// Идемпотентный повтор: сделка уже в статусе, куда ведёт это действие
	if d.Status == action.target() {
		if !action.retryGuard()(d, caller) {
			return false, ErrInvalidTransition
		}
		return false, nil
	}

	edges, ok := transitions[d.Status]
	if !ok {
		return false, ErrInvalidTransition
	}

	e, ok := edges[action]
	if !ok || !e.guard(d, caller) {
		return false, ErrInvalidTransition
	}

	d.Status = e.to
	if action == ActionClose {
		t := now
		d.ClosedAt = &t
	}
	return true, nil
}

// ValidateRating проверяет, можно ли записать оценку в сделку.
// Оценивать можно только закрытую сделку, только собеседника и только один раз.
func ValidateRating(d *models.Deal, rater uuid.UUID, ratedUserID uuid.UUID, r models.Rating) error {
	if !d.IsParticipant(rater) {
		return ErrNotParticipant
	}
	if d.Status != models.DealStatusClosed {
		return ErrInvalidTransition
	}
	if ratedUserID != d.Counterpart(rater) || ratedUserID == rater {
		return ErrInvalidRating
	}
	if r.Weight < 1 || r.Weight > 5 {
		return ErrInvalidRating
	}
	if _, exists := d.Rating[ratedUserID.String()]; exists {
		return ErrAlreadyRated
	}
	return nil
}

// ComposeAllowed сообщает, можно ли сейчас писать в чат сделки.
// Политика применяется при чтении: история сообщений остаётся видимой всегда.
func ComposeAllowed(d *models.Deal, now time.Time, grace time.Duration) bool {
	switch d.Status {
	case models.DealStatusRejected, models.DealStatusCanceled:
		return false
	case models.DealStatusClosed:
		if d.ClosedAt == nil {
			return false
		}
		return now.Sub(*d.ClosedAt) <= grace
	default:
		return true
	}
}
