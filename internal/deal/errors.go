package deal

import "errors"

// Ошибки нарушения бизнес-правил сделки.
// Обнаруживаются до записи и возвращаются вызывающему без повторных попыток.
var (
	// ErrDuplicateActiveDeal — по паре (вещь, заявитель) уже есть активная сделка
	ErrDuplicateActiveDeal = errors.New("активная сделка по этой вещи уже существует")

	// ErrInvalidTransition — переход не разрешён таблицей состояний для этой роли
	ErrInvalidTransition = errors.New("недопустимый переход статуса сделки")

	// ErrNotParticipant — вызывающий не является участником сделки
	ErrNotParticipant = errors.New("пользователь не участвует в сделке")

	// ErrAlreadyRated — оценка этим пользователем уже выставлена
	ErrAlreadyRated = errors.New("оценка по сделке уже выставлена")

	// ErrInvalidRating — оценка вне диапазона или не для того участника
	ErrInvalidRating = errors.New("недопустимая оценка")

	// ErrChatClosed — чат сделки больше не доступен для записи
	ErrChatClosed = errors.New("чат сделки закрыт")

	// ErrItemUnavailable — вещь заблокирована, в архиве или не найдена
	ErrItemUnavailable = errors.New("вещь недоступна для обмена")

	// ErrSelfDeal — нельзя сделать предложение на собственную вещь
	ErrSelfDeal = errors.New("нельзя предложить обмен самому себе")

	// ErrSwapItemMismatch — наличие встречной вещи не соответствует типу обмена
	ErrSwapItemMismatch = errors.New("встречная вещь не соответствует условиям обмена")
)
