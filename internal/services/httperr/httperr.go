// Package httperr переводит ошибки бизнес-правил в HTTP-ответы
package httperr

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/obmenka/obmenka-api/internal/deal"
	"github.com/obmenka/obmenka-api/internal/store"
)

// Status возвращает HTTP-статус для ошибки
func Status(err error) int {
	switch {
	case errors.Is(err, deal.ErrDuplicateActiveDeal):
		return fiber.StatusConflict
	case errors.Is(err, deal.ErrAlreadyRated):
		return fiber.StatusConflict
	case errors.Is(err, deal.ErrInvalidTransition),
		errors.Is(err, deal.ErrInvalidRating),
		errors.Is(err, deal.ErrSelfDeal),
		errors.Is(err, deal.ErrSwapItemMismatch),
		errors.Is(err, deal.ErrChatClosed):
		return fiber.StatusBadRequest
	case errors.Is(err, deal.ErrNotParticipant):
		return fiber.StatusForbidden
	case errors.Is(err, deal.ErrItemUnavailable):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, store.ErrNotFound):
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}

// JSON отправляет ошибку в формате ответа API
func JSON(c fiber.Ctx, err error) error {
	return c.Status(Status(err)).JSON(fiber.Map{"error": err.Error()})
}
