package offer

import (
	"context"
	"log"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/obmenka/obmenka-api/internal/db"
	"github.com/obmenka/obmenka-api/internal/models"
	"github.com/obmenka/obmenka-api/internal/services/httperr"
)

// currentUser извлекает ID пользователя из контекста запроса
func currentUser(c fiber.Ctx) (uuid.UUID, error) {
	userID, _ := c.Locals("userID").(string)
	if userID == "" {
		return uuid.Nil, fiber.NewError(fiber.StatusUnauthorized, "Пользователь не авторизован")
	}
	return uuid.Parse(userID)
}

// CreateOfferHandler обрабатывает создание предложения обмена
func (s *OfferService) CreateOfferHandler(c fiber.Ctx) error {
	requesterID, err := currentUser(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	var requestData struct {
		ItemID     string `json:"item_id"`
		SwapItemID string `json:"swap_item_id,omitempty"`
	}

	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка декодирования тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	itemID, err := uuid.Parse(requestData.ItemID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID вещи"})
	}

	var swapItemID *uuid.UUID
	if requestData.SwapItemID != "" {
		parsed, err := uuid.Parse(requestData.SwapItemID)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID встречной вещи"})
		}
		swapItemID = &parsed
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	d, err := s.CreateOffer(ctx, requesterID, itemID, swapItemID)
	if err != nil {
		return httperr.JSON(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"deal":    d,
	})
}

// MyDealsHandler возвращает сделки пользователя
func (s *OfferService) MyDealsHandler(c fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	direction := c.Query("type", "all") // all, incoming, outgoing
	status := c.Query("status", "")

	ctx, cancel := db.GetContext()
	defer cancel()

	deals, err := s.MyDeals(ctx, userID, direction, models.DealStatus(status))
	if err != nil {
		return httperr.JSON(c, err)
	}

	return c.JSON(fiber.Map{
		"deals": deals,
		"count": len(deals),
	})
}

// dealIDParam разбирает ID сделки из URL
func dealIDParam(c fiber.Ctx) (uuid.UUID, error) {
	return uuid.Parse(c.Params("id"))
}

// AcceptOfferHandler принимает предложение обмена
func (s *OfferService) AcceptOfferHandler(c fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	dealID, err := dealIDParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID сделки"})
	}

	var requestData struct {
		RejectOthers bool `json:"reject_others"`
	}
	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка декодирования тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	d, err := s.AcceptOffer(ctx, dealID, userID, requestData.RejectOthers)
	if err != nil {
		return httperr.JSON(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"deal":    d,
	})
}

// RejectOfferHandler отклоняет предложение обмена
func (s *OfferService) RejectOfferHandler(c fiber.Ctx) error {
	return s.transitionHandler(c, s.RejectOffer)
}

// CancelOfferHandler отменяет предложение обмена
func (s *OfferService) CancelOfferHandler(c fiber.Ctx) error {
	return s.transitionHandler(c, s.CancelOffer)
}

// CloseOfferHandler завершает принятую сделку
func (s *OfferService) CloseOfferHandler(c fiber.Ctx) error {
	return s.transitionHandler(c, s.CloseOffer)
}

func (s *OfferService) transitionHandler(c fiber.Ctx, fn func(ctx context.Context, dealID, callerID uuid.UUID) (*models.Deal, error)) error {
	userID, err := currentUser(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	dealID, err := dealIDParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID сделки"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	d, err := fn(ctx, dealID, userID)
	if err != nil {
		return httperr.JSON(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"deal":    d,
	})
}

// RateDealHandler записывает оценку по закрытой сделке
func (s *OfferService) RateDealHandler(c fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	dealID, err := dealIDParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID сделки"})
	}

	var requestData struct {
		RatedUserID string `json:"rated_user_id"`
		Weight      int    `json:"weight"`
		Comments    string `json:"comments,omitempty"`
	}
	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка декодирования тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	ratedUserID, err := uuid.Parse(requestData.RatedUserID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	d, err := s.RateDeal(ctx, dealID, userID, ratedUserID, requestData.Weight, requestData.Comments)
	if err != nil {
		return httperr.JSON(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"deal":    d,
	})
}
