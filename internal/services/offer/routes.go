package offer

import (
	"github.com/gofiber/fiber/v3"

	"github.com/obmenka/obmenka-api/internal/middleware"
)

// SetupRoutes настраивает маршруты для API предложений обмена
func (s *OfferService) SetupRoutes(app *fiber.App) {
	// Группа для API предложений
	api := app.Group("/api/offers")

	// Защищенные маршруты (требуют авторизации)
	api.Use(middleware.AuthMiddleware(s.jwtService))

	// Маршрут для создания предложения обмена
	api.Post("/", s.CreateOfferHandler)

	// Маршрут для получения списка сделок пользователя
	api.Get("/", s.MyDealsHandler)

	// Маршруты переходов статуса сделки
	api.Put("/:id/accept", s.AcceptOfferHandler)
	api.Put("/:id/reject", s.RejectOfferHandler)
	api.Put("/:id/cancel", s.CancelOfferHandler)
	api.Put("/:id/close", s.CloseOfferHandler)

	// Маршрут для оценки по закрытой сделке
	api.Post("/:id/rating", s.RateDealHandler)
}
