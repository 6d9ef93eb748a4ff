package item

import (
	"github.com/gofiber/fiber/v3"

	"github.com/obmenka/obmenka-api/internal/middleware"
)

// SetupRoutes настраивает маршруты для API объявлений
func (s *ItemService) SetupRoutes(app *fiber.App) {
	// Группа для API объявлений
	api := app.Group("/api/items")

	// Защищенные маршруты (требуют авторизации)
	api.Use(middleware.AuthMiddleware(s.jwtService))

	// Маршрут для создания объявления
	api.Post("/", s.CreateItemHandler)

	// Маршрут для получения объявления
	api.Get("/:id", s.GetItemHandler)

	// Маршрут для снятия объявления с витрины
	api.Put("/:id/archive", s.ArchiveItemHandler)
}
