package chat

import (
	"github.com/gofiber/fiber/v3"

	"github.com/obmenka/obmenka-api/internal/middleware"
)

// SetupRoutes настраивает маршруты для API чатов сделок
func (s *ChatService) SetupRoutes(app *fiber.App) {
	// Группа для API чатов
	api := app.Group("/api/deals")

	// Защищенные маршруты (требуют авторизации)
	api.Use(middleware.AuthMiddleware(s.jwtService))

	// Суммарный бейдж непрочитанного по всем сделкам
	api.Get("/unread", s.UnreadHandler)

	// Сообщения конкретной сделки
	api.Get("/:id/messages", s.GetMessagesHandler)
	api.Post("/:id/messages", s.SendMessageHandler)

	// Подтверждение прочтения
	api.Post("/:id/seen", s.MarkSeenHandler)
}
