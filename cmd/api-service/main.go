package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"

	"github.com/obmenka/obmenka-api/internal/chatlog"
	"github.com/obmenka/obmenka-api/internal/config"
	"github.com/obmenka/obmenka-api/internal/db"
	"github.com/obmenka/obmenka-api/internal/models"
	"github.com/obmenka/obmenka-api/internal/services/auth"
	"github.com/obmenka/obmenka-api/internal/services/chat"
	"github.com/obmenka/obmenka-api/internal/services/item"
	"github.com/obmenka/obmenka-api/internal/services/offer"
	"github.com/obmenka/obmenka-api/internal/store"
	"github.com/obmenka/obmenka-api/internal/store/pgstore"
	"github.com/obmenka/obmenka-api/internal/websocket"
)

func main() {
	// Загружаем конфигурацию
	cfg := config.LoadConfig()

	// Инициализируем базу данных
	if err := db.InitDB(cfg); err != nil {
		log.Fatalf("❌ Ошибка при инициализации базы данных: %v", err)
	}
	defer db.CloseDB()

	// Документное хранилище поверх PostgreSQL
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	st, err := pgstore.New(ctx, db.Pool, cfg.DocNotifyChannel)
	cancel()
	if err != nil {
		log.Fatalf("❌ Ошибка при инициализации хранилища документов: %v", err)
	}
	defer st.Close()

	// Журнал сообщений и менеджер WebSocket
	messages := chatlog.New(st, cfg.ChatCloseGrace)
	wsManager := websocket.NewManager()
	defer wsManager.Shutdown()

	wsManager.ResolveDeal = func(ctx context.Context, dealID string) (*models.Deal, error) {
		doc, err := st.GetDocument(ctx, store.CollectionDeals, dealID)
		if err != nil {
			return nil, err
		}
		return models.DealFromJSON(doc.Data)
	}
	wsManager.MarkSeen = func(ctx context.Context, dealID, userID string, messageIDs []string) error {
		dealUUID, err := uuid.Parse(dealID)
		if err != nil {
			return err
		}
		userUUID, err := uuid.Parse(userID)
		if err != nil {
			return err
		}
		return messages.MarkSeen(ctx, dealUUID, userUUID, messageIDs)
	}

	// Создаём экземпляр Fiber
	app := fiber.New(fiber.Config{
		AppName:      "Obmenka API",
		ErrorHandler: errorHandler,
	})

	// Добавляем middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowCredentials: false,
	}))

	// Создаём сервисы
	authService := auth.NewAuthService(cfg, st)
	itemService := item.NewItemService(cfg, st)
	offerService := offer.NewOfferService(cfg, st, messages, wsManager)
	chatService := chat.NewChatService(cfg, st, messages, wsManager)

	// Регистрируем маршруты
	authService.SetupRoutes(app)
	itemService.SetupRoutes(app)
	offerService.SetupRoutes(app)
	chatService.SetupRoutes(app)

	// WebSocket живёт на отдельном порту: апгрейд соединения требует
	// стандартного net/http, а API работает на fasthttp
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/ws", websocket.ServeWS(wsManager, authService.GetJWTService()))
		log.Printf("✅ WebSocket сервер запущен на порту %s", cfg.WSPort)
		if err := http.ListenAndServe(":"+cfg.WSPort, mux); err != nil {
			log.Fatalf("❌ Ошибка WebSocket сервера: %v", err)
		}
	}()

	// Запускаем сервер
	log.Printf("✅ Obmenka API запущен на порту %s", cfg.ServerPort)
	log.Fatal(app.Listen(":" + cfg.ServerPort))
}

// errorHandler обрабатывает ошибки Fiber
func errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	// Проверяем, является ли ошибка из Fiber
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	// Отправляем ошибку в JSON
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
