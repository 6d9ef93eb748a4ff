package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	initdata "github.com/telegram-mini-apps/init-data-golang"

	"github.com/obmenka/obmenka-api/internal/config"
	"github.com/obmenka/obmenka-api/internal/db"
	"github.com/obmenka/obmenka-api/internal/models"
	"github.com/obmenka/obmenka-api/internal/store"
	"github.com/obmenka/obmenka-api/internal/utils"
)

// AuthService – структура для обработки авторизации
type AuthService struct {
	cfg        *config.Config
	st         store.Store
	jwtService *utils.JWTService
}

// NewAuthService – конструктор AuthService
func NewAuthService(cfg *config.Config, st store.Store) *AuthService {
	return &AuthService{
		cfg:        cfg,
		st:         st,
		jwtService: utils.NewJWTService(cfg.JWTSecret),
	}
}

// GetJWTService возвращает JWT-сервис для middleware
func (s *AuthService) GetJWTService() *utils.JWTService {
	return s.jwtService
}

// userDoc — документ пользователя в хранилище
type userDoc struct {
	models.User
	TelegramID string    `json:"telegram_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// upsertUser находит пользователя по Telegram ID или создаёт нового
func (s *AuthService) upsertUser(ctx context.Context, tgID int64, username, firstName, lastName, photoURL string) (*userDoc, error) {
	telegramID := strconv.FormatInt(tgID, 10)

	docs, err := s.st.QueryOnce(ctx, store.CollectionUsers, store.Predicate{
		store.Where("telegram_id", telegramID),
	})
	if err != nil {
		return nil, err
	}

	if len(docs) > 0 {
		var user userDoc
		if err := decodeUser(docs[0].Data, &user); err != nil {
			return nil, err
		}
		return &user, nil
	}

	user := &userDoc{
		User: models.User{
			ID:        uuid.New(),
			Username:  username,
			FirstName: firstName,
			LastName:  lastName,
			AvatarURL: photoURL,
		},
		TelegramID: telegramID,
		CreatedAt:  time.Now(),
	}

	updates, err := store.SetFields(user)
	if err != nil {
		return nil, err
	}
	if err := s.st.WriteDocument(ctx, store.CollectionUsers, user.ID.String(), updates); err != nil {
		return nil, err
	}
	return user, nil
}

// TelegramAuthHandler проверяет initData, создает JWT и возвращает его
func (s *AuthService) TelegramAuthHandler(c fiber.Ctx) error {
	var payload struct {
		InitData string `json:"init_data"`
	}

	if err := c.Bind().Body(&payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	}

	// Проверяем initData
	expiration := 24 * time.Hour
	if err := initdata.Validate(payload.InitData, s.cfg.TelegramBotToken, expiration); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid Telegram data"})
	}

	// Парсим данные
	data, err := initdata.Parse(payload.InitData)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Failed to parse initData"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	user, err := s.upsertUser(ctx, data.User.ID, data.User.Username, data.User.FirstName, data.User.LastName, data.User.PhotoURL)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load user"})
	}

	// Генерируем JWT
	jwtToken, err := s.jwtService.GenerateToken(user.ID.String())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to generate JWT"})
	}

	return c.JSON(fiber.Map{
		"token": jwtToken,
		"user":  user.User,
	})
}

func decodeUser(data []byte, out *userDoc) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("разбор документа пользователя: %w", err)
	}
	return nil
}
