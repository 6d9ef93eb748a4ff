package item

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/obmenka/obmenka-api/internal/config"
	"github.com/obmenka/obmenka-api/internal/db"
	"github.com/obmenka/obmenka-api/internal/models"
	"github.com/obmenka/obmenka-api/internal/services/httperr"
	"github.com/obmenka/obmenka-api/internal/store"
	"github.com/obmenka/obmenka-api/internal/utils"
)

// ItemService представляет сервис для работы с объявлениями
type ItemService struct {
	cfg        *config.Config
	st         store.Store
	jwtService *utils.JWTService
}

// NewItemService создает новый экземпляр ItemService
func NewItemService(cfg *config.Config, st store.Store) *ItemService {
	return &ItemService{
		cfg:        cfg,
		st:         st,
		jwtService: utils.NewJWTService(cfg.JWTSecret),
	}
}

// CreateItemHandler обрабатывает создание нового объявления
func (s *ItemService) CreateItemHandler(c fiber.Ctx) error {
	userID, _ := c.Locals("userID").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	userUUID, err := uuid.Parse(userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	var requestData struct {
		Title       string   `json:"title"`
		Description string   `json:"description"`
		Categories  []string `json:"categories"`
		SwapOption  string   `json:"swap_option"` // free, swap
	}

	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка декодирования тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	// Валидация обязательных полей
	if requestData.Title == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Название обязательно"})
	}
	if len(requestData.Categories) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Выберите хотя бы одну категорию"})
	}

	swapOption := models.SwapOption(requestData.SwapOption)
	if swapOption != models.SwapOptionFree && swapOption != models.SwapOptionSwap {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный тип обмена"})
	}

	now := time.Now()
	item := &models.Item{
		ID:          uuid.New(),
		UserID:      userUUID,
		Title:       requestData.Title,
		Description: requestData.Description,
		Categories:  requestData.Categories,
		SwapOption:  swapOption,
		Status:      models.ItemStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	updates, err := store.SetFields(item)
	if err != nil {
		return httperr.JSON(c, err)
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	if err := s.st.WriteDocument(ctx, store.CollectionItems, item.ID.String(), updates); err != nil {
		return httperr.JSON(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"item":    item,
	})
}

// GetItemHandler возвращает объявление по ID
func (s *ItemService) GetItemHandler(c fiber.Ctx) error {
	itemID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID вещи"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	doc, err := s.st.GetDocument(ctx, store.CollectionItems, itemID.String())
	if err != nil {
		return httperr.JSON(c, err)
	}

	item, err := models.ItemFromJSON(doc.Data)
	if err != nil {
		return httperr.JSON(c, err)
	}

	return c.JSON(fiber.Map{"item": item})
}

// ArchiveItemHandler убирает объявление с витрины.
// Активные сделки по вещи при этом не трогаются: они завершатся своим чередом.
func (s *ItemService) ArchiveItemHandler(c fiber.Ctx) error {
	userID, _ := c.Locals("userID").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	itemID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID вещи"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	doc, err := s.st.GetDocument(ctx, store.CollectionItems, itemID.String())
	if err != nil {
		return httperr.JSON(c, err)
	}

	item, err := models.ItemFromJSON(doc.Data)
	if err != nil {
		return httperr.JSON(c, err)
	}

	if item.UserID.String() != userID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Вы не можете изменить чужое объявление"})
	}

	err = s.st.WriteDocument(ctx, store.CollectionItems, itemID.String(), []store.Update{
		store.Set("status", models.ItemStatusArchived),
		store.Set("updated_at", time.Now()),
	})
	if err != nil {
		return httperr.JSON(c, err)
	}

	return c.JSON(fiber.Map{"success": true})
}
