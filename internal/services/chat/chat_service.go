package chat

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/obmenka/obmenka-api/internal/chatlog"
	"github.com/obmenka/obmenka-api/internal/config"
	"github.com/obmenka/obmenka-api/internal/db"
	"github.com/obmenka/obmenka-api/internal/deal"
	"github.com/obmenka/obmenka-api/internal/models"
	"github.com/obmenka/obmenka-api/internal/services/httperr"
	"github.com/obmenka/obmenka-api/internal/store"
	"github.com/obmenka/obmenka-api/internal/utils"
	"github.com/obmenka/obmenka-api/internal/websocket"
)

// ChatService представляет сервис для работы с чатами сделок
type ChatService struct {
	cfg        *config.Config
	st         store.Store
	messages   *chatlog.Log
	ws         *websocket.Manager
	jwtService *utils.JWTService
	now        func() time.Time
}

// NewChatService создает новый экземпляр ChatService
func NewChatService(cfg *config.Config, st store.Store, messages *chatlog.Log, ws *websocket.Manager) *ChatService {
	return &ChatService{
		cfg:        cfg,
		st:         st,
		messages:   messages,
		ws:         ws,
		jwtService: utils.NewJWTService(cfg.JWTSecret),
		now:        time.Now,
	}
}

// loadDeal читает сделку и проверяет членство пользователя
func (s *ChatService) loadDeal(ctx context.Context, dealID, userID uuid.UUID) (*models.Deal, error) {
	doc, err := s.st.GetDocument(ctx, store.CollectionDeals, dealID.String())
	if err != nil {
		return nil, err
	}
	d, err := models.DealFromJSON(doc.Data)
	if err != nil {
		return nil, err
	}
	if !d.IsParticipant(userID) {
		return nil, deal.ErrNotParticipant
	}
	return d, nil
}

// UnreadTotal возвращает суммарный бейдж непрочитанного по всем сделкам
// пользователя. Считается только по unseen_by_user — журнал сообщений
// для бейджа не сканируется.
func (s *ChatService) UnreadTotal(ctx context.Context, userID uuid.UUID) (int, error) {
	docs, err := s.st.QueryOnce(ctx, store.CollectionDeals, store.Predicate{
		store.WhereContains("participants", userID.String()),
	})
	if err != nil {
		return 0, err
	}

	total := 0
	for _, doc := range docs {
		d, err := models.DealFromJSON(doc.Data)
		if err != nil {
			return 0, err
		}
		total += d.UnseenCount(userID)
	}
	return total, nil
}

// GetMessagesHandler возвращает сообщения чата сделки в хронологическом порядке
func (s *ChatService) GetMessagesHandler(c fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	dealID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID сделки"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	d, err := s.loadDeal(ctx, dealID, userID)
	if err != nil {
		return httperr.JSON(c, err)
	}

	messages, err := s.messages.Messages(ctx, dealID)
	if err != nil {
		return httperr.JSON(c, err)
	}

	return c.JSON(fiber.Map{
		"messages":        messages,
		"unseen":          d.UnseenByUser[userID.String()],
		"compose_allowed": deal.ComposeAllowed(d, s.now(), s.cfg.ChatCloseGrace),
	})
}

// SendMessageHandler отправляет новое сообщение в чат сделки
func (s *ChatService) SendMessageHandler(c fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	dealID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID сделки"})
	}

	var requestData struct {
		Text        string `json:"text"`
		ClientMsgID string `json:"client_msg_id,omitempty"`
	}
	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка чтения тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	if requestData.Text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Текст сообщения не может быть пустым"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	d, err := s.loadDeal(ctx, dealID, userID)
	if err != nil {
		return httperr.JSON(c, err)
	}

	msg, err := s.messages.PostMessage(ctx, dealID, userID, requestData.Text, requestData.ClientMsgID)
	if err != nil {
		return httperr.JSON(c, err)
	}

	// Уведомляем собеседника о новом сообщении и обновлённом бейдже
	if s.ws != nil {
		counterpart := d.Counterpart(userID)
		s.ws.SendToUser(counterpart.String(), websocket.Event{
			Type:      websocket.EventNewMessage,
			DealID:    dealID.String(),
			MessageID: msg.ID,
			UserID:    userID.String(),
		})
		s.broadcastUnread(ctx, counterpart)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": msg,
		"success": true,
	})
}

// MarkSeenHandler подтверждает прочтение сообщений
func (s *ChatService) MarkSeenHandler(c fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	dealID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID сделки"})
	}

	var requestData struct {
		MessageIDs []string `json:"message_ids"`
	}
	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка чтения тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	d, err := s.loadDeal(ctx, dealID, userID)
	if err != nil {
		return httperr.JSON(c, err)
	}

	if err := s.messages.MarkSeen(ctx, dealID, userID, requestData.MessageIDs); err != nil {
		return httperr.JSON(c, err)
	}

	// Собеседник получает отметки о прочтении, сам пользователь — новый бейдж
	if s.ws != nil {
		s.ws.SendToDealParticipants(d, websocket.Event{
			Type:   websocket.EventMessageSeen,
			DealID: dealID.String(),
			UserID: userID.String(),
		}, userID.String())
		s.broadcastUnread(ctx, userID)
	}

	return c.JSON(fiber.Map{"success": true})
}

// UnreadHandler возвращает суммарный бейдж непрочитанного
func (s *ChatService) UnreadHandler(c fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	total, err := s.UnreadTotal(ctx, userID)
	if err != nil {
		return httperr.JSON(c, err)
	}

	return c.JSON(fiber.Map{"unread": total})
}

// broadcastUnread отправляет пользователю актуальный суммарный бейдж
func (s *ChatService) broadcastUnread(ctx context.Context, userID uuid.UUID) {
	total, err := s.UnreadTotal(ctx, userID)
	if err != nil {
		log.Printf("Ошибка подсчёта непрочитанного для %s: %v", userID, err)
		return
	}
	s.ws.BroadcastUnreadCount(userID.String(), total)
}

// currentUser извлекает ID пользователя из контекста запроса
func currentUser(c fiber.Ctx) (uuid.UUID, error) {
	userID, _ := c.Locals("userID").(string)
	if userID == "" {
		return uuid.Nil, fiber.NewError(fiber.StatusUnauthorized)
	}
	return uuid.Parse(userID)
}
