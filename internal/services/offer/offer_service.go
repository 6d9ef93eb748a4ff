package offer

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/obmenka/obmenka-api/internal/chatlog"
	"github.com/obmenka/obmenka-api/internal/config"
	"github.com/obmenka/obmenka-api/internal/deal"
	"github.com/obmenka/obmenka-api/internal/models"
	"github.com/obmenka/obmenka-api/internal/store"
	"github.com/obmenka/obmenka-api/internal/utils"
	"github.com/obmenka/obmenka-api/internal/websocket"
)

// OfferService представляет сервис для работы с предложениями обмена
type OfferService struct {
	cfg        *config.Config
	st         store.Store
	messages   *chatlog.Log
	ws         *websocket.Manager
	jwtService *utils.JWTService
	now        func() time.Time
}

// NewOfferService создает новый экземпляр OfferService
func NewOfferService(cfg *config.Config, st store.Store, messages *chatlog.Log, ws *websocket.Manager) *OfferService {
	return &OfferService{
		cfg:        cfg,
		st:         st,
		messages:   messages,
		ws:         ws,
		jwtService: utils.NewJWTService(cfg.JWTSecret),
		now:        time.Now,
	}
}

// loadDeal читает сделку из хранилища
func (s *OfferService) loadDeal(ctx context.Context, dealID uuid.UUID) (*models.Deal, error) {
	doc, err := s.st.GetDocument(ctx, store.CollectionDeals, dealID.String())
	if err != nil {
		return nil, err
	}
	return models.DealFromJSON(doc.Data)
}

// loadItem читает вещь из хранилища; недоступные вещи отсекаются здесь
func (s *OfferService) loadItem(ctx context.Context, itemID uuid.UUID) (*models.Item, error) {
	doc, err := s.st.GetDocument(ctx, store.CollectionItems, itemID.String())
	if err != nil {
		if err == store.ErrNotFound {
			return nil, deal.ErrItemUnavailable
		}
		return nil, err
	}
	return models.ItemFromJSON(doc.Data)
}

// CreateOffer создаёт предложение обмена.
//
// Проверка "по паре (вещь, заявитель) нет активной сделки" выполняется
// чтением перед записью. Окно гонки между проверкой и записью принято
// осознанно: создание предложения — редкое ручное действие, распределённая
// блокировка здесь не окупается. Операция не ретраится автоматически.
func (s *OfferService) CreateOffer(ctx context.Context, requesterID, itemID uuid.UUID, swapItemID *uuid.UUID) (*models.Deal, error) {
	item, err := s.loadItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	if item.Status != models.ItemStatusActive {
		return nil, deal.ErrItemUnavailable
	}
	if item.UserID == requesterID {
		return nil, deal.ErrSelfDeal
	}

	// Встречная вещь есть тогда и только тогда, когда владелец хочет обмен
	var swapItem *models.Item
	switch item.SwapOption {
	case models.SwapOptionFree:
		if swapItemID != nil {
			return nil, deal.ErrSwapItemMismatch
		}
	default:
		if swapItemID == nil {
			return nil, deal.ErrSwapItemMismatch
		}
		swapItem, err = s.loadItem(ctx, *swapItemID)
		if err != nil {
			return nil, err
		}
		if swapItem.UserID != requesterID || swapItem.Status != models.ItemStatusActive {
			return nil, deal.ErrSwapItemMismatch
		}
	}

	// Проверяем, нет ли уже активной сделки по этой паре
	existing, err := s.st.QueryOnce(ctx, store.CollectionDeals, store.Predicate{
		store.Where("item_id", itemID.String()),
		store.Where("requester_id", requesterID.String()),
		store.WhereIn("status", string(models.DealStatusNew), string(models.DealStatusAccepted)),
	})
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, deal.ErrDuplicateActiveDeal
	}

	d := &models.Deal{
		ID:           uuid.New(),
		ItemID:       item.ID,
		Item:         item.Snapshot(),
		SwapItemID:   swapItemID,
		RequesterID:  requesterID,
		OwnerID:      item.UserID,
		Participants: []string{requesterID.String(), item.UserID.String()},
		Status:       models.DealStatusNew,
		CreatedAt:    s.now(),
		UnseenByUser: map[string][]string{},
	}
	if swapItem != nil {
		d.SwapItem = swapItem.Snapshot()
	}

	updates, err := store.SetFields(d)
	if err != nil {
		return nil, err
	}
	if err := s.st.WriteDocument(ctx, store.CollectionDeals, d.ID.String(), updates); err != nil {
		return nil, err
	}

	// Системное сообщение публикуется один раз при создании сделки
	if _, err := s.messages.PostDealCreated(ctx, d); err != nil {
		log.Printf("Ошибка создания системного сообщения для сделки %s: %v", d.ID, err)
		// Сделка уже создана, сообщение не критично
	}

	s.notifyDealUpdated(d, requesterID.String())
	return d, nil
}

// applyTransition применяет действие к сделке и записывает новый статус.
// Возвращает сделку после применения и признак фактического изменения.
func (s *OfferService) applyTransition(ctx context.Context, dealID, callerID uuid.UUID, action deal.Action) (*models.Deal, bool, error) {
	d, err := s.loadDeal(ctx, dealID)
	if err != nil {
		return nil, false, err
	}

	changed, err := deal.Transition(d, action, callerID, s.now())
	if err != nil {
		return nil, false, err
	}
	if !changed {
		// Повторное применение уже выполненного действия — no-op
		return d, false, nil
	}

	updates := []store.Update{store.Set("status", d.Status)}
	if d.ClosedAt != nil {
		updates = append(updates, store.Set("closed_at", d.ClosedAt))
	}
	if err := s.st.WriteDocument(ctx, store.CollectionDeals, dealID.String(), updates); err != nil {
		return nil, false, err
	}
	return d, true, nil
}

// AcceptOffer принимает предложение. При rejectOthers остальные предложения
// со статусом new по той же вещи отклоняются.
//
// Мультидокументный fan-out не атомарен: сначала выполняются побочные
// отклонения, принятие целевой сделки — последним. Каждый шаг идемпотентен,
// поэтому повтор после сбоя в середине сходится к тому же итогу.
func (s *OfferService) AcceptOffer(ctx context.Context, dealID, callerID uuid.UUID, rejectOthers bool) (*models.Deal, error) {
	target, err := s.loadDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}

	// Проверка принятия выполняется на копии до побочных отклонений:
	// недопустимое принятие не должно трогать конкурирующие предложения
	check := *target
	if _, err := deal.Transition(&check, deal.ActionAccept, callerID, s.now()); err != nil {
		return nil, err
	}

	if rejectOthers {
		competing, err := s.st.QueryOnce(ctx, store.CollectionDeals, store.Predicate{
			store.Where("item_id", target.ItemID.String()),
			store.Where("status", string(models.DealStatusNew)),
		})
		if err != nil {
			return nil, err
		}

		for _, doc := range competing {
			other, err := models.DealFromJSON(doc.Data)
			if err != nil {
				return nil, err
			}
			if other.ID == target.ID {
				continue
			}

			rejected, changed, err := s.applyTransition(ctx, other.ID, callerID, deal.ActionReject)
			if err != nil {
				return nil, err
			}
			if changed {
				s.notifyDealUpdated(rejected, callerID.String())
			}
		}
	}

	accepted, changed, err := s.applyTransition(ctx, dealID, callerID, deal.ActionAccept)
	if err != nil {
		return nil, err
	}
	if changed {
		s.notifyDealUpdated(accepted, callerID.String())
	}
	return accepted, nil
}

// RejectOffer отклоняет предложение (владелец вещи)
func (s *OfferService) RejectOffer(ctx context.Context, dealID, callerID uuid.UUID) (*models.Deal, error) {
	return s.transitionAndNotify(ctx, dealID, callerID, deal.ActionReject)
}

// CancelOffer отменяет предложение (заявитель, а после принятия — любой участник)
func (s *OfferService) CancelOffer(ctx context.Context, dealID, callerID uuid.UUID) (*models.Deal, error) {
	return s.transitionAndNotify(ctx, dealID, callerID, deal.ActionCancel)
}

// CloseOffer завершает принятую сделку и ставит отметку времени закрытия
func (s *OfferService) CloseOffer(ctx context.Context, dealID, callerID uuid.UUID) (*models.Deal, error) {
	return s.transitionAndNotify(ctx, dealID, callerID, deal.ActionClose)
}

func (s *OfferService) transitionAndNotify(ctx context.Context, dealID, callerID uuid.UUID, action deal.Action) (*models.Deal, error) {
	d, changed, err := s.applyTransition(ctx, dealID, callerID, action)
	if err != nil {
		return nil, err
	}
	if changed {
		s.notifyDealUpdated(d, callerID.String())
	}
	return d, nil
}

// RateDeal записывает оценку собеседника по закрытой сделке.
// Ключ — ID оцениваемого пользователя; повторная оценка отклоняется.
func (s *OfferService) RateDeal(ctx context.Context, dealID, callerID, ratedUserID uuid.UUID, weight int, comments string) (*models.Deal, error) {
	d, err := s.loadDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}

	rating := models.Rating{
		Weight:    weight,
		Comments:  comments,
		RaterID:   callerID,
		CreatedAt: s.now(),
	}

	if err := deal.ValidateRating(d, callerID, ratedUserID, rating); err != nil {
		return nil, err
	}

	err = s.st.WriteDocument(ctx, store.CollectionDeals, dealID.String(), []store.Update{
		store.Set("rating."+ratedUserID.String(), rating),
	})
	if err != nil {
		return nil, err
	}

	if d.Rating == nil {
		d.Rating = map[string]models.Rating{}
	}
	d.Rating[ratedUserID.String()] = rating
	return d, nil
}

// MyDeals возвращает сделки пользователя, опционально по направлению и статусу
func (s *OfferService) MyDeals(ctx context.Context, userID uuid.UUID, direction string, status models.DealStatus) ([]models.Deal, error) {
	pred := store.Predicate{}
	switch direction {
	case "incoming":
		pred = append(pred, store.Where("owner_id", userID.String()))
	case "outgoing":
		pred = append(pred, store.Where("requester_id", userID.String()))
	default:
		pred = append(pred, store.WhereContains("participants", userID.String()))
	}
	if status != "" {
		pred = append(pred, store.Where("status", string(status)))
	}

	docs, err := s.st.QueryOnce(ctx, store.CollectionDeals, pred)
	if err != nil {
		return nil, err
	}

	deals := make([]models.Deal, 0, len(docs))
	for _, doc := range docs {
		d, err := models.DealFromJSON(doc.Data)
		if err != nil {
			return nil, err
		}
		deals = append(deals, *d)
	}
	return deals, nil
}

// notifyDealUpdated отправляет событие об изменении сделки обоим участникам
func (s *OfferService) notifyDealUpdated(d *models.Deal, excludeUserID string) {
	if s.ws == nil {
		return
	}
	s.ws.SendToDealParticipants(d, websocket.Event{
		Type:   websocket.EventDealUpdated,
		DealID: d.ID.String(),
	}, excludeUserID)
}
