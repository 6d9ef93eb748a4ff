// Package chatlog ведёт журнал сообщений сделки и учёт доставки.
// Журнал append-only: сообщения не редактируются и не удаляются,
// порядок внутри сделки задаётся ULID-идентификатором, присвоенным при записи.
package chatlog

import (
	"context"
	"crypto/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/obmenka/obmenka-api/internal/deal"
	"github.com/obmenka/obmenka-api/internal/models"
	"github.com/obmenka/obmenka-api/internal/store"
)

// Log — журнал сообщений поверх документного хранилища
type Log struct {
	st    store.Store
	grace time.Duration // Окно записи в чат после закрытия сделки
	now   func() time.Time

	// Монотонная энтропия гарантирует возрастание ULID внутри процесса
	// даже при совпадении миллисекунды
	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

// New создаёт журнал сообщений
func New(st store.Store, grace time.Duration) *Log {
	return &Log{
		st:      st,
		grace:   grace,
		now:     time.Now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// newMessageID выдаёт следующий ULID
func (l *Log) newMessageID(now time.Time) string {
	l.entropyMu.Lock()
	defer l.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), l.entropy).String()
}

// loadDeal читает сделку из хранилища
func (l *Log) loadDeal(ctx context.Context, dealID uuid.UUID) (*models.Deal, error) {
	doc, err := l.st.GetDocument(ctx, store.CollectionDeals, dealID.String())
	if err != nil {
		return nil, err
	}
	return models.DealFromJSON(doc.Data)
}

// PostMessage добавляет сообщение участника в журнал сделки.
// ID собеседника попадает в его набор непрочитанных тем же путём записи.
func (l *Log) PostMessage(ctx context.Context, dealID, senderID uuid.UUID, text, clientMsgID string) (*models.Message, error) {
	d, err := l.loadDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}

	if !d.IsParticipant(senderID) {
		return nil, deal.ErrNotParticipant
	}

	now := l.now()
	if !deal.ComposeAllowed(d, now, l.grace) {
		return nil, deal.ErrChatClosed
	}

	msg := &models.Message{
		ID:          l.newMessageID(now),
		DealID:      dealID,
		SenderID:    senderID,
		Text:        text,
		System:      false,
		Type:        models.MessageTypeText,
		CreatedAt:   now,
		ClientMsgID: clientMsgID,
	}

	updates, err := store.SetFields(msg)
	if err != nil {
		return nil, err
	}
	if err := l.st.WriteDocument(ctx, store.CollectionMessages, msg.ID, updates); err != nil {
		return nil, err
	}

	// Учёт доставки: добавление в набор, не перезапись, поэтому
	// параллельные отправки с обеих сторон не затирают друг друга
	counterpart := d.Counterpart(senderID)
	err = l.st.WriteDocument(ctx, store.CollectionDeals, dealID.String(), []store.Update{
		store.ArrayUnion("unseen_by_user."+counterpart.String(), msg.ID),
	})
	if err != nil {
		return nil, err
	}

	return msg, nil
}

// PostDealCreated добавляет системное сообщение при создании сделки.
// Отправителем записывается заявитель: его клиент подавляет показ этого
// сообщения как входящего. Системные сообщения не попадают в набор
// непрочитанных — бейдж считает только сообщения участников.
func (l *Log) PostDealCreated(ctx context.Context, d *models.Deal) (*models.Message, error) {
	now := l.now()
	msg := &models.Message{
		ID:        l.newMessageID(now),
		DealID:    d.ID,
		SenderID:  d.RequesterID,
		Text:      "Сделка создана. Договоритесь о деталях обмена в этом чате.",
		System:    true,
		Type:      models.MessageTypeDealCreated,
		CreatedAt: now,
	}

	updates, err := store.SetFields(msg)
	if err != nil {
		return nil, err
	}
	if err := l.st.WriteDocument(ctx, store.CollectionMessages, msg.ID, updates); err != nil {
		return nil, err
	}
	return msg, nil
}

// MarkSeen подтверждает прочтение сообщений пользователем.
// Вычитание из набора: повторный вызов и уже отсутствующие ID — no-op.
func (l *Log) MarkSeen(ctx context.Context, dealID, userID uuid.UUID, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	d, err := l.loadDeal(ctx, dealID)
	if err != nil {
		return err
	}
	if !d.IsParticipant(userID) {
		return deal.ErrNotParticipant
	}

	return l.st.WriteDocument(ctx, store.CollectionDeals, dealID.String(), []store.Update{
		store.ArrayRemove("unseen_by_user."+userID.String(), messageIDs...),
	})
}

// Messages возвращает все сообщения сделки в хронологическом порядке
func (l *Log) Messages(ctx context.Context, dealID uuid.UUID) ([]models.Message, error) {
	docs, err := l.st.QueryOnce(ctx, store.CollectionMessages, store.Predicate{
		store.Where("deal_id", dealID.String()),
	})
	if err != nil {
		return nil, err
	}
	return decodeMessages(docs)
}

// Subscribe подписывает на журнал сделки: при каждом изменении доставляется
// полный упорядоченный набор сообщений. Возвращённую функцию обязательно
// вызвать при закрытии экрана.
func (l *Log) Subscribe(dealID uuid.UUID, onMessages func([]models.Message), onError func(error)) store.UnsubscribeFunc {
	pred := store.Predicate{store.Where("deal_id", dealID.String())}
	return l.st.SubscribeQuery(store.CollectionMessages, pred, func(docs []store.Document) {
		messages, err := decodeMessages(docs)
		if err != nil {
			onError(err)
			return
		}
		onMessages(messages)
	}, onError)
}

func decodeMessages(docs []store.Document) ([]models.Message, error) {
	messages := make([]models.Message, 0, len(docs))
	for _, doc := range docs {
		m, err := models.MessageFromJSON(doc.Data)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	// ULID лексикографически возрастает со временем, поэтому
	// сортировка по ID и есть хронологический порядок
	sort.Slice(messages, func(i, j int) bool { return messages[i].ID < messages[j].ID })
	return messages, nil
}
