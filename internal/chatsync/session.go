// Package chatsync реализует клиентский цикл сверки чата сделки:
// подписка на журнал и документ сделки, оптимистичная отправка,
// детерминированная склейка локального и удалённого состояния,
// подтверждение прочтения и проекция бейджа непрочитанного.
package chatsync

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/obmenka/obmenka-api/internal/chatlog"
	"github.com/obmenka/obmenka-api/internal/models"
	"github.com/obmenka/obmenka-api/internal/store"
)

// Callbacks — обратные вызовы сессии в сторону экрана
type Callbacks struct {
	// OnMessages получает полный упорядоченный набор сообщений для отображения
	OnMessages func([]models.Message)

	// OnUnread получает бейдж непрочитанного по этой сделке.
	// Значение — проекция unseen_by_user из документа сделки,
	// локальный пересчёт по журналу не выполняется никогда.
	OnUnread func(int)

	// OnDisconnected сигнализирует о потере и восстановлении подписки.
	// При потере последнее известное состояние остаётся на экране.
	OnDisconnected func(bool)
}

// Session — сессия сверки одного открытого чата сделки
type Session struct {
	st     store.Store
	log    *chatlog.Log
	dealID uuid.UUID
	userID uuid.UUID
	cb     Callbacks

	mu           sync.Mutex
	confirmed    map[string]models.Message // ключ — итоговый ID сообщения
	pending      map[string]models.Message // ключ — клиентский корреляционный ID
	deal         *models.Deal
	disconnected bool

	unsubs      []store.UnsubscribeFunc
	newClientID func() string
	timeout     time.Duration
}

// Open открывает сессию и подписывается на журнал и документ сделки.
// Текущие данные доставляются сразу. Закрывать через Close.
func Open(st store.Store, log *chatlog.Log, dealID, userID uuid.UUID, cb Callbacks) *Session {
	s := &Session{
		st:          st,
		log:         log,
		dealID:      dealID,
		userID:      userID,
		cb:          cb,
		confirmed:   make(map[string]models.Message),
		pending:     make(map[string]models.Message),
		newClientID: uuid.NewString,
		timeout:     5 * time.Second,
	}

	s.unsubs = append(s.unsubs,
		log.Subscribe(dealID, s.onMessages, s.onSubError),
		st.SubscribeDocument(store.CollectionDeals, dealID.String(), s.onDealChange, s.onSubError),
	)
	return s
}

// Close отписывается от хранилища. Обязательный вызов при закрытии экрана.
func (s *Session) Close() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
}

// Send отправляет сообщение с оптимистичным локальным отображением.
// Отправка не идемпотентна и не ретраится автоматически: при ошибке
// оптимистичная запись убирается, решение о повторе — за пользователем.
func (s *Session) Send(ctx context.Context, text string) error {
	clientID := s.newClientID()

	s.mu.Lock()
	s.pending[clientID] = models.Message{
		DealID:      s.dealID,
		SenderID:    s.userID,
		Text:        text,
		Type:        models.MessageTypeText,
		CreatedAt:   time.Now(),
		ClientMsgID: clientID,
	}
	view := s.viewLocked()
	s.mu.Unlock()
	s.render(view)

	msg, err := s.log.PostMessage(ctx, s.dealID, s.userID, text, clientID)
	if err != nil {
		s.mu.Lock()
		delete(s.pending, clientID)
		view := s.viewLocked()
		s.mu.Unlock()
		s.render(view)
		return err
	}

	// Подтверждение по корреляционному ID, не дожидаясь push от хранилища.
	// Если push уже пришёл и подтвердил сообщение, здесь ничего не меняется.
	s.mu.Lock()
	if _, ok := s.pending[clientID]; ok {
		delete(s.pending, clientID)
		s.confirmed[msg.ID] = *msg
	}
	view = s.viewLocked()
	s.mu.Unlock()
	s.render(view)
	return nil
}

// onMessages обрабатывает push полного набора сообщений из журнала
func (s *Session) onMessages(messages []models.Message) {
	s.mu.Lock()

	// Набор подтверждённых сообщений заменяется целиком и ключуется
	// итоговым ID: повторная доставка склеивается объединением множеств,
	// а не дописыванием в конец
	s.confirmed = make(map[string]models.Message, len(messages))
	for _, msg := range messages {
		// Собственное системное сообщение не показывается как входящее
		if msg.System && msg.SenderID == s.userID {
			continue
		}
		s.confirmed[msg.ID] = msg

		// Оптимистичная запись, подтверждённая по корреляционному ID
		if msg.ClientMsgID != "" {
			delete(s.pending, msg.ClientMsgID)
		}
	}

	view := s.viewLocked()
	wasDisconnected := s.disconnected
	s.disconnected = false
	s.mu.Unlock()

	if wasDisconnected && s.cb.OnDisconnected != nil {
		s.cb.OnDisconnected(false)
	}

	// Сначала отрисовка, затем подтверждение прочтения: сбой между ними
	// оставит сообщение непрочитанным, но не скроет его
	s.render(view)
	s.ackSeen()
}

// onDealChange обрабатывает push документа сделки
func (s *Session) onDealChange(doc store.Document) {
	d, err := models.DealFromJSON(doc.Data)
	if err != nil {
		s.onSubError(err)
		return
	}

	s.mu.Lock()
	s.deal = d
	unread := d.UnseenCount(s.userID)
	wasDisconnected := s.disconnected
	s.disconnected = false
	s.mu.Unlock()

	if wasDisconnected && s.cb.OnDisconnected != nil {
		s.cb.OnDisconnected(false)
	}
	if s.cb.OnUnread != nil {
		s.cb.OnUnread(unread)
	}
	s.ackSeen()
}

// onSubError переводит сессию в состояние "нет связи".
// Последнее известное состояние не сбрасывается.
func (s *Session) onSubError(err error) {
	s.mu.Lock()
	already := s.disconnected
	s.disconnected = true
	s.mu.Unlock()

	if !already && s.cb.OnDisconnected != nil {
		s.cb.OnDisconnected(true)
	}
}

// Disconnected сообщает, потеряна ли подписка
func (s *Session) Disconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnected
}

// viewLocked строит упорядоченный набор для отображения:
// подтверждённые сообщения по ID (хронология ULID), затем ожидающие
// подтверждения в порядке отправки
func (s *Session) viewLocked() []models.Message {
	view := make([]models.Message, 0, len(s.confirmed)+len(s.pending))
	for _, msg := range s.confirmed {
		view = append(view, msg)
	}
	sort.Slice(view, func(i, j int) bool { return view[i].ID < view[j].ID })

	tail := make([]models.Message, 0, len(s.pending))
	for _, msg := range s.pending {
		tail = append(tail, msg)
	}
	sort.Slice(tail, func(i, j int) bool {
		if tail[i].CreatedAt.Equal(tail[j].CreatedAt) {
			return tail[i].ClientMsgID < tail[j].ClientMsgID
		}
		return tail[i].CreatedAt.Before(tail[j].CreatedAt)
	})
	return append(view, tail...)
}

func (s *Session) render(view []models.Message) {
	if s.cb.OnMessages != nil {
		s.cb.OnMessages(view)
	}
}

// ackSeen подтверждает прочтение доставленных сообщений собеседника.
// Берётся пересечение unseen_by_user текущего пользователя с уже
// полученными сообщениями: непоказанное не подтверждается.
func (s *Session) ackSeen() {
	s.mu.Lock()
	var ids []string
	if s.deal != nil {
		for _, id := range s.deal.UnseenByUser[s.userID.String()] {
			if _, ok := s.confirmed[id]; ok {
				ids = append(ids, id)
			}
		}
	}
	s.mu.Unlock()

	if len(ids) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	// markSeen идемпотентен, поэтому один прозрачный повтор безопасен
	err := s.log.MarkSeen(ctx, s.dealID, s.userID, ids)
	if err != nil && errors.Is(err, store.ErrTransport) {
		err = s.log.MarkSeen(ctx, s.dealID, s.userID, ids)
	}
	if err != nil {
		s.onSubError(err)
	}
}
