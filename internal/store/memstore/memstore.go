// Package memstore реализует контракт хранилища в памяти.
// Используется в тестах и при локальной разработке без PostgreSQL.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/obmenka/obmenka-api/internal/store"
)

// Store — документное хранилище в памяти с подписками
type Store struct {
	mu          sync.Mutex
	collections map[string]map[string][]byte
	docSubs     map[int]*docSub
	querySubs   map[int]*querySub
	nextSubID   int

	// WriteHook вызывается перед применением записи; ненулевая ошибка
	// отменяет запись. Используется тестами для имитации сбоев хранилища.
	WriteHook func(collection, id string, updates []store.Update) error
}

type docSub struct {
	collection string
	id         string
	onChange   func(store.Document)
	onError    func(error)
}

type querySub struct {
	collection string
	pred       store.Predicate
	onChange   func([]store.Document)
	onError    func(error)
}

// New создаёт пустое хранилище
func New() *Store {
	return &Store{
		collections: make(map[string]map[string][]byte),
		docSubs:     make(map[int]*docSub),
		querySubs:   make(map[int]*querySub),
	}
}

// WriteDocument атомарно применяет частичное обновление к документу
func (s *Store) WriteDocument(ctx context.Context, collection, id string, updates []store.Update) error {
	s.mu.Lock()

	if s.WriteHook != nil {
		if err := s.WriteHook(collection, id, updates); err != nil {
			s.mu.Unlock()
			return err
		}
	}

	coll, ok := s.collections[collection]
	if !ok {
		coll = make(map[string][]byte)
		s.collections[collection] = coll
	}

	updated, err := store.ApplyUpdates(coll[id], updates)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	coll[id] = updated

	// Колбэки собираются под блокировкой, а вызываются вне её:
	// обработчик подписки имеет право тут же писать в хранилище
	notify := s.collectNotifications(collection, id)
	s.mu.Unlock()

	for _, fn := range notify {
		fn()
	}
	return nil
}

// GetDocument возвращает документ по ID
func (s *Store) GetDocument(ctx context.Context, collection, id string) (store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.collections[collection][id]
	if !ok {
		return store.Document{}, store.ErrNotFound
	}
	return store.Document{ID: id, Data: cloneBytes(data)}, nil
}

// QueryOnce возвращает документы коллекции по предикату, упорядоченные по ID
func (s *Store) QueryOnce(ctx context.Context, collection string, pred store.Predicate) ([]store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryLocked(collection, pred), nil
}

func (s *Store) queryLocked(collection string, pred store.Predicate) []store.Document {
	var docs []store.Document
	for id, data := range s.collections[collection] {
		if pred.Match(data) {
			docs = append(docs, store.Document{ID: id, Data: cloneBytes(data)})
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs
}

// SubscribeDocument подписывает на изменения документа.
// Текущее состояние доставляется сразу, если документ существует.
func (s *Store) SubscribeDocument(collection, id string, onChange func(store.Document), onError func(error)) store.UnsubscribeFunc {
	s.mu.Lock()
	subID := s.nextSubID
	s.nextSubID++
	s.docSubs[subID] = &docSub{collection: collection, id: id, onChange: onChange, onError: onError}
	data, exists := s.collections[collection][id]
	snapshot := cloneBytes(data)
	s.mu.Unlock()

	if exists {
		onChange(store.Document{ID: id, Data: snapshot})
	}

	return func() {
		s.mu.Lock()
		delete(s.docSubs, subID)
		s.mu.Unlock()
	}
}

// SubscribeQuery подписывает на изменения результата запроса.
// Текущий результат доставляется сразу.
func (s *Store) SubscribeQuery(collection string, pred store.Predicate, onChange func([]store.Document), onError func(error)) store.UnsubscribeFunc {
	s.mu.Lock()
	subID := s.nextSubID
	s.nextSubID++
	s.querySubs[subID] = &querySub{collection: collection, pred: pred, onChange: onChange, onError: onError}
	snapshot := s.queryLocked(collection, pred)
	s.mu.Unlock()

	onChange(snapshot)

	return func() {
		s.mu.Lock()
		delete(s.querySubs, subID)
		s.mu.Unlock()
	}
}

// collectNotifications готовит вызовы подписчиков, затронутых записью
func (s *Store) collectNotifications(collection, id string) []func() {
	var notify []func()

	data := s.collections[collection][id]
	doc := store.Document{ID: id, Data: cloneBytes(data)}

	for _, sub := range s.docSubs {
		if sub.collection == collection && sub.id == id {
			fn := sub.onChange
			notify = append(notify, func() { fn(doc) })
		}
	}

	for _, sub := range s.querySubs {
		if sub.collection != collection {
			continue
		}
		result := s.queryLocked(collection, sub.pred)
		fn := sub.onChange
		notify = append(notify, func() { fn(result) })
	}

	return notify
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
