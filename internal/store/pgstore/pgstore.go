// Package pgstore реализует контракт хранилища поверх PostgreSQL.
// Документы лежат в одной таблице как jsonb, частичные обновления
// применяются в транзакции с блокировкой строки, подписки работают
// через LISTEN/NOTIFY на выделенном соединении.
package pgstore

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/obmenka/obmenka-api/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    collection  text        NOT NULL,
    id          text        NOT NULL,
    data        jsonb       NOT NULL,
    updated_at  timestamptz NOT NULL DEFAULT now(),
    PRIMARY KEY (collection, id)
)`

// Store — документное хранилище поверх PostgreSQL
type Store struct {
	pool    *pgxpool.Pool
	channel string

	mu        sync.Mutex
	docSubs   map[int]*docSub
	querySubs map[int]*querySub
	nextSubID int

	cancel context.CancelFunc
	done   chan struct{}
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

// New создаёт хранилище, готовит схему и запускает слушателя уведомлений
func New(ctx context.Context, pool *pgxpool.Pool, channel string) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, errors.Wrap(err, "создание таблицы документов")
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	s := &Store{
		pool:      pool,
		channel:   channel,
		docSubs:   make(map[int]*docSub),
		querySubs: make(map[int]*querySub),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	go s.listen(listenCtx)
	return s, nil
}

// Close останавливает слушателя уведомлений
func (s *Store) Close() {
	s.cancel()
	<-s.done
}

// WriteDocument атомарно применяет частичное обновление к документу.
// Строка блокируется на время транзакции, поэтому параллельные записи
// в один документ сериализуются базой.
func (s *Store) WriteDocument(ctx context.Context, collection, id string, updates []store.Update) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrapf(store.ErrTransport, "начало транзакции: %v", err)
	}
	defer tx.Rollback(ctx)

	var current []byte
	err = tx.QueryRow(ctx, `
        SELECT data FROM documents
        WHERE collection = $1 AND id = $2
        FOR UPDATE
    `, collection, id).Scan(&current)

	if err != nil && err != pgx.ErrNoRows {
		return errors.Wrapf(store.ErrTransport, "чтение документа %s/%s: %v", collection, id, err)
	}

	updated, err := store.ApplyUpdates(current, updates)
	if err != nil {
		return errors.Wrapf(err, "обновление документа %s/%s", collection, id)
	}

	_, err = tx.Exec(ctx, `
        INSERT INTO documents (collection, id, data, updated_at)
        VALUES ($1, $2, $3, now())
        ON CONFLICT (collection, id) DO UPDATE SET data = $3, updated_at = now()
    `, collection, id, updated)
	if err != nil {
		return errors.Wrapf(store.ErrTransport, "запись документа %s/%s: %v", collection, id, err)
	}

	// Уведомление уходит в той же транзакции: подписчики узнают об
	// изменении только после фиксации
	if _, err = tx.Exec(ctx, `SELECT pg_notify($1, $2)`, s.channel, collection+":"+id); err != nil {
		return errors.Wrapf(store.ErrTransport, "уведомление об изменении %s/%s: %v", collection, id, err)
	}

	if err = tx.Commit(ctx); err != nil {
		return errors.Wrapf(store.ErrTransport, "фиксация транзакции: %v", err)
	}
	return nil
}

// GetDocument возвращает документ по ID
func (s *Store) GetDocument(ctx context.Context, collection, id string) (store.Document, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `
        SELECT data FROM documents WHERE collection = $1 AND id = $2
    `, collection, id).Scan(&data)

	if err == pgx.ErrNoRows {
		return store.Document{}, store.ErrNotFound
	}
	if err != nil {
		return store.Document{}, errors.Wrapf(store.ErrTransport, "чтение документа %s/%s: %v", collection, id, err)
	}
	return store.Document{ID: id, Data: data}, nil
}

// QueryOnce выполняет одноразовый запрос по предикату
func (s *Store) QueryOnce(ctx context.Context, collection string, pred store.Predicate) ([]store.Document, error) {
	where, args, err := compilePredicate(collection, pred)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
        SELECT id, data FROM documents WHERE `+where+` ORDER BY id
    `, args...)
	if err != nil {
		return nil, errors.Wrapf(store.ErrTransport, "запрос коллекции %s: %v", collection, err)
	}
	defer rows.Close()

	var docs []store.Document
	for rows.Next() {
		var doc store.Document
		if err := rows.Scan(&doc.ID, &doc.Data); err != nil {
			return nil, errors.Wrapf(store.ErrTransport, "чтение строки коллекции %s: %v", collection, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(store.ErrTransport, "обход коллекции %s: %v", collection, err)
	}
	return docs, nil
}

// compilePredicate переводит предикат в условие WHERE по jsonb-полям
func compilePredicate(collection string, pred store.Predicate) (string, []any, error) {
	conditions := []string{"collection = $1"}
	args := []any{collection}

	for _, f := range pred {
		switch f.Op {
		case store.OpEqual:
			// Сравнение через jsonb-контейнмент, чтобы не зависеть от типа значения
			args = append(args, jsonObject(f.Field, f.Value))
			conditions = append(conditions, fmt.Sprintf("data @> $%d", len(args)))

		case store.OpIn:
			values, ok := f.Value.([]any)
			if !ok || len(values) == 0 {
				return "", nil, errors.Errorf("фильтр in по полю %s без значений", f.Field)
			}
			ors := make([]string, 0, len(values))
			for _, v := range values {
				args = append(args, jsonObject(f.Field, v))
				ors = append(ors, fmt.Sprintf("data @> $%d", len(args)))
			}
			conditions = append(conditions, "("+strings.Join(ors, " OR ")+")")

		case store.OpArrayContains:
			args = append(args, jsonObject(f.Field, []any{f.Value}))
			conditions = append(conditions, fmt.Sprintf("data @> $%d", len(args)))

		default:
			return "", nil, errors.Errorf("неизвестный оператор фильтра %q", f.Op)
		}
	}

	return strings.Join(conditions, " AND "), args, nil
}

func jsonObject(field string, value any) map[string]any {
	return map[string]any{field: value}
}

// SubscribeDocument подписывает на изменения документа
func (s *Store) SubscribeDocument(collection, id string, onChange func(store.Document), onError func(error)) store.UnsubscribeFunc {
	s.mu.Lock()
	subID := s.nextSubID
	s.nextSubID++
	s.docSubs[subID] = &docSub{collection: collection, id: id, onChange: onChange, onError: onError}
	s.mu.Unlock()

	// Стартовый снимок
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if doc, err := s.GetDocument(ctx, collection, id); err == nil {
		onChange(doc)
	} else if err != store.ErrNotFound {
		onError(err)
	}

	return func() {
		s.mu.Lock()
		delete(s.docSubs, subID)
		s.mu.Unlock()
	}
}

// SubscribeQuery подписывает на изменения результата запроса
func (s *Store) SubscribeQuery(collection string, pred store.Predicate, onChange func([]store.Document), onError func(error)) store.UnsubscribeFunc {
	s.mu.Lock()
	subID := s.nextSubID
	s.nextSubID++
	s.querySubs[subID] = &querySub{collection: collection, pred: pred, onChange: onChange, onError: onError}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if docs, err := s.QueryOnce(ctx, collection, pred); err == nil {
		onChange(docs)
	} else {
		onError(err)
	}

	return func() {
		s.mu.Lock()
		delete(s.querySubs, subID)
		s.mu.Unlock()
	}
}

// listen держит выделенное соединение с LISTEN и раздаёт уведомления подписчикам
func (s *Store) listen(ctx context.Context) {
	defer close(s.done)

	for {
		if ctx.Err() != nil {
			return
		}

		if err := s.listenOnce(ctx); err != nil && ctx.Err() == nil {
			log.Printf("Слушатель уведомлений упал, переподключение: %v", err)
			s.broadcastError(errors.Wrapf(store.ErrTransport, "подписка прервана: %v", err))

			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *Store) listenOnce(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{s.channel}.Sanitize()); err != nil {
		return err
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}

		collection, id, ok := strings.Cut(notification.Payload, ":")
		if !ok {
			continue
		}
		s.dispatch(ctx, collection, id)
	}
}

// dispatch перечитывает изменённый документ и затронутые запросы
// и доставляет их подписчикам
func (s *Store) dispatch(ctx context.Context, collection, id string) {
	s.mu.Lock()
	var docTargets []*docSub
	var queryTargets []*querySub
	for _, sub := range s.docSubs {
		if sub.collection == collection && sub.id == id {
			docTargets = append(docTargets, sub)
		}
	}
	for _, sub := range s.querySubs {
		if sub.collection == collection {
			queryTargets = append(queryTargets, sub)
		}
	}
	s.mu.Unlock()

	if len(docTargets) > 0 {
		doc, err := s.GetDocument(ctx, collection, id)
		for _, sub := range docTargets {
			if err != nil {
				sub.onError(err)
				continue
			}
			sub.onChange(doc)
		}
	}

	for _, sub := range queryTargets {
		docs, err := s.QueryOnce(ctx, collection, sub.pred)
		if err != nil {
			sub.onError(err)
			continue
		}
		sub.onChange(docs)
	}
}

// broadcastError доставляет ошибку всем подписчикам
func (s *Store) broadcastError(err error) {
	s.mu.Lock()
	var callbacks []func(error)
	for _, sub := range s.docSubs {
		callbacks = append(callbacks, sub.onError)
	}
	for _, sub := range s.querySubs {
		callbacks = append(callbacks, sub.onError)
	}
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn(err)
	}
}
