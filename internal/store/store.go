// Package store определяет контракт документного хранилища:
// частичные обновления отдельных документов и push-подписки
// на документ или запрос. Сделки, сообщения и вещи живут в нём
// как JSON-документы; хранилище — единственный источник истины.
package store

import (
	"context"
	"errors"
)

// Имена коллекций
const (
	CollectionDeals    = "deals"
	CollectionMessages = "messages"
	CollectionItems    = "items"
	CollectionUsers    = "users"
)

var (
	// ErrNotFound — документ не найден
	ErrNotFound = errors.New("документ не найден")

	// ErrTransport — ошибка на границе с хранилищем (сеть, соединение)
	ErrTransport = errors.New("ошибка соединения с хранилищем")
)

// Document представляет документ коллекции в сыром виде
type Document struct {
	ID   string
	Data []byte // JSON-объект
}

// UnsubscribeFunc отменяет подписку. Обязана быть вызвана,
// когда экран теряет интерес к данным, иначе подписка утечёт.
type UnsubscribeFunc func()

// Store — контракт документного хранилища
type Store interface {
	// WriteDocument атомарно применяет частичное обновление к одному документу.
	// Отсутствующий документ создаётся.
	WriteDocument(ctx context.Context, collection, id string, updates []Update) error

	// GetDocument возвращает документ по ID или ErrNotFound
	GetDocument(ctx context.Context, collection, id string) (Document, error)

	// QueryOnce выполняет одноразовый запрос по предикату
	QueryOnce(ctx context.Context, collection string, pred Predicate) ([]Document, error)

	// SubscribeDocument доставляет текущее состояние документа и каждое его изменение
	SubscribeDocument(collection, id string, onChange func(Document), onError func(error)) UnsubscribeFunc

	// SubscribeQuery доставляет текущий результат запроса и каждое его изменение
	SubscribeQuery(collection string, pred Predicate, onChange func([]Document), onError func(error)) UnsubscribeFunc
}
