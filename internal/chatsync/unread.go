package chatsync

import (
	"github.com/google/uuid"

	"github.com/obmenka/obmenka-api/internal/models"
	"github.com/obmenka/obmenka-api/internal/store"
)

// SubscribeUnreadTotal подписывает на суммарный бейдж непрочитанного
// по всем сделкам пользователя. Чистая проекция unseen_by_user из
// подписки на сделки: журнал сообщений не участвует, поэтому бейдж
// не расходится с учётом доставки при частичной синхронизации.
func SubscribeUnreadTotal(st store.Store, userID uuid.UUID, onTotal func(int), onError func(error)) store.UnsubscribeFunc {
	pred := store.Predicate{store.WhereContains("participants", userID.String())}

	return st.SubscribeQuery(store.CollectionDeals, pred, func(docs []store.Document) {
		total := 0
		for _, doc := range docs {
			d, err := models.DealFromJSON(doc.Data)
			if err != nil {
				onError(err)
				return
			}
			total += d.UnseenCount(userID)
		}
		onTotal(total)
	}, onError)
}
