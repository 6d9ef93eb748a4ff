package chatsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/obmenka/obmenka-api/internal/chatlog"
	"github.com/obmenka/obmenka-api/internal/models"
	"github.com/obmenka/obmenka-api/internal/store"
	"github.com/obmenka/obmenka-api/internal/store/memstore"
)

var (
	ownerID     = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	requesterID = uuid.MustParse("22222222-2222-2222-2222-222222222222")
)

type fixture struct {
	st  *memstore.Store
	log *chatlog.Log
	d   *models.Deal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memstore.New()
	d := &models.Deal{
		ID:           uuid.New(),
		ItemID:       uuid.New(),
		RequesterID:  requesterID,
		OwnerID:      ownerID,
		Participants: []string{requesterID.String(), ownerID.String()},
		Status:       models.DealStatusAccepted,
		CreatedAt:    time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}
	updates, err := store.SetFields(d)
	if err != nil {
		t.Fatalf("set fields: %v", err)
	}
	if err := st.WriteDocument(context.Background(), store.CollectionDeals, d.ID.String(), updates); err != nil {
		t.Fatalf("seed deal: %v", err)
	}
	return &fixture{st: st, log: chatlog.New(st, 72*time.Hour), d: d}
}

func (f *fixture) post(t *testing.T, senderID uuid.UUID, text string) *models.Message {
	t.Helper()
	msg, err := f.log.PostMessage(context.Background(), f.d.ID, senderID, text, "")
	if err != nil {
		t.Fatalf("post %q: %v", text, err)
	}
	return msg
}

func (f *fixture) unseen(t *testing.T, userID uuid.UUID) int {
	t.Helper()
	doc, err := f.st.GetDocument(context.Background(), store.CollectionDeals, f.d.ID.String())
	if err != nil {
		t.Fatalf("get deal: %v", err)
	}
	d, err := models.DealFromJSON(doc.Data)
	if err != nil {
		t.Fatalf("decode deal: %v", err)
	}
	return d.UnseenCount(userID)
}

func texts(messages []models.Message) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.Text)
	}
	return out
}

// Пользователь был оффлайн, собеседник отправил три сообщения.
// При открытии чата все три доставляются по порядку, бейдж показывает 3
// и после отрисовки автоматически сбрасывается в 0.
func TestOpenDeliversBacklogAndAcksSeen(t *testing.T) {
	f := newFixture(t)
	f.post(t, ownerID, "раз")
	f.post(t, ownerID, "два")
	f.post(t, ownerID, "три")

	if got := f.unseen(t, requesterID); got != 3 {
		t.Fatalf("expected 3 unseen before open, got %d", got)
	}

	var views [][]models.Message
	var unread []int
	s := Open(f.st, f.log, f.d.ID, requesterID, Callbacks{
		OnMessages: func(messages []models.Message) { views = append(views, messages) },
		OnUnread:   func(n int) { unread = append(unread, n) },
	})
	defer s.Close()

	if len(views) == 0 {
		t.Fatalf("no render happened")
	}
	first := views[0]
	want := []string{"раз", "два", "три"}
	got := texts(first)
	if len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Fatalf("expected %v, got %v", want, got)
	}

	// Бейдж: стартовое значение 3, затем 0 после подтверждения прочтения
	if len(unread) < 2 || unread[0] != 3 || unread[len(unread)-1] != 0 {
		t.Fatalf("unexpected unread sequence: %v", unread)
	}
	if got := f.unseen(t, requesterID); got != 0 {
		t.Fatalf("expected 0 unseen after ack, got %d", got)
	}
}

// Оптимистичная отправка: сообщение появляется на экране до подтверждения
// и не задваивается, когда хранилище присылает его обратно.
func TestSendOptimisticNoDuplicates(t *testing.T) {
	f := newFixture(t)

	var views [][]models.Message
	s := Open(f.st, f.log, f.d.ID, requesterID, Callbacks{
		OnMessages: func(messages []models.Message) { views = append(views, messages) },
	})
	defer s.Close()

	if err := s.Send(context.Background(), "привет"); err != nil {
		t.Fatalf("send: %v", err)
	}

	// Первая отрисовка после отправки — оптимистичная запись без итогового ID
	var sawPending bool
	for _, view := range views {
		for _, m := range view {
			if m.Text == "привет" && m.ID == "" {
				sawPending = true
			}
		}
	}
	if !sawPending {
		t.Fatalf("optimistic message never rendered")
	}

	// Итоговое состояние: ровно одно подтверждённое сообщение
	last := views[len(views)-1]
	if len(last) != 1 {
		t.Fatalf("expected exactly 1 message, got %v", texts(last))
	}
	if last[0].ID == "" {
		t.Fatalf("message left unconfirmed")
	}

	// Собственное сообщение не попадает в свой бейдж
	if got := f.unseen(t, requesterID); got != 0 {
		t.Fatalf("own message counted as unseen: %d", got)
	}
	if got := f.unseen(t, ownerID); got != 1 {
		t.Fatalf("expected 1 unseen for counterpart, got %d", got)
	}
}

func TestSendFailureRemovesOptimistic(t *testing.T) {
	f := newFixture(t)

	var views [][]models.Message
	s := Open(f.st, f.log, f.d.ID, requesterID, Callbacks{
		OnMessages: func(messages []models.Message) { views = append(views, messages) },
	})
	defer s.Close()

	f.st.WriteHook = func(collection, id string, updates []store.Update) error {
		return store.ErrTransport
	}

	if err := s.Send(context.Background(), "не дойдёт"); !errors.Is(err, store.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}

	// Автоповтора нет, оптимистичная запись убрана
	last := views[len(views)-1]
	if len(last) != 0 {
		t.Fatalf("optimistic message left after failure: %v", texts(last))
	}
}

// Системное сообщение о создании сделки записано от имени заявителя:
// его клиент подавляет показ, клиент владельца показывает.
func TestOwnSystemMessageSuppressed(t *testing.T) {
	f := newFixture(t)
	if _, err := f.log.PostDealCreated(context.Background(), f.d); err != nil {
		t.Fatalf("post system: %v", err)
	}

	var requesterView []models.Message
	rs := Open(f.st, f.log, f.d.ID, requesterID, Callbacks{
		OnMessages: func(messages []models.Message) { requesterView = messages },
	})
	defer rs.Close()

	if len(requesterView) != 0 {
		t.Fatalf("requester must not see own system message: %v", texts(requesterView))
	}

	var ownerView []models.Message
	ws := Open(f.st, f.log, f.d.ID, ownerID, Callbacks{
		OnMessages: func(messages []models.Message) { ownerView = messages },
	})
	defer ws.Close()

	if len(ownerView) != 1 || !ownerView[0].System {
		t.Fatalf("owner must see system message: %v", texts(ownerView))
	}
}

// Подтверждение прочтения повторяется один раз при транспортной ошибке
func TestAckSeenRetriesOnce(t *testing.T) {
	f := newFixture(t)
	f.post(t, ownerID, "раз")

	failures := 0
	f.st.WriteHook = func(collection, id string, updates []store.Update) error {
		if collection == store.CollectionDeals && failures == 0 {
			failures++
			return store.ErrTransport
		}
		return nil
	}

	var disconnects []bool
	s := Open(f.st, f.log, f.d.ID, requesterID, Callbacks{
		OnMessages:     func([]models.Message) {},
		OnDisconnected: func(down bool) { disconnects = append(disconnects, down) },
	})
	defer s.Close()

	if failures != 1 {
		t.Fatalf("expected one failed write, got %d", failures)
	}
	if got := f.unseen(t, requesterID); got != 0 {
		t.Fatalf("expected 0 unseen after retry, got %d", got)
	}
	if s.Disconnected() {
		t.Fatalf("session must stay connected after transparent retry")
	}
	for _, down := range disconnects {
		if down {
			t.Fatalf("disconnect reported despite successful retry")
		}
	}
}

// При стойкой ошибке подтверждения сессия переходит в "нет связи",
// последнее состояние остаётся на экране.
func TestAckSeenPersistentFailureDisconnects(t *testing.T) {
	f := newFixture(t)
	f.post(t, ownerID, "раз")

	f.st.WriteHook = func(collection, id string, updates []store.Update) error {
		if collection == store.CollectionDeals {
			return store.ErrTransport
		}
		return nil
	}

	var lastView []models.Message
	s := Open(f.st, f.log, f.d.ID, requesterID, Callbacks{
		OnMessages: func(messages []models.Message) { lastView = messages },
	})
	defer s.Close()

	if !s.Disconnected() {
		t.Fatalf("session must report disconnect")
	}
	if len(lastView) != 1 {
		t.Fatalf("last known state lost: %v", texts(lastView))
	}
	if got := f.unseen(t, requesterID); got != 1 {
		t.Fatalf("unseen must survive failed ack, got %d", got)
	}
}

func TestSubscribeUnreadTotal(t *testing.T) {
	f := newFixture(t)

	var totals []int
	unsub := SubscribeUnreadTotal(f.st, requesterID, func(n int) {
		totals = append(totals, n)
	}, func(err error) { t.Fatalf("unexpected error: %v", err) })
	defer unsub()

	if len(totals) != 1 || totals[0] != 0 {
		t.Fatalf("expected initial 0, got %v", totals)
	}

	m1 := f.post(t, ownerID, "раз")
	f.post(t, ownerID, "два")

	if totals[len(totals)-1] != 2 {
		t.Fatalf("expected total 2, got %v", totals)
	}

	if err := f.log.MarkSeen(context.Background(), f.d.ID, requesterID, []string{m1.ID}); err != nil {
		t.Fatalf("mark seen: %v", err)
	}
	if totals[len(totals)-1] != 1 {
		t.Fatalf("expected total 1 after ack, got %v", totals)
	}
}
