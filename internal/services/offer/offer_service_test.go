package offer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/obmenka/obmenka-api/internal/chatlog"
	"github.com/obmenka/obmenka-api/internal/config"
	"github.com/obmenka/obmenka-api/internal/deal"
	"github.com/obmenka/obmenka-api/internal/models"
	"github.com/obmenka/obmenka-api/internal/store"
	"github.com/obmenka/obmenka-api/internal/store/memstore"
)

var (
	ownerID      = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	requesterID  = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	requester2ID = uuid.MustParse("33333333-3333-3333-3333-333333333333")
)

func newTestService(t *testing.T) (*OfferService, *memstore.Store) {
	t.Helper()
	s := memstore.New()
	cfg := &config.Config{JWTSecret: "test", ChatCloseGrace: 72 * time.Hour}
	svc := NewOfferService(cfg, s, chatlog.New(s, cfg.ChatCloseGrace), nil)
	svc.now = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }
	return svc, s
}

func seedItem(t *testing.T, s *memstore.Store, userID uuid.UUID, option models.SwapOption, status models.ItemStatus) *models.Item {
	t.Helper()
	item := &models.Item{
		ID:         uuid.New(),
		UserID:     userID,
		Title:      "Конструктор",
		Categories: []string{"toys"},
		SwapOption: option,
		Status:     status,
		CreatedAt:  time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
	}
	updates, err := store.SetFields(item)
	if err != nil {
		t.Fatalf("set fields: %v", err)
	}
	if err := s.WriteDocument(context.Background(), store.CollectionItems, item.ID.String(), updates); err != nil {
		t.Fatalf("seed item: %v", err)
	}
	return item
}

func reloadDeal(t *testing.T, s *memstore.Store, dealID uuid.UUID) *models.Deal {
	t.Helper()
	doc, err := s.GetDocument(context.Background(), store.CollectionDeals, dealID.String())
	if err != nil {
		t.Fatalf("get deal: %v", err)
	}
	d, err := models.DealFromJSON(doc.Data)
	if err != nil {
		t.Fatalf("decode deal: %v", err)
	}
	return d
}

func TestCreateOffer(t *testing.T) {
	svc, s := newTestService(t)
	item := seedItem(t, s, ownerID, models.SwapOptionFree, models.ItemStatusActive)
	ctx := context.Background()

	d, err := svc.CreateOffer(ctx, requesterID, item.ID, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if d.Status != models.DealStatusNew {
		t.Fatalf("expected status new, got %s", d.Status)
	}
	if d.OwnerID != ownerID || d.RequesterID != requesterID {
		t.Fatalf("wrong parties: %+v", d)
	}
	if d.Item == nil || d.Item.Title != item.Title {
		t.Fatalf("item snapshot missing: %+v", d.Item)
	}

	// Системное сообщение опубликовано от имени заявителя
	messages, err := svc.messages.Messages(ctx, d.ID)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(messages) != 1 || !messages[0].System || messages[0].SenderID != requesterID {
		t.Fatalf("expected one system message from requester, got %+v", messages)
	}
}

func TestCreateOfferDuplicateActive(t *testing.T) {
	svc, s := newTestService(t)
	item := seedItem(t, s, ownerID, models.SwapOptionFree, models.ItemStatusActive)
	ctx := context.Background()

	first, err := svc.CreateOffer(ctx, requesterID, item.ID, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Повтор по той же паре (вещь, заявитель) отклоняется
	if _, err := svc.CreateOffer(ctx, requesterID, item.ID, nil); !errors.Is(err, deal.ErrDuplicateActiveDeal) {
		t.Fatalf("expected ErrDuplicateActiveDeal, got %v", err)
	}

	// Другой заявитель создаёт предложение свободно
	if _, err := svc.CreateOffer(ctx, requester2ID, item.ID, nil); err != nil {
		t.Fatalf("create by second requester: %v", err)
	}

	// Принятая сделка тоже активна и блокирует повтор
	if _, err := svc.AcceptOffer(ctx, first.ID, ownerID, false); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := svc.CreateOffer(ctx, requesterID, item.ID, nil); !errors.Is(err, deal.ErrDuplicateActiveDeal) {
		t.Fatalf("expected ErrDuplicateActiveDeal after accept, got %v", err)
	}

	// После отмены пара освобождается
	if _, err := svc.CancelOffer(ctx, first.ID, requesterID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := svc.CreateOffer(ctx, requesterID, item.ID, nil); err != nil {
		t.Fatalf("create after cancel: %v", err)
	}
}

func TestCreateOfferGuards(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	freeItem := seedItem(t, s, ownerID, models.SwapOptionFree, models.ItemStatusActive)
	swapItem := seedItem(t, s, ownerID, models.SwapOptionSwap, models.ItemStatusActive)
	blockedItem := seedItem(t, s, ownerID, models.SwapOptionFree, models.ItemStatusBlocked)
	counterOffer := seedItem(t, s, requesterID, models.SwapOptionFree, models.ItemStatusActive)
	foreignCounter := seedItem(t, s, requester2ID, models.SwapOptionFree, models.ItemStatusActive)
	archivedCounter := seedItem(t, s, requesterID, models.SwapOptionFree, models.ItemStatusArchived)

	tests := []struct {
		name       string
		requester  uuid.UUID
		itemID     uuid.UUID
		swapItemID *uuid.UUID
		wantErr    error
	}{
		{name: "своя вещь", requester: ownerID, itemID: freeItem.ID, wantErr: deal.ErrSelfDeal},
		{name: "заблокированная вещь", requester: requesterID, itemID: blockedItem.ID, wantErr: deal.ErrItemUnavailable},
		{name: "несуществующая вещь", requester: requesterID, itemID: uuid.New(), wantErr: deal.ErrItemUnavailable},
		{name: "встречная вещь при отдаче даром", requester: requesterID, itemID: freeItem.ID, swapItemID: &counterOffer.ID, wantErr: deal.ErrSwapItemMismatch},
		{name: "обмен без встречной вещи", requester: requesterID, itemID: swapItem.ID, wantErr: deal.ErrSwapItemMismatch},
		{name: "чужая встречная вещь", requester: requesterID, itemID: swapItem.ID, swapItemID: &foreignCounter.ID, wantErr: deal.ErrSwapItemMismatch},
		{name: "неактивная встречная вещь", requester: requesterID, itemID: swapItem.ID, swapItemID: &archivedCounter.ID, wantErr: deal.ErrSwapItemMismatch},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.CreateOffer(ctx, tc.requester, tc.itemID, tc.swapItemID); !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}

	// Корректный обмен со встречной вещью проходит
	d, err := svc.CreateOffer(ctx, requesterID, swapItem.ID, &counterOffer.ID)
	if err != nil {
		t.Fatalf("create swap offer: %v", err)
	}
	if d.SwapItem == nil || d.SwapItem.ID != counterOffer.ID {
		t.Fatalf("swap item snapshot missing: %+v", d.SwapItem)
	}
}

func TestAcceptOfferRejectsOthers(t *testing.T) {
	svc, s := newTestService(t)
	item := seedItem(t, s, ownerID, models.SwapOptionFree, models.ItemStatusActive)
	otherItem := seedItem(t, s, ownerID, models.SwapOptionFree, models.ItemStatusActive)
	ctx := context.Background()

	target, err := svc.CreateOffer(ctx, requesterID, item.ID, nil)
	if err != nil {
		t.Fatalf("create target: %v", err)
	}
	competing, err := svc.CreateOffer(ctx, requester2ID, item.ID, nil)
	if err != nil {
		t.Fatalf("create competing: %v", err)
	}
	unrelated, err := svc.CreateOffer(ctx, requesterID, otherItem.ID, nil)
	if err != nil {
		t.Fatalf("create unrelated: %v", err)
	}

	accepted, err := svc.AcceptOffer(ctx, target.ID, ownerID, true)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Status != models.DealStatusAccepted {
		t.Fatalf("expected accepted, got %s", accepted.Status)
	}

	if got := reloadDeal(t, s, competing.ID); got.Status != models.DealStatusRejected {
		t.Fatalf("competing deal not rejected: %s", got.Status)
	}
	// Сделка по другой вещи не затронута
	if got := reloadDeal(t, s, unrelated.ID); got.Status != models.DealStatusNew {
		t.Fatalf("unrelated deal touched: %s", got.Status)
	}
}

func TestAcceptOfferRetryConverges(t *testing.T) {
	svc, s := newTestService(t)
	item := seedItem(t, s, ownerID, models.SwapOptionFree, models.ItemStatusActive)
	ctx := context.Background()

	target, err := svc.CreateOffer(ctx, requesterID, item.ID, nil)
	if err != nil {
		t.Fatalf("create target: %v", err)
	}
	competing, err := svc.CreateOffer(ctx, requester2ID, item.ID, nil)
	if err != nil {
		t.Fatalf("create competing: %v", err)
	}

	if _, err := svc.AcceptOffer(ctx, target.ID, ownerID, true); err != nil {
		t.Fatalf("accept: %v", err)
	}
	// Повтор после "сбоя": каждый шаг идемпотентен, итог тот же
	if _, err := svc.AcceptOffer(ctx, target.ID, ownerID, true); err != nil {
		t.Fatalf("accept retry: %v", err)
	}

	if got := reloadDeal(t, s, target.ID); got.Status != models.DealStatusAccepted {
		t.Fatalf("target status drifted: %s", got.Status)
	}
	if got := reloadDeal(t, s, competing.ID); got.Status != models.DealStatusRejected {
		t.Fatalf("competing status drifted: %s", got.Status)
	}
}

func TestAcceptOfferInvalidTargetLeavesOthersUntouched(t *testing.T) {
	svc, s := newTestService(t)
	item := seedItem(t, s, ownerID, models.SwapOptionFree, models.ItemStatusActive)
	ctx := context.Background()

	target, err := svc.CreateOffer(ctx, requesterID, item.ID, nil)
	if err != nil {
		t.Fatalf("create target: %v", err)
	}
	competing, err := svc.CreateOffer(ctx, requester2ID, item.ID, nil)
	if err != nil {
		t.Fatalf("create competing: %v", err)
	}

	// Заявитель успевает отменить до решения владельца
	if _, err := svc.CancelOffer(ctx, target.ID, requesterID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if _, err := svc.AcceptOffer(ctx, target.ID, ownerID, true); !errors.Is(err, deal.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	// Недопустимое принятие не трогает конкурирующие предложения
	if got := reloadDeal(t, s, competing.ID); got.Status != models.DealStatusNew {
		t.Fatalf("competing deal touched by failed accept: %s", got.Status)
	}
	if got := reloadDeal(t, s, target.ID); got.Status != models.DealStatusCanceled {
		t.Fatalf("target status drifted: %s", got.Status)
	}
}

func TestAcceptOfferRequesterRejectOthers(t *testing.T) {
	svc, s := newTestService(t)
	item := seedItem(t, s, ownerID, models.SwapOptionFree, models.ItemStatusActive)
	ctx := context.Background()

	target, err := svc.CreateOffer(ctx, requesterID, item.ID, nil)
	if err != nil {
		t.Fatalf("create target: %v", err)
	}
	competing, err := svc.CreateOffer(ctx, requester2ID, item.ID, nil)
	if err != nil {
		t.Fatalf("create competing: %v", err)
	}

	// Принять может только владелец: ошибка про целевую сделку,
	// а не про членство в конкурирующей
	if _, err := svc.AcceptOffer(ctx, target.ID, requesterID, true); !errors.Is(err, deal.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	if got := reloadDeal(t, s, competing.ID); got.Status != models.DealStatusNew {
		t.Fatalf("competing deal touched by failed accept: %s", got.Status)
	}
}

func TestAcceptOfferRoleGuard(t *testing.T) {
	svc, s := newTestService(t)
	item := seedItem(t, s, ownerID, models.SwapOptionFree, models.ItemStatusActive)
	ctx := context.Background()

	d, err := svc.CreateOffer(ctx, requesterID, item.ID, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.AcceptOffer(ctx, d.ID, requesterID, false); !errors.Is(err, deal.ErrInvalidTransition) {
		t.Fatalf("requester must not accept, got %v", err)
	}
	if _, err := svc.AcceptOffer(ctx, d.ID, requester2ID, false); !errors.Is(err, deal.ErrNotParticipant) {
		t.Fatalf("stranger must not accept, got %v", err)
	}
}

func TestCloseAndRateDeal(t *testing.T) {
	svc, s := newTestService(t)
	item := seedItem(t, s, ownerID, models.SwapOptionFree, models.ItemStatusActive)
	ctx := context.Background()

	d, err := svc.CreateOffer(ctx, requesterID, item.ID, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.AcceptOffer(ctx, d.ID, ownerID, false); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// Оценка до закрытия отклоняется
	if _, err := svc.RateDeal(ctx, d.ID, ownerID, requesterID, 5, ""); !errors.Is(err, deal.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition before close, got %v", err)
	}

	closed, err := svc.CloseOffer(ctx, d.ID, ownerID)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Status != models.DealStatusClosed || closed.ClosedAt == nil {
		t.Fatalf("deal not closed: %+v", closed)
	}

	if _, err := svc.RateDeal(ctx, d.ID, ownerID, requesterID, 5, "отличный обмен"); err != nil {
		t.Fatalf("rate: %v", err)
	}
	if _, err := svc.RateDeal(ctx, d.ID, requesterID, ownerID, 4, ""); err != nil {
		t.Fatalf("rate back: %v", err)
	}

	// Повторная оценка того же собеседника отклоняется
	if _, err := svc.RateDeal(ctx, d.ID, ownerID, requesterID, 1, ""); !errors.Is(err, deal.ErrAlreadyRated) {
		t.Fatalf("expected ErrAlreadyRated, got %v", err)
	}

	got := reloadDeal(t, s, d.ID)
	if len(got.Rating) != 2 {
		t.Fatalf("expected 2 ratings, got %d", len(got.Rating))
	}
	if r := got.Rating[requesterID.String()]; r.Weight != 5 || r.RaterID != ownerID {
		t.Fatalf("unexpected rating of requester: %+v", r)
	}
}

func TestMyDeals(t *testing.T) {
	svc, s := newTestService(t)
	item := seedItem(t, s, ownerID, models.SwapOptionFree, models.ItemStatusActive)
	outgoingItem := seedItem(t, s, requester2ID, models.SwapOptionFree, models.ItemStatusActive)
	ctx := context.Background()

	incoming, err := svc.CreateOffer(ctx, requesterID, item.ID, nil)
	if err != nil {
		t.Fatalf("create incoming: %v", err)
	}
	outgoing, err := svc.CreateOffer(ctx, ownerID, outgoingItem.ID, nil)
	if err != nil {
		t.Fatalf("create outgoing: %v", err)
	}

	got, err := svc.MyDeals(ctx, ownerID, "incoming", "")
	if err != nil {
		t.Fatalf("incoming: %v", err)
	}
	if len(got) != 1 || got[0].ID != incoming.ID {
		t.Fatalf("unexpected incoming deals: %+v", got)
	}

	got, err = svc.MyDeals(ctx, ownerID, "outgoing", "")
	if err != nil {
		t.Fatalf("outgoing: %v", err)
	}
	if len(got) != 1 || got[0].ID != outgoing.ID {
		t.Fatalf("unexpected outgoing deals: %+v", got)
	}

	got, err = svc.MyDeals(ctx, ownerID, "", "")
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 deals, got %d", len(got))
	}

	got, err = svc.MyDeals(ctx, ownerID, "", models.DealStatusAccepted)
	if err != nil {
		t.Fatalf("filtered: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no accepted deals, got %d", len(got))
	}
}
