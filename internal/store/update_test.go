package store

import (
	"encoding/json"
	"reflect"
	"testing"
)

func applyToMap(t *testing.T, data []byte, updates []Update) map[string]any {
	t.Helper()
	out, err := ApplyUpdates(data, updates)
	if err != nil {
		t.Fatalf("apply updates: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	return doc
}

func TestApplyUpdatesSet(t *testing.T) {
	doc := applyToMap(t, nil, []Update{
		Set("status", "new"),
		Set("weight", 5),
	})

	if doc["status"] != "new" {
		t.Fatalf("expected status new, got %v", doc["status"])
	}
	if doc["weight"] != float64(5) {
		t.Fatalf("expected weight 5, got %v", doc["weight"])
	}
}

func TestApplyUpdatesNestedPath(t *testing.T) {
	doc := applyToMap(t, nil, []Update{
		Set("rating.u1", map[string]any{"weight": 4}),
	})

	rating, ok := doc["rating"].(map[string]any)
	if !ok {
		t.Fatalf("expected rating object, got %T", doc["rating"])
	}
	entry, ok := rating["u1"].(map[string]any)
	if !ok || entry["weight"] != float64(4) {
		t.Fatalf("unexpected rating entry: %v", rating["u1"])
	}
}

func TestApplyUpdatesDelete(t *testing.T) {
	initial := []byte(`{"a":1,"b":2}`)
	doc := applyToMap(t, initial, []Update{Delete("a")})

	if _, exists := doc["a"]; exists {
		t.Fatalf("expected field a removed")
	}
	if doc["b"] != float64(2) {
		t.Fatalf("field b lost: %v", doc)
	}
}

func TestApplyUpdatesArrayUnion(t *testing.T) {
	initial := []byte(`{"unseen_by_user":{"u1":["m1","m2"]}}`)

	doc := applyToMap(t, initial, []Update{
		ArrayUnion("unseen_by_user.u1", "m2", "m3"),
	})

	unseen := doc["unseen_by_user"].(map[string]any)
	got := unseen["u1"].([]any)
	want := []any{"m1", "m2", "m3"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestApplyUpdatesArrayRemoveIdempotent(t *testing.T) {
	initial := []byte(`{"ids":["m1","m2","m3"]}`)
	updates := []Update{ArrayRemove("ids", "m2", "missing")}

	once := applyToMap(t, initial, updates)
	onceJSON, _ := json.Marshal(once)
	twice := applyToMap(t, onceJSON, updates)

	got := twice["ids"].([]any)
	want := []any{"m1", "m3"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestApplyUpdatesArrayUnionOnMissingField(t *testing.T) {
	doc := applyToMap(t, nil, []Update{ArrayUnion("unseen_by_user.u2", "m1")})

	unseen := doc["unseen_by_user"].(map[string]any)
	got := unseen["u2"].([]any)
	if !reflect.DeepEqual(got, []any{"m1"}) {
		t.Fatalf("unexpected array: %v", got)
	}
}

func TestSetFields(t *testing.T) {
	type sample struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}

	updates, err := SetFields(sample{ID: "d1", Status: "new"})
	if err != nil {
		t.Fatalf("set fields: %v", err)
	}

	doc := applyToMap(t, nil, updates)
	if doc["id"] != "d1" || doc["status"] != "new" {
		t.Fatalf("unexpected document: %v", doc)
	}
}

func TestPredicateMatch(t *testing.T) {
	data := []byte(`{"item_id":"i1","status":"new","participants":["u1","u2"]}`)

	tests := []struct {
		name string
		pred Predicate
		want bool
	}{
		{name: "равенство", pred: Predicate{Where("status", "new")}, want: true},
		{name: "равенство мимо", pred: Predicate{Where("status", "accepted")}, want: false},
		{name: "вхождение", pred: Predicate{WhereIn("status", "new", "accepted")}, want: true},
		{name: "вхождение мимо", pred: Predicate{WhereIn("status", "rejected", "canceled")}, want: false},
		{name: "массив содержит", pred: Predicate{WhereContains("participants", "u2")}, want: true},
		{name: "массив не содержит", pred: Predicate{WhereContains("participants", "u3")}, want: false},
		{name: "конъюнкция", pred: Predicate{Where("item_id", "i1"), Where("status", "new")}, want: true},
		{name: "конъюнкция мимо", pred: Predicate{Where("item_id", "i1"), Where("status", "closed")}, want: false},
		{name: "отсутствующее поле", pred: Predicate{Where("missing", "x")}, want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.pred.Match(data); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}
