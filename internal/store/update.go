package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// UpdateOp определяет вид операции частичного обновления
type UpdateOp string

const (
	OpSet         UpdateOp = "set"          // Записать значение поля
	OpDelete      UpdateOp = "delete"       // Удалить поле
	OpArrayUnion  UpdateOp = "array_union"  // Добавить элементы в массив-множество
	OpArrayRemove UpdateOp = "array_remove" // Убрать элементы из массива-множества
)

// Update — одна операция частичного обновления документа.
// Path — имя поля верхнего уровня либо путь через точку ("unseen_by_user.<uid>").
type Update struct {
	Path  string
	Op    UpdateOp
	Value any
}

// Set создаёт операцию записи значения поля
func Set(path string, value any) Update {
	return Update{Path: path, Op: OpSet, Value: value}
}

// Delete создаёт операцию удаления поля
func Delete(path string) Update {
	return Update{Path: path, Op: OpDelete}
}

// ArrayUnion создаёт операцию добавления элементов в массив без дублей
func ArrayUnion(path string, values ...string) Update {
	return Update{Path: path, Op: OpArrayUnion, Value: values}
}

// ArrayRemove создаёт операцию удаления элементов из массива.
// Удаление отсутствующего элемента — no-op, поэтому markSeen идемпотентен
// и безопасен при параллельных вызовах с нескольких устройств.
func ArrayRemove(path string, values ...string) Update {
	return Update{Path: path, Op: OpArrayRemove, Value: values}
}

// ApplyUpdates применяет операции к JSON-документу и возвращает новый JSON.
// Общий код для всех реализаций хранилища, чтобы семантика операций совпадала.
func ApplyUpdates(data []byte, updates []Update) ([]byte, error) {
	doc := map[string]any{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("разбор документа: %w", err)
		}
	}

	for _, u := range updates {
		parent, key, err := resolvePath(doc, u.Path, u.Op != OpDelete)
		if err != nil {
			return nil, err
		}

		switch u.Op {
		case OpSet:
			// Значение нормализуется через JSON, чтобы в документе
			// не оказалось Go-типов, которых не бывает после Unmarshal
			normalized, err := normalize(u.Value)
			if err != nil {
				return nil, fmt.Errorf("поле %s: %w", u.Path, err)
			}
			parent[key] = normalized

		case OpDelete:
			if parent != nil {
				delete(parent, key)
			}

		case OpArrayUnion:
			existing := toStringSlice(parent[key])
			for _, v := range toStringSlice(u.Value) {
				if !containsString(existing, v) {
					existing = append(existing, v)
				}
			}
			parent[key] = existing

		case OpArrayRemove:
			existing := toStringSlice(parent[key])
			removed := toStringSlice(u.Value)
			kept := make([]string, 0, len(existing))
			for _, v := range existing {
				if !containsString(removed, v) {
					kept = append(kept, v)
				}
			}
			parent[key] = kept

		default:
			return nil, fmt.Errorf("неизвестная операция %q", u.Op)
		}
	}

	return json.Marshal(doc)
}

// SetFields разворачивает структуру в набор операций записи полей верхнего
// уровня. Используется при создании документа целиком.
func SetFields(v any) ([]Update, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("кодирование документа: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("документ не является объектом: %w", err)
	}

	updates := make([]Update, 0, len(fields))
	for key, value := range fields {
		updates = append(updates, Set(key, value))
	}
	return updates, nil
}

// resolvePath возвращает родительский объект и конечный ключ пути.
// При create=true промежуточные объекты создаются, иначе возвращается nil-родитель.
func resolvePath(doc map[string]any, path string, create bool) (map[string]any, string, error) {
	segments := strings.Split(path, ".")
	current := doc
	for _, seg := range segments[:len(segments)-1] {
		next, ok := current[seg].(map[string]any)
		if !ok {
			if current[seg] != nil {
				return nil, "", fmt.Errorf("путь %s проходит через не-объект", path)
			}
			if !create {
				return nil, "", nil
			}
			next = map[string]any{}
			current[seg] = next
		}
		current = next
	}
	return current, segments[len(segments)-1], nil
}

// normalize прогоняет значение через JSON-кодирование
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case nil:
		return nil
	case []string:
		return append([]string(nil), vv...)
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func containsString(list []string, v string) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}

// equalJSON сравнивает два значения по их JSON-представлению
func equalJSON(a, b any) bool {
	ra, err1 := json.Marshal(a)
	rb, err2 := json.Marshal(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return bytes.Equal(ra, rb)
}
