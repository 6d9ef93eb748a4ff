package store

import "encoding/json"

// FilterOp определяет оператор фильтра
type FilterOp string

const (
	OpEqual         FilterOp = "=="             // Поле равно значению
	OpIn            FilterOp = "in"             // Поле равно одному из значений
	OpArrayContains FilterOp = "array-contains" // Массив в поле содержит значение
)

// Filter — одно условие на поле верхнего уровня документа
type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

// Predicate — конъюнкция фильтров
type Predicate []Filter

// Where создаёт фильтр равенства
func Where(field string, value any) Filter {
	return Filter{Field: field, Op: OpEqual, Value: value}
}

// WhereIn создаёт фильтр вхождения в набор значений
func WhereIn(field string, values ...any) Filter {
	return Filter{Field: field, Op: OpIn, Value: values}
}

// WhereContains создаёт фильтр принадлежности значения массиву в поле
func WhereContains(field string, value any) Filter {
	return Filter{Field: field, Op: OpArrayContains, Value: value}
}

// Match проверяет документ на соответствие предикату
func (p Predicate) Match(data []byte) bool {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return false
	}

	for _, f := range p {
		field, ok := doc[f.Field]
		if !ok {
			return false
		}

		switch f.Op {
		case OpEqual:
			if !equalJSON(field, f.Value) {
				return false
			}
		case OpIn:
			values, _ := f.Value.([]any)
			matched := false
			for _, v := range values {
				if equalJSON(field, v) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		case OpArrayContains:
			arr, _ := field.([]any)
			matched := false
			for _, v := range arr {
				if equalJSON(v, f.Value) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		default:
			return false
		}
	}
	return true
}
