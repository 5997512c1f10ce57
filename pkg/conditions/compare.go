package conditions

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/procflow/pkg/models"
)

var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

func isEmpty(value any) bool {
	if value == nil {
		return true
	}

	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v) == ""
	case *time.Time:
		return v == nil
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}

func equals(fieldType models.FieldType, left, right any) bool {
	if isEmpty(left) || isEmpty(right) {
		return isEmpty(left) && isEmpty(right)
	}

	switch fieldType {
	case models.FieldTypeNumber, models.FieldTypeDate:
		order, ok := compare(fieldType, left, right)

		return ok && order == 0
	case models.FieldTypeCheckbox:
		l, lok := toBool(left)
		r, rok := toBool(right)

		return lok && rok && l == r
	case models.FieldTypeDropdown:
		l := toStrings(left)
		r := toStrings(right)
		slices.Sort(l)
		slices.Sort(r)

		return slices.Equal(l, r)
	default:
		return toString(left) == toString(right)
	}
}

func contains(fieldType models.FieldType, left, right any) bool {
	if isEmpty(left) || isEmpty(right) {
		return false
	}

	if fieldType == models.FieldTypeDropdown || isList(left) {
		selected := toStrings(left)

		for _, want := range toStrings(right) {
			if !slices.Contains(selected, want) {
				return false
			}
		}

		return true
	}

	return strings.Contains(strings.ToLower(toString(left)), strings.ToLower(toString(right)))
}

// compare orders numbers and dates. Other types are not ordered.
func compare(fieldType models.FieldType, left, right any) (int, bool) {
	if isEmpty(left) || isEmpty(right) {
		return 0, false
	}

	switch fieldType {
	case models.FieldTypeNumber:
		l, lok := toFloat(left)
		r, rok := toFloat(right)

		if !lok || !rok {
			return 0, false
		}

		switch {
		case l < r:
			return -1, true
		case l > r:
			return 1, true
		default:
			return 0, true
		}
	case models.FieldTypeDate:
		l, lok := toTime(left)
		r, rok := toTime(right)

		if !lok || !rok {
			return 0, false
		}

		return l.Compare(r), true
	default:
		return 0, false
	}
}

func isList(value any) bool {
	kind := reflect.ValueOf(value).Kind()

	return kind == reflect.Slice || kind == reflect.Array
}

func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func toStrings(value any) []string {
	switch v := value.(type) {
	case []string:
		return slices.Clone(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, toString(item))
		}

		return out
	default:
		return []string{toString(value)}
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()

		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)

		return f, err == nil
	default:
		return 0, false
	}
}

func toBool(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))

		return b, err == nil
	default:
		f, ok := toFloat(value)

		return f != 0, ok
	}
}

// ParseTime converts a stored field value into a timestamp. Strings are read in
// RFC 3339 or plain date layout, numbers as unix seconds.
func ParseTime(value any) (time.Time, bool) {
	return toTime(value)
}

func toTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case *time.Time:
		if v == nil {
			return time.Time{}, false
		}

		return *v, true
	case string:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, strings.TrimSpace(v)); err == nil {
				return t, true
			}
		}

		return time.Time{}, false
	default:
		seconds, ok := toFloat(value)
		if !ok {
			return time.Time{}, false
		}

		return time.Unix(int64(seconds), 0).UTC(), true
	}
}
