package conditions

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dukex/procflow/pkg/models"
	"github.com/stretchr/testify/assert"
)

func values(fields ...*models.FieldValue) Values {
	v := make(Values, len(fields))
	for _, field := range fields {
		v[field.APIName] = field
	}

	return v
}

func field(apiName string, fieldType models.FieldType, value any) *models.FieldValue {
	return &models.FieldValue{APIName: apiName, Type: fieldType, Value: value}
}

func TestHolds(t *testing.T) {
	v := values(
		field("amount", models.FieldTypeNumber, json.Number("250")),
		field("limit", models.FieldTypeNumber, 1000.0),
		field("client", models.FieldTypeString, "Acme Corp"),
		field("notes", models.FieldTypeText, "  "),
		field("urgent", models.FieldTypeCheckbox, true),
		field("regions", models.FieldTypeDropdown, []any{"eu", "us"}),
		field("deadline", models.FieldTypeDate, "2024-03-01"),
	)

	tests := []struct {
		name      string
		predicate models.Predicate
		want      bool
	}{
		{"number less than literal", models.Predicate{Field: "amount", Operator: models.OperatorLessThan, Value: 1000}, true},
		{"number greater than literal", models.Predicate{Field: "amount", Operator: models.OperatorGreaterThan, Value: "100"}, true},
		{"number equals across types", models.Predicate{Field: "amount", Operator: models.OperatorEquals, Value: 250.0}, true},
		{"number against field", models.Predicate{Field: "amount", Operator: models.OperatorLessThan, ValueField: "limit"}, true},
		{"string equals", models.Predicate{Field: "client", Operator: models.OperatorEquals, Value: "Acme Corp"}, true},
		{"string not equals", models.Predicate{Field: "client", Operator: models.OperatorNotEquals, Value: "Globex"}, true},
		{"string contains ignores case", models.Predicate{Field: "client", Operator: models.OperatorContains, Value: "acme"}, true},
		{"string not contains", models.Predicate{Field: "client", Operator: models.OperatorNotContains, Value: "initech"}, true},
		{"blank string is empty", models.Predicate{Field: "notes", Operator: models.OperatorIsEmpty}, true},
		{"missing field is empty", models.Predicate{Field: "ghost", Operator: models.OperatorIsEmpty}, true},
		{"present field is not empty", models.Predicate{Field: "client", Operator: models.OperatorIsNotEmpty}, true},
		{"checkbox equals string literal", models.Predicate{Field: "urgent", Operator: models.OperatorEquals, Value: "true"}, true},
		{"dropdown contains subset", models.Predicate{Field: "regions", Operator: models.OperatorContains, Value: []any{"us"}}, true},
		{"dropdown contains missing item", models.Predicate{Field: "regions", Operator: models.OperatorContains, Value: "apac"}, false},
		{"dropdown equals ignores order", models.Predicate{Field: "regions", Operator: models.OperatorEquals, Value: []string{"us", "eu"}}, true},
		{"date before", models.Predicate{Field: "deadline", Operator: models.OperatorLessThan, Value: "2024-03-02T00:00:00Z"}, true},
		{"date equals", models.Predicate{Field: "deadline", Operator: models.OperatorEquals, Value: "2024-03-01T00:00:00Z"}, true},
		{"strings are not ordered", models.Predicate{Field: "client", Operator: models.OperatorGreaterThan, Value: "A"}, false},
		{"missing field never compares", models.Predicate{Field: "ghost", Operator: models.OperatorLessThan, Value: 1}, false},
		{"missing value field is empty", models.Predicate{Field: "amount", Operator: models.OperatorEquals, ValueField: "ghost"}, false},
		{"unknown operator", models.Predicate{Field: "client", Operator: "matches", Value: "Acme"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Holds(tt.predicate, v))
		})
	}
}

func TestSatisfied(t *testing.T) {
	v := values(field("amount", models.FieldTypeNumber, 50))

	assert.False(t, Satisfied(models.Rule{}, v))
	assert.True(t, Satisfied(models.Rule{Predicates: []models.Predicate{
		{Field: "amount", Operator: models.OperatorIsNotEmpty},
		{Field: "amount", Operator: models.OperatorLessThan, Value: 100},
	}}, v))
	assert.False(t, Satisfied(models.Rule{Predicates: []models.Predicate{
		{Field: "amount", Operator: models.OperatorIsNotEmpty},
		{Field: "amount", Operator: models.OperatorGreaterThan, Value: 100},
	}}, v))
}

func TestEvaluate(t *testing.T) {
	v := values(field("amount", models.FieldTypeNumber, 50))

	small := models.Rule{Predicates: []models.Predicate{{Field: "amount", Operator: models.OperatorLessThan, Value: 100}}}
	large := models.Rule{Predicates: []models.Predicate{{Field: "amount", Operator: models.OperatorGreaterThan, Value: 100}}}

	tests := []struct {
		name       string
		conditions []models.Condition
		want       Outcome
	}{
		{
			name: "no conditions",
			want: Outcome{},
		},
		{
			name:       "skip fires",
			conditions: []models.Condition{{APIName: "c1", Action: models.ConditionActionSkipTask, Rules: []models.Rule{small}}},
			want:       Outcome{Skip: true, Fired: []string{"c1"}},
		},
		{
			name:       "skip does not fire",
			conditions: []models.Condition{{APIName: "c1", Action: models.ConditionActionSkipTask, Rules: []models.Rule{large}}},
			want:       Outcome{},
		},
		{
			name:       "any rule fires the condition",
			conditions: []models.Condition{{APIName: "c1", Action: models.ConditionActionSkipTask, Rules: []models.Rule{large, small}}},
			want:       Outcome{Skip: true, Fired: []string{"c1"}},
		},
		{
			name:       "start fires",
			conditions: []models.Condition{{APIName: "c1", Action: models.ConditionActionStartTask, Rules: []models.Rule{small}}},
			want:       Outcome{Fired: []string{"c1"}},
		},
		{
			name:       "start does not fire skips",
			conditions: []models.Condition{{APIName: "c1", Action: models.ConditionActionStartTask, Rules: []models.Rule{large}}},
			want:       Outcome{Skip: true},
		},
		{
			name: "end process fires",
			conditions: []models.Condition{
				{APIName: "c1", Action: models.ConditionActionStartTask, Rules: []models.Rule{small}},
				{APIName: "c2", Action: models.ConditionActionEndProcess, Rules: []models.Rule{small}},
			},
			want: Outcome{EndProcess: true, Fired: []string{"c1", "c2"}},
		},
		{
			name:       "condition without rules never fires",
			conditions: []models.Condition{{APIName: "c1", Action: models.ConditionActionSkipTask}},
			want:       Outcome{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.conditions, v))
		})
	}
}

func TestParseTime(t *testing.T) {
	want := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	got, ok := ParseTime("2024-03-01T12:30:00Z")
	assert.True(t, ok)
	assert.True(t, want.Equal(got))

	got, ok = ParseTime(float64(want.Unix()))
	assert.True(t, ok)
	assert.True(t, want.Equal(got))

	_, ok = ParseTime("next tuesday")
	assert.False(t, ok)

	_, ok = ParseTime(nil)
	assert.False(t, ok)
}
