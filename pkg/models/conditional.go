package models

// ConditionAction is what happens to a task when its condition fires.
type ConditionAction string

const (
	// ConditionActionSkipTask skips the task when the condition fires.
	ConditionActionSkipTask ConditionAction = "skip_task"
	// ConditionActionStartTask starts the task only when the condition fires.
	ConditionActionStartTask ConditionAction = "start_task"
	// ConditionActionEndProcess finishes the workflow when the task is reached and the condition fires.
	ConditionActionEndProcess ConditionAction = "end_process"
)

// Operator compares a field value against a literal or another field.
type Operator string

const (
	OperatorEquals      Operator = "equals"
	OperatorNotEquals   Operator = "not_equals"
	OperatorContains    Operator = "contains"
	OperatorNotContains Operator = "not_contains"
	OperatorGreaterThan Operator = "greater_than"
	OperatorLessThan    Operator = "less_than"
	OperatorIsEmpty     Operator = "is_empty"
	OperatorIsNotEmpty  Operator = "is_not_empty"
)

// Predicate is a leaf comparison. Value holds a literal; ValueField, when set,
// names another field whose current value is compared instead.
type Predicate struct {
	Field      string   `json:"field"                 validate:"required"`
	Operator   Operator `json:"operator"              validate:"required,oneof=equals not_equals contains not_contains greater_than less_than is_empty is_not_empty"`
	Value      any      `json:"value,omitempty"`
	ValueField string   `json:"value_field,omitempty"`
}

// Rule holds when every predicate holds.
type Rule struct {
	APIName    string      `json:"api_name"   validate:"required"`
	Predicates []Predicate `json:"predicates" validate:"min=1,dive"`
}

// Condition fires when at least one of its rules holds.
type Condition struct {
	APIName string          `json:"api_name" validate:"required"`
	Action  ConditionAction `json:"action"   validate:"required,oneof=skip_task start_task end_process"`
	Rules   []Rule          `json:"rules"    validate:"min=1,dive"`
}
