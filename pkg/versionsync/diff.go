package versionsync

import (
	"github.com/dukex/procflow/pkg/models"
)

type entry struct {
	task     *models.Task
	template *models.TaskTemplate
}

type plan struct {
	order    []entry
	removed  []*models.Task
	added    int
	retained int
}

// diff matches workflow tasks to snapshot tasks by api name. Pending tasks
// missing from the snapshot are removed; started ones are retained right
// after the last matched task that preceded them.
func diff(wf *models.Workflow, snapshot *models.TemplateSnapshot) plan {
	var p plan

	inSnapshot := make(map[string]bool, len(snapshot.Tasks))
	for _, tmpl := range snapshot.Tasks {
		inSnapshot[tmpl.APIName] = true
	}

	following := make(map[string][]*models.Task)
	anchor := ""

	for _, task := range wf.Tasks {
		if inSnapshot[task.APIName] {
			anchor = task.APIName

			continue
		}

		if task.Status == models.TaskStatusPending {
			p.removed = append(p.removed, task)

			continue
		}

		following[anchor] = append(following[anchor], task)
		p.retained++
	}

	p.order = make([]entry, 0, len(snapshot.Tasks)+p.retained)

	for _, task := range following[""] {
		p.order = append(p.order, entry{task: task})
	}

	for i := range snapshot.Tasks {
		tmpl := snapshot.Tasks[i]

		existing := wf.TaskByAPIName(tmpl.APIName)
		if existing == nil {
			p.added++
		}

		p.order = append(p.order, entry{task: existing, template: &tmpl})

		for _, task := range following[tmpl.APIName] {
			p.order = append(p.order, entry{task: task})
		}
	}

	return p
}

// refreshFields redeclares every field still defined and forgets the rest.
func refreshFields(wf *models.Workflow, snapshot *models.TemplateSnapshot) {
	declared := make(map[string]bool)

	for _, field := range snapshot.Kickoff {
		wf.DeclareField(field, "")
		declared[field.APIName] = true
	}

	for _, task := range wf.Tasks {
		for _, field := range task.Fields {
			wf.DeclareField(field, task.APIName)
			declared[field.APIName] = true
		}
	}

	for apiName := range wf.Fields {
		if !declared[apiName] {
			delete(wf.Fields, apiName)
		}
	}
}

// dropDanglingReferences strips performer, condition and due date references
// to fields or tasks that no longer exist. Finished tasks are left as recorded.
func dropDanglingReferences(wf *models.Workflow) {
	for _, task := range wf.Tasks {
		if task.Status == models.TaskStatusCompleted || task.Status == models.TaskStatusSkipped {
			continue
		}

		raws := make([]models.RawPerformer, 0, len(task.RawPerformers))
		for _, raw := range task.RawPerformers {
			if raw.Type == models.PerformerTypeField && wf.Fields[raw.SourceID] == nil {
				continue
			}

			raws = append(raws, raw)
		}

		task.RawPerformers = raws
		task.Conditions = liveConditions(wf, task.Conditions)

		if !dueDateResolvable(wf, task.DueDateRule) {
			task.DueDateRule = nil
		}
	}
}

func liveConditions(wf *models.Workflow, conditions []models.Condition) []models.Condition {
	live := make([]models.Condition, 0, len(conditions))

	for _, condition := range conditions {
		rules := make([]models.Rule, 0, len(condition.Rules))

		for _, rule := range condition.Rules {
			predicates := make([]models.Predicate, 0, len(rule.Predicates))

			for _, predicate := range rule.Predicates {
				if wf.Fields[predicate.Field] == nil {
					continue
				}

				if predicate.ValueField != "" && wf.Fields[predicate.ValueField] == nil {
					continue
				}

				predicates = append(predicates, predicate)
			}

			if len(predicates) > 0 {
				rule.Predicates = predicates
				rules = append(rules, rule)
			}
		}

		if len(rules) > 0 {
			condition.Rules = rules
			live = append(live, condition)
		}
	}

	return live
}

func dueDateResolvable(wf *models.Workflow, rule *models.DueDateRule) bool {
	if rule == nil {
		return true
	}

	switch rule.Rule {
	case models.DueDateAfterField:
		return wf.Fields[rule.SourceAPIName] != nil
	case models.DueDateAfterTaskStarted, models.DueDateAfterTaskCompleted:
		return rule.SourceAPIName == "" || wf.TaskByAPIName(rule.SourceAPIName) != nil
	default:
		return true
	}
}
