package workflow

import (
	"strings"

	"github.com/therealutkarshpriyadarshi/videocontent/pkg/models"
)

// transitions lists the states reachable from each state. Archived is
// terminal.
var transitions = map[models.WorkflowStatus][]models.WorkflowStatus{
	models.WorkflowStatusDraft:     {models.WorkflowStatusReview, models.WorkflowStatusArchived},
	models.WorkflowStatusReview:    {models.WorkflowStatusDraft, models.WorkflowStatusApproved, models.WorkflowStatusArchived},
	models.WorkflowStatusApproved:  {models.WorkflowStatusReview, models.WorkflowStatusPublished, models.WorkflowStatusArchived},
	models.WorkflowStatusPublished: {models.WorkflowStatusApproved, models.WorkflowStatusArchived},
	models.WorkflowStatusArchived:  {},
}

// CanTransition reports whether a workflow in from may move to to
func CanTransition(from, to models.WorkflowStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStates returns the states reachable from s
func NextStates(s models.WorkflowStatus) []models.WorkflowStatus {
	next := make([]models.WorkflowStatus, len(transitions[s]))
	copy(next, transitions[s])
	return next
}

// allowed renders NextStates for error messages
func allowed(from models.WorkflowStatus) string {
	next := NextStates(from)
	if len(next) == 0 {
		return "none"
	}
	names := make([]string, len(next))
	for i, s := range next {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}
