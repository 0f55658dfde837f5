// Lifecycle state machine for prestations.
//
// The legal moves are defined as data (legalFrom, editEdges) rather than
// code so the handler layer, the service layer, and the tests all consult
// the same tables.
package domain

// Status is the lifecycle position of a prestation.
type Status string

const (
	// StatusNouvelles: registered at intake, awaiting review.
	StatusNouvelles Status = "nouvelles"
	// StatusValidees: accepted; carries its acceptance code.
	StatusValidees Status = "validees"
	// StatusReceptionnees: received and assigned to a department.
	StatusReceptionnees Status = "receptionnees"
	// StatusRenvoyees: sent back for correction or completion.
	StatusRenvoyees Status = "renvoyees"
	// StatusTraitees: treatment finished. Terminal.
	StatusTraitees Status = "traitees"
	// StatusRefusees: refused with a stated reason. Terminal.
	StatusRefusees Status = "refusees"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusNouvelles,
	StatusValidees,
	StatusReceptionnees,
	StatusRenvoyees,
	StatusTraitees,
	StatusRefusees,
}

// ValidStatus reports whether s is a known status value.
func ValidStatus(s Status) bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether s admits no further lifecycle action.
func (s Status) Terminal() bool {
	return s == StatusTraitees || s == StatusRefusees
}

// Priority is the urgency level assigned at validation.
type Priority string

const (
	PriorityNormale     Priority = "normale"
	PriorityUrgente     Priority = "urgente"
	PriorityTresUrgente Priority = "tres urgente"
)

// ValidPriority reports whether p is a known priority value.
func ValidPriority(p Priority) bool {
	return p == PriorityNormale || p == PriorityUrgente || p == PriorityTresUrgente
}

// Action is a lifecycle operation attempted against a prestation.
type Action string

const (
	ActionAccept   Action = "accept"
	ActionValidate Action = "validate"
	ActionEdit     Action = "edit"
	ActionReject   Action = "reject"
	ActionDelete   Action = "delete"
)

// legalFrom lists, per action, the statuses it may be applied from.
var legalFrom = map[Action][]Status{
	ActionAccept:   {StatusNouvelles},
	ActionValidate: {StatusNouvelles},
	ActionEdit:     {StatusNouvelles, StatusValidees, StatusReceptionnees, StatusRenvoyees},
	ActionReject:   {StatusNouvelles, StatusValidees, StatusReceptionnees, StatusRenvoyees},
	ActionDelete:   {StatusNouvelles, StatusRenvoyees, StatusRefusees},
}

// CanApply reports whether action is legal from status from.
func CanApply(action Action, from Status) bool {
	for _, s := range legalFrom[action] {
		if s == from {
			return true
		}
	}
	return false
}

// editEdges lists the status changes an edit may perform. Statuses absent
// from the map allow no edit-driven status change.
var editEdges = map[Status][]Status{
	StatusReceptionnees: {StatusRenvoyees, StatusTraitees, StatusRefusees},
	StatusRenvoyees:     {StatusNouvelles, StatusValidees},
}

// CanEditTo reports whether an edit may move a record from from to to.
// A no-op (from == to) is always allowed.
func CanEditTo(from, to Status) bool {
	if from == to {
		return true
	}
	for _, s := range editEdges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Label returns the French display label for s.
func (s Status) Label() string {
	switch s {
	case StatusNouvelles:
		return "Nouvelles demandes"
	case StatusValidees:
		return "Demandes acceptées"
	case StatusReceptionnees:
		return "Demandes réceptionnées"
	case StatusRenvoyees:
		return "Demandes renvoyées"
	case StatusTraitees:
		return "Demandes traitées"
	case StatusRefusees:
		return "Demandes refusées"
	default:
		return string(s)
	}
}

// Color returns the UI badge color associated with s.
func (s Status) Color() string {
	switch s {
	case StatusNouvelles:
		return "blue"
	case StatusValidees:
		return "green"
	case StatusReceptionnees:
		return "teal"
	case StatusRenvoyees:
		return "orange"
	case StatusTraitees:
		return "gray"
	case StatusRefusees:
		return "red"
	default:
		return "gray"
	}
}
