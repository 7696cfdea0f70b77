package program

// Program pairs a schedule with the actions to run when it triggers.
type Program struct {
	Schedule Schedule
	Actions  []Action
}

// Equal reports structural equality: same schedule variant and payload, and
// the same actions in the same order.
func (p Program) Equal(other Program) bool {
	if p.Schedule != other.Schedule {
		return false
	}
	if len(p.Actions) != len(other.Actions) {
		return false
	}
	for i := range p.Actions {
		if p.Actions[i] != other.Actions[i] {
			return false
		}
	}
	return true
}

// Validate checks every action.
func (p Program) Validate() error {
	for _, a := range p.Actions {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a copy that shares no memory with p.
func (p Program) Clone() Program {
	actions := make([]Action, len(p.Actions))
	copy(actions, p.Actions)
	return Program{Schedule: p.Schedule, Actions: actions}
}
