package enums

type Action string

const (
	ActionWarn    Action = "warn"
	ActionDelete  Action = "delete"
	ActionKick    Action = "kick"
	ActionRemove  Action = "remove"
	ActionBlock   Action = "block"
	ActionPromote Action = "promote"
)

func ParseAction(raw string) (Action, bool) {
	switch Action(raw) {
	case ActionWarn, ActionDelete, ActionKick, ActionRemove, ActionBlock, ActionPromote:
		return Action(raw), true
	default:
		return "", false
	}
}

// Terminal reports whether the action ends an enforcement sequence on its own,
// as opposed to accumulating warnings toward one.
func (a Action) Terminal() bool {
	return a != ActionWarn
}
