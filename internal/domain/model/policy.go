package model

import (
	"github.com/akovalev/groupwarden/internal/domain/enums"
)

// PolicyConfig is the stored configuration of one guarded feature in one
// group. A zero config never exists on disk: configs are created lazily from
// the feature's rule defaults on the first write.
type PolicyConfig struct {
	Enabled       bool         `json:"enabled"`
	Action        enums.Action `json:"action"`
	EscalateTo    enums.Action `json:"escalate_to"`
	Threshold     int          `json:"threshold"`
	CustomMessage string       `json:"custom_message,omitempty"`
}

// PolicyPatch carries a partial update; nil fields keep the stored value.
type PolicyPatch struct {
	Enabled       *bool
	Action        *enums.Action
	EscalateTo    *enums.Action
	Threshold     *int
	CustomMessage *string
}

// FeatureRule is validation data for one feature: which actions it accepts,
// the threshold range, and the message cap. Features differ by rows in this
// table, not by parsing branches.
type FeatureRule struct {
	AllowedActions   []enums.Action
	EscalateActions  []enums.Action
	MinThreshold     int
	MaxThreshold     int
	MessageCap       int
	DefaultAction    enums.Action
	DefaultEscalate  enums.Action
	DefaultThreshold int
}

var featureRules = map[enums.Feature]FeatureRule{
	enums.FeatureImage: {
		AllowedActions:   []enums.Action{enums.ActionWarn, enums.ActionDelete, enums.ActionKick, enums.ActionRemove},
		EscalateActions:  []enums.Action{enums.ActionDelete, enums.ActionKick, enums.ActionRemove},
		MinThreshold:     1,
		MaxThreshold:     10,
		MessageCap:       500,
		DefaultAction:    enums.ActionWarn,
		DefaultEscalate:  enums.ActionKick,
		DefaultThreshold: 3,
	},
	enums.FeatureSticker: {
		AllowedActions:   []enums.Action{enums.ActionWarn, enums.ActionDelete, enums.ActionKick, enums.ActionRemove},
		EscalateActions:  []enums.Action{enums.ActionDelete, enums.ActionKick, enums.ActionRemove},
		MinThreshold:     1,
		MaxThreshold:     10,
		MessageCap:       500,
		DefaultAction:    enums.ActionWarn,
		DefaultEscalate:  enums.ActionKick,
		DefaultThreshold: 3,
	},
	enums.FeatureStatusMention: {
		AllowedActions:   []enums.Action{enums.ActionWarn, enums.ActionDelete, enums.ActionKick, enums.ActionRemove},
		EscalateActions:  []enums.Action{enums.ActionDelete, enums.ActionKick, enums.ActionRemove},
		MinThreshold:     1,
		MaxThreshold:     10,
		MessageCap:       1000,
		DefaultAction:    enums.ActionDelete,
		DefaultEscalate:  enums.ActionKick,
		DefaultThreshold: 2,
	},
	enums.FeatureDemote: {
		AllowedActions:   []enums.Action{enums.ActionPromote},
		EscalateActions:  []enums.Action{enums.ActionPromote},
		MinThreshold:     1,
		MaxThreshold:     1,
		MessageCap:       500,
		DefaultAction:    enums.ActionPromote,
		DefaultEscalate:  enums.ActionPromote,
		DefaultThreshold: 1,
	},
	enums.FeatureCall: {
		AllowedActions:   []enums.Action{enums.ActionWarn, enums.ActionBlock, enums.ActionKick, enums.ActionRemove},
		EscalateActions:  []enums.Action{enums.ActionBlock, enums.ActionKick, enums.ActionRemove},
		MinThreshold:     1,
		MaxThreshold:     10,
		MessageCap:       500,
		DefaultAction:    enums.ActionBlock,
		DefaultEscalate:  enums.ActionBlock,
		DefaultThreshold: 1,
	},
}

func RuleFor(feature enums.Feature) (FeatureRule, bool) {
	rule, ok := featureRules[feature]
	return rule, ok
}

// DefaultPolicy is the config a group has before any admin touched the
// feature. Disabled, so absence of configuration never enforces anything.
func DefaultPolicy(feature enums.Feature) PolicyConfig {
	rule, ok := featureRules[feature]
	if !ok {
		return PolicyConfig{}
	}
	return PolicyConfig{
		Enabled:    false,
		Action:     rule.DefaultAction,
		EscalateTo: rule.DefaultEscalate,
		Threshold:  rule.DefaultThreshold,
	}
}

func (r FeatureRule) AllowsAction(a enums.Action) bool {
	for _, allowed := range r.AllowedActions {
		if allowed == a {
			return true
		}
	}
	return false
}

func (r FeatureRule) AllowsEscalate(a enums.Action) bool {
	for _, allowed := range r.EscalateActions {
		if allowed == a {
			return true
		}
	}
	return false
}
