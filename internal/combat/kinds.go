package combat

import (
	"fmt"
	"strings"
)

// Reserved character ids shared with the game side.
const (
	PlayerID  = -1
	UnknownID = -2
)

type ActionKind int

const (
	NoAction ActionKind = iota
	Roll
	LightAttack
	HeavyAttack
	Guard
	ActionKindCount
)

var actionKindNames = [...]string{
	NoAction:    "NoAction",
	Roll:        "Roll",
	LightAttack: "LightAttack",
	HeavyAttack: "HeavyAttack",
	Guard:       "Guard",
}

// array position == enum ordinal
var _ [ActionKindCount]struct{} = [len(actionKindNames)]struct{}{}

// ActionKinds lists every kind in declaration order.
var ActionKinds = [ActionKindCount]ActionKind{NoAction, Roll, LightAttack, HeavyAttack, Guard}

func (k ActionKind) String() string {
	if k < 0 || k >= ActionKindCount {
		return fmt.Sprintf("ActionKind(%d)", int(k))
	}
	return actionKindNames[k]
}

func (k ActionKind) Valid() bool { return k >= 0 && k < ActionKindCount }

// IsDefensive reports whether the kind counters an incoming action (parry/bait).
func (k ActionKind) IsDefensive() bool { return k == Guard || k == Roll }

func ParseActionKind(s string) (ActionKind, error) {
	for i, n := range actionKindNames {
		if strings.EqualFold(n, s) {
			return ActionKind(i), nil
		}
	}
	return NoAction, fmt.Errorf("unknown action kind %q", s)
}

func (k ActionKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *ActionKind) UnmarshalText(b []byte) error {
	v, err := ParseActionKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

type CharacterKind int

const (
	KindPlayer CharacterKind = iota
	KindEnemy
	CharacterKindCount
)

var characterKindNames = [...]string{
	KindPlayer: "Player",
	KindEnemy:  "Enemy",
}

var _ [CharacterKindCount]struct{} = [len(characterKindNames)]struct{}{}

func (k CharacterKind) String() string {
	if k < 0 || k >= CharacterKindCount {
		return fmt.Sprintf("CharacterKind(%d)", int(k))
	}
	return characterKindNames[k]
}

func (k CharacterKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// EventKind is declared in processing priority order: a batch is applied
// kind by kind, lowest ordinal first.
type EventKind int

const (
	EventGameEnd EventKind = iota
	EventDamageDealt
	EventCharacterDeath
	EventActionFinished
	EventActionStarted
	EventKindCount
)

var eventKindNames = [...]string{
	EventGameEnd:        "GameEnd",
	EventDamageDealt:    "DamageDealt",
	EventCharacterDeath: "CharacterDeath",
	EventActionFinished: "ActionFinished",
	EventActionStarted:  "ActionStarted",
}

var _ [EventKindCount]struct{} = [len(eventKindNames)]struct{}{}

func (k EventKind) String() string {
	if k < 0 || k >= EventKindCount {
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
	return eventKindNames[k]
}

func (k EventKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }
