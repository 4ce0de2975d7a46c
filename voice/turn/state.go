package turn

import (
	"fmt"

	"github.com/BaSui01/voiceflow/types"
)

// State 回合状态
type State string

const (
	StateStarted    State = "STARTED"
	StateStreaming  State = "STREAMING"
	StateCompleting State = "COMPLETING"
	StatePersisted  State = "PERSISTED"
	StateDiscarded  State = "DISCARDED"
)

// IsTerminal reports whether s ends the turn.
func (s State) IsTerminal() bool {
	return s == StatePersisted || s == StateDiscarded
}

// Trigger drives a state transition.
type Trigger string

const (
	// 模型流事件
	TriggerChunk          Trigger = "chunk"
	TriggerStreamError    Trigger = "stream_error"
	TriggerStreamComplete Trigger = "stream_complete"

	// COMPLETING 阶段的收尾结果
	TriggerFinalized     Trigger = "finalized"
	TriggerPersistFailed Trigger = "persist_failed"
)

// transitions lists every legal move; anything else is rejected.
var transitions = map[State]map[Trigger]State{
	StateStarted: {
		TriggerChunk:          StateStreaming,
		TriggerStreamError:    StateDiscarded,
		TriggerStreamComplete: StateCompleting,
	},
	StateStreaming: {
		TriggerChunk:          StateStreaming,
		TriggerStreamError:    StateDiscarded,
		TriggerStreamComplete: StateCompleting,
	},
	StateCompleting: {
		TriggerFinalized:     StatePersisted,
		TriggerPersistFailed: StateDiscarded,
	},
}

// transition returns the state reached from `from` on t.
func transition(from State, t Trigger) (State, error) {
	if next, ok := transitions[from][t]; ok {
		return next, nil
	}
	return from, types.NewError(types.ErrInvalidTransition,
		fmt.Sprintf("illegal turn transition %s --%s-->", from, t))
}
