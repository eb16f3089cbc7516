package lifecycle

import (
	"context"
)

// Machine 狀態轉換表，三種活動共用
type Machine[S ~string] struct {
	name  string
	edges map[S]map[S]struct{}
}

// NewMachine 以from -> []to描述允許的轉換
func NewMachine[S ~string](name string, transitions map[S][]S) *Machine[S] {
	edges := make(map[S]map[S]struct{}, len(transitions))
	for from, tos := range transitions {
		edges[from] = make(map[S]struct{}, len(tos))
		for _, to := range tos {
			edges[from][to] = struct{}{}
		}
	}
	return &Machine[S]{name: name, edges: edges}
}

func (m *Machine[S]) Can(from, to S) bool {
	_, ok := m.edges[from][to]
	return ok
}

// Transition 檢查from -> to是否合法，不合法時回傳StateConflict(InvalidTransition)
func (m *Machine[S]) Transition(from, to S) error {
	if !m.Can(from, to) {
		return Conflict(ReasonInvalidTransition, "%s cannot move from %s to %s", m.name, from, to)
	}
	return nil
}

// Sources 回傳可以轉換到to的所有狀態
func (m *Machine[S]) Sources(to S) []S {
	sources := make([]S, 0)
	for from, tos := range m.edges {
		if _, ok := tos[to]; ok {
			sources = append(sources, from)
		}
	}
	return sources
}

// Terminal 判斷狀態是否已無後續轉換
func (m *Machine[S]) Terminal(state S) bool {
	return len(m.edges[state]) == 0
}

// Sweeper 排程器週期呼叫的轉換
// 同一事件被多個實例重複處理時，轉換本身在交易中重新檢查狀態，後到的呼叫不會有作用
type Sweeper interface {
	Name() string
	ProcessScheduledStarts(ctx context.Context) (int, error)
	ProcessExpired(ctx context.Context) (int, error)
}
