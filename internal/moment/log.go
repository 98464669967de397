package moment

// Direction selects which history stack HistoryControl pops from.
type Direction string

const (
	// Undo pops the undo stack and pushes the resulting inverse onto redo.
	Undo Direction = "undo"
	// Redo pops the redo stack and pushes the resulting inverse onto undo.
	Redo Direction = "redo"
)

// Log is the session-local undo/redo history, both stacks ordered
// most-recent-first.
//
// New transactions only ever push onto Undo; Redo is populated exclusively
// by undo operations. The two stacks stay logical complements of each other
// relative to the current live state.
type Log struct {
	Undo []Moment
	Redo []Moment
}

// NewLog returns an empty history.
func NewLog() *Log {
	return &Log{Undo: []Moment{}, Redo: []Moment{}}
}

// PushUndo records inverse as the newest undo entry. Empty inverses are
// discarded so no-op transactions never occupy a history slot.
func (l *Log) PushUndo(inverse Moment) {
	if inverse.IsEmpty() {
		return
	}
	l.Undo = append([]Moment{inverse}, l.Undo...)
}

// Pop removes and returns the newest entry of the stack selected by dir.
// Popping an empty stack returns ok=false; callers treat that as a no-op
// rather than an error.
func (l *Log) Pop(dir Direction) (Moment, bool) {
	stack := &l.Undo
	if dir == Redo {
		stack = &l.Redo
	}
	if len(*stack) == 0 {
		return Moment{}, false
	}
	m := (*stack)[0]
	*stack = (*stack)[1:]
	return m, true
}

// PushOpposite prepends inverse onto the stack opposite dir: an undo's
// inverse becomes the newest redo entry and vice versa. Empty inverses are
// discarded, which keeps idempotent operations from thrashing the stacks.
func (l *Log) PushOpposite(dir Direction, inverse Moment) {
	if inverse.IsEmpty() {
		return
	}
	if dir == Undo {
		l.Redo = append([]Moment{inverse}, l.Redo...)
	} else {
		l.Undo = append([]Moment{inverse}, l.Undo...)
	}
}

// Depths returns the current undo and redo stack depths.
func (l *Log) Depths() (undo, redo int) {
	return len(l.Undo), len(l.Redo)
}
