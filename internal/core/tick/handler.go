package tick

import "reflect"

// Handler receives one call per simulated tick with the fixed real step and
// the scaled game step, both in seconds.
type Handler interface {
	OnTick(unscaled, scaled float64)
}

// HandlerFunc adapts a plain function. Func values have no identity in Go,
// so register them with RegisterFunc, which always creates a new entry.
type HandlerFunc func(unscaled, scaled float64)

func (f HandlerFunc) OnTick(unscaled, scaled float64) { f(unscaled, scaled) }

// EndContext is what an EndCondition sees when it is consulted.
type EndContext struct {
	TickCount     uint64
	TotalGameTime float64
	CurrentDay    int
	DayProgress   float64
}

// EndCondition decides whether the game is over. Returning true stops the
// dispatcher.
type EndCondition interface {
	GameOver(ctx EndContext) (bool, error)
}

// EndConditionFunc adapts a plain function.
type EndConditionFunc func(ctx EndContext) (bool, error)

func (f EndConditionFunc) GameOver(ctx EndContext) (bool, error) { return f(ctx) }

type entry struct {
	name    string
	handler Handler
	key     any // identity used for deduplication
	removed bool
}

// identity returns the deduplication key for h. Handlers whose dynamic type
// is not comparable (funcs, slices, maps) get no shared identity, and neither
// do comparable structs that carry an uncomparable value in an interface
// field. Two keys that both pass here compare without panicking.
func identity(h Handler) (any, bool) {
	if h == nil {
		return nil, false
	}
	if !reflect.ValueOf(h).Comparable() {
		return nil, false
	}
	return h, true
}
