package pref

// Store is the untyped key-value store a Binding reads and writes. All
// operations are infallible at this boundary: adapters translate backend
// failures into absence (and log them) rather than returning errors.
type Store interface {
	Get(key string) (any, bool)
	Set(key string, value any)
	Remove(key string)
}

// Change describes a mutation of a single key. Removed is true when the key
// no longer holds a value, in which case Value is nil.
type Change struct {
	Key     string
	Value   any
	Removed bool
}

// Observer is implemented by stores that can report changes to a key from
// any origin, including other processes. fn may run on any goroutine but
// MUST NOT be invoked on the calling goroutine before Observe returns. The
// returned cancel func stops delivery and is safe to call more than once.
type Observer interface {
	Observe(key string, fn func(Change)) (cancel func())
}

// Lister is implemented by stores that can enumerate their keys.
type Lister interface {
	Keys() []string
}

// ObservingStore is a Store that also reports changes.
type ObservingStore interface {
	Store
	Observer
}

// WriteEchoer is implemented by observing stores that know whether their
// own Set and Remove calls come back through Observe. A store reporting
// false still delivers changes made elsewhere. Observers that do not
// implement it are assumed to echo.
type WriteEchoer interface {
	EchoesWrites() bool
}
