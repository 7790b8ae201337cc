package engine

// ReadStatus is the outcome of a synchronized read.
type ReadStatus int

const (
	// NotFound means the read was admitted and the key is absent.
	NotFound ReadStatus = iota
	// Found means the read was admitted and Value holds the stored value.
	Found
	// Rejected means no reader slot freed up within AdmissionWait.
	// It is a normal outcome under load, not an error.
	Rejected
)

func (s ReadStatus) String() string {
	switch s {
	case Found:
		return "found"
	case NotFound:
		return "not_found"
	case Rejected:
		return "rejected"
	}
	return "unknown"
}

// ReadResult is the tagged result of Get: Found(value), NotFound or Rejected.
type ReadResult[V any] struct {
	Status ReadStatus
	// Value is only meaningful when Status is Found.
	Value V
}

// Found reports whether the key was found.
func (r ReadResult[V]) Found() bool {
	return r.Status == Found
}

// Rejected reports whether the read was turned away by admission control.
func (r ReadResult[V]) Rejected() bool {
	return r.Status == Rejected
}

// hooks let tests observe the protocol from inside its critical sections.
type hooks struct {
	// mutate runs under the data gate, after the drain, before the store is touched.
	mutate func(Stats)
	// read runs under the data gate for an admitted reader.
	read func(Stats)
}
