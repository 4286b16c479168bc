package wait

// Kind identifies the handler variants the loop dispatches to.
type Kind int

// Handler kinds.
const (
	KindStatus Kind = iota + 1
	KindInbound
	KindOutbound
)

func (k Kind) String() string {
	switch k {
	case KindStatus:
		return "status"
	case KindInbound:
		return "inbound"
	case KindOutbound:
		return "outbound"
	default:
		return "unknown"
	}
}

// Handler services one registered descriptor.
//
// HandleIO performs a single non-blocking step. It returns done once the
// descriptor has been closed and must not be polled again. A non-nil error
// aborts every operation sharing the context.
type Handler interface {
	Kind() Kind
	HandleIO() (done bool, err error)
}

// Direction is the readiness a registration waits for.
type Direction int

// Directions.
const (
	Read Direction = iota
	Write
)

func (d Direction) String() string {
	if d == Write {
		return "write"
	}
	return "read"
}
