package dispatch

// Descriptor describes a callback's parameter shape. The dispatcher uses it
// to decide whether a firing's metadata view is injected into the call.
type Descriptor struct {
	// NumParams is the number of declared fixed parameters.
	NumParams int
	// Variadic marks callbacks that accept any number of arguments. Variadic
	// callbacks receive the fired arguments unmodified and are never injected.
	Variadic bool
	// WantsMeta marks callbacks whose last fixed parameter is the metadata
	// injection point.
	WantsMeta bool
}

// Handler is a registered callback bound to an event name. The zero value is
// not usable; construct handlers through NewHandler, NewHandlerFunc or
// Injector.HandlerFor.
type Handler struct {
	call func(args []any) (any, error)
	desc Descriptor
}

// HandlerFunc is the plain callback form. It receives the firing's arguments
// as supplied and reports a result value and an error.
type HandlerFunc func(args ...any) (any, error)

// NewHandlerFunc wraps the plain variadic callback form. Such handlers see
// every fired argument and never take part in metadata injection.
func NewHandlerFunc(fn HandlerFunc) *Handler {
	return &Handler{
		call: func(args []any) (any, error) { return fn(args...) },
		desc: Descriptor{Variadic: true},
	}
}

// NewHandler builds a handler from an explicit call function and descriptor.
// It is the constructor used by script hosts that inspect parameter shapes
// themselves.
func NewHandler(call func(args []any) (any, error), desc Descriptor) *Handler {
	return &Handler{call: call, desc: desc}
}

// Descriptor returns the callback's parameter description.
func (h *Handler) Descriptor() Descriptor {
	if h == nil {
		return Descriptor{}
	}
	return h.desc
}

// Invoke calls the underlying callback with the prepared argument list.
// Argument shaping and metadata injection happen before Invoke, in the
// dispatcher's argument pass.
func (h *Handler) Invoke(args []any) (any, error) {
	if h == nil || h.call == nil {
		return nil, nil
	}
	return h.call(args)
}
