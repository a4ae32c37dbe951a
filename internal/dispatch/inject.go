package dispatch

import (
	"fmt"
	"reflect"
	"sync"
)

var (
	errorType    = reflect.TypeOf((*error)(nil)).Elem()
	metaViewType = reflect.TypeOf((*MetaView)(nil))
)

// Injector inspects callback signatures and prepares per-call argument lists.
// Parameter descriptions are cached so repeated registrations of the same
// shape skip inspection. Cache keys are structural, a function type for
// native callbacks and a caller-supplied content key for scripted ones, so
// reloading a plugin never poisons the cache with stale identities.
type Injector struct {
	mu     sync.RWMutex
	byType map[reflect.Type]Descriptor
	byKey  map[string]Descriptor
}

// NewInjector creates an empty injector with warm caches.
func NewInjector() *Injector {
	return &Injector{
		byType: make(map[reflect.Type]Descriptor),
		byKey:  make(map[string]Descriptor),
	}
}

// HandlerFor turns fn into a Handler. Accepted forms:
//
//   - *Handler, passed through unchanged
//   - func(args ...any) (any, error), the plain form, never injected
//   - any other func whose results are (), (error), (T) or (T, error)
//
// For the last form the parameter list is inspected once per function type.
// A trailing *MetaView parameter marks the callback as wanting the firing's
// metadata view injected.
func (inj *Injector) HandlerFor(fn any) (*Handler, error) {
	switch typed := fn.(type) {
	case nil:
		return nil, fmt.Errorf("handler must be a function, got nil")
	case *Handler:
		return typed, nil
	case func(args ...any) (any, error):
		return NewHandlerFunc(typed), nil
	case HandlerFunc:
		return NewHandlerFunc(typed), nil
	}

	v := reflect.ValueOf(fn)
	t := v.Type()
	if t.Kind() != reflect.Func {
		return nil, fmt.Errorf("handler must be a function, got %T", fn)
	}
	desc, err := inj.descriptorForType(t)
	if err != nil {
		return nil, err
	}
	call := func(args []any) (any, error) {
		return callFunc(v, t, args)
	}
	return &Handler{call: call, desc: desc}, nil
}

// DescriptorForKey memoizes a descriptor under an arbitrary content key.
// Script hosts use it with a hash of the callback source so identical
// chunks share one parsed description across reloads.
func (inj *Injector) DescriptorForKey(key string, build func() Descriptor) Descriptor {
	inj.mu.RLock()
	d, ok := inj.byKey[key]
	inj.mu.RUnlock()
	if ok {
		return d
	}
	d = build()
	inj.mu.Lock()
	inj.byKey[key] = d
	inj.mu.Unlock()
	return d
}

func (inj *Injector) descriptorForType(t reflect.Type) (Descriptor, error) {
	inj.mu.RLock()
	d, ok := inj.byType[t]
	inj.mu.RUnlock()
	if ok {
		return d, nil
	}

	if err := checkResults(t); err != nil {
		return Descriptor{}, err
	}
	d = Descriptor{NumParams: t.NumIn()}
	if t.IsVariadic() {
		d.NumParams = t.NumIn() - 1
		d.Variadic = true
	} else if n := t.NumIn(); n > 0 && t.In(n-1) == metaViewType {
		d.WantsMeta = true
	}

	inj.mu.Lock()
	inj.byType[t] = d
	inj.mu.Unlock()
	return d, nil
}

// BuildArgs applies the injection rule for one call. When the callback wants
// metadata and the firing supplied fewer arguments than it declares, missing
// positions are padded with nil and the final position receives the view.
// In every other case the fired arguments pass through unmodified.
func (inj *Injector) BuildArgs(desc Descriptor, args []any, view *MetaView) []any {
	if !desc.WantsMeta || desc.NumParams == 0 {
		return args
	}
	if len(args) >= desc.NumParams {
		return args
	}
	out := make([]any, desc.NumParams)
	copy(out, args)
	out[desc.NumParams-1] = view
	return out
}

// ArgList reports whether a pre hook's return value is an ordered sequence,
// normalizing it to a slice of any. Sequences replace the firing's argument
// list. Strings and maps are not sequences.
func ArgList(v any) ([]any, bool) {
	switch s := v.(type) {
	case nil:
		return nil, false
	case []any:
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func checkResults(t reflect.Type) error {
	switch t.NumOut() {
	case 0:
		return nil
	case 1:
		return nil
	case 2:
		if t.Out(0) == errorType {
			return fmt.Errorf("handler error result must come last in %s", t)
		}
		if t.Out(1) != errorType {
			return fmt.Errorf("handler second result must be error, got %s in %s", t.Out(1), t)
		}
		return nil
	default:
		return fmt.Errorf("handler may return at most two values, got %d in %s", t.NumOut(), t)
	}
}

// callFunc invokes a reflected callback. Missing arguments become zero
// values, surplus arguments are dropped unless the callback is variadic, and
// incompatible argument types fail the call rather than being coerced.
func callFunc(v reflect.Value, t reflect.Type, args []any) (any, error) {
	numIn := t.NumIn()
	var in []reflect.Value
	if t.IsVariadic() {
		fixed := numIn - 1
		in = make([]reflect.Value, 0, len(args))
		for i := 0; i < fixed; i++ {
			av, err := argValue(argAt(args, i), t.In(i), i)
			if err != nil {
				return nil, err
			}
			in = append(in, av)
		}
		elem := t.In(numIn - 1).Elem()
		for i := fixed; i < len(args); i++ {
			av, err := argValue(args[i], elem, i)
			if err != nil {
				return nil, err
			}
			in = append(in, av)
		}
	} else {
		in = make([]reflect.Value, numIn)
		for i := 0; i < numIn; i++ {
			av, err := argValue(argAt(args, i), t.In(i), i)
			if err != nil {
				return nil, err
			}
			in[i] = av
		}
	}

	out := v.Call(in)
	switch t.NumOut() {
	case 0:
		return nil, nil
	case 1:
		if t.Out(0) == errorType {
			if !out[0].IsNil() {
				return nil, out[0].Interface().(error)
			}
			return nil, nil
		}
		return out[0].Interface(), nil
	default:
		var err error
		if !out[1].IsNil() {
			err = out[1].Interface().(error)
		}
		return out[0].Interface(), err
	}
}

func argAt(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

func argValue(a any, pt reflect.Type, idx int) (reflect.Value, error) {
	if a == nil {
		return reflect.Zero(pt), nil
	}
	av := reflect.ValueOf(a)
	at := av.Type()
	if at.AssignableTo(pt) {
		return av, nil
	}
	if numericKind(at.Kind()) && numericKind(pt.Kind()) && at.ConvertibleTo(pt) {
		return av.Convert(pt), nil
	}
	return reflect.Value{}, fmt.Errorf("argument %d: cannot use %T as %s", idx, a, pt)
}

func numericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
