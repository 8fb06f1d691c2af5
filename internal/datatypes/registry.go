// Package datatypes parses string encoded values into typed Go values by
// datatype name.
package datatypes

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnparsable indicates a value that does not conform to its datatype.
	ErrUnparsable = errors.New("datatypes: unparsable value")
	// ErrUnknownDatatype indicates a datatype name that is not registered.
	ErrUnknownDatatype = errors.New("datatypes: unknown datatype")
)

// Layouts used by the temporal datatypes.
const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02 15:04:05"
	TimeLayout     = "15:04:05"
)

// Datatype converts a string representation into a typed value.
// Parse returns a nil value for blank input.
type Datatype interface {
	Name() string
	Parse(value string) (any, error)
}

// ParseFunc adapts a function to the Datatype interface.
type ParseFunc struct {
	ID string
	Fn func(string) (any, error)
}

// Name implements Datatype.
func (p ParseFunc) Name() string { return p.ID }

// Parse implements Datatype.
func (p ParseFunc) Parse(value string) (any, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	v, err := p.Fn(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q: %v", ErrUnparsable, p.ID, value, err)
	}
	return v, nil
}

// Registry holds datatypes by name. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	types map[string]Datatype
}

// NewRegistry returns a registry preloaded with the built-in datatypes.
func NewRegistry() *Registry {
	r := &Registry{types: make(map[string]Datatype)}
	for _, dt := range builtins() {
		r.Register(dt)
	}
	return r
}

// Register adds or replaces a datatype.
func (r *Registry) Register(dt Datatype) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[dt.Name()] = dt
}

// Get returns the datatype registered under name.
func (r *Registry) Get(name string) (Datatype, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dt, ok := r.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDatatype, name)
	}
	return dt, nil
}

// Parse converts value using the datatype registered under name.
func (r *Registry) Parse(name, value string) (any, error) {
	dt, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return dt.Parse(value)
}

// Names lists the registered datatype names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func builtins() []Datatype {
	return []Datatype{
		ParseFunc{ID: "string", Fn: func(s string) (any, error) { return s, nil }},
		ParseFunc{ID: "int", Fn: func(s string) (any, error) {
			v, err := strconv.ParseInt(s, 10, 32)
			return int32(v), err
		}},
		ParseFunc{ID: "long", Fn: func(s string) (any, error) {
			return strconv.ParseInt(s, 10, 64)
		}},
		ParseFunc{ID: "double", Fn: func(s string) (any, error) {
			return strconv.ParseFloat(s, 64)
		}},
		ParseFunc{ID: "decimal", Fn: func(s string) (any, error) {
			v, ok := new(big.Rat).SetString(s)
			if !ok {
				return nil, errors.New("not a decimal number")
			}
			return v, nil
		}},
		ParseFunc{ID: "boolean", Fn: func(s string) (any, error) {
			return strconv.ParseBool(s)
		}},
		ParseFunc{ID: "date", Fn: func(s string) (any, error) {
			return time.Parse(DateLayout, s)
		}},
		ParseFunc{ID: "dateTime", Fn: func(s string) (any, error) {
			return time.Parse(DateTimeLayout, s)
		}},
		ParseFunc{ID: "time", Fn: func(s string) (any, error) {
			return time.Parse(TimeLayout, s)
		}},
		ParseFunc{ID: "uuid", Fn: func(s string) (any, error) {
			return uuid.Parse(s)
		}},
	}
}
