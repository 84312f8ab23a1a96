// Package codec converts cache values to and from bytes.
package codec

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Codec serializes values for storage. Implementations must be safe for
// concurrent use.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Kind names a codec variant.
type Kind string

const (
	KindJSON    Kind = "json"
	KindMsgpack Kind = "msgpack"
	KindGob     Kind = "gob"
)

// ErrUnknownKind is returned by New for an unregistered codec kind.
var ErrUnknownKind = errors.New("unknown codec kind")

var (
	registryMu sync.RWMutex
	registry   = map[Kind]func() Codec{
		KindJSON:    func() Codec { return jsonCodec{} },
		KindMsgpack: func() Codec { return msgpackCodec{} },
		KindGob:     func() Codec { return gobCodec{} },
	}
)

// Register adds or replaces the codec constructor for kind.
func Register(kind Kind, ctor func() Codec) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = ctor
}

// New returns the codec registered under kind, wrapped with hooks when any
// hook is set.
func New(kind Kind, hooks Hooks) (Codec, error) {
	registryMu.RLock()
	ctor, ok := registry[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	c := ctor()
	if hooks.Encode == nil && hooks.Decode == nil {
		return c, nil
	}
	return &hooked{base: c, hooks: hooks}, nil
}

// MustNew is New for package-level setup; it panics on an unknown kind.
func MustNew(kind Kind, hooks Hooks) Codec {
	c, err := New(kind, hooks)
	if err != nil {
		panic(err)
	}
	return c
}

// Kinds lists the registered codec kinds in name order.
func Kinds() []Kind {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := make([]Kind, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
