package codec

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"reflect"

	"github.com/pkg/errors"
)

func init() {
	gob.Register(map[string]any{})
	gob.Register([]any{})
	gob.Register(map[string]string{})
}

// gobCodec stores Go values with their concrete type, so a value read back
// into an interface keeps its original type. Custom types must be passed to
// gob.Register before use.
type gobCodec struct{}

func (gobCodec) Name() string { return string(KindGob) }

func (gobCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&v); err != nil {
		return nil, errors.Wrap(err, "gob marshal")
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v any) error {
	var decoded any
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&decoded); err != nil {
		return errors.Wrap(err, "gob unmarshal")
	}
	return assign(v, decoded)
}

// assign stores src into the value dst points to.
func assign(dst, src any) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("gob unmarshal: target must be a non-nil pointer, got %T", dst)
	}
	elem := rv.Elem()
	if src == nil {
		elem.Set(reflect.Zero(elem.Type()))
		return nil
	}
	sv := reflect.ValueOf(src)
	switch {
	case sv.Type().AssignableTo(elem.Type()):
		elem.Set(sv)
	case sv.Type().ConvertibleTo(elem.Type()) && sv.Kind() == elem.Kind():
		elem.Set(sv.Convert(elem.Type()))
	default:
		return fmt.Errorf("gob unmarshal: cannot assign %T to %s", src, elem.Type())
	}
	return nil
}
