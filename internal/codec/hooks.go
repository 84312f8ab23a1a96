package codec

// Hooks customise what a codec sees.
//
// Encode is offered every value before marshaling, containers and their
// elements alike. Returning (replacement, true) marshals the replacement
// instead.
//
// Decode is offered every decoded string-keyed map, innermost first, when
// unmarshaling into *any. Its result takes the map's place.
type Hooks struct {
	Encode func(v any) (any, bool)
	Decode func(m map[string]any) any
}

type hooked struct {
	base  Codec
	hooks Hooks
}

func (h *hooked) Name() string { return h.base.Name() }

func (h *hooked) Marshal(v any) ([]byte, error) {
	if h.hooks.Encode != nil {
		v = h.encode(v)
	}
	return h.base.Marshal(v)
}

func (h *hooked) Unmarshal(data []byte, v any) error {
	target, ok := v.(*any)
	if !ok || h.hooks.Decode == nil {
		return h.base.Unmarshal(data, v)
	}

	var decoded any
	if err := h.base.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*target = h.decode(decoded)
	return nil
}

func (h *hooked) encode(v any) any {
	if r, ok := h.hooks.Encode(v); ok {
		v = r
	}
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = h.encode(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = h.encode(e)
		}
		return out
	default:
		return v
	}
}

func (h *hooked) decode(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = h.decode(e)
		}
		return h.hooks.Decode(t)
	case []any:
		for i, e := range t {
			t[i] = h.decode(e)
		}
		return t
	default:
		return v
	}
}
