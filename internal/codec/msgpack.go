package codec

import (
	"bytes"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return string(KindMsgpack) }

func (msgpackCodec) Marshal(v any) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "msgpack marshal")
	}
	return data, nil
}

// Unmarshal decodes untyped numbers as int64/uint64/float64 so values read
// into interfaces look the same as those produced by the json codec.
func (msgpackCodec) Unmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	return errors.Wrap(dec.Decode(v), "msgpack unmarshal")
}
