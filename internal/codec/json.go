package codec

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type jsonCodec struct{}

func (jsonCodec) Name() string { return string(KindJSON) }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "json marshal")
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return errors.Wrap(json.Unmarshal(data, v), "json unmarshal")
}
