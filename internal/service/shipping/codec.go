package shipping

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec кодирует сообщения gRPC в JSON: контракт службы доставки описан JSON-структурами.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

// Codec возвращает кодек, которым пользуются клиент и тестовый сервер.
func Codec() encoding.Codec { return jsonCodec{} }
