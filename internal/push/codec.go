package push

import (
	"github.com/klauspost/compress/zstd"
	jsoniter "github.com/json-iterator/go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dgnsrekt/refreshd/internal/errors"
	"github.com/dgnsrekt/refreshd/internal/refresh"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrMalformedFrame marks a frame that could not be decoded into an update.
var ErrMalformedFrame = errors.New("malformed push frame")

// message is the wire shape of one push update. Binary frames carry the same
// fields as a google.protobuf.Struct.
type message struct {
	DataType   string `json:"dataType"`
	UserID     string `json:"userId,omitempty"`
	Version    string `json:"version,omitempty"`
	ChangeType string `json:"changeType,omitempty"`
	Data       any    `json:"data"`
}

func (m message) update() (refresh.PushUpdate, error) {
	if m.DataType == "" {
		return refresh.PushUpdate{}, errors.Wrap(ErrMalformedFrame, "dataType missing")
	}
	return refresh.PushUpdate{
		DataType:   m.DataType,
		UserID:     m.UserID,
		Version:    m.Version,
		ChangeType: refresh.ChangeType(m.ChangeType),
		Data:       m.Data,
	}, nil
}

// Codec converts push updates to and from wire frames. Binary frames are
// zstd-compressed protobuf Structs.
type Codec struct {
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
}

// NewCodec creates a Codec with zstd compression.
func NewCodec() (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, errors.Wrap(err, "create zstd encoder")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, errors.Wrap(err, "create zstd decoder")
	}
	return &Codec{zstdEncoder: enc, zstdDecoder: dec}, nil
}

// DecodeText parses a JSON text frame.
func (c *Codec) DecodeText(frame []byte) (refresh.PushUpdate, error) {
	var m message
	if err := json.Unmarshal(frame, &m); err != nil {
		return refresh.PushUpdate{}, errors.Mark(errors.Wrap(err, "unmarshal push json"), ErrMalformedFrame)
	}
	return m.update()
}

// DecodeBinary decompresses and parses a binary frame.
func (c *Codec) DecodeBinary(frame []byte) (refresh.PushUpdate, error) {
	raw, err := c.zstdDecoder.DecodeAll(frame, nil)
	if err != nil {
		return refresh.PushUpdate{}, errors.Mark(errors.Wrap(err, "zstd decompress"), ErrMalformedFrame)
	}

	var st structpb.Struct
	if err := proto.Unmarshal(raw, &st); err != nil {
		return refresh.PushUpdate{}, errors.Mark(errors.Wrap(err, "unmarshal push protobuf"), ErrMalformedFrame)
	}

	fields := st.AsMap()
	m := message{Data: fields["data"]}
	m.DataType, _ = fields["dataType"].(string)
	m.UserID, _ = fields["userId"].(string)
	m.Version, _ = fields["version"].(string)
	m.ChangeType, _ = fields["changeType"].(string)
	return m.update()
}

// EncodeText renders u as a JSON text frame.
func (c *Codec) EncodeText(u refresh.PushUpdate) ([]byte, error) {
	out, err := json.Marshal(fromUpdate(u))
	if err != nil {
		return nil, errors.Wrap(err, "marshal push json")
	}
	return out, nil
}

// EncodeBinary renders u as a zstd-compressed protobuf Struct. Data must be
// representable as a structpb value (JSON-like maps, slices and scalars).
func (c *Codec) EncodeBinary(u refresh.PushUpdate) ([]byte, error) {
	m := fromUpdate(u)
	st, err := structpb.NewStruct(map[string]any{
		"dataType":   m.DataType,
		"userId":     m.UserID,
		"version":    m.Version,
		"changeType": m.ChangeType,
		"data":       m.Data,
	})
	if err != nil {
		return nil, errors.Wrap(err, "build push struct")
	}

	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, errors.Wrap(err, "marshal push protobuf")
	}
	return c.zstdEncoder.EncodeAll(pbData, nil), nil
}

// Close releases encoder resources.
func (c *Codec) Close() {
	if c.zstdEncoder != nil {
		c.zstdEncoder.Close()
	}
	if c.zstdDecoder != nil {
		c.zstdDecoder.Close()
	}
}

func fromUpdate(u refresh.PushUpdate) message {
	return message{
		DataType:   u.DataType,
		UserID:     u.UserID,
		Version:    u.Version,
		ChangeType: string(u.ChangeType),
		Data:       u.Data,
	}
}
