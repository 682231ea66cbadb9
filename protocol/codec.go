package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec turns messages into frames and back. Binary codecs travel as
// binary websocket frames, the others as text frames.
type Codec interface {
	Name() string
	Binary() bool
	Encode(m Message) ([]byte, error)
	Decode(b []byte) (Message, error)
}

var (
	JSON    Codec = jsonCodec{}
	MsgPack Codec = msgpackCodec{}
)

// CodecByName resolves the ?encoding= query value. Empty means JSON.
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return JSON, nil
	case "msgpack":
		return MsgPack, nil
	}
	return nil, fmt.Errorf("protocol: unknown encoding %q", name)
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }
func (jsonCodec) Binary() bool { return false }

func (jsonCodec) Encode(m Message) ([]byte, error) {
	env := Wrap(m)
	if _, err := env.Unwrap(); err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func (jsonCodec) Decode(b []byte) (Message, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformed)
	}
	if err := ValidateJSON(b); err != nil {
		return nil, err
	}
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return env.Unwrap()
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return "msgpack" }
func (msgpackCodec) Binary() bool { return true }

func (msgpackCodec) Encode(m Message) ([]byte, error) {
	env := Wrap(m)
	if _, err := env.Unwrap(); err != nil {
		return nil, err
	}
	return msgpack.Marshal(&env)
}

func (msgpackCodec) Decode(b []byte) (Message, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformed)
	}
	var env Envelope
	if err := msgpack.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return env.Unwrap()
}
