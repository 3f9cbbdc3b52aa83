package rpcserver

import (
	"bytes"
	"encoding/gob"

	"github.com/nomoreweirdmachines/bulletinboard-dht/message"
)

func init() {
	gob.Register(message.Ping{})
	gob.Register(message.Pong{})
	gob.Register(message.FindNode{})
	gob.Register(message.FoundNode{})
	gob.Register(message.FindValue{})
	gob.Register(message.FoundValue{})
	gob.Register(message.Store{})
}

// GobCodec encodes messages with encoding/gob, wrapping each payload in an
// envelope so the concrete message type survives the wire round trip
// through the Message interface.
type GobCodec struct{}

type envelope struct {
	Msg message.Message
}

func (GobCodec) Encode(m message.Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(envelope{Msg: m}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (GobCodec) Decode(b []byte) (message.Message, error) {
	var env envelope
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&env); err != nil {
		return nil, err
	}
	return env.Msg, nil
}
