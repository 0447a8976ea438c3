package net

import (
	"bytes"

	"github.com/ugorji/go/codec"
)

const (
	msgWant uint8 = iota
	msgHave
	msgDontHave
	msgBlock
	msgCancel
)

// Message is a tagged union of the exchange protocol messages. Exactly one
// field is set, selected by the type byte on the wire.
type Message struct {
	Want     *WantMessage
	Have     *HaveMessage
	DontHave *DontHaveMessage
	Block    *BlockMessage
	Cancel   *CancelMessage
}

// WantMessage asks a peer for a block. When SendBlock is set the peer replies
// with the block itself; otherwise it replies Have or DontHave.
type WantMessage struct {
	Address   string
	Priority  int
	SendBlock bool
}

// HaveMessage tells a peer that we hold the block.
type HaveMessage struct {
	Address string
}

// DontHaveMessage tells a peer that we do not hold the block. The sender
// records the want and serves it later if the block arrives.
type DontHaveMessage struct {
	Address string
}

// BlockMessage carries a block payload. Receivers verify the payload against
// the address before accepting it.
type BlockMessage struct {
	Address string
	Payload []byte
}

// CancelMessage withdraws a previous want.
type CancelMessage struct {
	Address string
}

func (m *Message) typeByte() (uint8, interface{}, bool) {
	switch {
	case m.Want != nil:
		return msgWant, m.Want, true
	case m.Have != nil:
		return msgHave, m.Have, true
	case m.DontHave != nil:
		return msgDontHave, m.DontHave, true
	case m.Block != nil:
		return msgBlock, m.Block, true
	case m.Cancel != nil:
		return msgCancel, m.Cancel, true
	}
	return 0, nil, false
}

// Marshal frames the message as a type byte followed by the canonical JSON
// encoding of the body.
func (m *Message) Marshal() ([]byte, error) {
	t, body, ok := m.typeByte()
	if !ok {
		return nil, ErrUnknownMessage
	}

	b := new(bytes.Buffer)
	b.WriteByte(t)

	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(body); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal decodes a framed message.
func (m *Message) Unmarshal(data []byte) error {
	if len(data) < 1 {
		return ErrUnknownMessage
	}

	b := bytes.NewBuffer(data[1:])
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	switch data[0] {
	case msgWant:
		body := new(WantMessage)
		if err := dec.Decode(body); err != nil {
			return err
		}
		m.Want = body
	case msgHave:
		body := new(HaveMessage)
		if err := dec.Decode(body); err != nil {
			return err
		}
		m.Have = body
	case msgDontHave:
		body := new(DontHaveMessage)
		if err := dec.Decode(body); err != nil {
			return err
		}
		m.DontHave = body
	case msgBlock:
		body := new(BlockMessage)
		if err := dec.Decode(body); err != nil {
			return err
		}
		m.Block = body
	case msgCancel:
		body := new(CancelMessage)
		if err := dec.Decode(body); err != nil {
			return err
		}
		m.Cancel = body
	default:
		return ErrUnknownMessage
	}

	return nil
}
