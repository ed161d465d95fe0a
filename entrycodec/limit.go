package entrycodec

import "fmt"

// LimitCodec wraps another Codec to enforce a maximum decoded payload size,
// guarding the hot cache against oversized entries slipping in from a
// shared provider (e.g. a misbehaving redis backend).
type LimitCodec struct {
	Inner     Codec
	MaxDecode int // <= 0 disables the check
}

var _ Codec = LimitCodec{}

func (c LimitCodec) Encode(e Entry) ([]byte, error) { return c.Inner.Encode(e) }

func (c LimitCodec) Decode(b []byte) (Entry, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		return Entry{}, fmt.Errorf("entrycodec: payload too large: %d > %d", len(b), c.MaxDecode)
	}
	return c.Inner.Decode(b)
}
