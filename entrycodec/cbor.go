package entrycodec

import "github.com/fxamacker/cbor/v2"

// CBOR is the default entrycodec.Codec, using fxamacker/cbor with
// deterministic (RFC 8949 Core Deterministic) encoding so that repeated
// encodes of an identical Entry produce identical bytes.
type CBOR struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var _ Codec = CBOR{}

func NewCBOR() (CBOR, error) {
	eo := cbor.CoreDetEncOptions()
	em, err := eo.EncMode()
	if err != nil {
		return CBOR{}, err
	}
	dm, err := (cbor.DecOptions{}).DecMode()
	if err != nil {
		return CBOR{}, err
	}
	return CBOR{enc: em, dec: dm}, nil
}

func MustCBOR() CBOR {
	c, err := NewCBOR()
	if err != nil {
		panic(err)
	}
	return c
}

func (c CBOR) Encode(e Entry) ([]byte, error) {
	return c.enc.Marshal(e)
}

func (c CBOR) Decode(b []byte) (Entry, error) {
	var e Entry
	err := c.dec.Unmarshal(b, &e)
	return e, err
}
