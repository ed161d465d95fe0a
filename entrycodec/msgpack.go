package entrycodec

import "github.com/vmihailenco/msgpack/v5"

// Msgpack is an alternate Codec using vmihailenco/msgpack/v5, selectable
// where its smaller encoded size outweighs CBOR's determinism guarantee
// (the hot cache never needs byte-stable output, only round-trip fidelity).
type Msgpack struct{}

var _ Codec = Msgpack{}

func (Msgpack) Encode(e Entry) ([]byte, error) {
	return msgpack.Marshal(e)
}

func (Msgpack) Decode(b []byte) (Entry, error) {
	var e Entry
	err := msgpack.Unmarshal(b, &e)
	return e, err
}
