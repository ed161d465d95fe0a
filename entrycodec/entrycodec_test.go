package entrycodec

import "testing"

func TestCBORRoundTrip(t *testing.T) {
	c := MustCBOR()
	e := Entry{Headers: map[string]string{"etag": `"abc"`}, Content: []byte("hello")}
	b, err := c.Encode(e)
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Content) != "hello" || got.Headers["etag"] != `"abc"` {
		t.Fatalf("got %+v", got)
	}
}

func TestMsgpackRoundTrip(t *testing.T) {
	var c Msgpack
	e := Entry{Headers: map[string]string{"content-type": "text/plain"}, Content: []byte("world")}
	b, err := c.Encode(e)
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Content) != "world" {
		t.Fatalf("got %+v", got)
	}
}

func TestLimitCodecRejectsOversized(t *testing.T) {
	lc := LimitCodec{Inner: MustCBOR(), MaxDecode: 4}
	big, err := MustCBOR().Encode(Entry{Content: []byte("this is definitely more than 4 bytes")})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := lc.Decode(big); err == nil {
		t.Fatalf("expected oversized payload to be rejected")
	}
}
