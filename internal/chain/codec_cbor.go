package chain

import (
	"bufio"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// cborEncMode uses Core Deterministic Encoding (RFC 8949 §4.2) so the
// same chain always produces identical artifact bytes.
var cborEncMode cbor.EncMode

var cborDecMode cbor.DecMode

func init() {
	var err error
	cborEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("chain: CBOR encoder initialization failed: " + err.Error())
	}
	cborDecMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("chain: CBOR decoder initialization failed: " + err.Error())
	}
}

type cborEncoder struct {
	bw  *bufio.Writer
	enc *cbor.Encoder
}

func newCBOREncoder(w io.Writer) *cborEncoder {
	bw := bufio.NewWriter(w)
	return &cborEncoder{bw: bw, enc: cborEncMode.NewEncoder(bw)}
}

func (e *cborEncoder) writeHeader(h Header) error { return e.enc.Encode(h) }
func (e *cborEncoder) writeRecord(r Record) error { return e.enc.Encode(toWire(r)) }
func (e *cborEncoder) flush() error               { return e.bw.Flush() }

type cborDecoder struct {
	dec *cbor.Decoder
}

func newCBORDecoder(r io.Reader) *cborDecoder {
	return &cborDecoder{dec: cborDecMode.NewDecoder(r)}
}

func (d *cborDecoder) decodeHeader(h *Header) error {
	return d.dec.Decode(h)
}

func (d *cborDecoder) next() (wireRecord, error) {
	var w wireRecord
	err := d.dec.Decode(&w)
	return w, err
}
