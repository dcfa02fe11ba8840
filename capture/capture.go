// Package capture reads and writes capture files of streamed blocks.
//
// A capture file is a sequence of CBOR items: a Header map followed by
// one Record array per block.
package capture

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
	"periph.io/x/conn/v3/physic"
)

const magic = "audiobus-capture"

// Version is the format version written by Writer.
const Version = 1

var ErrFormat = errors.New("capture: invalid file")

// Header describes the stream a capture was taken from.
type Header struct {
	Magic      string           `cbor:"1,keyasint"`
	Version    uint             `cbor:"2,keyasint"`
	Dir        string           `cbor:"3,keyasint"`
	BlockSize  int              `cbor:"4,keyasint"`
	FrameClock physic.Frequency `cbor:"5,keyasint"`
	WordSize   int              `cbor:"6,keyasint"`
	Channels   int              `cbor:"7,keyasint"`
}

// Record is a captured block.
type Record struct {
	_    struct{} `cbor:",toarray"`
	Seq  uint32
	Time int64
	Data []byte
}

// Timestamp returns the capture time of the record.
func (r Record) Timestamp() time.Time {
	return time.Unix(0, r.Time)
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	dm, err := cbor.DecOptions{
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	encMode, decMode = em, dm
}

type Writer struct {
	enc *cbor.Encoder
	seq uint32
}

// NewWriter writes the header to w and returns a Writer appending
// records after it.
func NewWriter(w io.Writer, h Header) (*Writer, error) {
	h.Magic = magic
	h.Version = Version
	enc := encMode.NewEncoder(w)
	if err := enc.Encode(h); err != nil {
		return nil, fmt.Errorf("capture: header: %w", err)
	}
	return &Writer{enc: enc}, nil
}

// Write records a block captured at t.
func (w *Writer) Write(data []byte, t time.Time) error {
	r := Record{Seq: w.seq, Time: t.UnixNano(), Data: data}
	if err := w.enc.Encode(r); err != nil {
		return fmt.Errorf("capture: record %d: %w", w.seq, err)
	}
	w.seq++
	return nil
}

type Reader struct {
	Header Header

	dec *cbor.Decoder
}

// NewReader reads and checks the header of a capture file.
func NewReader(r io.Reader) (*Reader, error) {
	dec := decMode.NewDecoder(r)
	var h Header
	if err := dec.Decode(&h); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("%w: header: %w", ErrFormat, err)
	}
	if h.Magic != magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrFormat, h.Magic)
	}
	if h.Version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrFormat, h.Version)
	}
	return &Reader{Header: h, dec: dec}, nil
}

// Next returns the next record, or io.EOF after the last.
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if err == io.EOF {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("%w: record: %w", ErrFormat, err)
	}
	return rec, nil
}
