// Package heapdump writes and reads heap snapshots.
//
// A snapshot is a sequence of records. Integers are unsigned varints. The
// stream starts with a magic string and a header record and ends with an
// end record followed by a CRC-16/XMODEM checksum of everything before it,
// big endian.
//
//	header: snapshot id, time (unix nanoseconds), root count, roots...
//	object: tag 'O', address, size, zone, type, reference count, references...
//	end:    tag 'E', object count
package heapdump

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sigurn/crc16"
)

const magic = "OMHEAP01"

const (
	tagObject = 'O'
	tagEnd    = 'E'
)

var table = crc16.MakeTable(crc16.CRC16_XMODEM)

var (
	ErrFormat   = errors.New("heapdump: invalid format")
	ErrChecksum = errors.New("heapdump: checksum mismatch")
)

// Object is one heap object in a snapshot.
type Object struct {
	Address uint64
	Size    uint64
	Zone    uint8
	Type    uint8
	Refs    []uint64
}

// Snapshot is a decoded heap dump.
type Snapshot struct {
	ID      uint64
	Time    time.Time
	Roots   []uint64
	Objects []Object
}

// Object returns the object at addr.
func (s *Snapshot) Object(addr uint64) (Object, bool) {
	for _, obj := range s.Objects {
		if obj.Address == addr {
			return obj, true
		}
	}
	return Object{}, false
}

// Writer writes a snapshot record by record.
type Writer struct {
	w       *bufio.Writer
	crc     uint16
	buf     [binary.MaxVarintLen64]byte
	objects uint64
	err     error
}

// NewWriter writes the magic string and the header record.
func NewWriter(w io.Writer, id uint64, t time.Time, roots []uint64) *Writer {
	hw := &Writer{w: bufio.NewWriter(w), crc: crc16.Init(table)}
	hw.write([]byte(magic))
	hw.uvarint(id)
	hw.uvarint(uint64(t.UnixNano()))
	hw.uvarint(uint64(len(roots)))
	for _, r := range roots {
		hw.uvarint(r)
	}
	return hw
}

func (w *Writer) write(p []byte) {
	if w.err != nil {
		return
	}
	w.crc = crc16.Update(w.crc, p, table)
	_, w.err = w.w.Write(p)
}

func (w *Writer) uvarint(v uint64) {
	n := binary.PutUvarint(w.buf[:], v)
	w.write(w.buf[:n])
}

// WriteObject appends an object record.
func (w *Writer) WriteObject(obj *Object) error {
	w.write([]byte{tagObject})
	w.uvarint(obj.Address)
	w.uvarint(obj.Size)
	w.uvarint(uint64(obj.Zone))
	w.uvarint(uint64(obj.Type))
	w.uvarint(uint64(len(obj.Refs)))
	for _, r := range obj.Refs {
		w.uvarint(r)
	}
	w.objects++
	return w.err
}

// Close writes the end record and the checksum and flushes. It does not
// close the underlying writer.
func (w *Writer) Close() error {
	w.write([]byte{tagEnd})
	w.uvarint(w.objects)
	if w.err != nil {
		return w.err
	}
	var sum [2]byte
	binary.BigEndian.PutUint16(sum[:], crc16.Complete(w.crc, table))
	if _, err := w.w.Write(sum[:]); err != nil {
		return err
	}
	return w.w.Flush()
}

type reader struct {
	r   *bufio.Reader
	crc uint16
}

func (r *reader) ReadByte() (byte, error) {
	b, err := r.r.ReadByte()
	if err != nil {
		return 0, err
	}
	r.crc = crc16.Update(r.crc, []byte{b}, table)
	return b, nil
}

func (r *reader) uvarint() (uint64, error) {
	v, err := binary.ReadUvarint(r)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return v, err
}

// Read decodes a snapshot and verifies its checksum.
func Read(in io.Reader) (*Snapshot, error) {
	r := &reader{r: bufio.NewReader(in), crc: crc16.Init(table)}
	head := make([]byte, len(magic))
	for i := range head {
		b, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		head[i] = b
	}
	if string(head) != magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrFormat, head)
	}

	s := &Snapshot{}
	var err error
	fail := func(what string) (*Snapshot, error) {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrFormat, what, err)
	}
	if s.ID, err = r.uvarint(); err != nil {
		return fail("snapshot id")
	}
	nanos, err := r.uvarint()
	if err != nil {
		return fail("time")
	}
	s.Time = time.Unix(0, int64(nanos))
	n, err := r.uvarint()
	if err != nil {
		return fail("roots")
	}
	s.Roots = make([]uint64, n)
	for i := range s.Roots {
		if s.Roots[i], err = r.uvarint(); err != nil {
			return fail("roots")
		}
	}

	for {
		tag, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: missing end record", ErrFormat)
		}
		switch tag {
		case tagObject:
			obj, err := r.object()
			if err != nil {
				return nil, fmt.Errorf("%w: object %d: %v", ErrFormat, len(s.Objects), err)
			}
			s.Objects = append(s.Objects, obj)
		case tagEnd:
			count, err := r.uvarint()
			if err != nil {
				return nil, fmt.Errorf("%w: end record: %v", ErrFormat, err)
			}
			if count != uint64(len(s.Objects)) {
				return nil, fmt.Errorf("%w: %d objects, end record says %d", ErrFormat, len(s.Objects), count)
			}
			want := crc16.Complete(r.crc, table)
			var sum [2]byte
			if _, err := io.ReadFull(r.r, sum[:]); err != nil {
				return nil, fmt.Errorf("%w: missing checksum", ErrFormat)
			}
			if got := binary.BigEndian.Uint16(sum[:]); got != want {
				return nil, fmt.Errorf("%w: got %#04x, want %#04x", ErrChecksum, got, want)
			}
			return s, nil
		default:
			return nil, fmt.Errorf("%w: unknown record tag %q", ErrFormat, tag)
		}
	}
}

func (r *reader) object() (Object, error) {
	var obj Object
	var fields [5]uint64
	for i := range fields {
		v, err := r.uvarint()
		if err != nil {
			return obj, err
		}
		fields[i] = v
	}
	obj.Address, obj.Size = fields[0], fields[1]
	obj.Zone, obj.Type = uint8(fields[2]), uint8(fields[3])
	if fields[4] > 0 {
		obj.Refs = make([]uint64, fields[4])
	}
	for i := range obj.Refs {
		v, err := r.uvarint()
		if err != nil {
			return obj, err
		}
		obj.Refs[i] = v
	}
	return obj, nil
}
