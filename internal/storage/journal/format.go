package journal

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"math"
)

// File format constants.
const (
	MagicBytes     = "DAYBREAK"
	MagicBytesSize = 8
	FormatVersion  = 1
	HeaderSize     = MagicBytesSize + 2

	// recordOverhead is key length (4) + value length (4) + crc (4).
	recordOverhead = 12

	// tombstoneLen is the value length reserved for deletes.
	tombstoneLen = math.MaxUint32

	// MaxFieldLen is the largest key or value that fits in a record.
	MaxFieldLen = math.MaxUint32 - 1
)

// Record is one log entry: an upsert or, when Tombstone is set, a delete.
type Record struct {
	Key       string
	Value     []byte
	Tombstone bool
}

// Put returns an upsert record.
func Put(key string, value []byte) Record {
	return Record{Key: key, Value: value}
}

// Delete returns a tombstone record.
func Delete(key string) Record {
	return Record{Key: key, Tombstone: true}
}

// Format frames records and the file header.
//
// Decode must accept a partial buffer: when buf does not hold a whole record
// it returns io.ErrUnexpectedEOF and consumes nothing.
type Format interface {
	Header() []byte
	ReadHeader(r io.Reader) error
	Encode(rec Record) ([]byte, error)
	Decode(buf []byte) (Record, int, error)
}

// BinaryFormat is the default journal format.
type BinaryFormat struct {
	Magic   string
	Version uint16
}

// DefaultFormat returns the format written by this package.
func DefaultFormat() BinaryFormat {
	return BinaryFormat{Magic: MagicBytes, Version: FormatVersion}
}

// Header returns the file header bytes.
func (f BinaryFormat) Header() []byte {
	out := make([]byte, 0, len(f.Magic)+2)
	out = append(out, f.Magic...)
	return binary.BigEndian.AppendUint16(out, f.Version)
}

// ReadHeader consumes and validates the file header.
func (f BinaryFormat) ReadHeader(r io.Reader) error {
	magic := make([]byte, len(f.Magic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return ErrFormat.Wrap(err)
	}
	if string(magic) != f.Magic {
		return ErrFormat.WithDetails("magic %q", magic)
	}

	var ver [2]byte
	if _, err := io.ReadFull(r, ver[:]); err != nil {
		return ErrFormat.Wrap(err)
	}
	if got := binary.BigEndian.Uint16(ver[:]); got != f.Version {
		return ErrVersion.WithDetails("expected %d, got %d", f.Version, got)
	}
	return nil
}

// Encode frames one record.
func (f BinaryFormat) Encode(rec Record) ([]byte, error) {
	return appendRecord(nil, rec)
}

// Decode parses the first record in buf and returns the bytes consumed.
func (f BinaryFormat) Decode(buf []byte) (Record, int, error) {
	if len(buf) < 8 {
		return Record{}, 0, io.ErrUnexpectedEOF
	}

	keyLen := uint64(binary.BigEndian.Uint32(buf[0:4]))
	valueLen := binary.BigEndian.Uint32(buf[4:8])
	tombstone := valueLen == tombstoneLen

	dataLen := keyLen
	if !tombstone {
		dataLen += uint64(valueLen)
	}
	total := 8 + dataLen + 4
	if uint64(len(buf)) < total {
		return Record{}, 0, io.ErrUnexpectedEOF
	}

	body := buf[:total-4]
	want := binary.BigEndian.Uint32(buf[total-4 : total])
	if got := crc32.ChecksumIEEE(body); got != want {
		return Record{}, 0, ErrCorrupted.WithDetails("crc 0x%08x, want 0x%08x", got, want)
	}

	rec := Record{
		Key:       string(body[8 : 8+keyLen]),
		Tombstone: tombstone,
	}
	if !tombstone {
		rec.Value = make([]byte, valueLen)
		copy(rec.Value, body[8+keyLen:])
	}
	return rec, int(total), nil
}

// appendRecord appends the framed record to dst.
func appendRecord(dst []byte, rec Record) ([]byte, error) {
	if rec.Key == "" {
		return dst, ErrEncoding.WithDetails("empty key")
	}
	if uint64(len(rec.Key)) > MaxFieldLen {
		return dst, ErrEncoding.WithDetails("key length %d exceeds %d", len(rec.Key), uint64(MaxFieldLen))
	}

	valueLen := uint32(tombstoneLen)
	if !rec.Tombstone {
		if uint64(len(rec.Value)) > MaxFieldLen {
			return dst, ErrEncoding.WithDetails("value length %d exceeds %d", len(rec.Value), uint64(MaxFieldLen))
		}
		valueLen = uint32(len(rec.Value))
	}

	start := len(dst)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(rec.Key)))
	dst = binary.BigEndian.AppendUint32(dst, valueLen)
	dst = append(dst, rec.Key...)
	if !rec.Tombstone {
		dst = append(dst, rec.Value...)
	}
	return binary.BigEndian.AppendUint32(dst, crc32.ChecksumIEEE(dst[start:])), nil
}

// encodeAll frames recs with f into a single buffer.
func encodeAll(f Format, recs []Record) ([]byte, error) {
	if _, ok := f.(BinaryFormat); ok {
		var out []byte
		var err error
		for _, rec := range recs {
			if out, err = appendRecord(out, rec); err != nil {
				return nil, err
			}
		}
		return out, nil
	}

	var out []byte
	for _, rec := range recs {
		b, err := f.Encode(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}
