package crdt

import (
	"encoding/binary"
	"errors"
	"math"
	"sort"

	"github.com/zeebo/blake3"
)

const (
	opsMagic    = 0x524c4f50 // "RLOP"
	docMagic    = 0x524c4443 // "RLDC"
	codecV1     = 1
	headerLen   = 4 + 4
	checksumLen = 32

	// Smallest possible encodings, used to bound claimed element counts.
	opMinLen       = 4 + 8 + 8 + 4 + 4 + 1 // author, seq, lamport, container, path count, kind
	listElemMinLen = 4 + 8 + 1             // elem id, value kind
	mapEntryMinLen = 4 + 1                 // key, value kind
)

// checkCount rejects a claimed element count the remaining bytes cannot hold,
// so a forged prefix never drives a large allocation or a long parse loop.
func checkCount(count, remaining, minElem int) error {
	if count < 0 || count > remaining/minElem {
		return errors.New("crdt: element count exceeds frame")
	}
	return nil
}

// EncodeOps serializes an op list with a header and checksum.
func EncodeOps(ops []Op) []byte {
	buf := make([]byte, 0, 256)
	buf = appendU32(buf, opsMagic)
	buf = appendU32(buf, codecV1)
	buf = appendU32(buf, uint32(len(ops)))
	for _, op := range ops {
		buf = appendOp(buf, op)
	}
	checksum := blake3.Sum256(buf[headerLen:])
	return append(buf, checksum[:]...)
}

// DecodeOps parses an op list, validating header and checksum.
func DecodeOps(data []byte) ([]Op, error) {
	body, err := checkFrame(data, opsMagic)
	if err != nil {
		return nil, err
	}
	if len(body) < 4 {
		return nil, errors.New("crdt: truncated ops")
	}
	count := int(binary.LittleEndian.Uint32(body))
	if err := checkCount(count, len(body)-4, opMinLen); err != nil {
		return nil, err
	}
	offset := 4
	ops := make([]Op, 0, count)
	for i := 0; i < count; i++ {
		op, n, err := readOp(body[offset:])
		if err != nil {
			return nil, err
		}
		offset += n
		ops = append(ops, op)
	}
	if offset != len(body) {
		return nil, errors.New("crdt: trailing op bytes")
	}
	return ops, nil
}

// EncodeDocument serializes a document as its canonical ordered op log. The
// encoding is deterministic, so identical states produce identical bytes and a
// stable content address.
func EncodeDocument(d *Document) []byte {
	ops := d.orderedOps()
	buf := make([]byte, 0, 256)
	buf = appendU32(buf, docMagic)
	buf = appendU32(buf, codecV1)
	buf = appendU32(buf, uint32(len(ops)))
	for _, op := range ops {
		buf = appendOp(buf, op)
	}
	checksum := blake3.Sum256(buf[headerLen:])
	return append(buf, checksum[:]...)
}

// DecodeDocument parses a document snapshot encoded by EncodeDocument.
func DecodeDocument(data []byte) (*Document, error) {
	body, err := checkFrame(data, docMagic)
	if err != nil {
		return nil, err
	}
	if len(body) < 4 {
		return nil, errors.New("crdt: truncated document")
	}
	count := int(binary.LittleEndian.Uint32(body))
	if err := checkCount(count, len(body)-4, opMinLen); err != nil {
		return nil, err
	}
	offset := 4
	doc := NewDocument()
	ops := make([]Op, 0, count)
	for i := 0; i < count; i++ {
		op, n, err := readOp(body[offset:])
		if err != nil {
			return nil, err
		}
		offset += n
		ops = append(ops, op)
	}
	if offset != len(body) {
		return nil, errors.New("crdt: trailing document bytes")
	}
	doc.ApplyOps(ops)
	return doc, nil
}

func checkFrame(data []byte, magic uint32) ([]byte, error) {
	if len(data) < headerLen+checksumLen {
		return nil, errors.New("crdt: truncated frame")
	}
	body := data[:len(data)-checksumLen]
	checksum := data[len(data)-checksumLen:]
	sum := blake3.Sum256(body[headerLen:])
	for i := range sum {
		if sum[i] != checksum[i] {
			return nil, errors.New("crdt: checksum mismatch")
		}
	}
	if binary.LittleEndian.Uint32(body[0:4]) != magic {
		return nil, errors.New("crdt: bad magic")
	}
	if binary.LittleEndian.Uint32(body[4:8]) != codecV1 {
		return nil, errors.New("crdt: unsupported version")
	}
	return body[headerLen:], nil
}

func appendOp(buf []byte, op Op) []byte {
	buf = appendString(buf, op.Author)
	buf = appendU64(buf, op.Seq)
	buf = appendU64(buf, op.Lamport)
	buf = appendString(buf, op.Container)
	buf = appendU32(buf, uint32(len(op.Path)))
	for _, seg := range op.Path {
		buf = appendString(buf, seg)
	}
	buf = append(buf, byte(op.Kind))
	switch op.Kind {
	case OpSet:
		buf = appendValue(buf, op.Value)
	case OpInsert:
		buf = appendElemID(buf, op.Elem)
		buf = appendElemID(buf, op.After)
		buf = appendValue(buf, op.Value)
	case OpRemove:
		buf = appendElemID(buf, op.Elem)
	}
	return buf
}

func readOp(data []byte) (Op, int, error) {
	var op Op
	offset := 0
	author, n, err := readString(data)
	if err != nil {
		return op, 0, err
	}
	offset += n
	if offset+16 > len(data) {
		return op, 0, errors.New("crdt: truncated op")
	}
	op.Author = author
	op.Seq = binary.LittleEndian.Uint64(data[offset:])
	offset += 8
	op.Lamport = binary.LittleEndian.Uint64(data[offset:])
	offset += 8
	op.Container, n, err = readString(data[offset:])
	if err != nil {
		return op, 0, err
	}
	offset += n
	if offset+4 > len(data) {
		return op, 0, errors.New("crdt: truncated op")
	}
	segCount := int(binary.LittleEndian.Uint32(data[offset:]))
	offset += 4
	for i := 0; i < segCount; i++ {
		seg, n, err := readString(data[offset:])
		if err != nil {
			return op, 0, err
		}
		offset += n
		op.Path = append(op.Path, seg)
	}
	if offset >= len(data) {
		return op, 0, errors.New("crdt: truncated op")
	}
	op.Kind = OpKind(data[offset])
	offset++
	switch op.Kind {
	case OpSet:
		v, n, err := readValue(data[offset:])
		if err != nil {
			return op, 0, err
		}
		offset += n
		op.Value = v
	case OpInsert:
		op.Elem, n, err = readElemID(data[offset:])
		if err != nil {
			return op, 0, err
		}
		offset += n
		op.After, n, err = readElemID(data[offset:])
		if err != nil {
			return op, 0, err
		}
		offset += n
		v, vn, err := readValue(data[offset:])
		if err != nil {
			return op, 0, err
		}
		offset += vn
		op.Value = v
	case OpRemove:
		op.Elem, n, err = readElemID(data[offset:])
		if err != nil {
			return op, 0, err
		}
		offset += n
	case OpDelete:
	default:
		return op, 0, errors.New("crdt: unknown op kind")
	}
	return op, offset, nil
}

func appendElemID(buf []byte, id ElemID) []byte {
	buf = appendString(buf, id.Author)
	return appendU64(buf, id.Seq)
}

func readElemID(data []byte) (ElemID, int, error) {
	author, n, err := readString(data)
	if err != nil {
		return ElemID{}, 0, err
	}
	if n+8 > len(data) {
		return ElemID{}, 0, errors.New("crdt: truncated elem id")
	}
	return ElemID{Author: author, Seq: binary.LittleEndian.Uint64(data[n:])}, n + 8, nil
}

func appendValue(buf []byte, v Value) []byte {
	buf = append(buf, byte(v.Kind))
	switch v.Kind {
	case KindBool:
		if v.Bool {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case KindF64:
		buf = appendU64(buf, math.Float64bits(v.F64))
	case KindI64:
		buf = appendU64(buf, uint64(v.I64))
	case KindString:
		buf = appendString(buf, v.Str)
	case KindBytes:
		buf = appendBytes(buf, v.Bytes)
	case KindList:
		buf = appendU32(buf, uint32(len(v.List)))
		for _, e := range v.List {
			buf = appendElemID(buf, e.ID)
			buf = appendValue(buf, e.Value)
		}
	case KindMap:
		keys := make([]string, 0, len(v.Map))
		for k := range v.Map {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf = appendU32(buf, uint32(len(keys)))
		for _, k := range keys {
			buf = appendString(buf, k)
			buf = appendValue(buf, v.Map[k])
		}
	}
	return buf
}

func readValue(data []byte) (Value, int, error) {
	if len(data) < 1 {
		return Value{}, 0, errors.New("crdt: truncated value")
	}
	kind := Kind(data[0])
	offset := 1
	switch kind {
	case KindNull:
		return Null(), offset, nil
	case KindBool:
		if offset >= len(data) {
			return Value{}, 0, errors.New("crdt: truncated value")
		}
		return BoolValue(data[offset] != 0), offset + 1, nil
	case KindF64:
		if offset+8 > len(data) {
			return Value{}, 0, errors.New("crdt: truncated value")
		}
		return F64Value(math.Float64frombits(binary.LittleEndian.Uint64(data[offset:]))), offset + 8, nil
	case KindI64:
		if offset+8 > len(data) {
			return Value{}, 0, errors.New("crdt: truncated value")
		}
		return I64Value(int64(binary.LittleEndian.Uint64(data[offset:]))), offset + 8, nil
	case KindString:
		s, n, err := readString(data[offset:])
		if err != nil {
			return Value{}, 0, err
		}
		return StringValue(s), offset + n, nil
	case KindBytes:
		b, n, err := readBytes(data[offset:])
		if err != nil {
			return Value{}, 0, err
		}
		return BytesValue(b), offset + n, nil
	case KindList:
		if offset+4 > len(data) {
			return Value{}, 0, errors.New("crdt: truncated value")
		}
		count := int(binary.LittleEndian.Uint32(data[offset:]))
		offset += 4
		if err := checkCount(count, len(data)-offset, listElemMinLen); err != nil {
			return Value{}, 0, err
		}
		elems := make([]Elem, 0, count)
		for i := 0; i < count; i++ {
			id, n, err := readElemID(data[offset:])
			if err != nil {
				return Value{}, 0, err
			}
			offset += n
			v, vn, err := readValue(data[offset:])
			if err != nil {
				return Value{}, 0, err
			}
			offset += vn
			elems = append(elems, Elem{ID: id, Value: v})
		}
		return ListValue(elems...), offset, nil
	case KindMap:
		if offset+4 > len(data) {
			return Value{}, 0, errors.New("crdt: truncated value")
		}
		count := int(binary.LittleEndian.Uint32(data[offset:]))
		offset += 4
		if err := checkCount(count, len(data)-offset, mapEntryMinLen); err != nil {
			return Value{}, 0, err
		}
		m := make(map[string]Value, count)
		for i := 0; i < count; i++ {
			k, n, err := readString(data[offset:])
			if err != nil {
				return Value{}, 0, err
			}
			offset += n
			v, vn, err := readValue(data[offset:])
			if err != nil {
				return Value{}, 0, err
			}
			offset += vn
			m[k] = v
		}
		return MapValue(m), offset, nil
	}
	return Value{}, 0, errors.New("crdt: unknown value kind")
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendString(buf []byte, v string) []byte {
	buf = appendU32(buf, uint32(len(v)))
	return append(buf, v...)
}

func appendBytes(buf []byte, v []byte) []byte {
	buf = appendU32(buf, uint32(len(v)))
	return append(buf, v...)
}

func readString(data []byte) (string, int, error) {
	b, n, err := readBytes(data)
	if err != nil {
		return "", 0, err
	}
	return string(b), n, nil
}

func readBytes(data []byte) ([]byte, int, error) {
	if len(data) < 4 {
		return nil, 0, errors.New("crdt: truncated length")
	}
	length := int(binary.LittleEndian.Uint32(data))
	if length < 0 || 4+length > len(data) {
		return nil, 0, errors.New("crdt: truncated payload")
	}
	return append([]byte(nil), data[4:4+length]...), 4 + length, nil
}
