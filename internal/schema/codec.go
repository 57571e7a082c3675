package schema

import (
	"encoding/binary"
	"errors"
	"sort"

	"github.com/zeebo/blake3"
)

const (
	schemaMagic = 0x524c5343 // "RLSC"
	codecV1     = 1
	headerLen   = 4 + 4
	checksumLen = 32
)

// Encode serializes a schema deterministically (map keys sorted), so identical
// schemas share a content address.
func Encode(s *Schema) []byte {
	buf := make([]byte, 0, 128)
	buf = appendU32(buf, schemaMagic)
	buf = appendU32(buf, codecV1)
	buf = appendString(buf, s.Container)
	buf = appendField(buf, s.Root)
	checksum := blake3.Sum256(buf[headerLen:])
	return append(buf, checksum[:]...)
}

// Decode parses a schema, validating header and checksum.
func Decode(data []byte) (*Schema, error) {
	if len(data) < headerLen+checksumLen {
		return nil, errors.New("schema: truncated")
	}
	body := data[:len(data)-checksumLen]
	checksum := data[len(data)-checksumLen:]
	sum := blake3.Sum256(body[headerLen:])
	for i := range sum {
		if sum[i] != checksum[i] {
			return nil, errors.New("schema: checksum mismatch")
		}
	}
	if binary.LittleEndian.Uint32(body[0:4]) != schemaMagic {
		return nil, errors.New("schema: bad magic")
	}
	if binary.LittleEndian.Uint32(body[4:8]) != codecV1 {
		return nil, errors.New("schema: unsupported version")
	}
	offset := headerLen
	container, n, err := readString(body[offset:])
	if err != nil {
		return nil, err
	}
	offset += n
	root, n, err := readField(body[offset:])
	if err != nil {
		return nil, err
	}
	offset += n
	if offset != len(body) {
		return nil, errors.New("schema: trailing bytes")
	}
	return &Schema{Container: container, Root: root}, nil
}

func appendField(buf []byte, f *Field) []byte {
	buf = append(buf, byte(f.Kind))
	switch f.Kind {
	case List:
		buf = appendField(buf, f.Elem)
	case Map:
		keys := make([]string, 0, len(f.Fields))
		for k := range f.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf = appendU32(buf, uint32(len(keys)))
		for _, k := range keys {
			buf = appendString(buf, k)
			buf = appendField(buf, f.Fields[k])
		}
	case Restricted:
		buf = appendU32(buf, uint32(len(f.Actions)))
		for _, a := range f.Actions {
			if a.Who.Anyone {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
			buf = appendString(buf, a.Who.Path)
			buf = append(buf, byte(a.Ops))
		}
		buf = appendField(buf, f.Value)
	}
	return buf
}

func readField(data []byte) (*Field, int, error) {
	if len(data) < 1 {
		return nil, 0, errors.New("schema: truncated field")
	}
	kind := FieldKind(data[0])
	offset := 1
	f := &Field{Kind: kind}
	switch kind {
	case Any, Bool, F64, I64, String, Binary:
	case List:
		elem, n, err := readField(data[offset:])
		if err != nil {
			return nil, 0, err
		}
		offset += n
		f.Elem = elem
	case Map:
		if offset+4 > len(data) {
			return nil, 0, errors.New("schema: truncated map")
		}
		count := int(binary.LittleEndian.Uint32(data[offset:]))
		offset += 4
		f.Fields = make(map[string]*Field, count)
		for i := 0; i < count; i++ {
			k, n, err := readString(data[offset:])
			if err != nil {
				return nil, 0, err
			}
			offset += n
			child, cn, err := readField(data[offset:])
			if err != nil {
				return nil, 0, err
			}
			offset += cn
			f.Fields[k] = child
		}
	case Restricted:
		if offset+4 > len(data) {
			return nil, 0, errors.New("schema: truncated actions")
		}
		count := int(binary.LittleEndian.Uint32(data[offset:]))
		offset += 4
		f.Actions = make([]Action, 0, count)
		for i := 0; i < count; i++ {
			if offset >= len(data) {
				return nil, 0, errors.New("schema: truncated action")
			}
			anyone := data[offset] != 0
			offset++
			path, n, err := readString(data[offset:])
			if err != nil {
				return nil, 0, err
			}
			offset += n
			if offset >= len(data) {
				return nil, 0, errors.New("schema: truncated action ops")
			}
			ops := OpSet(data[offset])
			offset++
			f.Actions = append(f.Actions, Action{Who: Who{Anyone: anyone, Path: path}, Ops: ops})
		}
		inner, n, err := readField(data[offset:])
		if err != nil {
			return nil, 0, err
		}
		offset += n
		f.Value = inner
	default:
		return nil, 0, errors.New("schema: unknown field kind")
	}
	return f, offset, nil
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendString(buf []byte, v string) []byte {
	buf = appendU32(buf, uint32(len(v)))
	return append(buf, v...)
}

func readString(data []byte) (string, int, error) {
	if len(data) < 4 {
		return "", 0, errors.New("schema: truncated length")
	}
	length := int(binary.LittleEndian.Uint32(data))
	if length < 0 || 4+length > len(data) {
		return "", 0, errors.New("schema: truncated string")
	}
	return string(data[4 : 4+length]), 4 + length, nil
}
