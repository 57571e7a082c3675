package crdt

import (
	"encoding/binary"
	"errors"
	"sort"
)

// VersionVector maps author identities to the highest per-author op sequence a
// document state has incorporated.
type VersionVector map[string]uint64

func (v VersionVector) Get(author string) uint64 { return v[author] }

// Includes reports whether the vector covers the given op coordinate.
func (v VersionVector) Includes(author string, seq uint64) bool {
	return seq != 0 && v[author] >= seq
}

// IncludesAll reports whether v covers every coordinate covered by o.
func (v VersionVector) IncludesAll(o VersionVector) bool {
	for author, seq := range o {
		if v[author] < seq {
			return false
		}
	}
	return true
}

func (v VersionVector) Equal(o VersionVector) bool {
	return v.IncludesAll(o) && o.IncludesAll(v)
}

// IsEmpty reports whether the vector covers no ops.
func (v VersionVector) IsEmpty() bool {
	for _, seq := range v {
		if seq > 0 {
			return false
		}
	}
	return true
}

// Merge folds o into v, keeping per-author maxima.
func (v VersionVector) Merge(o VersionVector) {
	for author, seq := range o {
		if v[author] < seq {
			v[author] = seq
		}
	}
}

func (v VersionVector) Clone() VersionVector {
	out := make(VersionVector, len(v))
	for author, seq := range v {
		out[author] = seq
	}
	return out
}

// EncodeVersion serializes a vector deterministically (sorted by author).
func EncodeVersion(v VersionVector) []byte {
	authors := make([]string, 0, len(v))
	for author, seq := range v {
		if seq == 0 {
			continue
		}
		authors = append(authors, author)
	}
	sort.Strings(authors)
	buf := make([]byte, 0, 16+len(authors)*24)
	buf = appendU32(buf, uint32(len(authors)))
	for _, author := range authors {
		buf = appendString(buf, author)
		buf = appendU64(buf, v[author])
	}
	return buf
}

// DecodeVersion parses a vector encoded by EncodeVersion.
func DecodeVersion(data []byte) (VersionVector, error) {
	if len(data) < 4 {
		return nil, errors.New("crdt: truncated version vector")
	}
	count := int(binary.LittleEndian.Uint32(data))
	if err := checkCount(count, len(data)-4, 4+8); err != nil {
		return nil, err
	}
	offset := 4
	out := make(VersionVector, count)
	for i := 0; i < count; i++ {
		author, n, err := readString(data[offset:])
		if err != nil {
			return nil, err
		}
		offset += n
		if offset+8 > len(data) {
			return nil, errors.New("crdt: truncated version vector")
		}
		out[author] = binary.LittleEndian.Uint64(data[offset:])
		offset += 8
	}
	if offset != len(data) {
		return nil, errors.New("crdt: trailing version vector bytes")
	}
	return out, nil
}
