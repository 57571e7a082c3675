// Package envelope implements the signed wire format for record changes: a
// payload naming the author and the source/target version vectors plus raw
// CRDT operation bytes, wrapped with a detached signature over the exact
// serialized payload.
package envelope

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"

	"github.com/zeebo/blake3"

	"github.com/kk-code-lab/recordlake/internal/crdt"
)

const (
	payloadMagic = 0x524c4550 // "RLEP"
	signedMagic  = 0x524c4556 // "RLEV"
	codecV1      = 1
	headerLen    = 4 + 4
	checksumLen  = 32
)

// Payload is the signed unit of change.
type Payload struct {
	Author string
	From   crdt.VersionVector
	To     crdt.VersionVector
	Ops    []byte
}

// Signed wraps the exact payload bytes with a detached signature. The payload
// stays opaque bytes end to end: verification covers what was signed, never a
// re-serialization.
type Signed struct {
	Payload   []byte
	Signature []byte
}

// EncodePayload serializes a payload with header and checksum.
func EncodePayload(p *Payload) []byte {
	buf := make([]byte, 0, 128+len(p.Ops))
	buf = appendU32(buf, payloadMagic)
	buf = appendU32(buf, codecV1)
	buf = appendBytes(buf, []byte(p.Author))
	buf = appendBytes(buf, crdt.EncodeVersion(p.From))
	buf = appendBytes(buf, crdt.EncodeVersion(p.To))
	buf = appendBytes(buf, p.Ops)
	checksum := blake3.Sum256(buf[headerLen:])
	return append(buf, checksum[:]...)
}

// DecodePayload parses payload bytes, validating header and checksum.
func DecodePayload(data []byte) (*Payload, error) {
	body, err := checkFrame(data, payloadMagic)
	if err != nil {
		return nil, err
	}
	offset := 0
	author, n, err := readBytes(body)
	if err != nil {
		return nil, err
	}
	offset += n
	fromRaw, n, err := readBytes(body[offset:])
	if err != nil {
		return nil, err
	}
	offset += n
	toRaw, n, err := readBytes(body[offset:])
	if err != nil {
		return nil, err
	}
	offset += n
	ops, n, err := readBytes(body[offset:])
	if err != nil {
		return nil, err
	}
	offset += n
	if offset != len(body) {
		return nil, errors.New("envelope: trailing payload bytes")
	}
	from, err := crdt.DecodeVersion(fromRaw)
	if err != nil {
		return nil, err
	}
	to, err := crdt.DecodeVersion(toRaw)
	if err != nil {
		return nil, err
	}
	return &Payload{Author: string(author), From: from, To: to, Ops: ops}, nil
}

// Encode serializes a signed envelope.
func Encode(s *Signed) []byte {
	buf := make([]byte, 0, 128+len(s.Payload))
	buf = appendU32(buf, signedMagic)
	buf = appendU32(buf, codecV1)
	buf = appendBytes(buf, s.Payload)
	buf = appendBytes(buf, s.Signature)
	checksum := blake3.Sum256(buf[headerLen:])
	return append(buf, checksum[:]...)
}

// Decode parses a signed envelope.
func Decode(data []byte) (*Signed, error) {
	body, err := checkFrame(data, signedMagic)
	if err != nil {
		return nil, err
	}
	payload, n, err := readBytes(body)
	if err != nil {
		return nil, err
	}
	sig, sn, err := readBytes(body[n:])
	if err != nil {
		return nil, err
	}
	if n+sn != len(body) {
		return nil, errors.New("envelope: trailing bytes")
	}
	return &Signed{Payload: payload, Signature: sig}, nil
}

// Sign encodes the payload and signs the exact encoded bytes.
func Sign(p *Payload, priv ed25519.PrivateKey) *Signed {
	payload := EncodePayload(p)
	return &Signed{Payload: payload, Signature: ed25519.Sign(priv, payload)}
}

func checkFrame(data []byte, magic uint32) ([]byte, error) {
	if len(data) < headerLen+checksumLen {
		return nil, errors.New("envelope: truncated")
	}
	body := data[:len(data)-checksumLen]
	checksum := data[len(data)-checksumLen:]
	sum := blake3.Sum256(body[headerLen:])
	for i := range sum {
		if sum[i] != checksum[i] {
			return nil, errors.New("envelope: checksum mismatch")
		}
	}
	if binary.LittleEndian.Uint32(body[0:4]) != magic {
		return nil, errors.New("envelope: bad magic")
	}
	if binary.LittleEndian.Uint32(body[4:8]) != codecV1 {
		return nil, errors.New("envelope: unsupported version")
	}
	return body[headerLen:], nil
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendBytes(buf []byte, v []byte) []byte {
	buf = appendU32(buf, uint32(len(v)))
	return append(buf, v...)
}

func readBytes(data []byte) ([]byte, int, error) {
	if len(data) < 4 {
		return nil, 0, errors.New("envelope: truncated length")
	}
	length := int(binary.LittleEndian.Uint32(data))
	if length < 0 || 4+length > len(data) {
		return nil, 0, errors.New("envelope: truncated payload")
	}
	return append([]byte(nil), data[4:4+length]...), 4 + length, nil
}
