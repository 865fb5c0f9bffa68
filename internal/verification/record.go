package verification

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"
)

const (
	recordVersionV1 = 1

	flagVerified byte = 1 << 0
)

// Record is the persisted state of one issued code. CodeHash is an encoded
// hashing.Hasher output; the plaintext code is never stored.
type Record struct {
	CodeHash    string
	ExpiresAt   time.Time
	Attempts    int
	MaxAttempts int
	Verified    bool
}

func (r Record) remaining() int {
	left := r.MaxAttempts - r.Attempts
	if left < 0 {
		return 0
	}
	return left
}

// Layout: version(1) flags(1) attempts(2) maxAttempts(2) expiresAtUnixMilli(8)
// hashLen(2) hash.
func encodeRecord(r Record) ([]byte, error) {
	if r.Attempts < 0 || r.Attempts > 0xffff || r.MaxAttempts < 0 || r.MaxAttempts > 0xffff {
		return nil, errors.New("verification record attempts out of range")
	}
	if len(r.CodeHash) > 0xffff {
		return nil, errors.New("verification record hash too long")
	}

	var buf bytes.Buffer
	buf.Grow(16 + len(r.CodeHash))

	buf.WriteByte(recordVersionV1)
	var flags byte
	if r.Verified {
		flags |= flagVerified
	}
	buf.WriteByte(flags)

	_ = binary.Write(&buf, binary.BigEndian, uint16(r.Attempts))
	_ = binary.Write(&buf, binary.BigEndian, uint16(r.MaxAttempts))
	_ = binary.Write(&buf, binary.BigEndian, r.ExpiresAt.UnixMilli())
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(r.CodeHash)))
	buf.WriteString(r.CodeHash)

	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return Record{}, err
	}
	if version != recordVersionV1 {
		return Record{}, errors.New("invalid verification record version")
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return Record{}, err
	}

	var (
		attempts, maxAttempts, hashLen uint16
		expiresAt                      int64
	)
	if err := binary.Read(reader, binary.BigEndian, &attempts); err != nil {
		return Record{}, err
	}
	if err := binary.Read(reader, binary.BigEndian, &maxAttempts); err != nil {
		return Record{}, err
	}
	if err := binary.Read(reader, binary.BigEndian, &expiresAt); err != nil {
		return Record{}, err
	}
	if err := binary.Read(reader, binary.BigEndian, &hashLen); err != nil {
		return Record{}, err
	}

	hash := make([]byte, hashLen)
	if _, err := io.ReadFull(reader, hash); err != nil {
		return Record{}, err
	}

	return Record{
		CodeHash:    string(hash),
		ExpiresAt:   time.UnixMilli(expiresAt),
		Attempts:    int(attempts),
		MaxAttempts: int(maxAttempts),
		Verified:    flags&flagVerified != 0,
	}, nil
}
