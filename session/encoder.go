package session

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// CurrentSchemaVersion is the first byte of every encoded session.
const CurrentSchemaVersion = 1

// Fixed layout, all integers big endian:
//
//	[0]      schema version
//	[1:33]   refresh hash
//	[33:41]  created at
//	[41:49]  expires at
//	[49]     user id length
//	[50:]    user id
//
// The rotation scripts read the hash and expiry at these offsets.
const (
	offsetHash      = 1
	offsetCreatedAt = 33
	offsetExpiresAt = 41
	offsetUserLen   = 49
	headerSize      = 50
)

var (
	errUserIDTooLong = errors.New("userID too long")
	errShortBlob     = errors.New("session blob too short")
)

// Encode serializes s into the binary layout stored in Redis.
func Encode(s *Session) ([]byte, error) {
	if len(s.UserID) > 255 {
		return nil, errUserIDTooLong
	}

	buf := make([]byte, headerSize+len(s.UserID))
	buf[0] = CurrentSchemaVersion
	copy(buf[offsetHash:offsetCreatedAt], s.RefreshHash[:])
	binary.BigEndian.PutUint64(buf[offsetCreatedAt:offsetExpiresAt], uint64(s.CreatedAt))
	binary.BigEndian.PutUint64(buf[offsetExpiresAt:offsetUserLen], uint64(s.ExpiresAt))
	buf[offsetUserLen] = byte(len(s.UserID))
	copy(buf[headerSize:], s.UserID)

	return buf, nil
}

// Decode parses a blob produced by Encode. SessionID is not part of the blob.
func Decode(data []byte) (*Session, error) {
	if len(data) == 0 {
		return nil, errShortBlob
	}
	if data[0] != CurrentSchemaVersion {
		return nil, fmt.Errorf("unsupported session schema version %d", data[0])
	}
	if len(data) < headerSize {
		return nil, errShortBlob
	}

	userLen := int(data[offsetUserLen])
	if len(data) != headerSize+userLen {
		return nil, fmt.Errorf("session blob length %d does not match user id length %d", len(data), userLen)
	}

	s := &Session{
		UserID:    string(data[headerSize:]),
		CreatedAt: int64(binary.BigEndian.Uint64(data[offsetCreatedAt:offsetExpiresAt])),
		ExpiresAt: int64(binary.BigEndian.Uint64(data[offsetExpiresAt:offsetUserLen])),
	}
	copy(s.RefreshHash[:], data[offsetHash:offsetCreatedAt])

	return s, nil
}
