package vault

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/tmorland/vaultkeep/crypto"
)

// Container layout, all integers big-endian:
//
//	magic "VKEP" | version u32 | header body | encrypted payload
//
// Version 2 header body:
//
//	policyLen u16 | policy blob | slotCount u8 | slotCount * (slotLen u16 | slot blob)
//
// Version 1 header body (password-only, single user):
//
//	pbkdf2Iterations u32 | salt [32] | wrappedKey [40]
//
// Policy and slot blobs are length-prefixed so a future revision can append
// fields: readers parse what they know and default the rest, and older blobs
// deserialize with documented defaults for fields they predate.
var containerMagic = [4]byte{'V', 'K', 'E', 'P'}

const (
	// FormatVersion is the container version this build writes.
	FormatVersion = 2
	formatV1      = 1

	policySerializedSize = 128
	slotFixedSize        = 231
	historyEntrySize     = 88

	v1SaltSize = 32
)

// cursor reads sequentially from a blob, yielding zeros past the end. That
// gives shorter (older) blobs well-defined defaults for appended fields.
type cursor struct {
	b   []byte
	off int
}

func (c *cursor) remaining() int { return len(c.b) - c.off }

func (c *cursor) u8() uint8 {
	if c.remaining() < 1 {
		c.off = len(c.b)
		return 0
	}
	v := c.b[c.off]
	c.off++
	return v
}

func (c *cursor) u16() uint16 {
	if c.remaining() < 2 {
		c.off = len(c.b)
		return 0
	}
	v := binary.BigEndian.Uint16(c.b[c.off:])
	c.off += 2
	return v
}

func (c *cursor) u32() uint32 {
	if c.remaining() < 4 {
		c.off = len(c.b)
		return 0
	}
	v := binary.BigEndian.Uint32(c.b[c.off:])
	c.off += 4
	return v
}

func (c *cursor) u64() uint64 {
	if c.remaining() < 8 {
		c.off = len(c.b)
		return 0
	}
	v := binary.BigEndian.Uint64(c.b[c.off:])
	c.off += 8
	return v
}

// fill copies up to len(dst) bytes into dst, zero-padding past the end.
func (c *cursor) fill(dst []byte) {
	n := copy(dst, c.b[c.off:])
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
	c.off += n
}

// take returns exactly n bytes, or nil if the blob is short.
func (c *cursor) take(n int) []byte {
	if n == 0 || c.remaining() < n {
		return nil
	}
	out := make([]byte, n)
	copy(out, c.b[c.off:])
	c.off += n
	return out
}

func encodePolicy(p *SecurityPolicy) []byte {
	b := make([]byte, policySerializedSize)
	if p.RequireToken {
		b[0] = 1
	}
	b[1] = p.TokenAlgorithm
	binary.BigEndian.PutUint32(b[2:], p.MinPasswordLength)
	b[6] = byte(p.KEKAlgorithm)
	binary.BigEndian.PutUint32(b[7:], p.PBKDF2Iterations)
	binary.BigEndian.PutUint32(b[11:], p.Argon2MemoryKiB)
	binary.BigEndian.PutUint32(b[15:], p.Argon2Time)
	b[19] = p.Argon2Parallelism
	b[20] = byte(p.UsernameHashAlgorithm)
	binary.BigEndian.PutUint32(b[21:], p.PasswordHistoryDepth)
	b[25] = byte(p.PreviousUsernameHashAlgorithm)
	binary.BigEndian.PutUint64(b[26:], uint64(p.MigrationStartedAt))
	b[34] = p.MigrationFlags
	copy(b[35:99], p.TokenChallenge[:])
	// b[99:128] reserved.
	return b
}

func decodePolicy(blob []byte) SecurityPolicy {
	c := &cursor{b: blob}
	var p SecurityPolicy
	p.RequireToken = c.u8() != 0
	p.TokenAlgorithm = c.u8()
	p.MinPasswordLength = c.u32()
	p.KEKAlgorithm = crypto.Algorithm(c.u8())
	p.PBKDF2Iterations = c.u32()
	p.Argon2MemoryKiB = c.u32()
	p.Argon2Time = c.u32()
	p.Argon2Parallelism = c.u8()
	p.UsernameHashAlgorithm = crypto.Algorithm(c.u8())
	p.PasswordHistoryDepth = c.u32()
	p.PreviousUsernameHashAlgorithm = crypto.Algorithm(c.u8())
	p.MigrationStartedAt = int64(c.u64())
	p.MigrationFlags = c.u8()
	c.fill(p.TokenChallenge[:])
	return p
}

func encodeSlot(s *KeySlot) []byte {
	size := slotFixedSize + 1 + len(s.Token.CredentialID) + 2 + len(s.Token.EncryptedPIN) +
		1 + len(s.PasswordHistory)*historyEntrySize
	b := make([]byte, slotFixedSize, size)

	if s.Active {
		b[0] = 1
	}
	b[1] = byte(s.Role)
	b[2] = byte(s.KEKAlgorithm)
	b[3] = byte(s.MigrationStatus)
	if s.MustChangePassword {
		b[4] = 1
	}
	b[5] = s.UsernameHashSize
	copy(b[6:70], s.UsernameHash[:])
	copy(b[70:86], s.UsernameSalt[:])
	copy(b[86:118], s.PasswordSalt[:])
	copy(b[118:158], s.WrappedDEK[:])
	binary.BigEndian.PutUint64(b[158:], uint64(s.CreatedAt))
	binary.BigEndian.PutUint64(b[166:], uint64(s.LastLoginAt))
	binary.BigEndian.PutUint64(b[174:], uint64(s.PasswordChangedAt))
	binary.BigEndian.PutUint64(b[182:], uint64(s.MigratedAt))
	if s.Token.Enrolled {
		b[190] = 1
	}
	copy(b[191:223], s.Token.Challenge[:])
	binary.BigEndian.PutUint64(b[223:], uint64(s.Token.EnrolledAt))

	b = append(b, byte(len(s.Token.CredentialID)))
	b = append(b, s.Token.CredentialID...)
	b = binary.BigEndian.AppendUint16(b, uint16(len(s.Token.EncryptedPIN)))
	b = append(b, s.Token.EncryptedPIN...)
	b = append(b, byte(len(s.PasswordHistory)))
	for i := range s.PasswordHistory {
		e := &s.PasswordHistory[i]
		b = binary.BigEndian.AppendUint64(b, uint64(e.Timestamp))
		b = append(b, e.Salt[:]...)
		b = append(b, e.Hash[:]...)
	}
	return b
}

func decodeSlot(blob []byte) (KeySlot, error) {
	var s KeySlot
	if len(blob) < slotFixedSize {
		return s, fmt.Errorf("%w: key slot record truncated", ErrInvalidInput)
	}
	c := &cursor{b: blob}

	s.Active = c.u8() != 0
	s.Role = Role(c.u8())
	s.KEKAlgorithm = crypto.Algorithm(c.u8())
	s.MigrationStatus = MigrationStatus(c.u8())
	s.MustChangePassword = c.u8() != 0
	s.UsernameHashSize = c.u8()
	c.fill(s.UsernameHash[:])
	c.fill(s.UsernameSalt[:])
	c.fill(s.PasswordSalt[:])
	c.fill(s.WrappedDEK[:])
	s.CreatedAt = int64(c.u64())
	s.LastLoginAt = int64(c.u64())
	s.PasswordChangedAt = int64(c.u64())
	s.MigratedAt = int64(c.u64())
	s.Token.Enrolled = c.u8() != 0
	c.fill(s.Token.Challenge[:])
	s.Token.EnrolledAt = int64(c.u64())

	if s.Active {
		if !s.Role.Valid() {
			return s, fmt.Errorf("%w: unknown role 0x%02x", ErrInvalidInput, byte(s.Role))
		}
		if s.UsernameHashSize > usernameHashMaxSize {
			return s, fmt.Errorf("%w: username hash size %d", ErrInvalidInput, s.UsernameHashSize)
		}
		switch s.MigrationStatus {
		case StatusMigrated, StatusNotMigrated:
		case StatusPending:
			// A pending status on disk means a rehash was interrupted
			// mid-flight. Fall back to not-migrated so the next login under
			// the previous algorithm retries it.
			s.MigrationStatus = StatusNotMigrated
		default:
			return s, fmt.Errorf("%w: unknown migration status 0x%02x", ErrInvalidInput, byte(s.MigrationStatus))
		}
	}

	if n := int(c.u8()); n > 0 {
		s.Token.CredentialID = c.take(n)
		if s.Token.CredentialID == nil {
			return s, fmt.Errorf("%w: credential id truncated", ErrInvalidInput)
		}
	}
	if n := int(c.u16()); n > 0 {
		if n > maxEncryptedPINLen {
			return s, fmt.Errorf("%w: encrypted pin length %d", ErrInvalidInput, n)
		}
		s.Token.EncryptedPIN = c.take(n)
		if s.Token.EncryptedPIN == nil {
			return s, fmt.Errorf("%w: encrypted pin truncated", ErrInvalidInput)
		}
	}
	if n := int(c.u8()); n > 0 {
		if n > MaxPasswordHistoryDepth {
			return s, fmt.Errorf("%w: password history count %d", ErrInvalidInput, n)
		}
		if c.remaining() < n*historyEntrySize {
			return s, fmt.Errorf("%w: password history truncated", ErrInvalidInput)
		}
		s.PasswordHistory = make([]PasswordHistoryEntry, n)
		for i := range s.PasswordHistory {
			e := &s.PasswordHistory[i]
			e.Timestamp = int64(c.u64())
			c.fill(e.Salt[:])
			c.fill(e.Hash[:])
		}
	}
	return s, nil
}

// encodeContainer serializes the header and appends the opaque encrypted
// payload unchanged.
func encodeContainer(h *Header, payload []byte) []byte {
	policy := encodePolicy(&h.Policy)

	size := 4 + 4 + 2 + len(policy) + 1
	slots := make([][]byte, len(h.Slots))
	for i := range h.Slots {
		slots[i] = encodeSlot(&h.Slots[i])
		size += 2 + len(slots[i])
	}

	b := make([]byte, 0, size+len(payload))
	b = append(b, containerMagic[:]...)
	b = binary.BigEndian.AppendUint32(b, FormatVersion)
	b = binary.BigEndian.AppendUint16(b, uint16(len(policy)))
	b = append(b, policy...)
	b = append(b, byte(len(h.Slots)))
	for _, s := range slots {
		b = binary.BigEndian.AppendUint16(b, uint16(len(s)))
		b = append(b, s...)
	}
	return append(b, payload...)
}

// decodeContainer parses a container into its header and the trailing
// encrypted payload. Version 1 containers come back as a single-slot header
// whose slot matches any username.
func decodeContainer(data []byte) (*Header, []byte, error) {
	if len(data) < 8 || !bytes.Equal(data[:4], containerMagic[:]) {
		return nil, nil, fmt.Errorf("%w: not a vault container", ErrInvalidInput)
	}
	version := binary.BigEndian.Uint32(data[4:8])
	body := data[8:]

	switch version {
	case formatV1:
		return decodeV1(body)
	case FormatVersion:
	default:
		return nil, nil, fmt.Errorf("%w: unsupported container version %d", ErrInvalidInput, version)
	}

	c := &cursor{b: body}
	policyLen := int(c.u16())
	policyBlob := c.take(policyLen)
	if policyLen > 0 && policyBlob == nil {
		return nil, nil, fmt.Errorf("%w: policy block truncated", ErrInvalidInput)
	}

	h := &Header{Version: version, Policy: decodePolicy(policyBlob)}
	if !h.Policy.KEKAlgorithm.Valid() || !h.Policy.UsernameHashAlgorithm.Valid() {
		return nil, nil, fmt.Errorf("%w: invalid policy algorithm", ErrInvalidInput)
	}

	numSlots := int(c.u8())
	if numSlots > MaxKeySlots {
		return nil, nil, fmt.Errorf("%w: %d key slots exceeds maximum", ErrInvalidInput, numSlots)
	}
	h.Slots = make([]KeySlot, 0, numSlots)
	for i := 0; i < numSlots; i++ {
		slotLen := int(c.u16())
		blob := c.take(slotLen)
		if blob == nil {
			return nil, nil, fmt.Errorf("%w: key slot %d truncated", ErrInvalidInput, i)
		}
		slot, err := decodeSlot(blob)
		if err != nil {
			return nil, nil, fmt.Errorf("key slot %d: %w", i, err)
		}
		h.Slots = append(h.Slots, slot)
	}

	payload := make([]byte, c.remaining())
	copy(payload, body[c.off:])
	return h, payload, nil
}

// decodeV1 lifts a password-only container into the slot model: one
// administrator slot with a zero-length username hash, which matches any
// claimed username. Such vaults cannot run algorithm migrations until the
// password is changed, which rewrites the slot in the current format.
func decodeV1(body []byte) (*Header, []byte, error) {
	if len(body) < 4+v1SaltSize+crypto.WrappedDEKSize {
		return nil, nil, fmt.Errorf("%w: version 1 container truncated", ErrInvalidInput)
	}
	c := &cursor{b: body}
	iterations := c.u32()

	slot := KeySlot{
		Active:          true,
		Role:            RoleAdministrator,
		KEKAlgorithm:    crypto.AlgPBKDF2,
		MigrationStatus: StatusMigrated,
	}
	c.fill(slot.PasswordSalt[:])
	c.fill(slot.WrappedDEK[:])

	policy := DefaultSecurityPolicy()
	policy.UsernameHashAlgorithm = crypto.AlgSHA3_256
	policy.KEKAlgorithm = crypto.AlgPBKDF2
	if iterations > 0 {
		policy.PBKDF2Iterations = iterations
	}

	h := &Header{Version: formatV1, Policy: policy, Slots: []KeySlot{slot}}
	payload := make([]byte, c.remaining())
	copy(payload, body[c.off:])
	return h, payload, nil
}
