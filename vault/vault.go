// Package vault implements a multi-user key management engine over a single
// shared data encryption key. Each user occupies a key slot holding a wrapped
// copy of the vault DEK; authentication is possession of any password (plus
// optional hardware token) that unwraps a slot. Usernames are stored only as
// salted hashes, and the hash algorithm can be migrated in place while users
// keep logging in.
package vault

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tmorland/vaultkeep/crypto"
	"github.com/tmorland/vaultkeep/internal/util"
	"github.com/tmorland/vaultkeep/storage"
)

// Vault is a handle on one container. It owns at most one live session at a
// time; a second Open without a Close is rejected.
type Vault struct {
	mu      sync.Mutex
	store   storage.Store
	log     *slog.Logger
	header  *Header
	payload []byte
	session *Session
}

// Option configures a Vault handle.
type Option func(*Vault)

// WithLogger routes the vault's structured logs. Log output never contains
// usernames, passwords or key material.
func WithLogger(log *slog.Logger) Option {
	return func(v *Vault) { v.log = log }
}

// New creates a handle over an existing or to-be-created container in store.
// The store is owned by the caller and must outlive the handle.
func New(store storage.Store, opts ...Option) *Vault {
	v := &Vault{store: store, log: slog.Default()}
	for _, o := range opts {
		o(v)
	}
	return v
}

// CreateFile creates a new vault container at path with a first administrator
// and returns an open handle plus the administrator's session. The caller
// must Close the session and then the handle's store via Close.
func CreateFile(ctx context.Context, path, adminUsername, adminPassword string, policy SecurityPolicy) (*Vault, *Session, error) {
	fs, err := storage.NewFileStore(path)
	if err != nil {
		return nil, nil, mapStoreErr(err)
	}
	v := New(fs)
	sess, err := v.Create(ctx, adminUsername, adminPassword, policy)
	if err != nil {
		fs.Close()
		return nil, nil, err
	}
	return v, sess, nil
}

// OpenFile opens the container at path and authenticates. tokenResponse may
// be nil when the vault does not require a hardware token.
func OpenFile(ctx context.Context, path, username, password string, tokenResponse []byte) (*Vault, *Session, error) {
	fs, err := storage.NewFileStore(path)
	if err != nil {
		return nil, nil, mapStoreErr(err)
	}
	v := New(fs)
	sess, err := v.Open(ctx, username, password, tokenResponse)
	if err != nil {
		fs.Close()
		return nil, nil, err
	}
	return v, sess, nil
}

// Create initializes an empty container with a vault-wide policy and a first
// administrator slot, and returns the administrator's session.
func (v *Vault) Create(ctx context.Context, adminUsername, adminPassword string, policy SecurityPolicy) (*Session, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if v.session != nil {
		return nil, fmt.Errorf("%w: session already active", ErrInvalidState)
	}
	if v.store.Exists() {
		return nil, fmt.Errorf("%w: container already exists", ErrInvalidState)
	}
	if err := checkUsername(adminUsername); err != nil {
		return nil, err
	}

	policy.normalize()
	policy.PreviousUsernameHashAlgorithm = 0
	policy.MigrationStartedAt = 0
	policy.MigrationFlags = 0
	if err := policy.validate(); err != nil {
		return nil, err
	}
	if err := checkPassword(&policy, adminUsername, adminPassword); err != nil {
		return nil, err
	}

	challenge, err := util.RandomBytes(len(policy.TokenChallenge))
	if err != nil {
		return nil, fmt.Errorf("%w: generating vault challenge: %v", ErrCryptoFailure, err)
	}
	copy(policy.TokenChallenge[:], challenge)

	dek, err := util.NewDEK()
	if err != nil {
		return nil, fmt.Errorf("%w: generating vault key: %v", ErrCryptoFailure, err)
	}
	util.LockBytes(dek)
	defer func() {
		util.WipeBytes(dek)
		util.UnlockBytes(dek)
	}()

	h := &Header{Version: FormatVersion, Policy: policy}
	slot, err := newKeySlot(&h.Policy, adminUsername, adminPassword, RoleAdministrator, dek, false)
	if err != nil {
		return nil, err
	}
	h.Slots = append(h.Slots, *slot)

	v.header = h
	v.payload = nil
	if err := v.persistLocked(); err != nil {
		v.header = nil
		return nil, err
	}

	v.log.Info("vault created",
		slog.String("kek_algorithm", h.Policy.KEKAlgorithm.String()),
		slog.String("username_algorithm", h.Policy.UsernameHashAlgorithm.String()))

	return v.startSessionLocked(adminUsername, &h.Slots[0], dek), nil
}

// Close releases the handle's store. Any live session must be closed first.
func (v *Vault) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.session != nil {
		return fmt.Errorf("%w: session still active", ErrInvalidState)
	}
	v.header = nil
	v.payload = nil
	return v.store.Close()
}

// Payload returns the opaque encrypted payload stored after the header.
// Interpreting it is the embedder's business; the engine only preserves it
// across header rewrites.
func (v *Vault) Payload() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]byte, len(v.payload))
	copy(out, v.payload)
	return out
}

// SetPayload replaces the encrypted payload and persists the container.
// Requires a live session.
func (v *Vault) SetPayload(data []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.session == nil {
		return fmt.Errorf("%w: no active session", ErrInvalidState)
	}
	old := v.payload
	v.payload = make([]byte, len(data))
	copy(v.payload, data)
	if err := v.persistLocked(); err != nil {
		v.payload = old
		return err
	}
	return nil
}

// loadLocked reads and decodes the container. Callers hold v.mu.
func (v *Vault) loadLocked() error {
	data, err := v.store.Load()
	if err != nil {
		return mapStoreErr(err)
	}
	h, payload, err := decodeContainer(data)
	if err != nil {
		return err
	}
	h.Policy.normalize()
	if err := h.Policy.validate(); err != nil {
		return err
	}
	v.header = h
	v.payload = payload
	return nil
}

// persistLocked serializes the header plus payload and saves it. Callers
// hold v.mu.
func (v *Vault) persistLocked() error {
	if err := v.store.Save(encodeContainer(v.header, v.payload)); err != nil {
		v.log.Error("saving container failed", slog.Any("error", err))
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	return nil
}

func mapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case err == storage.ErrNotFound:
		return fmt.Errorf("%w: container not found", ErrInvalidState)
	case err == storage.ErrLocked:
		return fmt.Errorf("%w: container locked by another process", ErrInvalidState)
	default:
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
}

// effectiveKEKAlgorithm applies the substitution rule: fast hash selections
// never derive a KEK, PBKDF2 stands in for them.
func effectiveKEKAlgorithm(alg crypto.Algorithm) crypto.Algorithm {
	if alg.SlowKDF() {
		return alg
	}
	return crypto.AlgPBKDF2
}
