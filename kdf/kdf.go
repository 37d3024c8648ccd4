// Package kdf implements the two-tier key derivation used to protect
// archive blocks: a deliberately slow Argon2id master-key derivation
// from the user's password, and a fast HKDF-SHA256 per-block session
// key derived from the master key and a fresh block salt.
package kdf

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// Argon2id parameters: 16 MiB memory, 3 iterations, 1 parallel lane,
// 32-byte output. Deliberately slow; called at most once per command
// invocation.
const (
	argon2MemoryKiB  = 16 * 1024
	argon2Iterations = 3
	argon2Lanes      = 1
	keyLength        = 32
)

// MasterKey is the 32-byte key derived from a password and a global
// salt, valid for the duration of one command invocation.
type MasterKey [keyLength]byte

// SessionKey is the 32-byte AES-256-GCM key derived for exactly one
// block.
type SessionKey [keyLength]byte

// DeriveMasterKey runs Argon2id over password and salt. This is the
// slow path: callers should invoke it at most once per archive.
func DeriveMasterKey(password string, salt [16]byte) MasterKey {
	out := argon2.IDKey([]byte(password), salt[:], argon2Iterations, argon2MemoryKiB, argon2Lanes, keyLength)
	var key MasterKey
	copy(key[:], out)
	return key
}

// DeriveSessionKey runs HKDF-SHA256 over master, salted by blockSalt,
// with empty info, extracting 32 bytes. Cheap enough to call once per
// block per stability-retry attempt.
func DeriveSessionKey(master MasterKey, blockSalt [16]byte) (SessionKey, error) {
	reader := hkdf.New(sha256.New, master[:], blockSalt[:], nil)
	var key SessionKey
	if _, err := io.ReadFull(reader, key[:]); err != nil {
		return SessionKey{}, err
	}
	return key, nil
}
