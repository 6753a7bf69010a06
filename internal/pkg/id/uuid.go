// Package id generates entity identifiers.
package id

import "github.com/google/uuid"

type UUIDGenerator struct{}

func NewUUIDGenerator() UUIDGenerator { return UUIDGenerator{} }

// NewID returns a random (v4) UUID string.
func (UUIDGenerator) NewID() string { return uuid.NewString() }

// Derive returns a name-based (v5) UUID: the same name always yields the same id, so a record
// keyed by it is written at most once.
func Derive(name string) string { return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String() }
