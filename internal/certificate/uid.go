// Package certificate mints certificates for fully cleared course groups and
// queues the release emails that go with them.
package certificate

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

const (
	uidPrefix = "CR"
	uidLength = 16

	// MaxUIDAttempts bounds the collision retries of NewUID.
	MaxUIDAttempts = 100
)

var ErrUIDExhausted = errors.New("certificate: could not generate a unique uid")

// UIDChecker reports whether a certificate uid is already taken.
type UIDChecker interface {
	CertificateUIDExists(ctx context.Context, uid string) (bool, error)
}

// RandomUID returns "CR" followed by 16 upper-case hex characters of a
// random UUID.
func RandomUID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return uidPrefix + strings.ToUpper(hex[:uidLength])
}

// NewUID draws uids from gen until one is free, giving up after
// MaxUIDAttempts collisions.
func NewUID(ctx context.Context, checker UIDChecker, gen func() string) (string, error) {
	if gen == nil {
		gen = RandomUID
	}
	for i := 0; i < MaxUIDAttempts; i++ {
		uid := gen()
		taken, err := checker.CertificateUIDExists(ctx, uid)
		if err != nil {
			return "", errors.Wrap(err, "check certificate uid")
		}
		if !taken {
			return uid, nil
		}
	}
	return "", errors.WithStack(ErrUIDExhausted)
}
