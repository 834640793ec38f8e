// Package secretstore defines the port for resolving per-tenant and
// per-destination secrets by reference (spec §4.4).
package secretstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a reference resolves to no secret.
var ErrNotFound = errors.New("secretstore: not found")

// Store resolves opaque secret references to their byte values. The core
// never creates or rotates secrets; rotation happens out-of-band by the
// collaborator writing a new value under the same reference.
type Store interface {
	// GetTenantSecret returns the shared HMAC secret for tenantID.
	GetTenantSecret(ctx context.Context, tenantID string) ([]byte, error)
	// GetCredential returns the credential bytes for an opaque reference
	// (e.g. a destination's auth.secret_ref).
	GetCredential(ctx context.Context, ref string) ([]byte, error)
}
