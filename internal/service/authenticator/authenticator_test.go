package authenticator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/formbridge/ingest/internal/domain/errkind"
	"github.com/formbridge/ingest/internal/domain/tenant"
	"github.com/formbridge/ingest/internal/port/secretstore"
)

type fakeSecrets struct {
	secrets map[string][]byte
}

func (f *fakeSecrets) GetTenantSecret(_ context.Context, tenantID string) ([]byte, error) {
	s, ok := f.secrets[tenantID]
	if !ok {
		return nil, secretstore.ErrNotFound
	}
	return s, nil
}

func (f *fakeSecrets) GetCredential(_ context.Context, ref string) ([]byte, error) {
	return nil, secretstore.ErrNotFound
}

type fakeTenants struct {
	tenants map[string]*tenant.Tenant
}

func (f *fakeTenants) GetTenant(_ context.Context, tenantID string) (*tenant.Tenant, error) {
	t, ok := f.tenants[tenantID]
	if !ok {
		return nil, errors.New("not found")
	}
	return t, nil
}

func newTestAuthenticator(now time.Time) (*Authenticator, []byte) {
	secret := []byte("shh-its-a-secret")
	a := New(
		&fakeSecrets{secrets: map[string][]byte{"tenant-1": secret}},
		&fakeTenants{tenants: map[string]*tenant.Tenant{
			"tenant-1": {ID: "tenant-1", Enabled: true, Tier: tenant.TierStarter},
		}},
		300*time.Second,
	)
	a.now = func() time.Time { return now }
	return a, secret
}

func TestAuthenticate_Success(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a, secret := newTestAuthenticator(now)

	ts := now.Format(time.RFC3339)
	body := []byte(`{"form_id":"contact"}`)
	sig := Sign(secret, ts, body)

	ctx, err := a.Authenticate(context.Background(), Request{
		TenantID: "tenant-1", Timestamp: ts, Signature: sig, RawBody: body,
	})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if ctx.TenantID != "tenant-1" {
		t.Errorf("tenant id = %q", ctx.TenantID)
	}
	if ctx.Tier != tenant.TierStarter {
		t.Errorf("tier = %v", ctx.Tier)
	}
}

func TestAuthenticate_MissingHeader(t *testing.T) {
	a, _ := newTestAuthenticator(time.Now())
	_, err := a.Authenticate(context.Background(), Request{RawBody: []byte("x")})
	assertKind(t, err, errkind.AuthMissingHeader)
}

func TestAuthenticate_StaleTimestamp(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a, secret := newTestAuthenticator(now)

	old := now.Add(-10 * time.Minute).Format(time.RFC3339)
	body := []byte(`{}`)
	sig := Sign(secret, old, body)

	_, err := a.Authenticate(context.Background(), Request{
		TenantID: "tenant-1", Timestamp: old, Signature: sig, RawBody: body,
	})
	assertKind(t, err, errkind.AuthStaleTimestamp)
}

func TestAuthenticate_UnknownTenantAndBadSignatureAreIndistinguishable(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a, secret := newTestAuthenticator(now)
	ts := now.Format(time.RFC3339)
	body := []byte(`{}`)

	_, errUnknown := a.Authenticate(context.Background(), Request{
		TenantID: "ghost-tenant", Timestamp: ts, Signature: Sign(secret, ts, body), RawBody: body,
	})
	_, errBadSig := a.Authenticate(context.Background(), Request{
		TenantID: "tenant-1", Timestamp: ts, Signature: "deadbeef", RawBody: body,
	})

	if errUnknown.Error() != errBadSig.Error() {
		t.Fatalf("error messages differ: %q vs %q", errUnknown.Error(), errBadSig.Error())
	}
}

func TestAuthenticate_UnknownTenantStillReportsItsKindServerSide(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a, secret := newTestAuthenticator(now)
	ts := now.Format(time.RFC3339)
	body := []byte(`{}`)

	_, err := a.Authenticate(context.Background(), Request{
		TenantID: "ghost-tenant", Timestamp: ts, Signature: Sign(secret, ts, body), RawBody: body,
	})
	assertKind(t, err, errkind.AuthUnknownTenant)
}

func TestAuthenticate_BadSignature(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a, _ := newTestAuthenticator(now)
	ts := now.Format(time.RFC3339)

	_, err := a.Authenticate(context.Background(), Request{
		TenantID: "tenant-1", Timestamp: ts, Signature: "00", RawBody: []byte(`{}`),
	})
	assertKind(t, err, errkind.AuthBadSignature)
}

func assertKind(t *testing.T, err error, want errkind.Kind) {
	t.Helper()
	var authErr *ErrAuth
	if !errors.As(err, &authErr) {
		t.Fatalf("error %v is not *ErrAuth", err)
	}
	if authErr.Kind != want {
		t.Errorf("kind = %v, want %v", authErr.Kind, want)
	}
}
