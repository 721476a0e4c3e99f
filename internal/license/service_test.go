package license

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keygate/internal/database"
)

// setupDB opens the test database, applies the schema and truncates the
// license tables. Tests skip when DATABASE_URL is unset.
func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn, err := database.LoadDatabaseURL()
	if err != nil || dsn == "" {
		t.Skip("DATABASE_URL not set (skipping DB-backed test)")
	}
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Ping())
	require.NoError(t, database.Migrate(context.Background(), db))

	_, err = db.Exec(`TRUNCATE licenses, activations RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return db
}

func newTestService(t *testing.T) *Service {
	db := setupDB(t)
	return NewService(db, StaticDefaults{ValidityDays: 365, MaxActivations: 3})
}

func mustCreate(t *testing.T, svc *Service, in CreateInput) *License {
	t.Helper()
	l, err := svc.Create(context.Background(), in)
	require.NoError(t, err)
	return l
}

func TestCreateDefaults(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	l := mustCreate(t, svc, CreateInput{
		ProductName:   "WidgetPress",
		CustomerName:  "Acme Corp",
		CustomerEmail: "ops@acme.example",
	})

	assert.Equal(t, StatusActive, l.Status)
	assert.Equal(t, 3, l.MaxActivations, "default max activations from provider")
	require.NotNil(t, l.ExpiresAt)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 365), *l.ExpiresAt, time.Minute)
	assert.Regexp(t, `^[A-Z2-9]{5}-[A-Z2-9]{5}-[A-Z2-9]{5}-[A-Z2-9]{5}$`, l.LicenseKey)

	// Key lookup round-trips through normalization.
	got, err := svc.Validate(ctx, "  "+l.LicenseKey+" ", "")
	require.NoError(t, err)
	assert.Equal(t, l.ID, got.ID)
}

func TestCreateValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{CustomerName: "x", CustomerEmail: "a@b.c"})
	assert.True(t, IsValidation(err), "missing product name: %v", err)

	_, err = svc.Create(ctx, CreateInput{ProductName: "p", CustomerName: "x", CustomerEmail: "not-an-email"})
	assert.True(t, IsValidation(err), "bad email: %v", err)

	_, err = svc.Create(ctx, CreateInput{ProductName: "p", CustomerName: "x", CustomerEmail: "a@b.c", MaxActivations: intp(0)})
	assert.True(t, IsValidation(err), "zero max activations: %v", err)
}

func TestValidateStates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	l := mustCreate(t, svc, CreateInput{ProductName: "p", CustomerName: "c", CustomerEmail: "a@b.c"})

	_, err := svc.Validate(ctx, "AAAAA-AAAAA-AAAAA-AAAAA", "")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Suspend(ctx, l.LicenseKey)
	require.NoError(t, err)
	_, err = svc.Validate(ctx, l.LicenseKey, "")
	assert.ErrorIs(t, err, ErrSuspended)

	_, err = svc.Unsuspend(ctx, l.LicenseKey)
	require.NoError(t, err)

	// Past expiry is observed lazily at validation time; stored status
	// stays active.
	past := time.Now().Add(-time.Hour)
	_, err = svc.Update(ctx, l.ID, UpdateInput{ExpiresAt: &past})
	require.NoError(t, err)
	_, err = svc.Validate(ctx, l.LicenseKey, "")
	assert.ErrorIs(t, err, ErrExpired)
	stored, err := svc.Store().GetByID(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, stored.Status)
}

func TestValidateDomainRules(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	l := mustCreate(t, svc, CreateInput{
		ProductName:    "p",
		CustomerName:   "c",
		CustomerEmail:  "a@b.c",
		AllowedDomains: "example.com, *.shop.example.net",
	})

	_, err := svc.Validate(ctx, l.LicenseKey, "")
	assert.ErrorIs(t, err, ErrDomainRequired)

	_, err = svc.Validate(ctx, l.LicenseKey, "example.com")
	assert.NoError(t, err)

	_, err = svc.Validate(ctx, l.LicenseKey, "sub.example.com")
	assert.NoError(t, err, "bare pattern permits subdomains")

	_, err = svc.Validate(ctx, l.LicenseKey, "a.shop.example.net")
	assert.NoError(t, err, "wildcard pattern")

	_, err = svc.Validate(ctx, l.LicenseKey, "shop.example.net")
	assert.ErrorIs(t, err, ErrDomainNotAuthorized, "wildcard does not match apex")

	_, err = svc.Validate(ctx, l.LicenseKey, "evil.net")
	assert.ErrorIs(t, err, ErrDomainNotAuthorized)

	// Unrestricted licenses never require a domain.
	open := mustCreate(t, svc, CreateInput{ProductName: "p", CustomerName: "c", CustomerEmail: "a@b.c"})
	_, err = svc.Validate(ctx, open.LicenseKey, "")
	assert.NoError(t, err)
}

func TestActivationScenario(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	actx := ActivationContext{IPAddress: "203.0.113.7", UserAgent: "widget/1.0"}

	l := mustCreate(t, svc, CreateInput{
		ProductName:    "p",
		CustomerName:   "c",
		CustomerEmail:  "a@b.c",
		MaxActivations: intp(2),
	})

	res, err := svc.Activate(ctx, l.LicenseKey, "a.com", actx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ActiveCount)
	assert.NotEmpty(t, res.Activation.Token)

	res, err = svc.Activate(ctx, l.LicenseKey, "b.com", actx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.ActiveCount)

	_, err = svc.Activate(ctx, l.LicenseKey, "c.com", actx)
	assert.ErrorIs(t, err, ErrMaxActivations)

	count, err := svc.Deactivate(ctx, l.LicenseKey, "a.com")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	res, err = svc.Activate(ctx, l.LicenseKey, "c.com", actx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.ActiveCount)

	// Derived counter always equals the number of active rows.
	stored, err := svc.Store().GetByID(ctx, l.ID)
	require.NoError(t, err)
	active, err := svc.Activations().CountActive(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, active, stored.CurrentActivations)
}

func TestActivateIdempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	actx := ActivationContext{}

	l := mustCreate(t, svc, CreateInput{ProductName: "p", CustomerName: "c", CustomerEmail: "a@b.c", MaxActivations: intp(1)})

	first, err := svc.Activate(ctx, l.LicenseKey, "site.com", actx)
	require.NoError(t, err)
	assert.False(t, first.AlreadyActive)

	second, err := svc.Activate(ctx, l.LicenseKey, "site.com", actx)
	require.NoError(t, err)
	assert.True(t, second.AlreadyActive)
	assert.Equal(t, first.Activation.Token, second.Activation.Token, "same token on repeat activation")

	rows, err := svc.Activations().ListByLicense(ctx, l.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 1, "no duplicate activation row")

	stored, err := svc.Store().GetByID(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CurrentActivations)
}

func TestReactivationReusesRow(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	l := mustCreate(t, svc, CreateInput{ProductName: "p", CustomerName: "c", CustomerEmail: "a@b.c", MaxActivations: intp(1)})

	first, err := svc.Activate(ctx, l.LicenseKey, "site.com", ActivationContext{IPAddress: "198.51.100.1"})
	require.NoError(t, err)

	_, err = svc.Deactivate(ctx, l.LicenseKey, "site.com")
	require.NoError(t, err)

	again, err := svc.Activate(ctx, l.LicenseKey, "site.com", ActivationContext{IPAddress: "198.51.100.2"})
	require.NoError(t, err)
	assert.Equal(t, first.Activation.ID, again.Activation.ID, "reactivation reuses the row")
	assert.Equal(t, 1, again.ActiveCount)
}

func TestDeactivateWithoutActivation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	l := mustCreate(t, svc, CreateInput{ProductName: "p", CustomerName: "c", CustomerEmail: "a@b.c"})

	_, err := svc.Deactivate(ctx, l.LicenseKey, "never-activated.com")
	assert.ErrorIs(t, err, ErrActivationNotFound)

	_, err = svc.Activate(ctx, l.LicenseKey, "site.com", ActivationContext{})
	require.NoError(t, err)
	_, err = svc.Deactivate(ctx, l.LicenseKey, "site.com")
	require.NoError(t, err)

	// Second deactivate of the same domain is a failure, not a silent
	// success.
	_, err = svc.Deactivate(ctx, l.LicenseKey, "site.com")
	assert.ErrorIs(t, err, ErrActivationNotFound)
}

func TestSuspendLifecycle(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	l := mustCreate(t, svc, CreateInput{ProductName: "p", CustomerName: "c", CustomerEmail: "a@b.c"})

	_, err := svc.Unsuspend(ctx, l.LicenseKey)
	assert.ErrorIs(t, err, ErrNotSuspended)

	_, err = svc.Suspend(ctx, l.LicenseKey)
	require.NoError(t, err)
	_, err = svc.Suspend(ctx, l.LicenseKey)
	assert.ErrorIs(t, err, ErrAlreadySuspended)

	got, err := svc.Unsuspend(ctx, l.LicenseKey)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
}

func TestUnsuspendAfterExpiry(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	l := mustCreate(t, svc, CreateInput{ProductName: "p", CustomerName: "c", CustomerEmail: "a@b.c"})
	_, err := svc.Suspend(ctx, l.LicenseKey)
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	_, err = svc.Update(ctx, l.ID, UpdateInput{ExpiresAt: &past})
	require.NoError(t, err)

	got, err := svc.Unsuspend(ctx, l.LicenseKey)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status, "suspended-then-expired license must not come back active")
}

func TestRevoke(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	l := mustCreate(t, svc, CreateInput{ProductName: "p", CustomerName: "c", CustomerEmail: "a@b.c", MaxActivations: intp(3)})
	_, err := svc.Activate(ctx, l.LicenseKey, "a.com", ActivationContext{})
	require.NoError(t, err)
	_, err = svc.Activate(ctx, l.LicenseKey, "b.com", ActivationContext{})
	require.NoError(t, err)

	got, err := svc.Revoke(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRevoked, got.Status)
	assert.Equal(t, 0, got.CurrentActivations)

	rows, err := svc.Activations().ListByLicense(ctx, l.ID)
	require.NoError(t, err)
	for _, a := range rows {
		assert.Equal(t, ActivationInactive, a.Status)
	}

	_, err = svc.Validate(ctx, l.LicenseKey, "")
	assert.ErrorIs(t, err, ErrRevoked)

	_, err = svc.Revoke(ctx, l.ID)
	assert.ErrorIs(t, err, ErrAlreadyRevoked)
}

func TestExtendStacks(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	l := mustCreate(t, svc, CreateInput{ProductName: "p", CustomerName: "c", CustomerEmail: "a@b.c"})
	require.NotNil(t, l.ExpiresAt)
	original := *l.ExpiresAt

	_, err := svc.Extend(ctx, l.ID, 30)
	require.NoError(t, err)
	after, err := svc.Extend(ctx, l.ID, 30)
	require.NoError(t, err)

	// Two 30-day extensions add 60 days to the original expiry, not 30
	// from now.
	assert.WithinDuration(t, original.AddDate(0, 0, 60), *after, time.Minute)

	_, err = svc.Extend(ctx, 99999, 30)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Extend(ctx, l.ID, 0)
	assert.True(t, IsValidation(err))
}

func TestRegenerateKey(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	l := mustCreate(t, svc, CreateInput{ProductName: "p", CustomerName: "c", CustomerEmail: "a@b.c"})
	oldKey := l.LicenseKey

	got, err := svc.RegenerateKey(ctx, l.ID)
	require.NoError(t, err)
	assert.NotEqual(t, oldKey, got.LicenseKey)

	_, err = svc.Validate(ctx, oldKey, "")
	assert.ErrorIs(t, err, ErrNotFound, "old key must stop validating")
	_, err = svc.Validate(ctx, got.LicenseKey, "")
	assert.NoError(t, err)

	_, err = svc.RegenerateKey(ctx, 99999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateWhitelist(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	l := mustCreate(t, svc, CreateInput{ProductName: "p", CustomerName: "c", CustomerEmail: "a@b.c"})

	_, err := svc.Update(ctx, l.ID, UpdateInput{})
	assert.ErrorIs(t, err, ErrNoFieldsToUpdate)

	bad := "nope"
	_, err = svc.Update(ctx, l.ID, UpdateInput{Status: &bad})
	assert.True(t, IsValidation(err))

	_, err = svc.Update(ctx, l.ID, UpdateInput{CustomerEmail: strp("broken")})
	assert.True(t, IsValidation(err))

	got, err := svc.Update(ctx, l.ID, UpdateInput{
		ProductName: strp("WidgetPress Pro"),
		Notes:       strp("upgraded"),
	})
	require.NoError(t, err)
	assert.Equal(t, "WidgetPress Pro", got.ProductName)
	assert.Equal(t, "upgraded", got.Notes)
	assert.Equal(t, "c", got.CustomerName, "untouched field survives")

	_, err = svc.Update(ctx, 99999, UpdateInput{Notes: strp("x")})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentActivationRace(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	l := mustCreate(t, svc, CreateInput{ProductName: "p", CustomerName: "c", CustomerEmail: "a@b.c", MaxActivations: intp(1)})

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			domain := string(rune('a'+i)) + ".example.com"
			_, err := svc.Activate(ctx, l.LicenseKey, domain, ActivationContext{})
			errs[i] = err
		}(i)
	}
	wg.Wait()

	var ok, limited int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrMaxActivations):
			limited++
		default:
			t.Fatalf("unexpected activation error: %v", err)
		}
	}
	assert.Equal(t, 1, ok, "exactly one concurrent activation wins")
	assert.Equal(t, n-1, limited)

	stored, err := svc.Store().GetByID(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CurrentActivations)
}

func TestUpdateRevocationSemantics(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	l := mustCreate(t, svc, CreateInput{ProductName: "p", CustomerName: "c", CustomerEmail: "a@b.c", MaxActivations: intp(2)})
	_, err := svc.Activate(ctx, l.LicenseKey, "a.com", ActivationContext{})
	require.NoError(t, err)

	// Setting status to revoked through an update behaves like Revoke.
	got, err := svc.Update(ctx, l.ID, UpdateInput{Status: strp(StatusRevoked)})
	require.NoError(t, err)
	assert.Equal(t, StatusRevoked, got.Status)
	assert.Equal(t, 0, got.CurrentActivations)

	rows, err := svc.Activations().ListByLicense(ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, ActivationInactive, rows[0].Status)

	// Revocation stays terminal through updates too.
	_, err = svc.Update(ctx, l.ID, UpdateInput{Status: strp(StatusActive)})
	assert.ErrorIs(t, err, ErrAlreadyRevoked)

	// Non-status fields remain editable on a revoked license.
	got, err = svc.Update(ctx, l.ID, UpdateInput{Notes: strp("refunded order")})
	require.NoError(t, err)
	assert.Equal(t, "refunded order", got.Notes)
	assert.Equal(t, StatusRevoked, got.Status)
}

func intp(i int) *int       { return &i }
func strp(s string) *string { return &s }
