package license

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	db := setupDB(t)
	store := NewStore(db)
	ctx := context.Background()

	expires := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)
	in := &License{
		LicenseKey:     "AAAAA-BBBBB-CCCCC-DDDDD",
		ProductName:    "WidgetPress",
		CustomerName:   "Acme Corp",
		CustomerEmail:  "ops@acme.example",
		AllowedDomains: "acme.example",
		MaxActivations: 5,
		Status:         StatusActive,
		ExpiresAt:      &expires,
		Notes:          "first order",
	}
	require.NoError(t, store.Create(ctx, in))
	require.NotZero(t, in.ID)

	got, err := store.GetByKey(ctx, in.LicenseKey)
	require.NoError(t, err)

	ignore := cmpopts.IgnoreFields(License{}, "CreatedAt", "UpdatedAt")
	if diff := cmp.Diff(in, got, ignore, cmpopts.EquateApproxTime(time.Second)); diff != "" {
		t.Errorf("license round trip mismatch (-want +got):\n%s", diff)
	}

	dup := *in
	dup.ID = 0
	err = store.Create(ctx, &dup)
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestStoreListFilters(t *testing.T) {
	db := setupDB(t)
	store := NewStore(db)
	ctx := context.Background()

	seed := []License{
		{LicenseKey: "KEYAA-AAAAA-AAAAA-AAAAA", ProductName: "WidgetPress", CustomerName: "Acme", CustomerEmail: "a@acme.example", Status: StatusActive, MaxActivations: 1},
		{LicenseKey: "KEYBB-BBBBB-BBBBB-BBBBB", ProductName: "WidgetPress", CustomerName: "Globex", CustomerEmail: "b@globex.example", Status: StatusSuspended, MaxActivations: 1},
		{LicenseKey: "KEYCC-CCCCC-CCCCC-CCCCC", ProductName: "GadgetDesk", CustomerName: "Initech", CustomerEmail: "c@initech.example", Status: StatusActive, MaxActivations: 1},
	}
	for i := range seed {
		require.NoError(t, store.Create(ctx, &seed[i]))
	}

	all, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	active, err := store.List(ctx, Filter{Status: StatusActive})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	// Search is case-insensitive and spans key, product, customer, email.
	byProduct, err := store.List(ctx, Filter{Search: "widgetpress"})
	require.NoError(t, err)
	assert.Len(t, byProduct, 2)

	byEmail, err := store.List(ctx, Filter{Search: "INITECH"})
	require.NoError(t, err)
	require.Len(t, byEmail, 1)
	assert.Equal(t, "GadgetDesk", byEmail[0].ProductName)

	byKey, err := store.List(ctx, Filter{Search: "keybb"})
	require.NoError(t, err)
	assert.Len(t, byKey, 1)

	combined, err := store.List(ctx, Filter{Status: StatusActive, Search: "widgetpress"})
	require.NoError(t, err)
	assert.Len(t, combined, 1)

	n, err := store.CountWithFilters(ctx, Filter{Search: "widgetpress"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	counts, err := store.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[StatusActive])
	assert.Equal(t, 1, counts[StatusSuspended])

	page, err := store.List(ctx, Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page, 2)
	rest, err := store.List(ctx, Filter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}

func TestStoreExpiringWithin(t *testing.T) {
	db := setupDB(t)
	store := NewStore(db)
	ctx := context.Background()

	mk := func(key string, status string, in time.Duration) {
		t.Helper()
		var exp *time.Time
		if in != 0 {
			v := time.Now().Add(in)
			exp = &v
		}
		require.NoError(t, store.Create(ctx, &License{
			LicenseKey: key, ProductName: "p", CustomerName: "c", CustomerEmail: "a@b.c",
			Status: status, MaxActivations: 1, ExpiresAt: exp,
		}))
	}

	mk("EXPAA-AAAAA-AAAAA-AAAAA", StatusActive, 10*24*time.Hour)
	mk("EXPBB-BBBBB-BBBBB-BBBBB", StatusActive, 2*24*time.Hour)
	mk("EXPCC-CCCCC-CCCCC-CCCCC", StatusActive, 60*24*time.Hour) // outside window
	mk("EXPDD-DDDDD-DDDDD-DDDDD", StatusActive, -time.Hour)      // already past
	mk("EXPEE-EEEEE-EEEEE-EEEEE", StatusSuspended, 24*time.Hour) // wrong status
	mk("EXPFF-FFFFF-FFFFF-FFFFF", StatusActive, 0)               // never expires

	got, err := store.ExpiringWithin(ctx, 30)
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Soonest first.
	assert.Equal(t, "EXPBB-BBBBB-BBBBB-BBBBB", got[0].LicenseKey)
	assert.Equal(t, "EXPAA-AAAAA-AAAAA-AAAAA", got[1].LicenseKey)
}

func TestActivationStoreSearch(t *testing.T) {
	db := setupDB(t)
	store := NewStore(db)
	activations := NewActivationStore(db)
	ctx := context.Background()

	l := &License{LicenseKey: "SRCHA-AAAAA-AAAAA-AAAAA", ProductName: "p", CustomerName: "c", CustomerEmail: "a@b.c", Status: StatusActive, MaxActivations: 5}
	require.NoError(t, store.Create(ctx, l))

	for _, a := range []Activation{
		{LicenseID: l.ID, Domain: "alpha.example.com", IPAddress: "203.0.113.10", Token: "t1", Status: ActivationActive},
		{LicenseID: l.ID, Domain: "beta.example.org", IPAddress: "203.0.113.20", Token: "t2", Status: ActivationInactive},
	} {
		a := a
		require.NoError(t, activations.Create(ctx, &a))
	}

	byDomain, err := activations.Search(ctx, "ALPHA", 50, 0)
	require.NoError(t, err)
	assert.Len(t, byDomain, 1)

	byIP, err := activations.Search(ctx, "113.20", 50, 0)
	require.NoError(t, err)
	assert.Len(t, byIP, 1)

	all, err := activations.Search(ctx, "", 50, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
