package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	key, err := DeriveKey("test passphrase")
	require.NoError(t, err)

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), key)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestDeriveKey(t *testing.T) {
	a, err := DeriveKey("secret")
	require.NoError(t, err)
	b, err := DeriveKey("  secret ")
	require.NoError(t, err)
	c, err := DeriveKey("other")
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	_, err = DeriveKey("   ")
	assert.Error(t, err)
}

func TestEncryptDecrypt(t *testing.T) {
	key, err := DeriveKey("secret")
	require.NoError(t, err)

	encoded, err := Encrypt([]byte("Stole fuel twice"), key)
	require.NoError(t, err)
	assert.NotContains(t, encoded, "Stole")

	plain, err := Decrypt(encoded, key)
	require.NoError(t, err)
	assert.Equal(t, "Stole fuel twice", string(plain))

	other, _ := DeriveKey("other")
	_, err = Decrypt(encoded, other)
	assert.Error(t, err)
}

func TestProfiles_UniqueFieldsIgnoreCase(t *testing.T) {
	store := newTestStore(t)

	p := &Profile{Email: "ops@trans.lt", CompanyName: "Trans UAB", CompanyCode: "TR-100"}
	require.NoError(t, store.CreateProfile(p))
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, RoleUser, p.Role)
	assert.Equal(t, StatusPending, p.Status)

	err := store.CreateProfile(&Profile{Email: "OPS@Trans.lt", CompanyName: "Other", CompanyCode: "XX-1"})
	assert.ErrorIs(t, err, ErrDuplicate)

	err = store.CreateProfile(&Profile{Email: "new@trans.lt", CompanyName: "Other", CompanyCode: "tr-100"})
	assert.ErrorIs(t, err, ErrDuplicate)

	got, err := store.GetProfileByEmail("Ops@Trans.LT")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, "Trans UAB", got.CompanyName)
	assert.Nil(t, got.SubscriptionUntil)

	missing, err := store.GetProfileByEmail("nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestProfiles_CreateProfilesIsAtomic(t *testing.T) {
	store := newTestStore(t)

	err := store.CreateProfiles([]Profile{
		{Email: "a@x.lt", CompanyName: "A", CompanyCode: "AAA"},
		{Email: "A@x.lt", CompanyName: "B", CompanyCode: "BBB"},
	})
	assert.True(t, errors.Is(err, ErrDuplicate))

	all, err := store.ListProfiles()
	require.NoError(t, err)
	assert.Empty(t, all)

	require.NoError(t, store.CreateProfiles([]Profile{
		{Email: "a@x.lt", CompanyName: "A", CompanyCode: "AAA"},
		{Email: "b@x.lt", CompanyName: "B", CompanyCode: "BBB"},
	}))
	all, err = store.ListProfiles()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestProfiles_StatusSubscriptionAndTelegramLink(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	p := &Profile{Email: "ops@trans.lt", CompanyName: "Trans", CompanyCode: "TR1"}
	require.NoError(t, store.CreateProfile(p))

	require.NoError(t, store.SetProfileStatus(p.ID, StatusApproved))
	require.NoError(t, store.SetSubscription(p.ID, now.Add(48*time.Hour)))
	require.NoError(t, store.LinkTelegramID(p.ID, 4242))

	got, err := store.GetProfileByTelegramID(4242)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusApproved, got.Status)
	require.NotNil(t, got.SubscriptionUntil)
	assert.True(t, got.SubscriptionUntil.Equal(now.Add(48*time.Hour)))
	assert.True(t, got.HasActiveSubscription(now))
	assert.False(t, got.HasActiveSubscription(now.Add(72*time.Hour)))

	expiring, err := store.ProfilesExpiringBefore(now.Add(72 * time.Hour))
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	assert.Equal(t, p.ID, expiring[0].ID)

	expiring, err = store.ProfilesExpiringBefore(now.Add(24 * time.Hour))
	require.NoError(t, err)
	assert.Empty(t, expiring)

	require.NoError(t, store.MarkExpiryNotified(p.ID, now))
	require.NoError(t, store.MarkExpiryRecorded(p.ID))
	got, _ = store.GetProfile(p.ID)
	require.NotNil(t, got.ExpiryNotifiedAt)
	assert.True(t, got.ExpiryRecorded)

	// A new subscription resets expiry bookkeeping.
	require.NoError(t, store.SetSubscription(p.ID, now.Add(30*24*time.Hour)))
	got, _ = store.GetProfile(p.ID)
	assert.Nil(t, got.ExpiryNotifiedAt)
	assert.False(t, got.ExpiryRecorded)

	assert.ErrorIs(t, store.SetProfileStatus("missing", StatusBlocked), ErrNotFound)
}

func TestReports_CommentEncryptedAtRest(t *testing.T) {
	store := newTestStore(t)

	incident := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	r := &Report{
		DriverName:   "Jonas Jonaitis",
		Comment:      "Drained the tank at the depot",
		CategoryID:   "fuel_theft",
		Tags:         []string{"fuel_theft"},
		ReporterID:   "reporter-1",
		IncidentDate: &incident,
	}
	require.NoError(t, store.CreateReport(r))
	assert.Equal(t, "jonas jonaitis", r.DriverNameKey)

	var raw string
	require.NoError(t, store.db.QueryRow("SELECT encrypted_comment FROM reports WHERE id = ?", r.ID).Scan(&raw))
	assert.NotContains(t, raw, "Drained")

	found, err := store.SearchReports("jonas jonaitis", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Drained the tank at the depot", found[0].Comment)
	assert.Equal(t, []string{"fuel_theft"}, found[0].Tags)
	assert.Equal(t, SourceManual, found[0].Source)
	require.NotNil(t, found[0].IncidentDate)
	assert.True(t, incident.Equal(*found[0].IncidentDate))
	assert.Nil(t, found[0].BirthDate)
}

func TestReports_FuzzySearch(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	step := 0
	store.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Hour)
	}

	require.NoError(t, store.CreateReports([]Report{
		{DriverName: "Jonas Jonaitis", Comment: "a", CategoryID: "fuel_theft", ReporterID: "r", Source: SourceImport},
		{DriverName: "Jonas Jonaitys", Comment: "b", CategoryID: "discipline", ReporterID: "r", Source: SourceImport},
		{DriverName: "Petras Petraitis", Comment: "c", CategoryID: "discipline", ReporterID: "r", Source: SourceImport},
	}))

	count, err := store.CountReports()
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	found, err := store.SearchReports("  JONAS   Jonaitis ", 0)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "Jonas Jonaitis", found[0].DriverName, "exact match first")
	assert.Equal(t, "Jonas Jonaitys", found[1].DriverName)

	found, err = store.SearchReports("Jonaitis Jonas", 1)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Jonas Jonaitis", found[0].DriverName)

	found, err = store.SearchReports("Jonas Jonaitįs", 0)
	require.NoError(t, err)
	assert.Len(t, found, 2)

	found, err = store.SearchReports("Someone Else", 0)
	require.NoError(t, err)
	assert.Empty(t, found)

	found, err = store.SearchReports("   ", 0)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestReports_SearchScalesWithQueryLength(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	step := 0
	store.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Hour)
	}

	require.NoError(t, store.CreateReports([]Report{
		{DriverName: "Li Wu", Comment: "a", CategoryID: "discipline", ReporterID: "r", Source: SourceImport},
		{DriverName: "Li Na", Comment: "b", CategoryID: "discipline", ReporterID: "r", Source: SourceImport},
		{DriverName: "Jonas Jonaitis", Comment: "c", CategoryID: "fuel_theft", ReporterID: "r", Source: SourceImport},
		{DriverName: "Jonas Jonaitys", Comment: "d", CategoryID: "discipline", ReporterID: "r", Source: SourceImport},
	}))

	found, err := store.SearchReports("Li Wu", 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Li Wu", found[0].DriverName)

	found, err = store.SearchReports("Lu", 0)
	require.NoError(t, err)
	assert.Empty(t, found)

	found, err = store.SearchReports("Jonaitis", 0)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "Jonas Jonaitis", found[0].DriverName, "closer token first")
	assert.Equal(t, "Jonas Jonaitys", found[1].DriverName)

	found, err = store.SearchReports("Jonas Jonaitis", 0)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "Jonas Jonaitis", found[0].DriverName)
}

func TestMatchScore(t *testing.T) {
	d, ok := matchScore("jonas jonaitis", "jonas jonaitis")
	assert.True(t, ok)
	assert.Zero(t, d)

	whole, ok := matchScore("jonas jonaitys", "jonas jonaitis")
	require.True(t, ok)
	partial, ok := matchScore("jonaitis", "jonas jonaitis")
	require.True(t, ok)
	assert.Less(t, whole, partial)

	_, ok = matchScore("li", "li na")
	assert.True(t, ok)
	_, ok = matchScore("lu", "li na")
	assert.False(t, ok)
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "zydrunas sarunas", NormalizeName("  Žydrūnas   ŠARŪNAS "))
	assert.Equal(t, "иван петров", NormalizeName("Иван Петров"))
}

func TestAudit_NewestFirst(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	step := 0
	store.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Second)
	}

	for _, action := range []string{ActionImportReports, ActionProfileStatus, ActionSubscriptionSet} {
		_, err := store.AppendAudit("admin", action, "detail")
		require.NoError(t, err)
	}

	entries, err := store.ListAudit(2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ActionSubscriptionSet, entries[0].Action)
	assert.Equal(t, ActionProfileStatus, entries[1].Action)
	assert.Len(t, entries[0].ID, 26)
}

func TestClassificationCache(t *testing.T) {
	store := newTestStore(t)

	got, err := store.GetClassificationCache("hash")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.SetClassificationCache("hash", &CachedClassification{CategoryID: "other_category"}))
	got, err = store.GetClassificationCache("hash")
	require.NoError(t, err)
	assert.Equal(t, &CachedClassification{CategoryID: "other_category", Tags: []string{}}, got)

	require.NoError(t, store.SetClassificationCache("hash", &CachedClassification{CategoryID: "fuel_theft", Tags: []string{"fuel_theft"}}))
	got, err = store.GetClassificationCache("hash")
	require.NoError(t, err)
	assert.Equal(t, "fuel_theft", got.CategoryID)
}

func TestWatches(t *testing.T) {
	store := newTestStore(t)

	w, err := store.CreateWatch(7, "Jonas Jonaitis")
	require.NoError(t, err)

	exists, err := store.WatchExistsForQuery(7, "Jonas Jonaitis")
	require.NoError(t, err)
	assert.True(t, exists)

	count, err := store.CountWatchesByUser(7)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, store.MarkReportsSeenBatch(w.ID, []string{"r1", "r2", "r1"}))
	seen, err := store.GetSeenReportIDs(w.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"r1": true, "r2": true}, seen)

	assert.ErrorIs(t, store.DeleteWatch(w.ID, 8), ErrNotFound)
	require.NoError(t, store.DeleteWatch(w.ID, 7))

	all, err := store.GetAllWatches()
	require.NoError(t, err)
	assert.Empty(t, all)
	seen, err = store.GetSeenReportIDs(w.ID)
	require.NoError(t, err)
	assert.Empty(t, seen)
}
