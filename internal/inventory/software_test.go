package inventory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetsync/inventory/pkg/api"
)

func TestSoftwareSharedAcrossEndpoints(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, ep1 := registerEndpoint(t, s, "WS-30")
	_, ep2 := registerEndpoint(t, s, "WS-31")

	entries := []api.SoftwareEntry{
		{Name: "7-Zip", Version: "23.01", Publisher: strPtr("Igor Pavlov")},
		{Name: "Firefox", Version: "128.0"},
	}
	n, err := s.UpdateSoftware(ctx, ep1, entries)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = s.UpdateSoftware(ctx, ep2, entries)
	require.NoError(t, err)

	a, err := s.ListSoftware(ctx, ep1)
	require.NoError(t, err)
	b, err := s.ListSoftware(ctx, ep2)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	catalog, err := s.SoftwareCatalog(ctx)
	require.NoError(t, err)
	require.Len(t, catalog, 2)
	for _, c := range catalog {
		assert.Equal(t, 2, c.Endpoints, c.Name)
	}
}

func TestSoftwareSnapshotReplacesPresence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, ep := registerEndpoint(t, s, "WS-32")

	_, err := s.UpdateSoftware(ctx, ep, []api.SoftwareEntry{{Name: "Firefox", Version: "127.0"}, {Name: "Git", Version: "2.45"}})
	require.NoError(t, err)
	_, err = s.UpdateSoftware(ctx, ep, []api.SoftwareEntry{{Name: "Firefox", Version: "128.0"}})
	require.NoError(t, err)

	list, err := s.ListSoftware(ctx, ep)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "128.0", list[0].Version)

	catalog, err := s.SoftwareCatalog(ctx)
	require.NoError(t, err)
	require.Len(t, catalog, 2, "titles no endpoint reports stay in the catalog")
}

func TestSoftwareDuplicateEntriesCollapse(t *testing.T) {
	s := newTestStore(t)
	_, ep := registerEndpoint(t, s, "WS-33")

	n, err := s.UpdateSoftware(context.Background(), ep, []api.SoftwareEntry{
		{Name: "Git", Version: "2.45"},
		{Name: " Git ", Version: "2.45 "},
		{Name: "", Version: "1.0"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSoftwarePublisherDistinguishesTitles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.ResolveSoftware(ctx, "Tool", "1.0", strPtr("Acme"))
	require.NoError(t, err)
	b, err := s.ResolveSoftware(ctx, "Tool", "1.0", nil)
	require.NoError(t, err)
	c, err := s.ResolveSoftware(ctx, "Tool", "1.0", strPtr("Acme"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Equal(t, a, c)
}

func TestSoftwareConcurrentResolveCreatesOneRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ids := make([]int64, 10)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := s.ResolveSoftware(ctx, "Office", "16.0", strPtr("Microsoft"))
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestLicenseDiff(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, ep := registerEndpoint(t, s, "WS-34")

	stats, err := s.UpdateLicenses(ctx, ep, []api.License{{Name: "Windows", Key: "AAAAA"}, {Name: "Office", Key: "BBBBB"}})
	require.NoError(t, err)
	assert.Equal(t, ReconcileStats{Added: 2}, stats)

	stats, err = s.UpdateLicenses(ctx, ep, []api.License{
		{Name: "Windows", Key: "CCCCC"},
		{Name: "Visio", Key: "DDDDD"},
		{Name: "Visio", Key: "EEEEE"},
	})
	require.NoError(t, err)
	assert.Equal(t, ReconcileStats{Added: 1, Updated: 1, Deleted: 1}, stats)

	list, err := s.ListLicenses(ctx, ep)
	require.NoError(t, err)
	assert.Equal(t, []LicenseRecord{{Name: "Visio", Key: "EEEEE"}, {Name: "Windows", Key: "CCCCC"}}, list)

	stats, err = s.UpdateLicenses(ctx, ep, []api.License{{Name: "Windows", Key: "CCCCC"}, {Name: "Visio", Key: "EEEEE"}})
	require.NoError(t, err)
	assert.Equal(t, ReconcileStats{}, stats)
}

func TestLicensesUnknownEndpoint(t *testing.T) {
	s := newTestStore(t)
	_, err := s.UpdateLicenses(context.Background(), 42, nil)
	require.ErrorIs(t, err, ErrEndpointNotFound)
}

func TestSoftwareKeysSortedAndDeduplicated(t *testing.T) {
	keys := softwareKeys([]api.SoftwareEntry{
		{Name: "Zoom", Version: "6.0"},
		{Name: "7-Zip", Version: "23.01", Publisher: strPtr("Igor Pavlov")},
		{Name: "Git", Version: "2.45"},
		{Name: " Git", Version: "2.45 "},
		{Name: "Git", Version: "2.44"},
		{Name: "  ", Version: "1.0"},
	})
	assert.Equal(t, []softwareKey{
		{name: "7-Zip", publisher: "Igor Pavlov", version: "23.01"},
		{name: "Git", version: "2.44"},
		{name: "Git", version: "2.45"},
		{name: "Zoom", version: "6.0"},
	}, keys)
}

func TestSoftwareResolveReusesRowsInAnyOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, ep1 := registerEndpoint(t, s, "WS-40")
	_, ep2 := registerEndpoint(t, s, "WS-41")

	forward := []api.SoftwareEntry{{Name: "Alpha", Version: "1"}, {Name: "Beta", Version: "2"}, {Name: "Gamma", Version: "3"}}
	reverse := []api.SoftwareEntry{forward[2], forward[1], forward[0]}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() { defer wg.Done(); _, errs[0] = s.UpdateSoftware(ctx, ep1, forward) }()
	go func() { defer wg.Done(); _, errs[1] = s.UpdateSoftware(ctx, ep2, reverse) }()
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	a, err := s.ListSoftware(ctx, ep1)
	require.NoError(t, err)
	b, err := s.ListSoftware(ctx, ep2)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	id, err := s.ResolveSoftware(ctx, "Beta", "2", nil)
	require.NoError(t, err)
	var found bool
	for _, r := range a {
		if r.Name == "Beta" {
			found = r.VersionID == id
		}
	}
	assert.True(t, found, "resolving an existing title returns its stored version id")
}
