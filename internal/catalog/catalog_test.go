package catalog

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TableChat/internal/api"
	"TableChat/internal/apperr"
	"TableChat/internal/testutil"
)

func persistent(name, description string) Resource {
	return Resource{
		Name:            name,
		Kind:            KindPersistent,
		DisplayLabel:    name,
		Description:     description,
		AnalysisPending: description == api.AnalyzingDescription,
	}
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name     string
		old      []Resource
		snapshot []Resource
		want     []Resource
	}{
		{
			name:     "new resources start deselected",
			old:      nil,
			snapshot: []Resource{{Name: "a", Selected: true}},
			want:     []Resource{{Name: "a", Columns: []Column{}}},
		},
		{
			name:     "selection survives refresh",
			old:      []Resource{{Name: "a", Selected: true}, {Name: "b"}},
			snapshot: []Resource{{Name: "b", Description: "B"}, {Name: "a", Description: "A"}},
			want: []Resource{
				{Name: "b", Description: "B", Columns: []Column{}},
				{Name: "a", Description: "A", Selected: true, Columns: []Column{}},
			},
		},
		{
			name:     "absent resources are dropped",
			old:      []Resource{{Name: "a", Selected: true}, {Name: "gone", Selected: true}},
			snapshot: []Resource{{Name: "a"}},
			want:     []Resource{{Name: "a", Selected: true, Columns: []Column{}}},
		},
		{
			name:     "optimistic entries wait for their first listing",
			old:      []Resource{{Name: "a"}, {Name: "new", AnalysisPending: true, Optimistic: true}},
			snapshot: []Resource{{Name: "a"}},
			want: []Resource{
				{Name: "a", Columns: []Column{}},
				{Name: "new", AnalysisPending: true, Optimistic: true},
			},
		},
		{
			name:     "duplicate names in a snapshot keep the first",
			old:      nil,
			snapshot: []Resource{{Name: "a", Description: "first"}, {Name: "a", Description: "second"}},
			want:     []Resource{{Name: "a", Description: "first", Columns: []Column{}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Merge(tt.old, tt.snapshot)
			for i := range got {
				if got[i].Columns == nil {
					got[i].Columns = []Column{}
				}
			}
			for i := range tt.want {
				if tt.want[i].Columns == nil {
					tt.want[i].Columns = []Column{}
				}
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMerge_Idempotent(t *testing.T) {
	old := []Resource{
		{Name: "orders", Selected: true, Description: "Orders"},
		{Name: "pending", AnalysisPending: true, Optimistic: true, Description: api.AnalyzingDescription},
		{Name: "stale"},
	}
	snapshot := []Resource{
		persistent("customers", "Customers"),
		persistent("orders", api.AnalyzingDescription),
		{Name: "inventory", Columns: []Column{{Name: "sku", Type: "TEXT"}}},
	}

	once := Merge(old, snapshot)
	twice := Merge(once, snapshot)
	assert.Equal(t, once, twice)
}

func TestMerge_ReadyNeverRevertsToPending(t *testing.T) {
	old := []Resource{persistent("orders", "Customer orders")}
	old[0].Selected = true

	got := Merge(old, []Resource{persistent("orders", api.AnalyzingDescription)})
	require.Len(t, got, 1)
	assert.False(t, got[0].AnalysisPending)
	assert.Equal(t, "Customer orders", got[0].Description)
	assert.True(t, got[0].Selected)
}

func TestMerge_OptimisticPendingFollowsSnapshot(t *testing.T) {
	old := []Resource{{Name: "orders", AnalysisPending: true, Optimistic: true, Description: api.AnalyzingDescription}}

	got := Merge(old, []Resource{persistent("orders", api.AnalyzingDescription)})
	require.Len(t, got, 1)
	assert.True(t, got[0].AnalysisPending)
	assert.False(t, got[0].Optimistic)

	got = Merge(got, []Resource{persistent("orders", "Customer orders")})
	assert.False(t, got[0].AnalysisPending)
	assert.Equal(t, "Customer orders", got[0].Description)
}

func TestMerge_DoesNotAliasSnapshot(t *testing.T) {
	snapshot := []Resource{{Name: "a", Columns: []Column{{Name: "x"}}}}
	got := Merge(nil, snapshot)
	got[0].Columns[0].Name = "changed"
	assert.Equal(t, "x", snapshot[0].Columns[0].Name)
}

func TestCatalog_ApplyNotifiesOnChangeOnly(t *testing.T) {
	c := New(testutil.NewTestLogger(t))

	var (
		mu      sync.Mutex
		changes []Change
	)
	c.OnChange(func(ch Change) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, ch)
	})

	snapshot := []Resource{persistent("orders", api.AnalyzingDescription)}
	assert.True(t, c.Apply(KindPersistent, snapshot))
	assert.False(t, c.Apply(KindPersistent, snapshot))
	assert.True(t, c.HasPending())

	assert.True(t, c.Apply(KindPersistent, []Resource{persistent("orders", "Orders")}))
	assert.False(t, c.HasPending())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, changes, 2)
	assert.Empty(t, changes[0].Ready)
	assert.Equal(t, []string{"orders"}, changes[1].Ready)
}

func TestCatalog_SelectionSurvivesApply(t *testing.T) {
	c := New(testutil.NewTestLogger(t))
	c.Apply(KindPersistent, []Resource{persistent("orders", "Orders"), persistent("customers", "Customers")})
	c.Apply(KindEphemeral, []Resource{{Name: "excel_sales_1", Kind: KindEphemeral, DisplayLabel: "sales.xlsx"}})

	require.NoError(t, c.SetSelected("customers", true))
	require.NoError(t, c.SetSelected("orders", true))
	on, err := c.Toggle("excel_sales_1")
	require.NoError(t, err)
	assert.True(t, on)

	c.Apply(KindPersistent, []Resource{persistent("customers", "All customers"), persistent("orders", "Orders")})

	p, e := c.SelectedNames()
	assert.Equal(t, []string{"customers", "orders"}, p)
	assert.Equal(t, []string{"excel_sales_1"}, e)

	r, ok := c.Find("customers")
	require.True(t, ok)
	assert.Equal(t, "All customers", r.Description)
}

func TestCatalog_UnknownSelection(t *testing.T) {
	c := New(testutil.NewTestLogger(t))
	err := c.SetSelected("nope", true)
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))

	_, err = c.Toggle("nope")
	var ve *apperr.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestCatalog_MarkPendingAndRemove(t *testing.T) {
	c := New(testutil.NewTestLogger(t))
	c.MarkPending("orders", "")
	assert.True(t, c.HasPending())
	assert.True(t, c.Contains(KindPersistent, "orders"))

	// a fetch that started before the add does not list it yet
	c.Apply(KindPersistent, nil)
	assert.True(t, c.Contains(KindPersistent, "orders"))

	assert.True(t, c.Remove(KindPersistent, "orders"))
	assert.False(t, c.Remove(KindPersistent, "orders"))
	assert.False(t, c.HasPending())
}

func TestCatalog_ResourcesReturnsCopy(t *testing.T) {
	c := New(testutil.NewTestLogger(t))
	c.Apply(KindPersistent, []Resource{{Name: "a", Kind: KindPersistent, Columns: []Column{{Name: "id"}}}})

	rs := c.Resources(KindPersistent)
	rs[0].Selected = true
	rs[0].Columns[0].Name = "changed"

	r, _ := c.Find("a")
	assert.False(t, r.Selected)
	assert.Equal(t, "id", r.Columns[0].Name)
}

func TestSnapshotConversion(t *testing.T) {
	rs := PersistentSnapshot([]api.TableInfo{
		{Name: "orders", Columns: []api.ColumnInfo{{Name: "id", Type: "INTEGER"}}, Description: api.AnalyzingDescription},
		{Name: "customers", Description: "Customers"},
	})
	require.Len(t, rs, 2)
	assert.True(t, rs[0].AnalysisPending)
	assert.Equal(t, []Column{{Name: "id", Type: "INTEGER"}}, rs[0].Columns)
	assert.False(t, rs[1].AnalysisPending)

	es := EphemeralSnapshot([]api.ExcelTable{
		{Name: "excel_sales_1", OriginalFilename: "sales.xlsx", Columns: []string{"Region"}, ExpiresAt: "2024-06-01T12:30:00Z"},
		{Name: "excel_other_2", ExpiresAt: "later"},
	})
	require.Len(t, es, 2)
	assert.Equal(t, "sales.xlsx", es[0].DisplayLabel)
	assert.Equal(t, KindEphemeral, es[0].Kind)
	assert.Equal(t, time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC), es[0].ExpiresAt)
	assert.Equal(t, "excel_other_2", es[1].DisplayLabel)
	assert.True(t, es[1].ExpiresAt.IsZero())
}

func TestResource_Remaining(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	r := Resource{Kind: KindEphemeral, ExpiresAt: now.Add(90 * time.Second)}
	assert.Equal(t, 90*time.Second, r.Remaining(now))
	assert.Zero(t, r.Remaining(now.Add(time.Hour)))
	assert.Zero(t, Resource{Kind: KindPersistent}.Remaining(now))
}
