package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgress_Percent(t *testing.T) {
	tests := []struct {
		name string
		p    Progress
		want float64
	}{
		{
			name: "zero total",
			p:    Progress{TotalCount: 0, ProcessedCount: 0},
			want: 0,
		},
		{
			name: "half done",
			p:    Progress{TotalCount: 10, ProcessedCount: 5},
			want: 50,
		},
		{
			name: "all done",
			p:    Progress{TotalCount: 4, ProcessedCount: 4},
			want: 100,
		},
		{
			name: "one third",
			p:    Progress{TotalCount: 3, ProcessedCount: 1},
			want: 33.333333,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.p.Percent()
			assert.InDelta(t, tt.want, got, 1e-4)
		})
	}
}

func TestPhase_Active(t *testing.T) {
	tests := []struct {
		phase Phase
		want  bool
	}{
		{PhaseIdle, false},
		{PhaseConnecting, true},
		{PhaseFetching, true},
		{PhaseSyncing, true},
		{PhaseDone, false},
		{PhaseError, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.phase), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.phase.Active())
		})
	}
}

func TestProgress_CloneIsDeep(t *testing.T) {
	name := "Tee"
	p := Progress{
		CurrentProduct: &name,
		RecentProducts: []string{"a", "b"},
	}
	c := p.clone()
	*c.CurrentProduct = "changed"
	c.RecentProducts[0] = "changed"

	assert.Equal(t, "Tee", *p.CurrentProduct)
	assert.Equal(t, []string{"a", "b"}, p.RecentProducts)
}

func TestPageResult_Record(t *testing.T) {
	r := newPageResult()
	r.RecordProduct(productOutcome{
		name: "A", created: true, variantsCreated: 2,
	})
	r.RecordProduct(productOutcome{
		name: "B", variantsCreated: 1, variantsUpdated: 3,
	})
	r.RecordSkip("product C: skipped")
	r.RecordError("product D: bad")

	assert.Equal(t, 1, r.ProductsCreated)
	assert.Equal(t, 1, r.ProductsUpdated)
	assert.Equal(t, 1, r.ProductsSkipped)
	assert.Equal(t, 3, r.VariantsCreated)
	assert.Equal(t, 3, r.VariantsUpdated)
	assert.Equal(t, []string{"A", "B"}, r.SyncedProducts)
	assert.Equal(t, []string{
		"product C: skipped", "product D: bad",
	}, r.Errors)
}
