package product

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestEffectivePrice(t *testing.T) {
	discount := decimal.NewFromInt(80)
	zero := decimal.Zero

	tests := []struct {
		name    string
		product Product
		want    decimal.Decimal
	}{
		{
			name:    "no discount price",
			product: Product{Price: decimal.NewFromInt(100)},
			want:    decimal.NewFromInt(100),
		},
		{
			name:    "positive discount price wins",
			product: Product{Price: decimal.NewFromInt(100), DiscountPrice: &discount},
			want:    decimal.NewFromInt(80),
		},
		{
			name:    "zero discount price ignored",
			product: Product{Price: decimal.NewFromInt(100), DiscountPrice: &zero},
			want:    decimal.NewFromInt(100),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.product.EffectivePrice()
			assert.True(t, tt.want.Equal(got), "expected %s, got %s", tt.want, got)
		})
	}
}

func TestFindVariant(t *testing.T) {
	p := Product{
		Variants: []Variant{
			{Position: 0, Color: "red", Size: "S", Stock: intPtr(1)},
			{Position: 1, Color: "red", Size: "M", Stock: intPtr(2)},
			{Position: 2, Color: "blue", Size: "M", Stock: intPtr(3)},
		},
	}

	tests := []struct {
		name    string
		sel     VariantSelector
		wantPos int
		wantNil bool
	}{
		{name: "exact match", sel: VariantSelector{Color: "blue", Size: "M"}, wantPos: 2},
		{name: "color only takes first", sel: VariantSelector{Color: "red"}, wantPos: 0},
		{name: "size only takes first", sel: VariantSelector{Size: "M"}, wantPos: 1},
		{name: "wildcard takes first", sel: VariantSelector{}, wantPos: 0},
		{name: "no match", sel: VariantSelector{Color: "green"}, wantNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := p.FindVariant(tt.sel)
			if tt.wantNil {
				assert.Nil(t, v)
				return
			}
			require.NotNil(t, v)
			assert.Equal(t, tt.wantPos, v.Position)
		})
	}
}

func TestFindVariant_NoVariants(t *testing.T) {
	p := Product{}
	assert.Nil(t, p.FindVariant(VariantSelector{Color: "red"}))
}
