package domain_test

import (
	"testing"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestProductFilterNormalize(t *testing.T) {
	f := domain.ProductFilter{Page: -1, Limit: 500, Sort: "random", MinPrice: -10}.Normalize()
	if f.Page != 1 || f.Limit != domain.MaxPageLimit {
		t.Fatalf("unexpected pagination: page=%d limit=%d", f.Page, f.Limit)
	}
	if f.Sort != domain.ProductSortNewest {
		t.Fatalf("unexpected sort: %s", f.Sort)
	}
	if f.MinPrice != 0 {
		t.Fatalf("negative min price must be dropped: %d", f.MinPrice)
	}

	f = domain.ProductFilter{Page: 3, Limit: 0}.Normalize()
	if f.Limit != domain.DefaultPageLimit || f.Offset() != 2*domain.DefaultPageLimit {
		t.Fatalf("unexpected offset: %d", f.Offset())
	}
}

func TestProductFilterMatches(t *testing.T) {
	lamp := domain.Product{Name: "Brass Lamp", Description: "warm light", Category: "lighting", Price: 1500, Active: true}

	cases := []struct {
		name   string
		filter domain.ProductFilter
		want   bool
	}{
		{name: "empty", filter: domain.ProductFilter{}, want: true},
		{name: "category case-insensitive", filter: domain.ProductFilter{Category: "Lighting"}, want: true},
		{name: "other category", filter: domain.ProductFilter{Category: "rugs"}, want: false},
		{name: "search description", filter: domain.ProductFilter{Search: "WARM"}, want: true},
		{name: "min price", filter: domain.ProductFilter{MinPrice: 2000}, want: false},
		{name: "max price", filter: domain.ProductFilter{MaxPrice: 1500}, want: true},
	}
	for _, tc := range cases {
		if got := tc.filter.Matches(lamp); got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}

	lamp.Active = false
	if (domain.ProductFilter{}).Matches(lamp) {
		t.Fatal("inactive products never match")
	}
}

func TestProductOrderable(t *testing.T) {
	p := domain.Product{Active: true, StockQuantity: 3}
	if !p.Orderable(3) || p.Orderable(4) || p.Orderable(0) {
		t.Fatal("unexpected orderable result")
	}
	p.Active = false
	if p.Orderable(1) {
		t.Fatal("inactive product must not be orderable")
	}
}
