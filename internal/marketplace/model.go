package marketplace

import (
	"strings"

	"github.com/sudo-init-do/channelhub/internal/model"
)

// CreateListingRequest is the body of POST /listings.
type CreateListingRequest struct {
	Title       string `json:"title" validate:"required,max=120"`
	Description string `json:"description" validate:"max=4000"`
	Price       int64  `json:"price" validate:"gt=0"`
	Category    string `json:"category" validate:"max=60"`
}

// UpdateListingRequest is the body of PATCH /listings/:id. Omitted fields
// are left alone.
type UpdateListingRequest struct {
	Title       *string `json:"title" validate:"omitempty,max=120"`
	Description *string `json:"description" validate:"omitempty,max=4000"`
	Price       *int64  `json:"price" validate:"omitempty,gt=0"`
	Category    *string `json:"category" validate:"omitempty,max=60"`
}

// SaleRequest is the body of POST /listings/:id/sales.
type SaleRequest struct {
	TransactionID string `json:"transactionId" validate:"required,max=128"`
}

// Filter narrows the public catalogue.
type Filter struct {
	Query    string
	Category string
	MinPrice int64
	MaxPrice int64
	Limit    int
	Offset   int
}

func (f Filter) match(l model.Listing) bool {
	if f.Query != "" {
		q := strings.ToLower(f.Query)
		if !strings.Contains(strings.ToLower(l.Title), q) && !strings.Contains(strings.ToLower(l.Description), q) {
			return false
		}
	}
	if f.Category != "" && !strings.EqualFold(l.Category, f.Category) {
		return false
	}
	if f.MinPrice > 0 && l.Price < f.MinPrice {
		return false
	}
	if f.MaxPrice > 0 && l.Price > f.MaxPrice {
		return false
	}
	return true
}

// page applies offset and limit to an already filtered slice.
func (f Filter) page(ls []model.Listing) []model.Listing {
	if f.Offset >= len(ls) {
		return []model.Listing{}
	}
	ls = ls[f.Offset:]
	if f.Limit > 0 && f.Limit < len(ls) {
		ls = ls[:f.Limit]
	}
	return ls
}

// public hides payment transaction ids from buyers.
func public(l model.Listing) model.Listing {
	l.Sales = nil
	return l
}

func publicAll(ls []model.Listing) []model.Listing {
	out := make([]model.Listing, len(ls))
	for i, l := range ls {
		out[i] = public(l)
	}
	return out
}
