package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Listing moderation status.
const (
	StatusPending  = "pending"
	StatusActive   = "active"
	StatusRejected = "rejected"
)

// Listing approval verdicts.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)

// Synthetic engagement field names as stored.
const (
	FieldLikes          = "likes"
	FieldComments       = "comments"
	FieldRating         = "rating"
	FieldSoldCount      = "soldCount"
	FieldFollowerCount  = "followerCount"
	FieldEngagementRate = "engagementRate"
	FieldViews          = "views"
	FieldFakePrice      = "fakePrice"
)

// SyntheticFields lists every generated field in a stable order.
var SyntheticFields = []string{
	FieldLikes, FieldComments, FieldRating, FieldSoldCount,
	FieldFollowerCount, FieldEngagementRate, FieldViews, FieldFakePrice,
}

// Listing is a seller's channel offered as a course. Synthetic fields are
// pointers so an absent value is distinguishable from zero.
type Listing struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	Price           int64     `json:"price"`
	Category        string    `json:"category,omitempty"`
	SellerID        string    `json:"sellerId"`
	Status          string    `json:"status"`
	ApprovalStatus  string    `json:"approvalStatus"`
	Blocked         bool      `json:"blocked"`
	BlockReason     string    `json:"blockReason,omitempty"`
	RejectionReason string    `json:"rejectionReason,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt,omitempty"`

	// Sales maps payment transaction ids already counted in SoldCount.
	Sales map[string]string `json:"sales,omitempty"`

	Likes          *int64   `json:"likes,omitempty"`
	Comments       *int64   `json:"comments,omitempty"`
	Rating         *float64 `json:"rating,omitempty"`
	SoldCount      *int64   `json:"soldCount,omitempty"`
	FollowerCount  *int64   `json:"followerCount,omitempty"`
	EngagementRate *float64 `json:"engagementRate,omitempty"`
	Views          *int64   `json:"views,omitempty"`
	FakePrice      *int64   `json:"fakePrice,omitempty"`
}

// Visible reports whether buyers may see the listing.
func (l Listing) Visible() bool {
	return l.ApprovalStatus == ApprovalApproved && l.Status == StatusActive && !l.Blocked
}

// HasField reports whether the named synthetic field is present.
func (l Listing) HasField(name string) bool {
	switch name {
	case FieldLikes:
		return l.Likes != nil
	case FieldComments:
		return l.Comments != nil
	case FieldRating:
		return l.Rating != nil
	case FieldSoldCount:
		return l.SoldCount != nil
	case FieldFollowerCount:
		return l.FollowerCount != nil
	case FieldEngagementRate:
		return l.EngagementRate != nil
	case FieldViews:
		return l.Views != nil
	case FieldFakePrice:
		return l.FakePrice != nil
	}
	return false
}

// Validate checks required fields and enum values.
func (l Listing) Validate() error {
	switch {
	case strings.TrimSpace(l.Title) == "":
		return fmt.Errorf("%w: listing %s has no title", ErrMalformed, l.ID)
	case l.Price < 0:
		return fmt.Errorf("%w: listing %s has negative price", ErrMalformed, l.ID)
	case l.Status != StatusPending && l.Status != StatusActive && l.Status != StatusRejected:
		return fmt.Errorf("%w: listing %s has status %q", ErrMalformed, l.ID, l.Status)
	case l.ApprovalStatus != ApprovalPending && l.ApprovalStatus != ApprovalApproved && l.ApprovalStatus != ApprovalRejected:
		return fmt.Errorf("%w: listing %s has approval status %q", ErrMalformed, l.ID, l.ApprovalStatus)
	}
	return nil
}

// DecodeListing parses and validates a stored listing.
func DecodeListing(id string, raw []byte) (Listing, error) {
	var l Listing
	if err := json.Unmarshal(raw, &l); err != nil {
		return Listing{}, fmt.Errorf("%w: listing %s: %v", ErrMalformed, id, err)
	}
	l.ID = id
	if err := l.Validate(); err != nil {
		return Listing{}, err
	}
	return l, nil
}
