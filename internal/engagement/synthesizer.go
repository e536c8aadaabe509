// Package engagement backfills synthetic popularity metrics on listings and
// applies buyer interactions to them.
package engagement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/sudo-init-do/channelhub/internal/model"
	"github.com/sudo-init-do/channelhub/internal/observability"
	"github.com/sudo-init-do/channelhub/internal/records"
	"github.com/sudo-init-do/channelhub/internal/storage"
)

var (
	ErrInvalidDelta     = errors.New("interaction delta must be positive")
	ErrNotCounter       = errors.New("field does not accept interactions")
	ErrMissingTxID      = errors.New("transaction id required")
	ErrDuplicateSale    = errors.New("sale already recorded")
	ErrListingNotActive = errors.New("listing is not visible to buyers")
)

// counters are the synthetic fields buyers can move.
var counters = map[string]bool{
	model.FieldLikes:     true,
	model.FieldComments:  true,
	model.FieldViews:     true,
	model.FieldSoldCount: true,
}

type Synthesizer struct {
	repo    *records.Repository
	ranges  Ranges
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

type Option func(*Synthesizer)

func WithRanges(r Ranges) Option {
	return func(s *Synthesizer) { s.ranges = r }
}

// WithRand fixes the random source, mostly for tests.
func WithRand(r *rand.Rand) Option {
	return func(s *Synthesizer) { s.rng = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Synthesizer) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Synthesizer) { s.metrics = m }
}

func WithClock(clock func() time.Time) Option {
	return func(s *Synthesizer) { s.now = clock }
}

func New(repo *records.Repository, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		repo:   repo,
		ranges: DefaultRanges(),
		logger: slog.Default(),
		now:    time.Now,
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Augment fills every absent synthetic field and returns the completed view
// together with a patch holding only the fields it generated. Present fields
// are never touched.
func (s *Synthesizer) Augment(l model.Listing) (model.Listing, storage.Patch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	patch := storage.Patch{}
	r := s.ranges
	if l.Likes == nil {
		l.Likes = s.intIn(r.Likes)
		patch[model.FieldLikes] = *l.Likes
	}
	if l.Comments == nil {
		l.Comments = s.intIn(r.Comments)
		patch[model.FieldComments] = *l.Comments
	}
	if l.Rating == nil {
		l.Rating = s.tenthIn(r.Rating)
		patch[model.FieldRating] = *l.Rating
	}
	if l.SoldCount == nil {
		l.SoldCount = s.intIn(r.SoldCount)
		patch[model.FieldSoldCount] = *l.SoldCount
	}
	if l.FollowerCount == nil {
		l.FollowerCount = s.intIn(r.FollowerCount)
		patch[model.FieldFollowerCount] = *l.FollowerCount
	}
	if l.EngagementRate == nil {
		l.EngagementRate = s.tenthIn(r.EngagementRate)
		patch[model.FieldEngagementRate] = *l.EngagementRate
	}
	if l.Views == nil {
		l.Views = s.intIn(r.Views)
		patch[model.FieldViews] = *l.Views
	}
	if l.FakePrice == nil {
		m := r.PriceMultiplier.Min + s.rng.Float64()*(r.PriceMultiplier.Max-r.PriceMultiplier.Min)
		fake := int64(math.Round(float64(l.Price) * m))
		l.FakePrice = &fake
		patch[model.FieldFakePrice] = fake
	}
	return l, patch
}

func (s *Synthesizer) intIn(r IntRange) *int64 {
	v := r.Min + s.rng.Int64N(r.Max-r.Min+1)
	return &v
}

// tenthIn draws from r rounded to one decimal, clamped back into r.
func (s *Synthesizer) tenthIn(r FloatRange) *float64 {
	v := math.Round((r.Min+s.rng.Float64()*(r.Max-r.Min))*10) / 10
	v = math.Max(r.Min, math.Min(r.Max, v))
	return &v
}

// Observe reads a listing and returns it with every synthetic field
// populated. Fields that were absent are persisted once with a set-if-absent
// merge, so a concurrent first reader cannot overwrite them. A persist failure
// is logged and the generated view is still returned.
func (s *Synthesizer) Observe(ctx context.Context, id string) (model.Listing, error) {
	l, err := s.repo.Listing(ctx, id)
	if err != nil {
		return model.Listing{}, err
	}
	return s.backfill(ctx, l), nil
}

// ObserveAll backfills a batch of already-loaded listings.
func (s *Synthesizer) ObserveAll(ctx context.Context, listings []model.Listing) []model.Listing {
	out := make([]model.Listing, 0, len(listings))
	for _, l := range listings {
		out = append(out, s.backfill(ctx, l))
	}
	return out
}

func (s *Synthesizer) backfill(ctx context.Context, l model.Listing) model.Listing {
	view, patch := s.Augment(l)
	if len(patch) == 0 {
		return view
	}

	guarded := make(storage.Patch, len(patch))
	for field, v := range patch {
		guarded[field] = storage.IfAbsent(v)
	}
	if err := s.repo.Store().Update(ctx, records.ListingPath(l.ID), guarded); err != nil {
		s.logger.Warn("persist synthetic metrics failed", "listing", l.ID, "error", err)
		return view
	}
	for field := range patch {
		s.metrics.FieldBackfilled(field)
	}

	// another reader may have won the race; report what is stored
	stored, err := s.repo.Listing(ctx, l.ID)
	if err != nil {
		return view
	}
	if final, rest := s.Augment(stored); len(rest) == 0 {
		return final
	}
	return view
}

// Like, Comment and View add one to the matching counter.
func (s *Synthesizer) Like(ctx context.Context, id string) (model.Listing, error) {
	return s.Add(ctx, id, model.FieldLikes, 1)
}

func (s *Synthesizer) Comment(ctx context.Context, id string) (model.Listing, error) {
	return s.Add(ctx, id, model.FieldComments, 1)
}

func (s *Synthesizer) View(ctx context.Context, id string) (model.Listing, error) {
	return s.Add(ctx, id, model.FieldViews, 1)
}

// Add increments a counter field by delta after making sure the listing has
// been backfilled, so the increment lands on the generated base value.
func (s *Synthesizer) Add(ctx context.Context, id, field string, delta int64) (model.Listing, error) {
	if delta <= 0 {
		return model.Listing{}, ErrInvalidDelta
	}
	if !counters[field] {
		return model.Listing{}, fmt.Errorf("%w: %s", ErrNotCounter, field)
	}
	l, err := s.Observe(ctx, id)
	if err != nil {
		return model.Listing{}, err
	}
	if !l.Visible() {
		return model.Listing{}, ErrListingNotActive
	}
	if err := s.repo.Store().Update(ctx, records.ListingPath(id), storage.Patch{field: storage.Increment(delta)}); err != nil {
		return model.Listing{}, fmt.Errorf("increment %s: %w", field, err)
	}
	s.metrics.Interaction(field)
	return s.repo.Listing(ctx, id)
}

// RecordSale counts one purchase identified by the payment gateway's
// transaction id. A transaction id already counted is refused.
func (s *Synthesizer) RecordSale(ctx context.Context, id, txID string) (model.Listing, error) {
	txID = strings.TrimSpace(txID)
	if txID == "" {
		return model.Listing{}, ErrMissingTxID
	}
	if strings.Contains(txID, "/") {
		return model.Listing{}, fmt.Errorf("%w: %q", storage.ErrInvalidPath, txID)
	}
	l, err := s.Observe(ctx, id)
	if err != nil {
		return model.Listing{}, err
	}
	if !l.Visible() {
		return model.Listing{}, ErrListingNotActive
	}
	if _, seen := l.Sales[txID]; seen {
		return model.Listing{}, ErrDuplicateSale
	}
	err = s.repo.Store().Update(ctx, records.ListingPath(id), storage.Patch{
		model.FieldSoldCount: storage.Increment(1),
		"sales/" + txID:      s.now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return model.Listing{}, fmt.Errorf("record sale: %w", err)
	}
	s.metrics.Interaction(model.FieldSoldCount)
	return s.repo.Listing(ctx, id)
}
