// Package records is the typed boundary over storage.Store. Every record
// leaving the store is decoded into its model type and validated; scans skip
// and count malformed records instead of handing them to business logic.
package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/google/uuid"

	"github.com/sudo-init-do/channelhub/internal/model"
	"github.com/sudo-init-do/channelhub/internal/observability"
	"github.com/sudo-init-do/channelhub/internal/storage"
)

// ErrLostUpdate reports that a concurrent writer replaced a value between
// the write and the confirming re-read.
var ErrLostUpdate = errors.New("update lost to concurrent writer")

type Repository struct {
	store   storage.Store
	logger  *slog.Logger
	metrics *observability.Metrics
}

func New(store storage.Store, logger *slog.Logger, metrics *observability.Metrics) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{store: store, logger: logger, metrics: metrics}
}

// Store exposes the underlying store for writes.
func (r *Repository) Store() storage.Store { return r.store }

func AccountPath(id string) string    { return storage.Join(model.CollectionAccounts, id) }
func ListingPath(id string) string    { return storage.Join(model.CollectionListings, id) }
func WithdrawalPath(id string) string { return storage.Join(model.CollectionWithdrawals, id) }

// ReferralBonusPath is the audit record path for one referrer and referred
// pair. The id is stable for the pair.
func ReferralBonusPath(referrerID, referredID string) string {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(referrerID+"/"+referredID))
	return storage.Join(model.CollectionReferralBonuses, id.String())
}

func (r *Repository) Account(ctx context.Context, id string) (model.Account, error) {
	raw, err := r.store.Get(ctx, AccountPath(id))
	if err != nil {
		return model.Account{}, err
	}
	return model.DecodeAccount(id, raw)
}

func (r *Repository) Accounts(ctx context.Context) ([]model.Account, error) {
	recs, err := r.store.List(ctx, model.CollectionAccounts)
	if err != nil {
		return nil, err
	}
	out := make([]model.Account, 0, len(recs))
	for _, rec := range recs {
		a, err := model.DecodeAccount(rec.ID, rec.Value)
		if err != nil {
			r.quarantine(model.CollectionAccounts, rec.ID, err)
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// FindByReferralCode scans all accounts for an exact, case-sensitive code
// match. There is no index; the scan is linear in the number of accounts.
func (r *Repository) FindByReferralCode(ctx context.Context, code string) (model.Account, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return model.Account{}, storage.ErrNotFound
	}
	accounts, err := r.Accounts(ctx)
	if err != nil {
		return model.Account{}, err
	}
	for _, a := range accounts {
		if a.ReferralCode == code {
			return a, nil
		}
	}
	return model.Account{}, storage.ErrNotFound
}

func (r *Repository) Listing(ctx context.Context, id string) (model.Listing, error) {
	raw, err := r.store.Get(ctx, ListingPath(id))
	if err != nil {
		return model.Listing{}, err
	}
	return model.DecodeListing(id, raw)
}

func (r *Repository) Listings(ctx context.Context) ([]model.Listing, error) {
	recs, err := r.store.List(ctx, model.CollectionListings)
	if err != nil {
		return nil, err
	}
	out := make([]model.Listing, 0, len(recs))
	for _, rec := range recs {
		l, err := model.DecodeListing(rec.ID, rec.Value)
		if err != nil {
			r.quarantine(model.CollectionListings, rec.ID, err)
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (r *Repository) Withdrawal(ctx context.Context, id string) (model.Withdrawal, error) {
	raw, err := r.store.Get(ctx, WithdrawalPath(id))
	if err != nil {
		return model.Withdrawal{}, err
	}
	return model.DecodeWithdrawal(id, raw)
}

func (r *Repository) Withdrawals(ctx context.Context) ([]model.Withdrawal, error) {
	recs, err := r.store.List(ctx, model.CollectionWithdrawals)
	if err != nil {
		return nil, err
	}
	out := make([]model.Withdrawal, 0, len(recs))
	for _, rec := range recs {
		w, err := model.DecodeWithdrawal(rec.ID, rec.Value)
		if err != nil {
			r.quarantine(model.CollectionWithdrawals, rec.ID, err)
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

func (r *Repository) ReferralBonuses(ctx context.Context) ([]model.ReferralBonus, error) {
	recs, err := r.store.List(ctx, model.CollectionReferralBonuses)
	if err != nil {
		return nil, err
	}
	out := make([]model.ReferralBonus, 0, len(recs))
	for _, rec := range recs {
		b, err := model.DecodeReferralBonus(rec.ID, rec.Value)
		if err != nil {
			r.quarantine(model.CollectionReferralBonuses, rec.ID, err)
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (r *Repository) quarantine(collection, id string, err error) {
	r.metrics.MalformedRecord(collection)
	r.logger.Warn("skipping malformed record", "collection", collection, "id", id, "error", err)
}

// Reconcile performs a client-side read/compute/write on one record and then
// re-reads it. compute receives the current document (empty when missing) and
// returns the patch to write; a nil patch writes nothing. Any patched field
// whose re-read value differs from what was written is counted as a lost
// update and ErrLostUpdate is returned. Reconcile never retries.
func (r *Repository) Reconcile(ctx context.Context, path string, compute func(doc map[string]any) (storage.Patch, error)) error {
	collection, _, err := storage.Split(path)
	if err != nil {
		return err
	}
	before, err := r.document(ctx, path)
	if err != nil {
		return err
	}
	patch, err := compute(before)
	if err != nil {
		return err
	}
	if len(patch) == 0 {
		return nil
	}
	for field, v := range patch {
		if storage.IsConditional(v) {
			return fmt.Errorf("reconcile %s: %s depends on the stored value, use Update", path, field)
		}
	}
	if err := r.store.Update(ctx, path, patch); err != nil {
		return err
	}

	after, err := r.document(ctx, path)
	if err != nil {
		return fmt.Errorf("reconcile re-read %s: %w", path, err)
	}
	expected := map[string]any{}
	if err := storage.Apply(expected, patch); err != nil {
		return err
	}

	var lost []string
	for field := range patch {
		want, _ := lookup(expected, field)
		got, _ := lookup(after, field)
		if !reflect.DeepEqual(want, got) {
			lost = append(lost, field)
			r.metrics.LostUpdate(collection, field)
		}
	}
	if len(lost) > 0 {
		r.logger.Warn("lost update detected", "path", path, "fields", lost)
		return fmt.Errorf("%w: %s %v", ErrLostUpdate, path, lost)
	}
	return nil
}

func (r *Repository) document(ctx context.Context, path string) (map[string]any, error) {
	raw, err := r.store.Get(ctx, path)
	if errors.Is(err, storage.ErrNotFound) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	doc := map[string]any{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", model.ErrMalformed, path, err)
	}
	return doc, nil
}

func lookup(doc map[string]any, key string) (any, bool) {
	parts := strings.Split(key, "/")
	cur := doc
	for i, p := range parts {
		v, ok := cur[p]
		if !ok {
			return nil, false
		}
		if i == len(parts)-1 {
			return v, true
		}
		next, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return nil, false
}
