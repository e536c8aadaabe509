package referral

import (
	"context"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/sudo-init-do/channelhub/internal/observability"
)

// Source records where a referral code was found.
type Source string

const (
	SourceQuery    Source = "query"
	SourceFragment Source = "fragment"
	SourcePath     Source = "path"
	SourceCache    Source = "cache"
)

// Location is the navigable part of a client URL.
type Location struct {
	Query    url.Values
	Fragment string
	Path     string
}

// ParseLocation splits a full client URL (fragment included) into a Location.
func ParseLocation(raw string) (Location, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Location{}, err
	}
	return Location{Query: u.Query(), Fragment: u.Fragment, Path: u.Path}, nil
}

// Cache keeps the last resolved code between visits of one client.
type Cache interface {
	Load(ctx context.Context) (string, error)
	Store(ctx context.Context, code string) error
}

// Notifier is told about codes found on the current location.
type Notifier interface {
	ReferralDetected(ctx context.Context, code string, source Source) error
}

// Resolution is a normalized code and where it came from.
type Resolution struct {
	Code   string `json:"code"`
	Source Source `json:"source"`
}

type Resolver struct {
	notifier Notifier
	logger   *slog.Logger
	metrics  *observability.Metrics
}

func NewResolver(notifier Notifier, logger *slog.Logger, metrics *observability.Metrics) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{notifier: notifier, logger: logger, metrics: metrics}
}

// Resolve returns the first code found in strict precedence order: query
// ref, fragment inviteCode or ref, path /r/<code>, then the cache. A code
// found on the location is written to the cache before returning and a
// detection is emitted once; a cache hit emits nothing. Codes are not
// checked for existence here.
func (r *Resolver) Resolve(ctx context.Context, loc Location, cache Cache) (Resolution, bool) {
	res, ok := fromLocation(loc)
	if !ok {
		if cache == nil {
			return Resolution{}, false
		}
		cached, err := cache.Load(ctx)
		if err != nil {
			r.logger.Warn("referral cache read failed", "error", err)
			return Resolution{}, false
		}
		code := normalize(cached)
		if code == "" {
			return Resolution{}, false
		}
		return Resolution{Code: code, Source: SourceCache}, true
	}

	if cache != nil {
		if err := cache.Store(ctx, res.Code); err != nil {
			r.logger.Warn("referral cache write failed", "code", res.Code, "error", err)
		}
	}
	r.metrics.ReferralDetected(string(res.Source))
	if r.notifier != nil {
		if err := r.notifier.ReferralDetected(ctx, res.Code, res.Source); err != nil {
			r.logger.Warn("referral detected notification failed", "code", res.Code, "error", err)
		}
	}
	return res, true
}

func fromLocation(loc Location) (Resolution, bool) {
	if code := normalize(loc.Query.Get("ref")); code != "" {
		return Resolution{Code: code, Source: SourceQuery}, true
	}
	if code := fragmentCode(loc.Fragment); code != "" {
		return Resolution{Code: code, Source: SourceFragment}, true
	}
	if code := pathCode(loc.Path); code != "" {
		return Resolution{Code: code, Source: SourcePath}, true
	}
	return Resolution{}, false
}

// fragmentParam finds inviteCode=X or ref=X anywhere in a fragment, as long
// as the name starts the fragment or follows one of ? & / #.
var fragmentParam = regexp.MustCompile(`(?:^|[?&/#])(inviteCode|ref)=([^&#]*)`)

// fragmentCode reads inviteCode or ref from a fragment such as
// "/signup?inviteCode=X", "ref=X&utm=y" or "/join/ref=X". inviteCode wins
// when both are present.
func fragmentCode(fragment string) string {
	var ref string
	for _, m := range fragmentParam.FindAllStringSubmatch(fragment, -1) {
		value, err := url.QueryUnescape(m[2])
		if err != nil {
			value = m[2]
		}
		code := normalize(value)
		if code == "" {
			continue
		}
		if m[1] == "inviteCode" {
			return code
		}
		if ref == "" {
			ref = code
		}
	}
	return ref
}

func pathCode(path string) string {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	for i := 0; i+1 < len(segs); i++ {
		if segs[i] == "r" {
			if code := normalize(segs[i+1]); code != "" {
				return code
			}
		}
	}
	return ""
}

func normalize(code string) string {
	return strings.TrimSpace(code)
}

// MemoryCache is a Cache held in process memory.
type MemoryCache struct {
	Code string
}

func (m *MemoryCache) Load(context.Context) (string, error) { return m.Code, nil }

func (m *MemoryCache) Store(_ context.Context, code string) error {
	m.Code = code
	return nil
}
