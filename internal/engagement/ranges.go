package engagement

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type IntRange struct {
	Min int64 `yaml:"min"`
	Max int64 `yaml:"max"`
}

type FloatRange struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Ranges bounds every generated field. PriceMultiplier scales the listing
// price into fakePrice.
type Ranges struct {
	Likes           IntRange   `yaml:"likes"`
	Comments        IntRange   `yaml:"comments"`
	Rating          FloatRange `yaml:"rating"`
	SoldCount       IntRange   `yaml:"sold_count"`
	FollowerCount   IntRange   `yaml:"follower_count"`
	EngagementRate  FloatRange `yaml:"engagement_rate"`
	Views           IntRange   `yaml:"views"`
	PriceMultiplier FloatRange `yaml:"price_multiplier"`
}

func DefaultRanges() Ranges {
	return Ranges{
		Likes:           IntRange{100, 500},
		Comments:        IntRange{10, 120},
		Rating:          FloatRange{3.5, 5.0},
		SoldCount:       IntRange{20, 300},
		FollowerCount:   IntRange{1000, 50000},
		EngagementRate:  FloatRange{1.5, 12.0},
		Views:           IntRange{1000, 25000},
		PriceMultiplier: FloatRange{2.0, 3.5},
	}
}

// LoadRanges reads overrides from a YAML file on top of the defaults.
// Fields missing from the file keep their default bounds.
func LoadRanges(path string) (Ranges, error) {
	r := DefaultRanges()
	if path == "" {
		return r, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Ranges{}, fmt.Errorf("read engagement ranges: %w", err)
	}
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Ranges{}, fmt.Errorf("parse engagement ranges: %w", err)
	}
	if err := r.Validate(); err != nil {
		return Ranges{}, err
	}
	return r, nil
}

func (r Ranges) Validate() error {
	ints := map[string]IntRange{
		"likes": r.Likes, "comments": r.Comments, "sold_count": r.SoldCount,
		"follower_count": r.FollowerCount, "views": r.Views,
	}
	for name, ir := range ints {
		if ir.Min < 0 || ir.Max < ir.Min {
			return fmt.Errorf("engagement range %s: invalid bounds [%d, %d]", name, ir.Min, ir.Max)
		}
	}
	floats := map[string]FloatRange{
		"rating": r.Rating, "engagement_rate": r.EngagementRate, "price_multiplier": r.PriceMultiplier,
	}
	for name, fr := range floats {
		if fr.Min < 0 || fr.Max < fr.Min {
			return fmt.Errorf("engagement range %s: invalid bounds [%g, %g]", name, fr.Min, fr.Max)
		}
	}
	return nil
}
