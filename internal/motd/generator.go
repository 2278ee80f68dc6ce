package motd

import (
	"fmt"
	"math/rand/v2"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// Source is the content a generator draws its combinations from.
type Source struct {
	VersionName  string
	Descriptions []string
	Favicons     []string
	Information  []string
}

// BuildDeps carries the collaborators a generation pass needs.
type BuildDeps struct {
	Renderer TextRenderer
	Favicons *FaviconCache
	Logger   zerolog.Logger
}

// Variant is one content combination built for every era of its
// generator.
type Variant struct {
	Content Content
	holders [eraCount]*Holder
}

// Holder returns the variant's holder for era, or nil.
func (v *Variant) Holder(era Era) *Holder {
	return v.holders[era]
}

func (v *Variant) dispose() {
	for _, h := range v.holders {
		if h != nil {
			h.Dispose()
		}
	}
}

// Generator holds the cross product of descriptions and favicons and
// picks one combination at random per request.
type Generator struct {
	name     string
	eras     EraSet
	variants []*Variant
	problems []error
}

// NewGenerator builds every combination of src for the eras in set.
// Combinations that fail are skipped and reported through Problems; the
// generator only fails when not even the fallback content builds.
func NewGenerator(name string, src Source, set EraSet, deps BuildDeps) (*Generator, error) {
	g := &Generator{name: name, eras: set}

	descriptions := src.Descriptions
	if len(descriptions) == 0 {
		descriptions = []string{""}
	}
	favicons := src.Favicons
	if len(favicons) == 0 {
		favicons = []string{""}
	}

	var errs error
	for _, description := range descriptions {
		for _, favicon := range favicons {
			c := Content{
				VersionName: src.VersionName,
				Description: description,
				Information: src.Information,
			}
			if favicon != "" && deps.Favicons != nil {
				url, err := deps.Favicons.Load(favicon)
				if err != nil {
					errs = multierr.Append(errs, fmt.Errorf("favicon %q: %w", favicon, err))
				}
				c.Favicon = url
			}

			v, err := buildVariant(c, set, deps.Renderer)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("description %q: %w", truncate(description, 32), err))
				continue
			}
			g.variants = append(g.variants, v)
		}
	}

	if len(g.variants) == 0 {
		v, err := buildVariant(Content{VersionName: src.VersionName}, set, deps.Renderer)
		if err != nil {
			return nil, multierr.Append(errs, fmt.Errorf("generator %s: fallback content failed: %w", name, err))
		}
		g.variants = append(g.variants, v)
	}

	g.problems = multierr.Errors(errs)
	if errs != nil {
		deps.Logger.Warn().
			Err(errs).
			Str("generator", name).
			Int("variants", len(g.variants)).
			Int("problems", len(g.problems)).
			Msg("some content combinations were skipped or built without favicon")
	}
	return g, nil
}

func buildVariant(c Content, set EraSet, r TextRenderer) (*Variant, error) {
	compat, err := newCompatPing(c, r)
	if err != nil {
		return nil, err
	}

	v := &Variant{Content: c}
	for _, era := range set.Eras() {
		p, err := Build(era, c, r)
		if err != nil {
			v.dispose()
			return nil, fmt.Errorf("%s: %w", era, err)
		}
		v.holders[era] = NewHolder(p, compat)
	}
	return v, nil
}

// Name identifies the generator in logs and stats.
func (g *Generator) Name() string {
	return g.name
}

// Eras returns the eras the generator built.
func (g *Generator) Eras() EraSet {
	return g.eras
}

// Variants returns the built combinations.
func (g *Generator) Variants() []*Variant {
	return g.variants
}

// Problems returns the per-combination errors of the generation pass.
func (g *Generator) Problems() []error {
	return g.problems
}

// Next returns the holder for era of a uniformly chosen combination, or
// nil when the generator does not build era.
func (g *Generator) Next(era Era) *Holder {
	if !g.eras.Has(era) {
		return nil
	}
	if len(g.variants) == 1 {
		return g.variants[0].holders[era]
	}
	return g.variants[rand.IntN(len(g.variants))].holders[era]
}

// EachHolder calls fn for every holder.
func (g *Generator) EachHolder(fn func(*Holder)) {
	for _, v := range g.variants {
		for _, h := range v.holders {
			if h != nil {
				fn(h)
			}
		}
	}
}

// Dispose retires every holder.
func (g *Generator) Dispose() {
	for _, v := range g.variants {
		v.dispose()
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
