// Package fusion implements the Fusion Search (spec §4.7): a parallel query
// across the entity, relationship, semantic, and concept indices, combined
// by weighted rank fusion with a diversity boost for triples multiple
// strategies agree on.
package fusion

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/knowledgecore/pipeline/pkg/config"
	"github.com/knowledgecore/pipeline/pkg/domain"
	"github.com/knowledgecore/pipeline/pkg/embedder"
	"github.com/knowledgecore/pipeline/pkg/metrics"
	"github.com/knowledgecore/pipeline/pkg/pipelineerr"
	"github.com/knowledgecore/pipeline/pkg/store"
)

// Strategy names one of the four retrieval strategies fusion combines.
type Strategy string

const (
	StrategyEntity       Strategy = "entity"
	StrategyRelationship Strategy = "relationship"
	StrategySemantic     Strategy = "semantic"
	StrategyConcept      Strategy = "concept"
)

// allStrategies is the default enabled set, in a stable iteration order so
// equal-score ties resolve deterministically across runs.
var allStrategies = []Strategy{StrategyEntity, StrategyRelationship, StrategySemantic, StrategyConcept}

// Options parameterizes a single fusion search call. DefaultOptions fills
// it from the fusion config; for a zero value, Search uses a TopK of 10,
// the default weights, and all four strategies.
type Options struct {
	TopK              int
	MinScore          float64
	Weights           config.FusionWeights
	EnabledStrategies []Strategy
	Sources           []string
	Types             []domain.TripleType
	Temporal          *store.Temporal
}

// DefaultOptions builds Options from the fusion config defaults, enabling
// all four strategies.
func DefaultOptions(cfg config.FusionConfig) Options {
	return Options{
		TopK:              cfg.TopK,
		MinScore:          cfg.MinScore,
		Weights:           cfg.Weights,
		EnabledStrategies: allStrategies,
	}
}

func (o Options) enables(s Strategy) bool {
	if len(o.EnabledStrategies) == 0 {
		return true
	}
	for _, e := range o.EnabledStrategies {
		if e == s {
			return true
		}
	}
	return false
}

func (o Options) searchOptions() *store.SearchOptions {
	return &store.SearchOptions{
		Sources:   o.Sources,
		Types:     o.Types,
		Limit:     o.TopK,
		Threshold: o.MinScore,
		Temporal:  o.Temporal,
	}
}

func (o Options) weight(s Strategy) float64 {
	switch s {
	case StrategyEntity:
		return o.Weights.Entity
	case StrategyRelationship:
		return o.Weights.Relationship
	case StrategySemantic:
		return o.Weights.Semantic
	case StrategyConcept:
		return o.Weights.Concept
	default:
		return 0
	}
}

// Scores reports the per-strategy and fused score for one triple result.
type Scores struct {
	Entity       *float64
	Relationship *float64
	Semantic     *float64
	Concept      *float64
	Fusion       float64
}

// Result is one triple returned by a fusion search, with the per-strategy
// scores that contributed to it and the fused rank it was sorted by.
type Result struct {
	Triple      domain.Triple
	Scores      Scores
	SearchTypes []Strategy
}

// Searcher runs fusion searches against a store.Adapter and an embedder.
type Searcher struct {
	store store.Adapter
	emb   embedder.Embedder
	log   *slog.Logger
}

// New builds a Searcher.
func New(adapter store.Adapter, emb embedder.Embedder) *Searcher {
	return &Searcher{store: adapter, emb: emb, log: slog.With("component", "fusion_search")}
}

// strategyHit is one triple a strategy's query produced, in the rank order
// the strategy itself returned it (position within that order is what
// fuse turns into a position score — the raw similarity score is not
// itself part of the fusion formula per spec §4.7).
type strategyHit struct {
	triple domain.Triple
}

// Search runs the fusion algorithm of spec §4.7: embed the query once (if
// any vector strategy is enabled), query every enabled strategy in
// parallel, rank-fuse the per-strategy position scores with a diversity
// boost, and return the top TopK triples by fused score.
func (s *Searcher) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	start := time.Now()
	defer func() { metrics.RecordFusionSearchDuration(time.Since(start)) }()

	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	if opts.Weights == (config.FusionWeights{}) {
		opts.Weights = config.FusionWeights{Entity: 0.3, Relationship: 0.2, Semantic: 0.3, Concept: 0.2}
	}

	var queryVec domain.Vector
	var embedErr error
	needsVector := opts.enables(StrategyEntity) || opts.enables(StrategyRelationship) ||
		opts.enables(StrategySemantic) || opts.enables(StrategyConcept)
	if needsVector && s.emb != nil {
		queryVec, embedErr = s.emb.Embed(ctx, query)
		if embedErr != nil {
			s.log.Warn("fusion search: query embedding failed, falling back to substring search", "error", embedErr)
		}
	}

	type strategyOutcome struct {
		strategy Strategy
		hits     []strategyHit
		err      error
	}

	var wg sync.WaitGroup
	outcomes := make([]strategyOutcome, 0, len(allStrategies))
	var mu sync.Mutex

	run := func(strategy Strategy, fn func() ([]strategyHit, error)) {
		if !opts.enables(strategy) {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			hits, err := fn()
			mu.Lock()
			outcomes = append(outcomes, strategyOutcome{strategy: strategy, hits: hits, err: err})
			mu.Unlock()
		}()
	}

	run(StrategyEntity, func() ([]strategyHit, error) {
		return s.searchEntity(ctx, query, queryVec, embedErr != nil, opts)
	})
	run(StrategyRelationship, func() ([]strategyHit, error) {
		return s.searchRelationship(ctx, query, queryVec, embedErr != nil, opts)
	})
	run(StrategySemantic, func() ([]strategyHit, error) {
		return s.searchSemantic(ctx, queryVec, embedErr != nil, opts)
	})
	run(StrategyConcept, func() ([]strategyHit, error) {
		return s.searchConcept(ctx, query, queryVec, embedErr != nil, opts)
	})

	wg.Wait()

	succeeded := 0
	byStrategy := make(map[Strategy][]strategyHit, len(outcomes))
	for _, o := range outcomes {
		if o.err != nil {
			s.log.Warn("fusion search: strategy failed", "strategy", o.strategy, "error", o.err)
			continue
		}
		succeeded++
		byStrategy[o.strategy] = o.hits
	}

	if len(outcomes) > 0 && succeeded == 0 {
		return nil, pipelineerr.Wrap(pipelineerr.OpFusionSearchError, "all enabled search strategies failed", outcomes[0].err)
	}

	return fuse(byStrategy, opts), nil
}

// fuse implements spec §4.7 steps 4-5: position scoring per strategy,
// weighted aggregation, diversity boost, and descending sort.
func fuse(byStrategy map[Strategy][]strategyHit, opts Options) []Result {
	type agg struct {
		triple      domain.Triple
		perStrategy map[Strategy]float64
	}
	aggregates := make(map[string]*agg)
	var order []string

	for _, strategy := range allStrategies {
		hits, ok := byStrategy[strategy]
		if !ok {
			continue
		}
		n := len(hits)
		for i, hit := range hits {
			id := hit.triple.WithID().ID
			a, exists := aggregates[id]
			if !exists {
				a = &agg{triple: hit.triple, perStrategy: make(map[Strategy]float64)}
				aggregates[id] = a
				order = append(order, id)
			}
			position := float64(n-i) / float64(n)
			a.perStrategy[strategy] = position
		}
	}

	results := make([]Result, 0, len(order))
	for _, id := range order {
		a := aggregates[id]

		var weightedSum, weightSum float64
		for strategy, pos := range a.perStrategy {
			w := opts.weight(strategy)
			weightedSum += pos * w
			weightSum += w
		}
		fusionScore := 0.0
		if weightSum > 0 {
			fusionScore = weightedSum / weightSum
		}

		k := len(a.perStrategy)
		diversity := 1 + 0.2*math.Log(1+float64(k))/math.Log(5)
		fusionScore *= diversity

		scores := Scores{Fusion: fusionScore}
		var types []Strategy
		for _, strategy := range allStrategies {
			pos, ok := a.perStrategy[strategy]
			if !ok {
				continue
			}
			types = append(types, strategy)
			v := pos
			switch strategy {
			case StrategyEntity:
				scores.Entity = &v
			case StrategyRelationship:
				scores.Relationship = &v
			case StrategySemantic:
				scores.Semantic = &v
			case StrategyConcept:
				scores.Concept = &v
			}
		}

		results = append(results, Result{Triple: a.triple, Scores: scores, SearchTypes: types})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Scores.Fusion > results[j].Scores.Fusion
	})

	if opts.TopK > 0 && len(results) > opts.TopK {
		results = results[:opts.TopK]
	}
	return results
}

func (s *Searcher) searchEntity(ctx context.Context, query string, vec domain.Vector, fallback bool, opts Options) ([]strategyHit, error) {
	if !fallback && vec != nil {
		scored, err := s.store.SearchEntityByEmbedding(ctx, vec, opts.TopK, opts.MinScore, opts.searchOptions())
		if err != nil {
			return nil, err
		}
		return toHits(scored), nil
	}
	triples, err := s.store.SearchByEntity(ctx, query, opts.TopK, opts.searchOptions())
	if err != nil {
		return nil, err
	}
	return toHitsUnscored(triples), nil
}

func (s *Searcher) searchRelationship(ctx context.Context, query string, vec domain.Vector, fallback bool, opts Options) ([]strategyHit, error) {
	if !fallback && vec != nil {
		scored, err := s.store.SearchRelationshipByEmbedding(ctx, vec, opts.TopK, opts.MinScore, opts.searchOptions())
		if err != nil {
			return nil, err
		}
		return toHits(scored), nil
	}
	triples, err := s.store.SearchByRelationship(ctx, query, opts.TopK, opts.searchOptions())
	if err != nil {
		return nil, err
	}
	return toHitsUnscored(triples), nil
}

func (s *Searcher) searchSemantic(ctx context.Context, vec domain.Vector, fallback bool, opts Options) ([]strategyHit, error) {
	if fallback || vec == nil {
		// No substring fallback is defined for the pure semantic strategy in
		// spec §4.7 (only entity/relationship/concept have one); skip it.
		return nil, nil
	}
	scored, err := s.store.SearchByEmbedding(ctx, vec, opts.TopK, opts.MinScore, opts.searchOptions())
	if err != nil {
		return nil, err
	}
	return toHits(scored), nil
}

// searchConcept implements the indirect concept strategy: find CONCEPT
// vectors (or substring-matching concepts on fallback) similar to the
// query, follow each concept's conceptualization links to the triple
// elements that belong to it, and collect every triple containing one of
// those elements as subject/predicate/object, deduped by identity.
func (s *Searcher) searchConcept(ctx context.Context, query string, vec domain.Vector, fallback bool, opts Options) ([]strategyHit, error) {
	var concepts []domain.Concept
	if !fallback && vec != nil {
		scoredConcepts, err := s.store.SearchConceptsByEmbedding(ctx, vec, opts.TopK, opts.MinScore)
		if err != nil {
			return nil, err
		}
		for _, sc := range scoredConcepts {
			concepts = append(concepts, sc.Concept)
		}
	} else {
		found, err := s.store.SearchByConcept(ctx, query, opts.TopK)
		if err != nil {
			return nil, err
		}
		concepts = found
	}

	elements := make(map[string]struct{})
	for _, c := range concepts {
		links, err := s.store.GetConceptualizationsByConcept(ctx, c.Concept)
		if err != nil {
			return nil, err
		}
		for _, link := range links {
			elements[link.SourceElement] = struct{}{}
		}
	}
	if len(elements) == 0 {
		return nil, nil
	}

	elementList := make([]string, 0, len(elements))
	for e := range elements {
		elementList = append(elementList, e)
	}

	triples, err := s.store.GetTriplesByElements(ctx, elementList)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(triples))
	var deduped []domain.Triple
	for _, t := range triples {
		id := t.WithID().ID
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		deduped = append(deduped, t)
	}
	if opts.TopK > 0 && len(deduped) > opts.TopK {
		deduped = deduped[:opts.TopK]
	}
	return toHitsUnscored(deduped), nil
}

func toHits(scored []store.ScoredTriple) []strategyHit {
	hits := make([]strategyHit, len(scored))
	for i, sc := range scored {
		hits[i] = strategyHit{triple: sc.Triple}
	}
	return hits
}

// toHitsUnscored wraps substring-fallback results, which carry no
// similarity score, preserving the adapter's own rank order so position
// scoring still applies.
func toHitsUnscored(triples []domain.Triple) []strategyHit {
	hits := make([]strategyHit, len(triples))
	for i, t := range triples {
		hits[i] = strategyHit{triple: t}
	}
	return hits
}
