// Package pipeline runs the augmentation end to end: load, quality filter,
// normalize, feature selection, neighbor graph, aggregation and matrix
// assembly, with the graph cache and run registry wired in.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/spatweave/spatweave/internal/config"
	"github.com/spatweave/spatweave/internal/dataset"
	"github.com/spatweave/spatweave/internal/domain/aggregate"
	"github.com/spatweave/spatweave/internal/domain/assemble"
	"github.com/spatweave/spatweave/internal/domain/feature"
	"github.com/spatweave/spatweave/internal/domain/neighbors"
	"github.com/spatweave/spatweave/internal/infrastructure/cache"
	atomicio "github.com/spatweave/spatweave/internal/io"
	"github.com/spatweave/spatweave/internal/persistence"
)

// StageObserver receives stage completions. The HTTP metrics registry
// implements it; CLI runs go without one.
type StageObserver interface {
	StageCompleted(stage, result string, elapsed time.Duration)
}

// Deps are the optional collaborators of a Runner. A nil Cache disables
// caching, a nil Store disables run recording.
type Deps struct {
	Cache    cache.GraphCache
	Store    persistence.RunStore
	Observer StageObserver
}

// Stage records one executed pipeline stage.
type Stage struct {
	Name       string `json:"name"`
	DurationMS int64  `json:"duration_ms"`
}

// Manifest is the run summary written next to the output file, so a result
// can be traced back to its parameters without the run registry.
type Manifest struct {
	RunID         string  `json:"run_id"`
	DatasetDigest string  `json:"dataset_digest"`
	Lambda        float64 `json:"lambda"`
	K             int     `json:"k"`
	Observations  int     `json:"observations"`
	Features      int     `json:"features"`
	Columns       int     `json:"columns"`
	CacheHit      bool    `json:"cache_hit"`
	Stages        []Stage `json:"stages"`
	Output        string  `json:"output"`
}

// Result is the outcome of one augmentation run. Coords always carry the
// true spatial positions; Staggered holds the plotting offsets and is only
// set when staggering is enabled.
type Result struct {
	RunID         string
	DatasetDigest string
	Augmented     *feature.Matrix
	Coords        [][2]float64
	Staggered     [][2]float64
	Observations  int
	CacheHit      bool
	Stages        []Stage
	OutputPath    string

	started  time.Time
	features int
}

// Runner executes augmentation runs for one configuration.
type Runner struct {
	cfg  *config.Config
	deps Deps
}

// New builds a Runner. The configuration must already be validated.
func New(cfg *config.Config, deps Deps) *Runner {
	if deps.Cache == nil {
		deps.Cache = cache.Nop{}
	}
	return &Runner{cfg: cfg, deps: deps}
}

// Run loads the configured input, augments it and writes the output file.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if r.cfg.Input.Path == "" {
		return nil, fmt.Errorf("input path is required")
	}

	res := r.newResult()
	var ds *dataset.Dataset
	if err := r.stage(res, "load", func() error {
		var err error
		ds, err = dataset.Load(r.cfg.Input.Path, r.cfg.LoadOptions())
		return err
	}); err != nil {
		return nil, err
	}

	ds, err := r.runDataset(ctx, ds, res)
	if err != nil {
		return nil, err
	}

	if r.cfg.Output.Path != "" {
		if err := r.stage(res, "write", func() error {
			return atomicio.WriteMatrixCSV(r.cfg.Output.Path, res.Augmented, res.Coords, res.Staggered)
		}); err != nil {
			return nil, err
		}
		res.OutputPath = r.cfg.Output.Path
		if err := atomicio.WriteJSONAtomic(res.OutputPath+".manifest.json", r.manifest(res)); err != nil {
			log.Warn().Err(err).Str("run_id", res.RunID).Msg("manifest write failed")
		}
	}

	r.record(ctx, res)
	return res, nil
}

// RunDataset augments an already loaded dataset. Service mode uses it for
// inline requests.
func (r *Runner) RunDataset(ctx context.Context, ds *dataset.Dataset) (*Result, error) {
	res := r.newResult()
	if _, err := r.runDataset(ctx, ds, res); err != nil {
		return nil, err
	}
	r.record(ctx, res)
	return res, nil
}

func (r *Runner) newResult() *Result {
	return &Result{RunID: uuid.New().String(), started: time.Now()}
}

func (r *Runner) runDataset(ctx context.Context, ds *dataset.Dataset, res *Result) (*dataset.Dataset, error) {
	cfg := r.cfg

	if cfg.QC.Enabled {
		if err := r.stage(res, "qc", func() error {
			var err error
			ds, err = ds.FilterByPercentile(cfg.QC.LowPercentile, cfg.QC.HighPercentile)
			return err
		}); err != nil {
			return nil, err
		}
	}

	layer := cfg.Input.Layer
	if layer == "" {
		layer = dataset.LayerCounts
	}
	if cfg.Normalize.Enabled {
		if err := r.stage(res, "normalize", func() error {
			var err error
			ds, err = ds.LogNormalize(cfg.Normalize.Scale)
			return err
		}); err != nil {
			return nil, err
		}
		layer = dataset.LayerLogNorm
	}

	var own *feature.Matrix
	if err := r.stage(res, "select", func() error {
		var err error
		own, err = ds.Select(layer, cfg.Selection())
		return err
	}); err != nil {
		return nil, err
	}

	var groups []string
	if cfg.Group.Column != "" {
		var err error
		if groups, err = ds.Groups(cfg.Group.Column); err != nil {
			return nil, err
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res.DatasetDigest = ds.Digest()
	var graph *neighbors.Graph
	if err := r.stage(res, "graph", func() error {
		key := cache.Key(res.DatasetDigest, cfg.K, cfg.Group.Column)
		if cached, ok, err := r.deps.Cache.Get(ctx, key); err != nil {
			log.Warn().Err(err).Msg("graph cache lookup failed, rebuilding")
		} else if ok {
			graph = cached
			res.CacheHit = true
			return nil
		}

		var err error
		graph, err = neighbors.Build(ds.IDs, ds.Coords, cfg.K, neighbors.Options{
			Groups:  groups,
			Workers: cfg.Workers,
			Backend: neighbors.Backend(cfg.Backend),
		})
		if err != nil {
			return err
		}
		if err := r.deps.Cache.Set(ctx, key, graph); err != nil {
			log.Warn().Err(err).Msg("graph cache store failed")
		}
		return nil
	}); err != nil {
		return nil, err
	}

	var nbrMean, gradient *feature.Matrix
	if err := r.stage(res, "aggregate", func() error {
		var err error
		nbrMean, gradient, err = aggregate.Aggregate(own, graph, aggregate.Options{
			Gradient: cfg.Gradient.Enabled,
			Harmonic: cfg.Gradient.Harmonic,
		})
		return err
	}); err != nil {
		return nil, err
	}

	if err := r.stage(res, "assemble", func() error {
		var scaleGroups []string
		if cfg.Group.SplitScale {
			scaleGroups = groups
		}
		var err error
		res.Augmented, err = assemble.Assemble(own, nbrMean, gradient, cfg.Lambda, scaleGroups)
		return err
	}); err != nil {
		return nil, err
	}

	res.Coords = ds.Coords
	if cfg.Stagger.Enabled {
		res.Staggered = neighbors.Stagger(ds.Coords, groups, cfg.Stagger.Gap)
	}
	res.Observations = ds.Rows()
	res.features = own.Cols()

	log.Info().
		Str("run_id", res.RunID).
		Int("observations", res.Observations).
		Int("features", res.features).
		Int("columns", res.Augmented.Cols()).
		Bool("cache_hit", res.CacheHit).
		Msg("augmentation complete")
	return ds, nil
}

func (r *Runner) stage(res *Result, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	result := "success"
	if err != nil {
		result = "error"
	}
	if r.deps.Observer != nil {
		r.deps.Observer.StageCompleted(name, result, elapsed)
	}
	res.Stages = append(res.Stages, Stage{Name: name, DurationMS: elapsed.Milliseconds()})

	log.Debug().
		Str("stage", name).
		Str("result", result).
		Dur("elapsed", elapsed).
		Msg("pipeline stage finished")
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (r *Runner) manifest(res *Result) *Manifest {
	return &Manifest{
		RunID:         res.RunID,
		DatasetDigest: res.DatasetDigest,
		Lambda:        r.cfg.Lambda,
		K:             r.cfg.K,
		Observations:  res.Observations,
		Features:      res.features,
		Columns:       res.Augmented.Cols(),
		CacheHit:      res.CacheHit,
		Stages:        res.Stages,
		Output:        res.OutputPath,
	}
}

// record writes the run to the registry; failures are logged, not fatal.
func (r *Runner) record(ctx context.Context, res *Result) {
	if r.deps.Store == nil {
		return
	}

	rec := persistence.RunRecord{
		RunID:        res.RunID,
		Dataset:      res.DatasetDigest,
		InputPath:    r.cfg.Input.Path,
		OutputPath:   res.OutputPath,
		Lambda:       r.cfg.Lambda,
		K:            r.cfg.K,
		Observations: res.Observations,
		Features:     res.features,
		Columns:      res.Augmented.Cols(),
		DurationMS:   time.Since(res.started).Milliseconds(),
		Params: map[string]interface{}{
			"backend":       r.cfg.Backend,
			"features_mode": r.cfg.Features.Mode,
			"group":         r.cfg.Group.Column,
			"split_scale":   r.cfg.Group.SplitScale,
			"gradient":      r.cfg.Gradient.Enabled,
			"harmonic":      r.cfg.Gradient.Harmonic,
			"qc":            r.cfg.QC.Enabled,
			"normalize":     r.cfg.Normalize.Enabled,
			"cache_hit":     res.CacheHit,
		},
	}
	if err := r.deps.Store.Insert(ctx, rec); err != nil {
		log.Warn().Err(err).Str("run_id", res.RunID).Msg("run record insert failed")
	}
}
