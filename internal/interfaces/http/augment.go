package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"

	"github.com/spatweave/spatweave/internal/application/pipeline"
	"github.com/spatweave/spatweave/internal/config"
	"github.com/spatweave/spatweave/internal/dataset"
	"github.com/spatweave/spatweave/internal/domain/assemble"
	"github.com/spatweave/spatweave/internal/domain/feature"
	"github.com/spatweave/spatweave/internal/domain/neighbors"
)

// maxAugmentBody bounds inline dataset uploads.
const maxAugmentBody = 64 << 20

// multiObserver forwards stage completions to several observers.
type multiObserver []pipeline.StageObserver

func (m multiObserver) StageCompleted(stage, result string, elapsed time.Duration) {
	for _, o := range m {
		o.StageCompleted(stage, result, elapsed)
	}
}

// AugmentDataset is an inline observations-by-features table. Values holds
// one row per observation in the order of IDs.
type AugmentDataset struct {
	IDs      []string            `json:"ids"`
	X        []float64           `json:"x"`
	Y        []float64           `json:"y"`
	Features []string            `json:"features"`
	Values   [][]float64         `json:"values"`
	Meta     map[string][]string `json:"meta,omitempty"`
}

// AugmentRequest carries an inline dataset plus per-request parameter
// overrides. Absent fields fall back to the server configuration.
type AugmentRequest struct {
	Lambda     *float64       `json:"lambda,omitempty"`
	K          *int           `json:"k,omitempty"`
	Gradient   *bool          `json:"gradient,omitempty"`
	Harmonic   *int           `json:"harmonic,omitempty"`
	Group      *string        `json:"group,omitempty"`
	SplitScale *bool          `json:"split_scale,omitempty"`
	Stagger    *bool          `json:"stagger,omitempty"`
	Dataset    AugmentDataset `json:"dataset"`
}

// AugmentResponse returns the augmented matrix with its run metadata.
type AugmentResponse struct {
	RunID         string           `json:"run_id"`
	DatasetDigest string           `json:"dataset_digest"`
	Observations  int              `json:"observations"`
	CacheHit      bool             `json:"cache_hit"`
	Columns       []string         `json:"columns"`
	IDs           []string         `json:"ids"`
	Rows          [][]float64      `json:"rows"`
	Coords        [][2]float64     `json:"coords,omitempty"`
	Staggered     [][2]float64     `json:"staggered,omitempty"`
	Stages        []pipeline.Stage `json:"stages"`
	Timestamp     time.Time        `json:"timestamp"`
}

func (s *Server) handleAugment(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAugmentBody)

	var req AugmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.metrics.RecordAugment("bad_request")
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decoding request: %v", err))
		return
	}

	ds, err := req.Dataset.build()
	if err != nil {
		s.metrics.RecordAugment("bad_request")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg, err := s.requestConfig(&req)
	if err != nil {
		s.metrics.RecordAugment("bad_request")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.metrics.TotalRuns.Inc()
	s.metrics.ActiveRuns.Inc()
	defer s.metrics.ActiveRuns.Dec()

	runner := pipeline.New(cfg, pipeline.Deps{
		Cache:    s.deps.Cache,
		Store:    s.deps.Store,
		Observer: multiObserver{s.metrics, s.stream},
	})
	res, err := runner.RunDataset(r.Context(), ds)
	if err != nil {
		status := s.augmentErrorStatus(err)
		if status == http.StatusInternalServerError {
			s.metrics.RecordAugment("error")
			requestID, _ := r.Context().Value(requestIDKey).(string)
			log.Error().Err(err).Str("request_id", requestID).Msg("augment run failed")
		} else {
			s.metrics.RecordAugment("bad_request")
		}
		writeError(w, status, err.Error())
		return
	}

	s.metrics.RecordAugment("success")
	s.metrics.RecordCacheOutcome("graph", res.CacheHit)

	writeJSON(w, http.StatusOK, AugmentResponse{
		RunID:         res.RunID,
		DatasetDigest: res.DatasetDigest,
		Observations:  res.Observations,
		CacheHit:      res.CacheHit,
		Columns:       res.Augmented.Names,
		IDs:           res.Augmented.IDs,
		Rows:          matrixRows(res.Augmented),
		Coords:        res.Coords,
		Staggered:     res.Staggered,
		Stages:        res.Stages,
		Timestamp:     time.Now().UTC(),
	})
}

// requestConfig derives a per-request configuration from the server defaults
// and the request overrides. Input and output paths never apply to inline
// datasets.
func (s *Server) requestConfig(req *AugmentRequest) (*config.Config, error) {
	cfg := *s.cfg
	cfg.Input.Path = ""
	cfg.Output.Path = ""

	if req.Lambda != nil {
		cfg.Lambda = *req.Lambda
	}
	if req.K != nil {
		cfg.K = *req.K
	}
	if req.Gradient != nil {
		cfg.Gradient.Enabled = *req.Gradient
	}
	if req.Harmonic != nil {
		cfg.Gradient.Harmonic = *req.Harmonic
	}
	if req.Group != nil {
		cfg.Group.Column = *req.Group
	}
	if req.SplitScale != nil {
		cfg.Group.SplitScale = *req.SplitScale
	}
	if req.Stagger != nil {
		cfg.Stagger.Enabled = *req.Stagger
	}

	if err := cfg.ValidateRun(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// augmentErrorStatus maps known input problems to 400, everything else to 500.
func (s *Server) augmentErrorStatus(err error) int {
	var insufficient *neighbors.InsufficientNeighborsError
	if errors.As(err, &insufficient) {
		s.metrics.InsufficientNeighbors.Inc()
		return http.StatusBadRequest
	}
	var badLambda *assemble.InvalidLambdaError
	var shape *feature.ShapeMismatchError
	var missingCoord *dataset.MissingCoordinateError
	if errors.As(err, &badLambda) || errors.As(err, &shape) || errors.As(err, &missingCoord) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// build validates the inline table and converts it to a dataset.
func (d *AugmentDataset) build() (*dataset.Dataset, error) {
	n := len(d.IDs)
	if n == 0 {
		return nil, fmt.Errorf("dataset has no observations")
	}
	if len(d.X) != n || len(d.Y) != n {
		return nil, fmt.Errorf("coordinate lengths x=%d y=%d do not match %d observations", len(d.X), len(d.Y), n)
	}
	if len(d.Features) == 0 {
		return nil, fmt.Errorf("dataset has no features")
	}
	if len(d.Values) != n {
		return nil, fmt.Errorf("%d value rows for %d observations", len(d.Values), n)
	}
	for name, values := range d.Meta {
		if len(values) != n {
			return nil, fmt.Errorf("metadata column %q has %d values for %d observations", name, len(values), n)
		}
	}

	data := mat.NewDense(n, len(d.Features), nil)
	coords := make([][2]float64, n)
	for i, row := range d.Values {
		if len(row) != len(d.Features) {
			return nil, fmt.Errorf("value row %d has %d entries for %d features", i, len(row), len(d.Features))
		}
		data.SetRow(i, row)
		coords[i] = [2]float64{d.X[i], d.Y[i]}
	}

	meta := make(map[string][]string, len(d.Meta))
	for name, values := range d.Meta {
		meta[name] = values
	}
	return &dataset.Dataset{
		IDs:      d.IDs,
		Features: d.Features,
		Layers:   map[string]*mat.Dense{dataset.LayerCounts: data},
		Coords:   coords,
		Meta:     meta,
	}, nil
}

func matrixRows(m *feature.Matrix) [][]float64 {
	rows := make([][]float64, m.Rows())
	for i := range rows {
		rows[i] = m.Row(i)
	}
	return rows
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warn().Err(err).Msg("encoding response failed")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
