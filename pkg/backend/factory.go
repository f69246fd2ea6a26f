package backend

import (
	"github.com/rs/zerolog"

	"github.com/stratumhq/stratum/pkg/errors"
	"github.com/stratumhq/stratum/pkg/models"
)

// Factory constructs backends from specs.
type Factory struct {
	logger zerolog.Logger

	// DataDir is prepended to relative duckdb paths.
	DataDir string
}

// NewFactory creates a backend factory.
func NewFactory(dataDir string, logger zerolog.Logger) *Factory {
	return &Factory{logger: logger, DataDir: dataDir}
}

// New constructs a backend for the given spec.
func (f *Factory) New(spec models.BackendSpec) (Backend, error) {
	switch spec.Kind {
	case models.KindMemory, "":
		return NewMemoryBackend(spec.Configuration), nil
	case models.KindDuckDB:
		return NewDuckDBBackend(spec.Path, spec.Configuration, f.logger)
	default:
		return nil, errors.Newf(errors.CodeInvalidSpec, "unknown backend kind: %s", spec.Kind)
	}
}
