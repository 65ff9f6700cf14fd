package app

import (
	"context"

	"github.com/alexanderramin/programs/internal/domain"
	"github.com/alexanderramin/programs/internal/importer"
)

type StatusUseCase interface {
	GetStatus(ctx context.Context, req StatusRequest) (*StatusResponse, error)
}

// ImportResult reports the programs created by an import. Errors holds the
// rows that were skipped, keyed like importer.Validate.
type ImportResult struct {
	Programs []*domain.Program
	Items    int
	Sources  int
	Errors   domain.RowErrors
}

type ImportUseCase interface {
	ImportFile(ctx context.Context, path string) (*ImportResult, error)
	Import(ctx context.Context, f *importer.File) (*ImportResult, error)
}
