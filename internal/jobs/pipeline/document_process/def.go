package document_process

import (
	"time"

	"gorm.io/gorm"

	"github.com/docmesh/graphrag-backend/internal/chunker"
	"github.com/docmesh/graphrag-backend/internal/data/graph"
	"github.com/docmesh/graphrag-backend/internal/data/repos"
	"github.com/docmesh/graphrag-backend/internal/platform/envutil"
	"github.com/docmesh/graphrag-backend/internal/platform/logger"
	"github.com/docmesh/graphrag-backend/internal/providers"
)

// Pipeline runs one document through chunk -> extract -> embed -> finalize.
// All graph writes happen in finalize so a failed or canceled run leaves the
// store exactly as the previous successful run left it.
type Pipeline struct {
	db       *gorm.DB
	log      *logger.Logger
	docs     repos.DocumentRepo
	graph    graph.DocumentGraph
	factory  providers.Factory
	chunkOpt chunker.Options

	pollInterval time.Duration
	pollTimeout  time.Duration
}

func New(
	db *gorm.DB,
	baseLog *logger.Logger,
	docs repos.DocumentRepo,
	documentGraph graph.DocumentGraph,
	factory providers.Factory,
) *Pipeline {
	return &Pipeline{
		db:      db,
		log:     baseLog.With("job", "document_process"),
		docs:    docs,
		graph:   documentGraph,
		factory: factory,
		chunkOpt: chunker.Options{
			TokenChunkSize: envutil.Int("CHUNK_SIZE_TOKENS", 256),
			ChunkOverlap:   envutil.Int("CHUNK_OVERLAP_TOKENS", 24),
			MaxTokens:      envutil.Int("CHUNK_MAX_TOKENS", 512),
		},
		pollInterval: time.Duration(envutil.Int("EXTRACTION_POLL_SECONDS", 10)) * time.Second,
		pollTimeout:  time.Duration(envutil.Int("EXTRACTION_TIMEOUT_MINUTES", 20)) * time.Minute,
	}
}

func (p *Pipeline) Type() string { return "document_process" }
