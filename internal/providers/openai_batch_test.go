package providers

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docmesh/graphrag-backend/internal/clients/openai"
	"github.com/docmesh/graphrag-backend/internal/platform/logger"
)

type stubBatchClient struct {
	batch *openai.Batch
	files map[string][]byte
}

func (s *stubBatchClient) GenerateText(ctx context.Context, system, user string) (string, error) {
	return "", fmt.Errorf("chat completions not stubbed")
}

func (s *stubBatchClient) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	return nil, fmt.Errorf("embeddings not stubbed")
}

func (s *stubBatchClient) UploadBatchFile(ctx context.Context, jsonl []byte) (string, error) {
	return "file-in", nil
}

func (s *stubBatchClient) CreateBatch(ctx context.Context, inputFileID string) (string, error) {
	return "batch-1", nil
}

func (s *stubBatchClient) GetBatch(ctx context.Context, batchID string) (*openai.Batch, error) {
	return s.batch, nil
}

func (s *stubBatchClient) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	raw, ok := s.files[fileID]
	if !ok {
		return nil, fmt.Errorf("unknown file %s", fileID)
	}
	return raw, nil
}

func (s *stubBatchClient) Model() string      { return "gpt-4o-mini" }
func (s *stubBatchClient) EmbedModel() string { return "text-embedding-3-small" }

const goodCompletionLine = `{"custom_id":"chunk-1","response":{"status_code":200,"body":{"choices":[{"message":{"content":"{\"entities\":[{\"name\":\"Acme\",\"type\":\"Organization\",\"description\":\"vendor\"}],\"relationships\":[]}"}}]}}}`

const failedItemLine = `{"custom_id":"chunk-2","error":{"message":"rate limited"}}`

func TestPollExtractionIncludesErrorFileItems(t *testing.T) {
	log, err := logger.New("test")
	require.NoError(t, err)

	stub := &stubBatchClient{
		batch: &openai.Batch{
			ID:           "batch-1",
			Status:       openai.BatchStatusCompleted,
			OutputFileID: "file-out",
			ErrorFileID:  "file-err",
		},
		files: map[string][]byte{
			"file-out": []byte(goodCompletionLine + "\n"),
			"file-err": []byte(failedItemLine + "\n"),
		},
	}
	p, err := NewOpenAIProvider(log, stub)
	require.NoError(t, err)

	poll, err := p.PollExtraction(context.Background(), "batch-1")
	require.NoError(t, err)
	require.True(t, poll.Done)
	require.Len(t, poll.Results, 2)

	byChunk := map[string]Result{}
	for _, r := range poll.Results {
		byChunk[r.ChunkID] = r
	}

	good := byChunk["chunk-1"]
	require.NotNil(t, good.Extraction)
	assert.Empty(t, good.Error)
	require.Len(t, good.Extraction.Entities, 1)
	assert.Equal(t, "Acme", good.Extraction.Entities[0].Name)

	failed := byChunk["chunk-2"]
	assert.Nil(t, failed.Extraction)
	assert.Contains(t, failed.Error, "rate limited")
}

func TestPollExtractionErrorFileOnly(t *testing.T) {
	log, err := logger.New("test")
	require.NoError(t, err)

	stub := &stubBatchClient{
		batch: &openai.Batch{
			ID:          "batch-1",
			Status:      openai.BatchStatusCompleted,
			ErrorFileID: "file-err",
		},
		files: map[string][]byte{
			"file-err": []byte(failedItemLine + "\n"),
		},
	}
	p, err := NewOpenAIProvider(log, stub)
	require.NoError(t, err)

	poll, err := p.PollExtraction(context.Background(), "batch-1")
	require.NoError(t, err)
	require.True(t, poll.Done)
	require.Len(t, poll.Results, 1)
	assert.Equal(t, "chunk-2", poll.Results[0].ChunkID)
	assert.NotEmpty(t, poll.Results[0].Error)
}
