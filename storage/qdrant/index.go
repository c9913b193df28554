// Package qdrant implements storage.IndexRepository on a Qdrant server.
//
// Each collection holds one unnamed dense vector per point and a full-text
// index on the chunk text. Search prefetches vector and keyword candidates,
// fuses them with reciprocal rank fusion, then re-scores the candidates with
// the same keyword/semantic blend the local index uses.
package qdrant

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/poiesic/kbpipe/core"
	"github.com/poiesic/kbpipe/storage"
	"github.com/qdrant/go-client/qdrant"
)

const (
	defaultKeywordWeight = 0.3
	upsertBatchSize      = 100
	candidateFactor      = 4
)

// Payload fields.
const (
	fieldText       = "text"
	fieldDocumentID = "document_id"
	fieldSource     = "source"
	fieldTitle      = "title"
	fieldDefinition = "definition"
	fieldVersion    = "version"
	fieldTopic      = "topic"
	fieldPage       = "page"
	fieldChunkIndex = "chunk_index"
	fieldModifiedAt = "modified_at"
	fieldMetadata   = "metadata"
)

// client is the subset of *qdrant.Client the repository uses.
type client interface {
	CollectionExists(ctx context.Context, name string) (bool, error)
	GetCollectionInfo(ctx context.Context, name string) (*qdrant.CollectionInfo, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	CreateFieldIndex(ctx context.Context, request *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Count(ctx context.Context, request *qdrant.CountPoints) (uint64, error)
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	Close() error
}

// Config addresses a Qdrant server over gRPC.
type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool

	// StartupTimeout bounds the health check retries of Open. Zero uses 30s.
	StartupTimeout time.Duration
}

// IndexRepository is a storage.IndexRepository backed by Qdrant.
type IndexRepository struct {
	client client
	logger *slog.Logger

	mu         sync.Mutex
	dimensions map[string]int
}

var _ storage.IndexRepository = (*IndexRepository)(nil)

// Open connects to Qdrant and waits until it answers a health check.
func Open(ctx context.Context, cfg Config) (*IndexRepository, error) {
	c, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	r := newIndexRepository(c)
	if err := r.waitHealthy(ctx, cfg.StartupTimeout); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	r.logger.Info("connected to qdrant", "host", cfg.Host, "port", cfg.Port)
	return r, nil
}

func newIndexRepository(c client) *IndexRepository {
	return &IndexRepository{
		client:     c,
		logger:     slog.Default().With("component", "qdrant-index"),
		dimensions: make(map[string]int),
	}
}

func (r *IndexRepository) waitHealthy(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = timeout

	return backoff.Retry(func() error {
		return r.Health(ctx)
	}, backoff.WithContext(b, ctx))
}

// Health performs a single health check.
func (r *IndexRepository) Health(ctx context.Context) error {
	reply, err := r.client.HealthCheck(ctx)
	if err != nil {
		return classify(fmt.Errorf("health check failed: %w", err))
	}
	if reply.GetTitle() == "" {
		return fmt.Errorf("%w: health check returned invalid response", storage.ErrIndexUnavailable)
	}
	return nil
}

// EnsureCollection creates a cosine collection with a text index on the chunk
// text and keyword indexes on the identifying fields.
func (r *IndexRepository) EnsureCollection(ctx context.Context, collection string, dimensions int) error {
	exists, err := r.client.CollectionExists(ctx, collection)
	if err != nil {
		return classify(fmt.Errorf("failed to check collection %s: %w", collection, err))
	}
	if exists {
		existing, err := r.collectionDimensions(ctx, collection)
		if err != nil {
			return err
		}
		if existing != dimensions {
			return fmt.Errorf("%w: collection %s has dimension %d, not %d",
				core.ErrDimensionMismatch, collection, existing, dimensions)
		}
		return nil
	}

	err = r.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return classify(fmt.Errorf("failed to create collection %s: %w", collection, err))
	}

	_, err = r.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: collection,
		FieldName:      fieldText,
		FieldType:      qdrant.FieldType_FieldTypeText.Enum(),
		FieldIndexParams: qdrant.NewPayloadIndexParamsText(&qdrant.TextIndexParams{
			Tokenizer: qdrant.TokenizerType_Word,
			Lowercase: qdrant.PtrOf(true),
		}),
		Wait: qdrant.PtrOf(true),
	})
	if err != nil {
		return classify(fmt.Errorf("failed to create text index on %s: %w", collection, err))
	}
	for _, field := range []string{fieldDocumentID, fieldDefinition, fieldVersion} {
		_, err := r.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			return classify(fmt.Errorf("failed to create index for field %s: %w", field, err))
		}
	}

	r.mu.Lock()
	r.dimensions[collection] = dimensions
	r.mu.Unlock()
	r.logger.Info("created collection", "collection", collection, "dimensions", dimensions)
	return nil
}

func (r *IndexRepository) collectionDimensions(ctx context.Context, collection string) (int, error) {
	r.mu.Lock()
	dims, ok := r.dimensions[collection]
	r.mu.Unlock()
	if ok {
		return dims, nil
	}

	info, err := r.client.GetCollectionInfo(ctx, collection)
	if err != nil {
		return 0, classify(fmt.Errorf("failed to get collection %s: %w", collection, err))
	}
	dims = int(info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize())

	r.mu.Lock()
	r.dimensions[collection] = dims
	r.mu.Unlock()
	return dims, nil
}

// Upsert writes records in batches of 100 and waits for each batch to be applied.
func (r *IndexRepository) Upsert(ctx context.Context, collection string, records []*storage.IndexRecord) error {
	if len(records) == 0 {
		return nil
	}
	dims, err := r.collectionDimensions(ctx, collection)
	if err != nil {
		return err
	}
	for _, record := range records {
		if len(record.Vector) != dims {
			return fmt.Errorf("%w: record %s has dimension %d, collection %s expects %d",
				core.ErrDimensionMismatch, record.ID, len(record.Vector), collection, dims)
		}
	}

	for start := 0; start < len(records); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(records))
		points := make([]*qdrant.PointStruct, 0, end-start)
		for _, record := range records[start:end] {
			points = append(points, toPoint(record))
		}
		_, err := r.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		if err != nil {
			return classify(fmt.Errorf("failed to upsert batch %d-%d into %s: %w", start, end, collection, err))
		}
	}
	return nil
}

// Search queries each collection and blends the candidates' scores.
func (r *IndexRepository) Search(ctx context.Context, query *core.SearchQuery) ([]*core.Hit, error) {
	if query == nil || len(query.Collections) == 0 {
		return nil, fmt.Errorf("%w: no collections", storage.ErrInvalidQuery)
	}
	if query.Limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be > 0", storage.ErrInvalidQuery)
	}
	keywordWeight := query.KeywordWeight
	if keywordWeight <= 0 || keywordWeight > 1 {
		keywordWeight = defaultKeywordWeight
	}
	if len(query.Vector) == 0 {
		keywordWeight = 1
	}

	var hits []*core.Hit
	for _, collection := range query.Collections {
		points, err := r.client.Query(ctx, candidatesQuery(collection, query))
		if err != nil {
			return nil, classify(fmt.Errorf("failed to search %s: %w", collection, err))
		}
		for _, point := range points {
			record := fromPayload(point.GetId().GetUuid(), point.GetPayload())
			keyword := core.KeywordScore(record.Text, query.Text)
			var semantic float32
			if len(query.Vector) > 0 {
				semantic = core.DotProduct(query.Vector, pointVector(point))
			}
			if keyword == 0 && semantic <= 0 {
				continue
			}
			hits = append(hits, &core.Hit{
				ChunkID: record.ID,
				Snippet: record.Text,
				Source:  record.SourceRef(collection),
				Score:   keywordWeight*keyword + (1-keywordWeight)*semantic,
			})
		}
	}

	slices.SortStableFunc(hits, func(a, b *core.Hit) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	if len(hits) > query.Limit {
		hits = hits[:query.Limit]
	}
	return hits, nil
}

func candidatesQuery(collection string, query *core.SearchQuery) *qdrant.QueryPoints {
	candidates := uint64(query.Limit * candidateFactor)
	keyword := &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatchTextAny(fieldText, query.Text)},
	}
	request := &qdrant.QueryPoints{
		CollectionName: collection,
		Limit:          qdrant.PtrOf(candidates),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	}
	if len(query.Vector) == 0 {
		request.Filter = keyword
		return request
	}
	request.Prefetch = []*qdrant.PrefetchQuery{
		{Query: qdrant.NewQueryDense(query.Vector), Limit: qdrant.PtrOf(candidates)},
		{Filter: keyword, Limit: qdrant.PtrOf(candidates)},
	}
	request.Query = qdrant.NewQueryFusion(qdrant.Fusion_RRF)
	return request
}

// Count returns the exact number of points in a collection.
func (r *IndexRepository) Count(ctx context.Context, collection string) (int, error) {
	n, err := r.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, classify(fmt.Errorf("failed to count %s: %w", collection, err))
	}
	return int(n), nil
}

// Close closes the client connection.
func (r *IndexRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func toPoint(record *storage.IndexRecord) *qdrant.PointStruct {
	metadata := make(map[string]any, len(record.Metadata))
	for k, v := range record.Metadata {
		metadata[k] = v
	}
	return &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(record.ID),
		Vectors: qdrant.NewVectorsDense(record.Vector),
		Payload: qdrant.NewValueMap(map[string]any{
			fieldText:       record.Text,
			fieldDocumentID: record.DocumentID,
			fieldSource:     record.Source,
			fieldTitle:      record.Title,
			fieldDefinition: record.Definition,
			fieldVersion:    record.Version,
			fieldTopic:      record.Topic,
			fieldPage:       int64(record.Page),
			fieldChunkIndex: int64(record.ChunkIndex),
			fieldModifiedAt: record.ModifiedAt.UTC().Format(time.RFC3339Nano),
			fieldMetadata:   metadata,
		}),
	}
}

func fromPayload(id string, payload map[string]*qdrant.Value) *storage.IndexRecord {
	record := &storage.IndexRecord{
		ID:         id,
		Text:       payload[fieldText].GetStringValue(),
		DocumentID: payload[fieldDocumentID].GetStringValue(),
		Source:     payload[fieldSource].GetStringValue(),
		Title:      payload[fieldTitle].GetStringValue(),
		Definition: payload[fieldDefinition].GetStringValue(),
		Version:    payload[fieldVersion].GetStringValue(),
		Topic:      payload[fieldTopic].GetStringValue(),
		Page:       int(payload[fieldPage].GetIntegerValue()),
		ChunkIndex: int(payload[fieldChunkIndex].GetIntegerValue()),
	}
	if t, err := time.Parse(time.RFC3339Nano, payload[fieldModifiedAt].GetStringValue()); err == nil {
		record.ModifiedAt = t
	}
	if fields := payload[fieldMetadata].GetStructValue().GetFields(); len(fields) > 0 {
		record.Metadata = make(map[string]string, len(fields))
		for k, v := range fields {
			record.Metadata[k] = v.GetStringValue()
		}
	}
	return record
}

func pointVector(point *qdrant.ScoredPoint) []float32 {
	return point.GetVectors().GetVector().GetDense().GetData()
}
