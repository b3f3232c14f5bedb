package index

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/docchat-go/internal/rag"
)

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// VectorSize is the dimensionality of the embeddings stored per user.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantManager implements rag.IndexManager backed by a Qdrant instance.
// Each user maps to one Qdrant collection, created lazily on first use.
type QdrantManager struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this manager.
	cfg *QdrantConfig

	// mu guards ensured.
	mu sync.Mutex

	// ensured records collections already verified to exist, so repeated
	// Tenant calls skip the existence round-trip.
	ensured map[string]bool
}

// NewQdrantManager connects to Qdrant and returns a manager ready to serve
// per-user tenant indexes.
func NewQdrantManager(cfg *QdrantConfig) (*QdrantManager, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("index: failed to create qdrant client: %w", err)
	}

	return &QdrantManager{
		client:  client,
		cfg:     cfg,
		ensured: make(map[string]bool),
	}, nil
}

// ensureCollection creates the user's collection if it does not already exist.
func (m *QdrantManager) ensureCollection(ctx context.Context, name string) error {
	m.mu.Lock()
	done := m.ensured[name]
	m.mu.Unlock()
	if done {
		return nil
	}

	exists, err := m.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("index: failed to check collection existence: %w", err)
	}
	if !exists {
		err = m.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     m.cfg.VectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("index: failed to create collection %q: %w", name, err)
		}
	}

	m.mu.Lock()
	m.ensured[name] = true
	m.mu.Unlock()
	return nil
}

// Tenant returns the index for userID, creating its collection on first use.
func (m *QdrantManager) Tenant(ctx context.Context, userID string) (rag.TenantIndex, error) {
	name := collectionName(userID)
	if err := m.ensureCollection(ctx, name); err != nil {
		return nil, &rag.IndexCorruptError{UserID: userID, Err: err}
	}
	return &qdrantTenant{client: m.client, collection: name, userID: userID}, nil
}

// Clear drops the user's collection. Clearing an absent collection is a no-op.
func (m *QdrantManager) Clear(ctx context.Context, userID string) error {
	name := collectionName(userID)

	exists, err := m.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("index: failed to check collection existence: %w", err)
	}
	if exists {
		if err := m.client.DeleteCollection(ctx, name); err != nil {
			return fmt.Errorf("index: failed to delete collection %q: %w", name, err)
		}
	}

	m.mu.Lock()
	delete(m.ensured, name)
	m.mu.Unlock()
	return nil
}

// Ping issues the Qdrant health check RPC. Used by readiness probes.
func (m *QdrantManager) Ping(ctx context.Context) error {
	if _, err := m.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("index: qdrant health check: %w", err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (m *QdrantManager) Close() error {
	return m.client.Close()
}

// qdrantTenant implements rag.TenantIndex on one Qdrant collection.
type qdrantTenant struct {
	client     *qdrant.Client
	collection string
	userID     string
}

// Add stores a batch of chunks with their pre-computed embeddings. Qdrant
// applies upserts point-by-point within one request, and a failed request
// leaves no partial batch behind, so the single Upsert call keeps the
// all-or-none contract.
func (t *qdrantTenant) Add(ctx context.Context, chunks []rag.Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("index: %d chunks but %d embeddings", len(chunks), len(embeddings))
	}
	if len(chunks) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for i, c := range chunks {
		if len(embeddings[i]) == 0 {
			return fmt.Errorf("index: empty embedding for chunk %d of %s", c.Ordinal, c.SourceID)
		}
		id := c.ID
		if id == "" {
			id = uuid.NewString()
		}

		payload := map[string]interface{}{
			"content":   c.Text,
			metaSource:  c.SourceID,
			metaOrdinal: c.Ordinal,
		}
		if c.FolderID != "" {
			payload[metaFolder] = c.FolderID
		}

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(id),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	wait := true
	_, err := t.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: t.collection,
		Points:         points,
		Wait:           &wait,
	})
	if err != nil {
		return fmt.Errorf("index: upsert for user %s failed: %w", t.userID, err)
	}
	return nil
}

// Query fetches the params.FetchK nearest neighbours (optionally restricted
// to a folder) and returns up to params.K chunks selected by MMR. Vectors are
// requested alongside payloads so the diversity term can be computed here.
func (t *qdrantTenant) Query(ctx context.Context, queryEmbedding []float32, params rag.SearchParams) ([]rag.ScoredChunk, error) {
	fetchK := params.FetchK
	if fetchK < params.K {
		fetchK = params.K
	}
	limit := uint64(fetchK)

	req := &qdrant.QueryPoints{
		CollectionName: t.collection,
		Query:          qdrant.NewQuery(queryEmbedding...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	}
	if params.FolderID != "" {
		req.Filter = &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch(metaFolder, params.FolderID),
			},
		}
	}

	results, err := t.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("index: search for user %s failed: %w", t.userID, err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	cands := make([]candidate, len(results))
	for i, r := range results {
		cands[i] = candidate{
			relevance: r.Score,
			embedding: r.Vectors.GetVector().GetData(),
		}
	}

	picked := mmrSelect(cands, params.K, params.Lambda)
	scored := make([]rag.ScoredChunk, 0, len(picked))
	for _, i := range picked {
		scored = append(scored, rag.ScoredChunk{
			Chunk: pointChunk(results[i]),
			Score: results[i].Score,
		})
	}
	return scored, nil
}

// Count reports the number of chunks currently stored.
func (t *qdrantTenant) Count(ctx context.Context) (int, error) {
	n, err := t.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: t.collection,
	})
	if err != nil {
		return 0, fmt.Errorf("index: count for user %s failed: %w", t.userID, err)
	}
	return int(n), nil
}

// pointChunk converts a scored Qdrant point back into the domain chunk.
func pointChunk(p *qdrant.ScoredPoint) rag.Chunk {
	c := rag.Chunk{ID: p.Id.GetUuid()}
	if payload := p.Payload; payload != nil {
		if v, ok := payload["content"]; ok {
			c.Text = v.GetStringValue()
		}
		if v, ok := payload[metaSource]; ok {
			c.SourceID = v.GetStringValue()
		}
		if v, ok := payload[metaOrdinal]; ok {
			c.Ordinal = int(v.GetIntegerValue())
			if c.Ordinal == 0 {
				if s := v.GetStringValue(); s != "" {
					c.Ordinal, _ = strconv.Atoi(s)
				}
			}
		}
		if v, ok := payload[metaFolder]; ok {
			c.FolderID = v.GetStringValue()
		}
	}
	return c
}
