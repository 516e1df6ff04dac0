package graph

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// ontologyPayloadField stores the ontology alongside the original concept id
// in the point payload, since Qdrant point ids must be UUIDs or integers.
const (
	conceptIDPayloadField = "concept_id"
	ontologyPayloadField  = "ontology"
)

// QdrantVectorIndex is a VectorIndex backed by Qdrant's gRPC API.
type QdrantVectorIndex struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// NewQdrantVectorIndex dials Qdrant at dsn (e.g. "http://localhost:6334") and
// ensures the collection exists with cosine distance, matching the teacher's
// qdrant_vector.go construction idiom.
func NewQdrantVectorIndex(dsn, collection string, dimension int) (*QdrantVectorIndex, error) {
	if collection == "" {
		return nil, fmt.Errorf("graph: qdrant collection name is required")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("graph: parsing qdrant dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("graph: invalid qdrant port: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("graph: creating qdrant client: %w", err)
	}
	q := &QdrantVectorIndex{client: client, collection: collection, dimension: dimension}
	if err := q.ensureCollection(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("graph: ensuring qdrant collection: %w", err)
	}
	return q, nil
}

func (q *QdrantVectorIndex) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if q.dimension <= 0 {
		return fmt.Errorf("graph: qdrant requires a positive embedding dimension")
	}
	return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

func pointUUID(conceptID string) string {
	if _, err := uuid.Parse(conceptID); err == nil {
		return conceptID
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(conceptID)).String()
}

func (q *QdrantVectorIndex) Upsert(ctx context.Context, conceptID, ontology string, embedding []float32) error {
	vec := make([]float32, len(embedding))
	copy(vec, embedding)
	payload := qdrant.NewValueMap(map[string]any{
		conceptIDPayloadField: conceptID,
		ontologyPayloadField:  ontology,
	})
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(pointUUID(conceptID)),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: payload,
		}},
	})
	return err
}

func (q *QdrantVectorIndex) Delete(ctx context.Context, conceptID string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(pointUUID(conceptID))),
	})
	return err
}

func (q *QdrantVectorIndex) TopK(ctx context.Context, embedding []float32, k int, ontology string) ([]VectorMatch, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(embedding))
	copy(vec, embedding)

	var filter *qdrant.Filter
	if ontology != "" {
		filter = &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch(ontologyPayloadField, ontology)}}
	}
	limit := uint64(k)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         filter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}
	out := make([]VectorMatch, 0, len(hits))
	for _, hit := range hits {
		conceptID := ""
		if hit.Payload != nil {
			if v, ok := hit.Payload[conceptIDPayloadField]; ok {
				conceptID = v.GetStringValue()
			}
		}
		if conceptID == "" {
			conceptID = hit.Id.GetUuid()
		}
		out = append(out, VectorMatch{ConceptID: conceptID, Similarity: float64(hit.Score)})
	}
	return out, nil
}

func (q *QdrantVectorIndex) Close() error { return q.client.Close() }
