package vector

import (
	"context"
	"fmt"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/cortexmem/cortex/pkg/config"
)

// QdrantProvider talks to an external qdrant over gRPC. For deployments
// where the memory set outgrows the embedded index.
type QdrantProvider struct {
	client     *qdrant.Client
	collection string
}

func NewQdrantProvider(cfg config.VectorConfig, dimensions int) (*QdrantProvider, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	p := &QdrantProvider{
		client:     client,
		collection: cfg.Collection,
	}

	if err := p.ensureCollection(context.Background(), dimensions); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *QdrantProvider) ensureCollection(ctx context.Context, dimensions int) error {
	exists, err := p.client.CollectionExists(ctx, p.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if exists {
		return nil
	}

	err = p.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: p.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

func (p *QdrantProvider) Upsert(ctx context.Context, id string, vec []float32, metadata map[string]any) error {
	payload := make(map[string]*qdrant.Value, len(metadata))
	for key, value := range metadata {
		val, err := qdrant.NewValue(value)
		if err != nil {
			return fmt.Errorf("failed to convert metadata %s: %w", key, err)
		}
		payload[key] = val
	}

	_, err := p.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: p.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(id),
			Vectors: qdrant.NewVectors(vec...),
			Payload: payload,
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert point: %w", err)
	}
	return nil
}

func (p *QdrantProvider) Search(ctx context.Context, vec []float32, topK int, agentID string) ([]Result, error) {
	limit := uint64(topK)
	query := &qdrant.QueryPoints{
		CollectionName: p.collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          &limit,
	}

	if agentID != "" {
		query.Filter = &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("agent_id", agentID),
			},
		}
	}

	points, err := p.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	out := make([]Result, 0, len(points))
	for _, pt := range points {
		id := ""
		if uuid := pt.GetId().GetUuid(); uuid != "" {
			id = uuid
		} else {
			id = fmt.Sprintf("%d", pt.GetId().GetNum())
		}

		// Qdrant cosine scores are similarities in [-1, 1].
		out = append(out, Result{
			ID:       id,
			Distance: 1 - float64(pt.GetScore()),
		})
	}
	return out, nil
}

func (p *QdrantProvider) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewID(id))
	}

	_, err := p.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: p.collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}
	return nil
}

func (p *QdrantProvider) Name() string { return "qdrant" }

func (p *QdrantProvider) Close() error {
	return p.client.Close()
}
