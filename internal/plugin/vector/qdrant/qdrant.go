// Package qdrant implements a vector-search backend backed by a Qdrant
// collection, for deployments that want nearest-neighbor search on its own
// cluster rather than colocated with the Persistence Gateway. Grounded on
// the teacher's plugin/vector/qdrant (grpc.NewClient + qdrant/go-client's
// PointsClient/CollectionsClient, cosine-distance collection creation),
// generalized from the teacher's conversation-group payload filter to
// Memento's flat memory_id point space.
package qdrant

import (
	"context"
	"fmt"

	"github.com/memento-ai/memento/internal/config"
	registryvector "github.com/memento-ai/memento/internal/registry/vector"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func init() {
	registryvector.Register(registryvector.Plugin{
		Name:   "qdrant",
		Loader: load,
	})
}

func load(ctx context.Context) (registryvector.VectorStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("qdrant: no config in context")
	}
	if cfg.Store.VectorBackend != "qdrant" {
		return &Store{enabled: false}, nil
	}

	addr := fmt.Sprintf("%s:%d", cfg.Store.QdrantHost, cfg.Store.QdrantPort)
	collection := cfg.Store.QdrantCollection
	if collection == "" {
		collection = "memento"
	}
	return dial(addr, collection)
}

func dial(addr, collection string) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant: connect: %w", err)
	}
	return &Store{
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		conn:        conn,
		collection:  collection,
		enabled:     true,
	}, nil
}

// Store implements VectorStore against a Qdrant collection.
type Store struct {
	points      pb.PointsClient
	collections pb.CollectionsClient
	conn        *grpc.ClientConn
	collection  string
	enabled     bool
	dim         uint64
}

func (s *Store) Name() string    { return "qdrant" }
func (s *Store) IsEnabled() bool { return s.enabled }

// ensureCollection creates the collection with a cosine-distance HNSW index
// on first use. Memento does not support changing the embedding dimension
// of a live collection without a reindex.
func (s *Store) ensureCollection(ctx context.Context, dim int) error {
	if s.dim == uint64(dim) {
		return nil
	}
	if _, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: s.collection}); err == nil {
		s.dim = uint64(dim)
		return nil
	}

	_, err := s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dim),
					Distance: pb.Distance_Cosine,
				},
			},
		},
		HnswConfig: &pb.HnswConfigDiff{
			M:                 newUint64(16),
			EfConstruct:       newUint64(64),
			FullScanThreshold: newUint64(10000),
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant: create collection: %w", err)
	}
	s.dim = uint64(dim)
	return nil
}

func (s *Store) Upsert(ctx context.Context, entries []registryvector.UpsertRequest) error {
	if !s.enabled || len(entries) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx, len(entries[0].Embedding)); err != nil {
		return err
	}

	points := make([]*pb.PointStruct, len(entries))
	for i, e := range entries {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: e.MemoryID.String()}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: e.Embedding}},
			},
			Payload: map[string]*pb.Value{
				"memory_id": {Kind: &pb.Value_StringValue{StringValue: e.MemoryID.String()}},
				"model":     {Kind: &pb.Value_StringValue{StringValue: e.ModelName}},
			},
		}
	}
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, memoryIDs []uuid.UUID) error {
	if !s.enabled || len(memoryIDs) == 0 {
		return nil
	}
	ids := make([]*pb.PointId, len(memoryIDs))
	for i, id := range memoryIDs {
		ids[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id.String()}}
	}
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: ids},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete: %w", err)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, embedding []float32, memoryIDs []uuid.UUID, limit int) ([]registryvector.SearchResult, error) {
	if !s.enabled {
		return nil, nil
	}
	if err := s.ensureCollection(ctx, len(embedding)); err != nil {
		return nil, err
	}

	req := &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         embedding,
		Limit:          uint64(limit),
	}
	if len(memoryIDs) > 0 {
		ids := make([]*pb.PointId, len(memoryIDs))
		for i, id := range memoryIDs {
			ids[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id.String()}}
		}
		req.Filter = &pb.Filter{
			Must: []*pb.Condition{
				{ConditionOneOf: &pb.Condition_HasId{HasId: &pb.PointsIdsList{Ids: ids}}},
			},
		}
	}

	resp, err := s.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant: search: %w", err)
	}

	out := make([]registryvector.SearchResult, 0, len(resp.GetResult()))
	for _, pt := range resp.GetResult() {
		id, ok := pointMemoryID(pt)
		if !ok {
			continue
		}
		out = append(out, registryvector.SearchResult{MemoryID: id, Score: float64(pt.GetScore())})
	}
	return out, nil
}

func pointMemoryID(pt *pb.ScoredPoint) (uuid.UUID, bool) {
	if v, ok := pt.GetPayload()["memory_id"]; ok {
		if id, err := uuid.Parse(v.GetStringValue()); err == nil {
			return id, true
		}
	}
	if id := pt.GetId(); id != nil {
		if s, ok := id.GetPointIdOptions().(*pb.PointId_Uuid); ok {
			if parsed, err := uuid.Parse(s.Uuid); err == nil {
				return parsed, true
			}
		}
	}
	return uuid.UUID{}, false
}

func newUint64(v uint64) *uint64 { return &v }

var _ registryvector.VectorStore = (*Store)(nil)
