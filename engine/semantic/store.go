// Package semantic keeps explanation vectors in a Qdrant collection. It
// implements vindex.Provider and vindex.Index so the explanation store can
// use Qdrant in place of the local index file.
package semantic

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/WessleyAI/wessley-health/engine/domain"
	"github.com/WessleyAI/wessley-health/engine/vindex"
)

// KeyField is the payload field holding the entry key.
const KeyField = "key"

// pointsAPI is the subset of pb.PointsClient used here.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

// collectionsAPI is the subset of pb.CollectionsClient used here.
type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// VectorStore is the sole owner of all Qdrant operations.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
	dim         int
}

var (
	_ vindex.Provider = (*VectorStore)(nil)
	_ vindex.Index    = (*VectorStore)(nil)
)

// New creates a VectorStore connected to Qdrant at the given gRPC address.
func New(addr, collection string, dim int) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	vs := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection, dim)
	vs.conn = conn
	return vs, nil
}

// NewWithClients builds a VectorStore on pre-made clients.
func NewWithClients(points pointsAPI, collections collectionsAPI, collection string, dim int) *VectorStore {
	return &VectorStore{
		points:      points,
		collections: collections,
		collection:  collection,
		dim:         dim,
	}
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

func (v *VectorStore) exists(ctx context.Context) (bool, error) {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return false, domain.Upstream("qdrant list collections", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return true, nil
		}
	}
	return false, nil
}

// EnsureCollection creates the collection with euclidean distance if it
// doesn't exist.
func (v *VectorStore) EnsureCollection(ctx context.Context, dims int) error {
	ok, err := v.exists(ctx)
	if err != nil {
		return fmt.Errorf("semantic: %w", err)
	}
	if ok {
		return nil
	}

	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Euclid,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", v.collection, domain.Upstream("qdrant create", err))
	}
	return nil
}

// DeleteCollection deletes the collection.
func (v *VectorStore) DeleteCollection(ctx context.Context) error {
	_, err := v.collections.Delete(ctx, &pb.DeleteCollection{
		CollectionName: v.collection,
	})
	if err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", v.collection, domain.Upstream("qdrant delete", err))
	}
	return nil
}

// Open returns the store as an index when the collection exists.
func (v *VectorStore) Open(ctx context.Context) (vindex.Index, error) {
	ok, err := v.exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("semantic: open: %w: %v", domain.ErrDegradedIndex, err)
	}
	if !ok {
		return nil, fmt.Errorf("semantic: collection %s: %w", v.collection, domain.ErrNotFound)
	}
	return v, nil
}

// Create drops any existing collection and recreates it empty.
func (v *VectorStore) Create(ctx context.Context, dim int) (vindex.Index, error) {
	ok, err := v.exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("semantic: create: %w", err)
	}
	if ok {
		if err := v.DeleteCollection(ctx); err != nil {
			return nil, err
		}
	}
	if err := v.EnsureCollection(ctx, dim); err != nil {
		return nil, err
	}
	v.dim = dim
	return v, nil
}

// Persist is a no-op: Qdrant acknowledges upserts with wait=true.
func (v *VectorStore) Persist(context.Context, vindex.Index) error { return nil }

// Dim returns the configured vector dimension.
func (v *VectorStore) Dim() int { return v.dim }

// PointID derives the stable point id for an entry key.
func PointID(key string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("explanation:"+key)).String()
}

// Upsert stores vec under key.
func (v *VectorStore) Upsert(ctx context.Context, key string, vec []float32) error {
	if err := domain.ValidateVector(vec, v.dim); err != nil {
		return fmt.Errorf("semantic: upsert: %w", err)
	}
	return v.UpsertRecords(ctx, []VectorRecord{{
		ID:      PointID(key),
		Vector:  vec,
		Payload: map[string]any{KeyField: key},
	}})
}

// UpsertRecords writes points with arbitrary scalar payloads.
func (v *VectorStore) UpsertRecords(ctx context.Context, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		payload := make(map[string]*pb.Value, len(r.Payload))
		for k, val := range r.Payload {
			payload[k] = toValue(val)
		}
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: r.ID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Vector},
				},
			},
			Payload: payload,
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(records), domain.Upstream("qdrant upsert", err))
	}
	return nil
}

// Nearest performs k-NN search; the hit distance is Qdrant's euclidean score.
func (v *VectorStore) Nearest(ctx context.Context, probe []float32, k int) ([]vindex.Hit, error) {
	if err := domain.ValidateVector(probe, v.dim); err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}
	resp, err := v.points.Search(ctx, &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         probe,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", domain.Upstream("qdrant search", err))
	}

	hits := make([]vindex.Hit, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		key := r.GetPayload()[KeyField].GetStringValue()
		if key == "" {
			continue
		}
		hits = append(hits, vindex.Hit{Key: key, Distance: r.GetScore()})
	}
	return hits, nil
}

func toValue(val any) *pb.Value {
	switch tv := val.(type) {
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
	default:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
	}
}

// VectorRecord is a single point to store in Qdrant.
type VectorRecord struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}
