// Package vectorindex wraps the Qdrant gRPC client with the passage schema
// the retrieval and ingestion pipelines share: one point per chunk, payload
// fields for institution, title, page and line anchors, and a doc_id field
// used to remove every passage belonging to a document in one call.
package vectorindex

import (
	"context"
	"fmt"

	"github.com/mevzuatgpt/mevzuatgpt-server/engine/domain"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Hit is a single similarity search result.
type Hit struct {
	ID          string
	Score       float32
	DocumentID  string
	ChunkIndex  int
	Text        string
	Page        int
	LineStart   int
	LineEnd     int
	Institution string
	DocTitle    string
}

// pointsClient and collectionsClient are the narrow subsets of the Qdrant
// gRPC client surface this package calls, so tests can substitute mocks
// without a live server.
type pointsClient interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

type collectionsClient interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
}

// Index is the sole owner of all Qdrant operations used by the service.
type Index struct {
	conn        *grpc.ClientConn
	points      pointsClient
	collections collectionsClient
	collection  string
}

// New dials Qdrant at addr and binds to the given collection name.
func New(addr, collection string) (*Index, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("vectorindex: dial qdrant %s: %w", addr, err)
	}
	return &Index{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// NewWithClients builds an Index around pre-constructed clients, used by
// tests to inject mocks.
func NewWithClients(points pointsClient, collections collectionsClient, collection string) *Index {
	return &Index{points: points, collections: collections, collection: collection}
}

// Close closes the underlying gRPC connection. A no-op when the Index was
// built with NewWithClients.
func (idx *Index) Close() error {
	if idx.conn == nil {
		return nil
	}
	return idx.conn.Close()
}

// EnsureCollection creates the collection if it doesn't already exist.
func (idx *Index) EnsureCollection(ctx context.Context, dims int) error {
	list, err := idx.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("vectorindex: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == idx.collection {
			return nil
		}
	}

	_, err = idx.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: idx.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vectorindex: create collection %s: %w", idx.collection, err)
	}
	return nil
}

// VerifyDimensions confirms the collection's configured vector size matches
// the embedder's native dimension. A mismatch is an invariant violation: the
// service must refuse to start rather than silently truncate or pad vectors.
func (idx *Index) VerifyDimensions(ctx context.Context, expected int) error {
	info, err := idx.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: idx.collection})
	if err != nil {
		return fmt.Errorf("vectorindex: get collection info: %w", err)
	}
	params := info.GetResult().GetConfig().GetParams()
	actual := int(params.GetVectorsConfig().GetParams().GetSize())
	if actual != expected {
		return fmt.Errorf("vectorindex: collection %s has dimension %d, embedder produces %d: %w",
			idx.collection, actual, expected, domain.ErrInvalidDocument)
	}
	return nil
}

// Upsert writes one point per passage, keyed by a deterministic UUID derived
// by the caller from (DocumentID, ChunkIndex).
func (idx *Index) Upsert(ctx context.Context, id string, p domain.Passage) error {
	return idx.UpsertBatch(ctx, []UpsertRecord{{ID: id, Passage: p}})
}

// UpsertRecord pairs a point ID with the passage it stores.
type UpsertRecord struct {
	ID      string
	Passage domain.Passage
}

// UpsertBatch writes many passages in a single Qdrant call.
func (idx *Index) UpsertBatch(ctx context.Context, records []UpsertRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		p := r.Passage
		payload := map[string]*pb.Value{
			"doc_id":      strValue(p.DocumentID),
			"chunk_index": intValue(int64(p.ChunkIndex)),
			"text":        strValue(p.Text),
			"page":        intValue(int64(p.Page)),
			"line_start":  intValue(int64(p.LineStart)),
			"line_end":    intValue(int64(p.LineEnd)),
			"institution": strValue(p.Institution),
			"doc_title":   strValue(p.DocTitle),
		}
		for k, v := range p.Metadata {
			payload["meta_"+k] = strValue(v)
		}

		points[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: r.ID}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: p.Embedding}},
			},
			Payload: payload,
		}
	}

	wait := true
	_, err := idx.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: idx.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("vectorindex: upsert %d points: %w", len(records), err)
	}
	return nil
}

// DeleteByDocument removes every passage belonging to documentID. Used both
// for re-ingestion and for hard-deleting a retracted document.
func (idx *Index) DeleteByDocument(ctx context.Context, documentID string) error {
	wait := true
	_, err := idx.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: idx.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{Must: []*pb.Condition{fieldMatch("doc_id", documentID)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vectorindex: delete by doc_id %s: %w", documentID, err)
	}
	return nil
}

// SearchOpts filters and sizes a similarity search.
type SearchOpts struct {
	TopK        int
	Institution string
}

// Search runs k-NN similarity search, optionally filtered to one
// institution.
func (idx *Index) Search(ctx context.Context, embedding []float32, opts SearchOpts) ([]Hit, error) {
	req := &pb.SearchPoints{
		CollectionName: idx.collection,
		Vector:         embedding,
		Limit:          uint64(opts.TopK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if opts.Institution != "" {
		req.Filter = &pb.Filter{Must: []*pb.Condition{fieldMatch("institution", opts.Institution)}}
	}

	resp, err := idx.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: search: %w", err)
	}

	hits := make([]Hit, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		payload := r.GetPayload()
		hits[i] = Hit{
			ID:          r.GetId().GetUuid(),
			Score:       r.GetScore(),
			DocumentID:  payload["doc_id"].GetStringValue(),
			ChunkIndex:  int(payload["chunk_index"].GetIntegerValue()),
			Text:        payload["text"].GetStringValue(),
			Page:        int(payload["page"].GetIntegerValue()),
			LineStart:   int(payload["line_start"].GetIntegerValue()),
			LineEnd:     int(payload["line_end"].GetIntegerValue()),
			Institution: payload["institution"].GetStringValue(),
			DocTitle:    payload["doc_title"].GetStringValue(),
		}
	}
	return hits, nil
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func strValue(s string) *pb.Value { return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}} }
func intValue(i int64) *pb.Value  { return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: i}} }
