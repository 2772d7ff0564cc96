package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Document represents a strongly typed Firestore document with metadata timestamps.
type Document[T any] struct {
	ID         string
	Data       T
	CreateTime time.Time
	UpdateTime time.Time
}

// MutationResult captures the update timestamp returned by Firestore mutations.
// Inside a transaction the timestamp is zero since writes commit later.
type MutationResult struct {
	UpdateTime time.Time
}

// Decoder hydrates the strongly typed entity from a snapshot.
type Decoder[T any] func(snap *firestore.DocumentSnapshot) (T, error)

// QueryBuilder customises Firestore queries before execution.
type QueryBuilder func(query firestore.Query) firestore.Query

// BaseRepository provides typed helpers wrapping Firestore collection access.
// All operations honour a transaction carried on the context via WithTx.
type BaseRepository[T any] struct {
	provider   *Provider
	collection string
	decode     Decoder[T]
}

// NewBaseRepository constructs a BaseRepository bound to a collection.
func NewBaseRepository[T any](provider *Provider, collection string, decode Decoder[T]) *BaseRepository[T] {
	if decode == nil {
		decode = StructDecoder[T]()
	}
	return &BaseRepository[T]{
		provider:   provider,
		collection: strings.TrimSpace(collection),
		decode:     decode,
	}
}

// Create inserts the value under the provided document ID, failing when the
// document already exists.
func (r *BaseRepository[T]) Create(ctx context.Context, id string, value any) (MutationResult, error) {
	doc, err := r.documentRef(ctx, id)
	if err != nil {
		return MutationResult{}, err
	}

	if tx, ok := TxFrom(ctx); ok {
		if err := tx.Create(doc, value); err != nil {
			return MutationResult{}, WrapError(r.op("create"), err)
		}
		return MutationResult{}, nil
	}

	result, err := doc.Create(ctx, value)
	if err != nil {
		return MutationResult{}, WrapError(r.op("create"), err)
	}
	return MutationResult{UpdateTime: result.UpdateTime}, nil
}

// Set upserts the given value under the provided document ID.
func (r *BaseRepository[T]) Set(ctx context.Context, id string, value any, opts ...firestore.SetOption) (MutationResult, error) {
	doc, err := r.documentRef(ctx, id)
	if err != nil {
		return MutationResult{}, err
	}

	if tx, ok := TxFrom(ctx); ok {
		if err := tx.Set(doc, value, opts...); err != nil {
			return MutationResult{}, WrapError(r.op("set"), err)
		}
		return MutationResult{}, nil
	}

	result, err := doc.Set(ctx, value, opts...)
	if err != nil {
		return MutationResult{}, WrapError(r.op("set"), err)
	}
	return MutationResult{UpdateTime: result.UpdateTime}, nil
}

// Update applies partial updates to the document.
func (r *BaseRepository[T]) Update(ctx context.Context, id string, updates []firestore.Update, opts ...firestore.Precondition) (MutationResult, error) {
	doc, err := r.documentRef(ctx, id)
	if err != nil {
		return MutationResult{}, err
	}

	if tx, ok := TxFrom(ctx); ok {
		if err := tx.Update(doc, updates, opts...); err != nil {
			return MutationResult{}, WrapError(r.op("update"), err)
		}
		return MutationResult{}, nil
	}

	result, err := doc.Update(ctx, updates, opts...)
	if err != nil {
		return MutationResult{}, WrapError(r.op("update"), err)
	}
	return MutationResult{UpdateTime: result.UpdateTime}, nil
}

// Delete removes the document.
func (r *BaseRepository[T]) Delete(ctx context.Context, id string, opts ...firestore.Precondition) error {
	doc, err := r.documentRef(ctx, id)
	if err != nil {
		return err
	}

	if tx, ok := TxFrom(ctx); ok {
		return WrapError(r.op("delete"), tx.Delete(doc, opts...))
	}

	if _, err := doc.Delete(ctx, opts...); err != nil {
		return WrapError(r.op("delete"), err)
	}
	return nil
}

// Get fetches the document by ID and decodes it into the strongly typed entity.
func (r *BaseRepository[T]) Get(ctx context.Context, id string) (Document[T], error) {
	doc, err := r.documentRef(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}

	var snapshot *firestore.DocumentSnapshot
	if tx, ok := TxFrom(ctx); ok {
		snapshot, err = tx.Get(doc)
	} else {
		snapshot, err = doc.Get(ctx)
	}
	if err != nil {
		return Document[T]{}, WrapError(r.op("get"), err)
	}
	return r.decodeDocument(snapshot)
}

// Query executes a collection query and returns the decoded documents.
func (r *BaseRepository[T]) Query(ctx context.Context, build QueryBuilder) ([]Document[T], error) {
	coll, err := r.collectionRef(ctx)
	if err != nil {
		return nil, err
	}

	query := coll.Query
	if build != nil {
		query = build(query)
	}

	var iter *firestore.DocumentIterator
	if tx, ok := TxFrom(ctx); ok {
		iter = tx.Documents(query)
	} else {
		iter = query.Documents(ctx)
	}
	defer iter.Stop()

	var docs []Document[T]
	for {
		snapshot, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, WrapError(r.op("query"), err)
		}
		decoded, err := r.decodeDocument(snapshot)
		if err != nil {
			return nil, fmt.Errorf("firestore: decode document %s: %w", snapshot.Ref.ID, err)
		}
		docs = append(docs, decoded)
	}
	return docs, nil
}

// DocumentRef exposes the underlying document reference for advanced scenarios.
func (r *BaseRepository[T]) DocumentRef(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	return r.documentRef(ctx, id)
}

func (r *BaseRepository[T]) decodeDocument(snapshot *firestore.DocumentSnapshot) (Document[T], error) {
	entity, err := r.decode(snapshot)
	if err != nil {
		return Document[T]{}, err
	}
	return Document[T]{
		ID:         snapshot.Ref.ID,
		Data:       entity,
		CreateTime: snapshot.CreateTime,
		UpdateTime: snapshot.UpdateTime,
	}, nil
}

func (r *BaseRepository[T]) collectionRef(ctx context.Context) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, WrapError(r.op("collection"), errors.New("firestore: provider is nil"))
	}
	if r.collection == "" {
		return nil, WrapError(r.op("collection"), errors.New("firestore: collection name is required"))
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(r.collection), nil
}

func (r *BaseRepository[T]) documentRef(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(r.op("document"), errors.New("firestore: document id is required"))
	}
	coll, err := r.collectionRef(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

func (r *BaseRepository[T]) op(action string) string {
	name := "firestore"
	if r != nil && strings.TrimSpace(r.collection) != "" {
		name = r.collection
	}
	return fmt.Sprintf("%s.%s", name, action)
}

// StructDecoder populates the target struct using Firestore's native decoding.
func StructDecoder[T any]() Decoder[T] {
	return func(snap *firestore.DocumentSnapshot) (T, error) {
		var target T
		if err := snap.DataTo(&target); err != nil {
			return target, err
		}
		return target, nil
	}
}
