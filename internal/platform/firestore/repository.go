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
	UpdateTime time.Time
}

// Decoder hydrates the strongly typed entity from a snapshot.
type Decoder[T any] func(snap *firestore.DocumentSnapshot) (T, error)

// QueryBuilder customises Firestore queries before execution.
type QueryBuilder func(query firestore.Query) firestore.Query

// Collection provides typed access to one Firestore collection, outside or inside transactions.
type Collection[T any] struct {
	provider *Provider
	name     string
	decode   Decoder[T]
}

// NewCollection binds a typed helper to the named collection. A nil decoder uses DataTo.
func NewCollection[T any](provider *Provider, name string, decode Decoder[T]) *Collection[T] {
	if decode == nil {
		decode = StructDecoder[T]()
	}
	return &Collection[T]{provider: provider, name: strings.TrimSpace(name), decode: decode}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string {
	return c.name
}

// Ref returns the document reference for id.
func (c *Collection[T]) Ref(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(c.op("document"), errors.New("firestore: document id is required"))
	}
	coll, err := c.collectionRef(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

// Get fetches the document by ID.
func (c *Collection[T]) Get(ctx context.Context, id string) (Document[T], error) {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return Document[T]{}, WrapError(c.op("get"), err)
	}
	return c.decodeDocument(snap)
}

// TxGet reads the document inside tx. The second return is false when the document does not exist.
func (c *Collection[T]) TxGet(ctx context.Context, tx *firestore.Transaction, id string) (Document[T], bool, error) {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return Document[T]{}, false, err
	}
	snap, err := tx.Get(ref)
	if err != nil {
		if IsNotFound(err) {
			return Document[T]{}, false, nil
		}
		return Document[T]{}, false, WrapError(c.op("tx.get"), err)
	}
	doc, err := c.decodeDocument(snap)
	if err != nil {
		return Document[T]{}, false, err
	}
	return doc, true, nil
}

// Set upserts value under id.
func (c *Collection[T]) Set(ctx context.Context, id string, value any) error {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Set(ctx, value); err != nil {
		return WrapError(c.op("set"), err)
	}
	return nil
}

// Delete removes the document. Deleting a missing document is not an error.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil && !IsNotFound(err) {
		return WrapError(c.op("delete"), err)
	}
	return nil
}

// Query executes a collection query and returns the decoded documents.
func (c *Collection[T]) Query(ctx context.Context, build QueryBuilder) ([]Document[T], error) {
	coll, err := c.collectionRef(ctx)
	if err != nil {
		return nil, err
	}

	query := coll.Query
	if build != nil {
		query = build(query)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var docs []Document[T]
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, WrapError(c.op("query"), err)
		}
		doc, err := c.decodeDocument(snap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (c *Collection[T]) decodeDocument(snap *firestore.DocumentSnapshot) (Document[T], error) {
	entity, err := c.decode(snap)
	if err != nil {
		return Document[T]{}, fmt.Errorf("firestore: decode %s/%s: %w", c.name, snap.Ref.ID, err)
	}
	return Document[T]{ID: snap.Ref.ID, Data: entity, UpdateTime: snap.UpdateTime}, nil
}

func (c *Collection[T]) collectionRef(ctx context.Context) (*firestore.CollectionRef, error) {
	if c == nil || c.provider == nil {
		return nil, WrapError("firestore.collection", errors.New("firestore: provider is nil"))
	}
	if c.name == "" {
		return nil, WrapError("firestore.collection", errors.New("firestore: collection name is required"))
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name), nil
}

func (c *Collection[T]) op(action string) string {
	return fmt.Sprintf("%s.%s", c.name, action)
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
