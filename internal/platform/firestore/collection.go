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

// Document is a decoded snapshot of a collection member.
type Document[T any] struct {
	ID         string
	Data       T
	UpdateTime time.Time
}

// Collection is a typed, append-only view of one Firestore collection. Values are written with
// Create, so an existing document is never overwritten, and decoded with DataTo.
type Collection[T any] struct {
	provider *Provider
	name     string
}

// NewCollection binds a Collection to name.
func NewCollection[T any](provider *Provider, name string) *Collection[T] {
	return &Collection[T]{provider: provider, name: strings.TrimSpace(name)}
}

// Create stores value under id. Writing an id twice yields a conflict error.
func (c *Collection[T]) Create(ctx context.Context, id string, value T) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%s: document id is required", c.op("create"))
	}
	coll, err := c.ref(ctx)
	if err != nil {
		return err
	}
	_, err = coll.Doc(id).Create(ctx, value)
	return WrapError(c.op("create"), err)
}

// Query runs build against the collection and decodes every returned document.
func (c *Collection[T]) Query(ctx context.Context, build func(firestore.Query) firestore.Query) ([]Document[T], error) {
	coll, err := c.ref(ctx)
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
		snapshot, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return docs, nil
		}
		if err != nil {
			return nil, WrapError(c.op("query"), err)
		}
		var data T
		if err := snapshot.DataTo(&data); err != nil {
			return nil, fmt.Errorf("%s: decode %s: %w", c.op("query"), snapshot.Ref.ID, err)
		}
		docs = append(docs, Document[T]{ID: snapshot.Ref.ID, Data: data, UpdateTime: snapshot.UpdateTime})
	}
}

func (c *Collection[T]) ref(ctx context.Context) (*firestore.CollectionRef, error) {
	if c == nil || c.name == "" {
		return nil, errors.New("firestore: collection name is required")
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name), nil
}

func (c *Collection[T]) op(action string) string {
	return c.name + "." + action
}
