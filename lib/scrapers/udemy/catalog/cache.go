package catalog

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/dgraph-io/badger/v4"
)

// idCache remembers which course id a raw link resolved to, so re-runs
// skip the page-rendering fallback entirely. Course ids never change so
// entries have no expiry.
type idCache struct {
	db *badger.DB
}

func (c idCache) key(rawLink string) []byte {
	return []byte("courseid:" + rawLink)
}

func (c idCache) get(ctx context.Context, rawLink string) (int64, bool) {
	if c.db == nil {
		return 0, false
	}

	ctx, span := tracer.Start(ctx, "cache:get")
	defer span.End()
	span.SetAttributes(attribute.KeyValue{
		Key:   "link",
		Value: attribute.StringValue(rawLink),
	})

	tx := c.db.NewTransaction(false)
	defer tx.Discard()

	item, err := tx.Get(c.key(rawLink))
	if err == badger.ErrKeyNotFound {
		return 0, false
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read item from badger")
		return 0, false
	}
	serialized, err := item.ValueCopy(nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to copy cached item")
		return 0, false
	}

	id, err := strconv.ParseInt(string(serialized), 10, 64)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse cached course id")
		return 0, false
	}
	return id, true
}

func (c idCache) set(ctx context.Context, rawLink string, id int64) {
	if c.db == nil {
		return
	}

	ctx, span := tracer.Start(ctx, "cache:set")
	defer span.End()

	tx := c.db.NewTransaction(true)
	defer tx.Commit()

	err := tx.Set(c.key(rawLink), []byte(strconv.FormatInt(id, 10)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to set badger item")
	}
}
