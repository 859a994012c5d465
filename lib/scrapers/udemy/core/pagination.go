package core

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// FetchAllPages follows the `next` link convention across a paged listing
// and returns the concatenation of every page's results, in page order.
// A `next` url that was already visited terminates pagination early so a
// misbehaving server cannot loop us forever.
func FetchAllPages[T any](ctx context.Context, client *Client, startUrl string) ([]T, error) {
	ctx, span := tracer.Start(ctx, "FetchAllPages")
	defer span.End()
	span.SetAttributes(attribute.KeyValue{
		Key:   "url",
		Value: attribute.StringValue(startUrl),
	})

	visited := map[string]bool{}
	var all []T

	next := startUrl
	for next != "" && !visited[next] {
		visited[next] = true

		res, err := client.Http.R().
			SetContext(ctx).
			Get(next)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to fetch page")
			return nil, err
		}
		if res.IsError() {
			err := &FetchError{
				Url:        next,
				StatusCode: res.StatusCode(),
				Body:       res.String(),
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "page returned non-success status")
			return nil, err
		}

		var page Page[T]
		err = json.Unmarshal(res.Body(), &page)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to decode page")
			return nil, err
		}

		all = append(all, page.Results...)
		next = page.Next
	}

	span.SetAttributes(attribute.KeyValue{
		Key:   "pages",
		Value: attribute.IntValue(len(visited)),
	})
	return all, nil
}
