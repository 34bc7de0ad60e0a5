// Package watchloop runs one long-lived Listing/Watching state machine per
// discovered resource type, feeding every change into the shared Cache.
package watchloop

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/resourcewatch/aggregator/internal/cache"
	"github.com/resourcewatch/aggregator/internal/discovery"
	"github.com/resourcewatch/aggregator/internal/eventparser"
	"github.com/resourcewatch/aggregator/internal/lib"
	"github.com/resourcewatch/aggregator/internal/transport"
)

// listResponse is the shape of a LIST response. Individual items typically
// omit apiVersion/kind (only the envelope carries them), so each item is
// kept as a raw JSON tree and stitched together with the envelope's
// apiVersion/kind before being handed to the cache.
type listResponse struct {
	APIVersion string `json:"apiVersion"`
	Kind       string `json:"kind"`
	Metadata   struct {
		ResourceVersion string `json:"resourceVersion"`
	} `json:"metadata"`
	Items []json.RawMessage `json:"items"`
}

// itemMeta is decoded out of each item's own JSON tree to learn its
// identity without committing to its full schema.
type itemMeta struct {
	Metadata struct {
		Name            string `json:"name"`
		Namespace       string `json:"namespace"`
		ResourceVersion string `json:"resourceVersion"`
	} `json:"metadata"`
}

// Loop owns one resource type's watch/relist state machine.
type Loop struct {
	descriptor     discovery.Descriptor
	client         *transport.Client
	cache          *cache.Cache
	logger         *zap.Logger
	backoffCfg     lib.BackoffConfig
	maxWatchErrors int
}

func New(d discovery.Descriptor, client *transport.Client, c *cache.Cache, logger *zap.Logger, backoffCfg lib.BackoffConfig, maxWatchErrors int) *Loop {
	return &Loop{
		descriptor:     d,
		client:         client,
		cache:          c,
		logger:         logger.With(zap.String("kind", d.Kind), zap.String("group", d.Group), zap.String("version", d.Version)),
		backoffCfg:     backoffCfg,
		maxWatchErrors: maxWatchErrors,
	}
}

// Run never returns until ctx is cancelled: it alternates between Listing
// (full resync, establishing a cursor) and Watching (streaming from that
// cursor), reconnecting forever on error.
func (l *Loop) Run(ctx context.Context) {
	backoff := lib.NewBackoffManager(l.backoffCfg)

	for {
		if ctx.Err() != nil {
			return
		}

		cursor, err := l.list(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := backoff.NextBackoff()
			l.logger.Warn("list failed, retrying", zap.Error(err), zap.Duration("backoff", wait))
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return
			}
		}
		backoff.Reset()

		l.watch(ctx, cursor)
	}
}

// list performs a full resync and seeds the cache with every current
// object, returning the resourceVersion to watch from.
func (l *Loop) list(ctx context.Context) (cache.Revision, error) {
	body, err := l.client.Get(ctx, l.descriptor.ListPath(), nil)
	if err != nil {
		return 0, err
	}

	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, errors.Wrap(err, "decoding list response")
	}

	var rev uint64
	fmt.Sscanf(resp.Metadata.ResourceVersion, "%d", &rev)

	for _, raw := range resp.Items {
		var meta itemMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			l.logger.Warn("skipping malformed list item", zap.Error(err))
			continue
		}
		var itemRev uint64
		fmt.Sscanf(meta.Metadata.ResourceVersion, "%d", &itemRev)

		doc := map[string]interface{}{}
		if err := json.Unmarshal(raw, &doc); err != nil {
			l.logger.Warn("skipping malformed list item", zap.Error(err))
			continue
		}
		doc["apiVersion"] = resp.APIVersion
		doc["kind"] = resp.Kind

		id := cache.ResourceID{
			Group:     l.descriptor.Group,
			Version:   l.descriptor.Version,
			Kind:      l.descriptor.Kind,
			Namespace: meta.Metadata.Namespace,
			Name:      meta.Metadata.Name,
		}
		l.cache.Update(cache.Event{
			Type:     cache.EventAdded,
			ID:       id,
			Revision: cache.Revision(itemRev),
			Object:   &unstructured.Unstructured{Object: doc},
		})
	}

	return cache.Revision(rev), nil
}

// watch streams events from cursor, reconnecting from the latest cursor
// whenever a connection ends, until ctx is cancelled or maxWatchErrors
// consecutive connection/stream errors accumulate, at which point it
// returns so Run falls back to a full Listing pass. Malformed frames are
// skipped by consume and do not count as errors.
func (l *Loop) watch(ctx context.Context, cursor cache.Revision) {
	consecutiveErrors := 0
	backoff := lib.NewBackoffManager(l.backoffCfg)

	for {
		if ctx.Err() != nil {
			return
		}

		query := transport.WatchQuery(url.Values{}, fmt.Sprintf("%d", cursor))
		body, err := l.client.Watch(ctx, l.descriptor.ListPath(), query)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			consecutiveErrors++
			if consecutiveErrors >= l.maxWatchErrors {
				l.logger.Warn("too many consecutive watch errors, falling back to list", zap.Int("errors", consecutiveErrors))
				return
			}
			wait := backoff.NextBackoff()
			l.logger.Warn("watch connection failed, retrying", zap.Error(err), zap.Duration("backoff", wait))
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return
			}
		}

		newCursor, streamErr := l.consume(ctx, body, cursor)
		body.Close()
		cursor = newCursor

		if streamErr == nil {
			backoff.Reset()
			consecutiveErrors = 0
			if ctx.Err() != nil {
				return
			}
			continue
		}

		consecutiveErrors++
		if consecutiveErrors >= l.maxWatchErrors {
			l.logger.Warn("too many consecutive watch errors, falling back to list", zap.Int("errors", consecutiveErrors))
			return
		}
		wait := backoff.NextBackoff()
		l.logger.Warn("watch stream ended with error, reconnecting", zap.Error(streamErr), zap.Duration("backoff", wait))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}

// consume reads NDJSON frames until the stream ends, applying each parsed
// event to the cache and advancing the cursor. Malformed frames are logged
// and skipped rather than tearing down the connection.
func (l *Loop) consume(ctx context.Context, body io.Reader, cursor cache.Revision) (cache.Revision, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	desc := eventparser.Descriptor{Group: l.descriptor.Group, Version: l.descriptor.Version, Kind: l.descriptor.Kind}

	for scanner.Scan() {
		if ctx.Err() != nil {
			return cursor, nil
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		ev, _, err := eventparser.Parse(line, desc)
		if err != nil {
			l.logger.Warn("skipping malformed watch frame", zap.Error(err))
			continue
		}

		if ev.Type == cache.EventDeleted {
			l.cache.Remove(ev.ID, ev.Revision)
		} else {
			l.cache.Update(*ev)
		}
		cursor = ev.Revision
	}

	if err := scanner.Err(); err != nil {
		return cursor, err
	}
	return cursor, nil
}
