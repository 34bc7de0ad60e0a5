package cache

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
	"sync"

	"github.com/google/btree"
)

// indexKey orders the cache's btree index by (revision, id): revisions are
// only comparable within one resource type, so ties (or, worse, collisions
// across types sharing a numeric resourceVersion) are broken by identity
// rather than merged into a single entry.
type indexKey struct {
	rev Revision
	id  ResourceID
}

func lessIndexKey(a, b indexKey) bool {
	if a.rev != b.rev {
		return a.rev < b.rev
	}
	return fmt.Sprint(a.id) < fmt.Sprint(b.id)
}

type liveEntry struct {
	rev   Revision
	event OutputEvent
}

// Cache is the materialized view of every watched resource: a live map
// keyed by identity, a revision-ordered index for replay, and a publisher
// that fans out every mutation to stream subscribers. Resources removed
// from the cluster are absent from live (never tombstoned in place) but
// still appear once, as a DELETED OutputEvent, to anyone streaming.
type Cache struct {
	mu    sync.RWMutex
	live  map[ResourceID]liveEntry
	index *btree.BTreeG[indexKey]
	pub   *ring
}

func New(bufferSize int) *Cache {
	return &Cache{
		live:  make(map[ResourceID]liveEntry),
		index: btree.NewG(32, lessIndexKey),
		pub:   newRing(bufferSize),
	}
}

// Update applies an ADDED or MODIFIED event: the previous index entry for
// this id (if any) is dropped so the index never accumulates stale
// revisions for the same identity.
func (c *Cache) Update(ev Event) {
	c.mu.Lock()
	if prev, ok := c.live[ev.ID]; ok {
		c.index.Delete(indexKey{rev: prev.rev, id: ev.ID})
	}
	out := OutputEvent{Type: ev.Type, ID: ev.ID, Revision: ev.Revision, Object: ev.Object}
	c.live[ev.ID] = liveEntry{rev: ev.Revision, event: out}
	c.index.ReplaceOrInsert(indexKey{rev: ev.Revision, id: ev.ID})
	c.pub.publish(out)
	c.mu.Unlock()
}

// Remove applies a DELETED event: the id leaves live and its index entry is
// dropped (per spec, the index only orders what's currently live), but a
// synthesized tombstone is still published to subscribers.
func (c *Cache) Remove(id ResourceID, rev Revision) {
	c.mu.Lock()
	if prev, ok := c.live[id]; ok {
		c.index.Delete(indexKey{rev: prev.rev, id: id})
	}
	delete(c.live, id)
	c.mu.Unlock()

	c.pub.publish(OutputEvent{Type: EventDeleted, ID: id, Revision: rev, Object: Tombstone(id, rev)})
}

// List renders an HTML table of the live cache, grounded on the Rust
// original's cache.rs::list() tabular dump.
func (c *Cache) List() string {
	c.mu.RLock()
	rows := make([]liveEntry, 0, len(c.live))
	for _, e := range c.live {
		rows = append(rows, e)
	}
	c.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].event.ID.Kind != rows[j].event.ID.Kind {
			return rows[i].event.ID.Kind < rows[j].event.ID.Kind
		}
		return fmt.Sprint(rows[i].event.ID) < fmt.Sprint(rows[j].event.ID)
	})

	var b strings.Builder
	b.WriteString("<table><thead><tr><th>Group</th><th>Version</th><th>Kind</th><th>Namespace</th><th>Name</th><th>Revision</th></tr></thead><tbody>\n")
	for _, r := range rows {
		id := r.event.ID
		fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%d</td></tr>\n",
			html.EscapeString(id.Group), html.EscapeString(id.Version), html.EscapeString(id.Kind),
			html.EscapeString(id.Namespace), html.EscapeString(id.Name), r.rev)
	}
	b.WriteString("</tbody></table>\n")
	return b.String()
}

// StreamItem is one value delivered by Stream: either an event, or a
// terminal Err (ErrLagged when the subscriber fell behind the publisher's
// buffer; any other non-nil Err means the stream is over).
type StreamItem struct {
	Event OutputEvent
	Err   error
}

// Stream replays every cached resource with revision >= from, then
// continues with live events as they're published. Subscribing and
// snapshotting happen under the cache's read lock, and Update publishes
// while holding the write lock, so no update can be missed or duplicated
// across the replay/live boundary.
func (c *Cache) Stream(ctx context.Context, from Revision) <-chan StreamItem {
	c.mu.RLock()
	sub := c.pub.subscribe(c.pub.cursor())
	snapshot := make([]indexKey, 0, c.index.Len())
	c.index.AscendGreaterOrEqual(indexKey{rev: from}, func(k indexKey) bool {
		snapshot = append(snapshot, k)
		return true
	})
	events := make([]OutputEvent, 0, len(snapshot))
	for _, k := range snapshot {
		if e, ok := c.live[k.id]; ok {
			events = append(events, e.event)
		}
	}
	c.mu.RUnlock()

	out := make(chan StreamItem, 16)
	go func() {
		defer close(out)
		for _, ev := range events {
			select {
			case out <- StreamItem{Event: ev}:
			case <-ctx.Done():
				return
			}
		}
		for {
			ev, err, ok := sub.next(ctx.Done())
			if !ok {
				return
			}
			if err != nil {
				select {
				case out <- StreamItem{Err: err}:
				case <-ctx.Done():
				}
				return
			}
			select {
			case out <- StreamItem{Event: ev}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Close shuts down the publisher; any in-flight Stream calls observe the
// ring closing and their channels close in turn.
func (c *Cache) Close() {
	c.pub.close()
}
