// Package eventparser decodes one upstream watch frame into a typed
// cache.Event, rejecting anything the cache can't safely apply.
package eventparser

import (
	"encoding/json"
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/resourcewatch/aggregator/internal/cache"
)

// ErrMalformedFrame is returned for any frame the parser rejects; the watch
// loop logs it and skips the frame rather than tearing down the connection.
type ErrMalformedFrame struct {
	Reason string
}

func (e *ErrMalformedFrame) Error() string {
	return fmt.Sprintf("malformed watch frame: %s", e.Reason)
}

// frame mirrors the upstream watch wire format: {"type": "...", "object": {...}}.
type frame struct {
	Type   string          `json:"type"`
	Object json.RawMessage `json:"object"`
}

// Descriptor carries the resource-type identity that isn't present in the
// wire frame itself (the watch loop already knows which type it's watching).
type Descriptor struct {
	Group     string
	Version   string
	Kind      string
	Namespace string
}

// Parse decodes raw into a cache.Event. Anything other than ADDED/MODIFIED/
// DELETED — including BOOKMARK — is rejected as *ErrMalformedFrame; the watch
// loop logs it and skips the frame without advancing its cursor.
func Parse(raw []byte, d Descriptor) (*cache.Event, cache.Revision, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, 0, &ErrMalformedFrame{Reason: "invalid JSON: " + err.Error()}
	}

	switch f.Type {
	case "ADDED", "MODIFIED", "DELETED":
	case "ERROR":
		return nil, 0, &ErrMalformedFrame{Reason: "upstream reported ERROR event"}
	default:
		return nil, 0, &ErrMalformedFrame{Reason: "unknown event type " + f.Type}
	}

	if len(f.Object) == 0 {
		return nil, 0, &ErrMalformedFrame{Reason: "missing object"}
	}

	u := &unstructured.Unstructured{}
	if err := u.UnmarshalJSON(f.Object); err != nil {
		return nil, 0, &ErrMalformedFrame{Reason: "object is not a JSON tree: " + err.Error()}
	}

	name := u.GetName()
	if name == "" {
		return nil, 0, &ErrMalformedFrame{Reason: "missing metadata.name"}
	}

	rv := u.GetResourceVersion()
	if rv == "" {
		return nil, 0, &ErrMalformedFrame{Reason: "missing metadata.resourceVersion"}
	}
	var rev uint64
	if _, err := fmt.Sscanf(rv, "%d", &rev); err != nil {
		return nil, 0, &ErrMalformedFrame{Reason: "resourceVersion is not numeric: " + rv}
	}

	id := cache.ResourceID{
		Group:     d.Group,
		Version:   d.Version,
		Kind:      d.Kind,
		Namespace: u.GetNamespace(),
		Name:      name,
	}

	return &cache.Event{
		Type:     cache.EventType(f.Type),
		ID:       id,
		Revision: cache.Revision(rev),
		Object:   u,
	}, cache.Revision(rev), nil
}
