// Package cache holds the materialized, revision-ordered view of every
// watched resource and fans live changes out to subscribers.
package cache

import (
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// Revision is the upstream API server's monotonic resourceVersion, scoped
// per resource type. It has no meaning compared across types.
type Revision uint64

// ResourceID identifies one resource instance independent of revision.
type ResourceID struct {
	Group     string
	Version   string
	Kind      string
	Namespace string
	Name      string
}

func (id ResourceID) String() string {
	if id.Namespace == "" {
		return fmt.Sprintf("%s/%s, Kind=%s, %s", id.Group, id.Version, id.Kind, id.Name)
	}
	return fmt.Sprintf("%s/%s, Kind=%s, %s/%s", id.Group, id.Version, id.Kind, id.Namespace, id.Name)
}

// EventType is the upstream watch verb, already normalized by the event parser.
type EventType string

const (
	EventAdded    EventType = "ADDED"
	EventModified EventType = "MODIFIED"
	EventDeleted  EventType = "DELETED"
)

// Event is what the watch loop feeds into the cache.
type Event struct {
	Type     EventType
	ID       ResourceID
	Revision Revision
	Object   *unstructured.Unstructured
}

// OutputEvent is what the cache hands to stream subscribers: a tombstone
// carries only enough metadata to identify what was removed.
type OutputEvent struct {
	Type     EventType
	ID       ResourceID
	Revision Revision
	Object   *unstructured.Unstructured
}

// Tombstone synthesizes the minimal JSON object a DELETED event carries:
// apiVersion, kind, and metadata.{name,namespace,resourceVersion} only.
func Tombstone(id ResourceID, rev Revision) *unstructured.Unstructured {
	apiVersion := id.Version
	if id.Group != "" {
		apiVersion = id.Group + "/" + id.Version
	}
	meta := map[string]interface{}{
		"name":            id.Name,
		"resourceVersion": fmt.Sprintf("%d", rev),
	}
	if id.Namespace != "" {
		meta["namespace"] = id.Namespace
	}
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": apiVersion,
		"kind":       id.Kind,
		"metadata":   meta,
	}}
}
