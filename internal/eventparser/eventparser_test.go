package eventparser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resourcewatch/aggregator/internal/cache"
)

var podDescriptor = Descriptor{Version: "v1", Kind: "Pod"}

func TestParse_ValidModifiedFrame(t *testing.T) {
	raw := []byte(`{
		"type": "MODIFIED",
		"object": {
			"apiVersion": "v1",
			"kind": "Pod",
			"metadata": {"name": "nginx", "namespace": "default", "resourceVersion": "42"}
		}
	}`)

	ev, rev, err := Parse(raw, podDescriptor)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, cache.EventModified, ev.Type)
	assert.Equal(t, cache.Revision(42), rev)
	assert.Equal(t, cache.Revision(42), ev.Revision)
	assert.Equal(t, "nginx", ev.ID.Name)
	assert.Equal(t, "default", ev.ID.Namespace)
}

func TestParse_BookmarkRejected(t *testing.T) {
	raw := []byte(`{"type": "BOOKMARK", "object": {"metadata": {"resourceVersion": "100"}}}`)
	ev, _, err := Parse(raw, podDescriptor)
	require.Error(t, err)
	var malformed *ErrMalformedFrame
	require.ErrorAs(t, err, &malformed)
	assert.Nil(t, ev)
}

func TestParse_MissingNameRejected(t *testing.T) {
	raw := []byte(`{
		"type": "ADDED",
		"object": {"apiVersion": "v1", "kind": "Pod", "metadata": {"resourceVersion": "1"}}
	}`)
	_, _, err := Parse(raw, podDescriptor)
	require.Error(t, err)
	var malformed *ErrMalformedFrame
	require.ErrorAs(t, err, &malformed)
}

func TestParse_UnknownTypeRejected(t *testing.T) {
	raw := []byte(`{"type": "REPLACED", "object": {}}`)
	_, _, err := Parse(raw, podDescriptor)
	require.Error(t, err)
}

func TestParse_InvalidJSONRejected(t *testing.T) {
	_, _, err := Parse([]byte("not json"), podDescriptor)
	require.Error(t, err)
}

func TestParse_MissingResourceVersionRejected(t *testing.T) {
	raw := []byte(`{
		"type": "ADDED",
		"object": {"apiVersion": "v1", "kind": "Pod", "metadata": {"name": "a"}}
	}`)
	_, _, err := Parse(raw, podDescriptor)
	require.Error(t, err)
}
