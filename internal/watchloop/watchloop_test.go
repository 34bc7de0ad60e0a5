package watchloop

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/resourcewatch/aggregator/internal/cache"
	"github.com/resourcewatch/aggregator/internal/discovery"
	"github.com/resourcewatch/aggregator/internal/lib"
	"github.com/resourcewatch/aggregator/internal/transport"
)

func testBackoff() lib.BackoffConfig {
	return lib.BackoffConfig{
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        10 * time.Millisecond,
		BackoffMultiplier: 1.3,
		ResetAfter:        time.Hour,
	}
}

func TestLoop_ListSeedsCacheAndReturnsCursor(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/pods", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"apiVersion":"v1","kind":"PodList","metadata":{"resourceVersion":"10"},"items":[
			{"metadata":{"name":"a","namespace":"default","resourceVersion":"9"},"spec":{"nodeName":"node-a"}},
			{"metadata":{"name":"b","namespace":"default","resourceVersion":"10"}}
		]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := transport.NewClient(transport.Options{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	c := cache.New(16)
	d := discovery.Descriptor{Version: "v1", Kind: "Pod", Plural: "pods"}
	loop := New(d, client, c, zap.NewNop(), testBackoff(), 5)

	rev, err := loop.list(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cache.Revision(10), rev)
	assert.Contains(t, c.List(), "Pod")
	assert.Contains(t, c.List(), "a")
	assert.Contains(t, c.List(), "b")

	items := <-c.Stream(context.Background(), 0)
	require.NotNil(t, items.Event.Object)
	assert.Equal(t, "v1", items.Event.Object.GetAPIVersion())
	assert.Equal(t, "PodList", items.Event.Object.GetKind())
	nodeName, found, err := unstructured.NestedString(items.Event.Object.Object, "spec", "nodeName")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "node-a", nodeName)
}

func TestLoop_ConsumeAppliesEventsAndSkipsBookmarkWithoutAdvancingCursor(t *testing.T) {
	c := cache.New(16)
	d := discovery.Descriptor{Version: "v1", Kind: "Pod", Plural: "pods"}
	loop := New(d, nil, c, zap.NewNop(), testBackoff(), 5)

	frames := strings.Join([]string{
		`{"type":"ADDED","object":{"metadata":{"name":"a","resourceVersion":"1"}}}`,
		`{"type":"MODIFIED","object":{"metadata":{"name":"a","resourceVersion":"2"}}}`,
		`{"type":"BOOKMARK","object":{"metadata":{"resourceVersion":"5"}}}`,
		`{"type":"DELETED","object":{"metadata":{"name":"a","resourceVersion":"6"}}}`,
	}, "\n") + "\n"

	cursor, err := loop.consume(context.Background(), strings.NewReader(frames), 0)
	require.NoError(t, err)
	assert.Equal(t, cache.Revision(6), cursor)
	assert.NotContains(t, c.List(), "<td>a</td>")

	bookmarkOnly := `{"type":"BOOKMARK","object":{"metadata":{"resourceVersion":"5"}}}` + "\n"
	cursor, err = loop.consume(context.Background(), strings.NewReader(bookmarkOnly), 2)
	require.NoError(t, err)
	assert.Equal(t, cache.Revision(2), cursor)
}

func TestLoop_ConsumeSkipsMalformedFrameWithoutAborting(t *testing.T) {
	c := cache.New(16)
	d := discovery.Descriptor{Version: "v1", Kind: "Pod", Plural: "pods"}
	loop := New(d, nil, c, zap.NewNop(), testBackoff(), 5)

	frames := strings.Join([]string{
		`not json at all`,
		`{"type":"ADDED","object":{"metadata":{"name":"a","resourceVersion":"3"}}}`,
	}, "\n") + "\n"

	cursor, err := loop.consume(context.Background(), strings.NewReader(frames), 0)
	require.NoError(t, err)
	assert.Equal(t, cache.Revision(3), cursor)
	assert.Contains(t, c.List(), "a")
}

func TestLoop_WatchFallsBackToListAfterMaxConsecutiveErrors(t *testing.T) {
	attempts := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/pods", func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := transport.NewClient(transport.Options{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	c := cache.New(16)
	d := discovery.Descriptor{Version: "v1", Kind: "Pod", Plural: "pods"}
	loop := New(d, client, c, zap.NewNop(), testBackoff(), 3)

	done := make(chan struct{})
	go func() {
		loop.watch(context.Background(), 0)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not fall back to list within timeout")
	}
	assert.GreaterOrEqual(t, attempts, 3)
}

func TestLoop_Run_StopsOnContextCancel(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/pods", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("watch") == "true" {
			w.WriteHeader(http.StatusOK)
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
			<-r.Context().Done()
			return
		}
		w.Write([]byte(fmt.Sprintf(`{"metadata":{"resourceVersion":"%d"},"items":[]}`, 1)))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := transport.NewClient(transport.Options{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	c := cache.New(16)
	d := discovery.Descriptor{Version: "v1", Kind: "Pod", Plural: "pods"}
	loop := New(d, client, c, zap.NewNop(), testBackoff(), 5)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
