package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/resourcewatch/aggregator/internal/config"
	"github.com/resourcewatch/aggregator/internal/transport"
)

func TestBoot_DiscoversAndSeedsCacheFromInitialList(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"kind":"APIVersions","versions":["v1"]}`))
	})
	mux.HandleFunc("/api/v1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"kind":"APIResourceList","groupVersion":"v1","resources":[
			{"name":"pods","namespaced":true,"kind":"Pod","verbs":["get","list","watch"]}
		]}`))
	})
	mux.HandleFunc("/apis", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"kind":"APIGroupList","groups":[]}`))
	})
	mux.HandleFunc("/api/v1/pods", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("watch") == "true" {
			w.WriteHeader(http.StatusOK)
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
			<-r.Context().Done()
			return
		}
		w.Write([]byte(`{"metadata":{"resourceVersion":"10"},"items":[
			{"metadata":{"name":"a","namespace":"default","resourceVersion":"9"}}
		]}`))
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := transport.NewClient(transport.Options{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := Boot(ctx, &config.EngineConfig{
		CacheBufferSize:        16,
		BackoffInitial:         time.Millisecond,
		BackoffMax:             10 * time.Millisecond,
		BackoffMultiplier:      1.3,
		MaxConsecutiveWatchErr: 5,
	}, client, zap.NewNop())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return strings.Contains(eng.Cache.List(), "Pod")
	}, time.Second, 10*time.Millisecond)
}
