package badge_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arachnid-agents/mission-control/internal/badge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slowSource struct {
	calls atomic.Int32
	text  string
	err   error
}

func (s *slowSource) Load(context.Context) (string, error) {
	s.calls.Add(1)
	time.Sleep(20 * time.Millisecond)
	return s.text, s.err
}

func TestTemplateCache_ConcurrentFirstLoadSharesFetch(t *testing.T) {
	src := &slowSource{text: "<svg/>"}
	cache := badge.NewTemplateCache(src)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := cache.Get(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "<svg/>", got)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), src.calls.Load())

	_, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.calls.Load())

	cache.Invalidate()
	_, err = cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestTemplateCache_ErrorsAreNotCached(t *testing.T) {
	src := &slowSource{err: errors.New("offline")}
	cache := badge.NewTemplateCache(src)

	_, err := cache.Get(context.Background())
	assert.Error(t, err)

	src.err = nil
	src.text = "<svg/>"
	got, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "<svg/>", got)
}

func TestHTTPSource_SendsVersion(t *testing.T) {
	var gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotVersion = r.URL.Query().Get("v")
		w.Write([]byte("<svg>remote</svg>"))
	}))
	defer srv.Close()

	text, err := badge.HTTPSource{URL: srv.URL + "/templates/mission.svg", Version: "7"}.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "<svg>remote</svg>", text)
	assert.Equal(t, "7", gotVersion)
}

func TestHTTPSource_NonOKIsError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	_, err := badge.HTTPSource{URL: srv.URL}.Load(context.Background())
	assert.ErrorContains(t, err, "unable to load mission template")
}

func TestWatchTemplate_InvalidatesOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mission.svg")
	require.NoError(t, os.WriteFile(path, []byte("<svg>v1</svg>"), 0644))

	cache := badge.NewTemplateCache(badge.FileSource{Path: path})
	got, err := cache.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, "<svg>v1</svg>", got)

	ctx, cancel := context.WithCancel(context.Background())
	done, err := badge.WatchTemplate(ctx, path, cache)
	require.NoError(t, err)
	defer func() {
		cancel()
		<-done
	}()

	require.NoError(t, os.WriteFile(path, []byte("<svg>v2</svg>"), 0644))
	assert.Eventually(t, func() bool {
		got, err := cache.Get(context.Background())
		return err == nil && got == "<svg>v2</svg>"
	}, 2*time.Second, 20*time.Millisecond)
}
