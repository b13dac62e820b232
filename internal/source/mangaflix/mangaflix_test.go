package mangaflix

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/chapterbox/internal/manga"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/search/mangas", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "solo", r.URL.Query().Get("query"))
		require.Equal(t, "pt-br", r.URL.Query().Get("selected_language"))
		_, _ = w.Write([]byte(`{"data":[{"_id":"m1","name":" Solo Leveling "},{"_id":"","name":"ghost"}]}`))
	})
	mux.HandleFunc("/mangas/m1", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"name":"Solo Leveling","chapters":[{"_id":"c1","number":1},{"_id":"c2","number":"1.5"}]}}`))
	})
	mux.HandleFunc("/chapters/c1", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"images":[{"default_url":"https://cdn.test/1.jpg"},{"default_url":""},{"default_url":"https://cdn.test/2.jpg"}]}}`))
	})
	mux.HandleFunc("/chapters/locked", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestConnectorFlow(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	c := New(Config{BaseURL: srv.URL}, srv.Client())
	ctx := context.Background()

	refs, err := c.Search(ctx, "solo")
	require.NoError(t, err)
	require.Equal(t, []manga.Ref{{ID: "m1", Title: "Solo Leveling", Source: Name}}, refs)

	chapters, err := c.ListChapters(ctx, refs[0])
	require.NoError(t, err)
	require.Equal(t, []manga.ChapterRef{
		{ID: "c1", Number: "1", Title: "Solo Leveling"},
		{ID: "c2", Number: "1.5", Title: "Solo Leveling"},
	}, chapters)

	pages, err := c.ListPages(ctx, chapters[0])
	require.NoError(t, err)
	require.Len(t, pages, 2)
	require.Equal(t, 0, pages[0].Index)
	require.Equal(t, "https://cdn.test/2.jpg", pages[1].URL)
	require.Equal(t, 1, pages[1].Index)
	require.Equal(t, DefaultReferer, pages[0].Header.Get("Referer"))
}

func TestConnectorErrors(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	c := New(Config{BaseURL: srv.URL}, srv.Client())

	_, err := c.ListPages(context.Background(), manga.ChapterRef{ID: "locked"})
	require.ErrorIs(t, err, manga.ErrJobFatal)

	_, err = c.ListChapters(context.Background(), manga.Ref{ID: "missing"})
	require.ErrorIs(t, err, manga.ErrProviderUnavailable)
}
