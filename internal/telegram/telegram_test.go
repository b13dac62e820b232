package telegram

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/chapterbox/internal/manga"
)

const testToken = "123456:test-token"

type artifact struct {
	name string
	data []byte
}

func (a artifact) Filename() string { return a.name }
func (a artifact) Size() int64      { return int64(len(a.data)) }
func (a artifact) Open() io.Reader  { return bytes.NewReader(a.data) }

type recorded struct {
	chatID   string
	caption  string
	filename string
	data     []byte
	text     string
}

func newBot(t *testing.T, reply func(w http.ResponseWriter, r *http.Request) bool) (*Client, func() []recorded) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []recorded
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reply != nil && reply(w, r) {
			return
		}
		var rec recorded
		switch r.URL.Path {
		case "/bot" + testToken + "/sendDocument":
			require.NoError(t, r.ParseMultipartForm(1<<20))
			rec.chatID = r.FormValue("chat_id")
			rec.caption = r.FormValue("caption")
			file, header, err := r.FormFile("document")
			require.NoError(t, err)
			rec.filename = header.Filename
			rec.data, err = io.ReadAll(file)
			require.NoError(t, err)
		case "/bot" + testToken + "/sendMessage":
			rec.chatID = r.FormValue("chat_id")
			rec.text = r.FormValue("text")
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
			return
		}
		mu.Lock()
		seen = append(seen, rec)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	}))
	t.Cleanup(srv.Close)

	client, err := New(Config{Token: testToken, APIURL: srv.URL}, srv.Client())
	require.NoError(t, err)
	return client, func() []recorded {
		mu.Lock()
		defer mu.Unlock()
		return append([]recorded(nil), seen...)
	}
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil)
	require.Error(t, err)
}

func TestSinkSendsDocument(t *testing.T) {
	t.Parallel()

	client, seen := newBot(t, nil)
	sink := NewSink(client)

	err := sink.Send(context.Background(), "1234", artifact{name: `Solo "Leveling" - Chapter 1.cbz`, data: []byte("PK")})
	require.NoError(t, err)

	got := seen()
	require.Len(t, got, 1)
	require.Equal(t, "1234", got[0].chatID)
	require.Equal(t, `Solo "Leveling" - Chapter 1`, got[0].caption)
	require.Equal(t, `Solo "Leveling" - Chapter 1.cbz`, got[0].filename)
	require.Equal(t, []byte("PK"), got[0].data)
}

func TestSinkClassifiesFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "rate limited",
			status: http.StatusTooManyRequests,
			body:   `{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":5}}`,
			check: func(t *testing.T, err error) {
				var rl *manga.RateLimitedError
				require.ErrorAs(t, err, &rl)
				require.Equal(t, 5*time.Second, rl.RetryAfter)
			},
		},
		{
			name:   "server error",
			status: http.StatusBadGateway,
			body:   `bad gateway`,
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, manga.ErrTransient)
			},
		},
		{
			name:   "forbidden",
			status: http.StatusForbidden,
			body:   `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`,
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, manga.ErrPermanent)
			},
		},
		{
			name:   "too large",
			status: http.StatusRequestEntityTooLarge,
			body:   `{"ok":false,"error_code":413,"description":"Request Entity Too Large"}`,
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, manga.ErrPermanent)
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			client, _ := newBot(t, func(w http.ResponseWriter, _ *http.Request) bool {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
				return true
			})
			err := NewSink(client).Send(context.Background(), "1", artifact{name: "a.cbz"})
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestNotifierSendsText(t *testing.T) {
	t.Parallel()

	client, seen := newBot(t, nil)
	n := NewNotifier(client)

	notice := manga.Notice{Kind: manga.NoticeAccepted, JobID: "j1", Total: 3}
	require.NoError(t, n.Notify(context.Background(), "99", notice))

	got := seen()
	require.Len(t, got, 1)
	require.Equal(t, "99", got[0].chatID)
	require.Equal(t, notice.Text(), got[0].text)
}

func TestClassifyTransportFailures(t *testing.T) {
	t.Parallel()

	client, err := New(Config{Token: testToken, APIURL: "http://127.0.0.1:1"}, &http.Client{Timeout: time.Second})
	require.NoError(t, err)
	err = NewSink(client).Send(context.Background(), "1", artifact{name: "a.cbz"})
	require.ErrorIs(t, err, manga.ErrTransient)

	require.ErrorIs(t, Classify(&ServerError{Code: http.StatusServiceUnavailable}), manga.ErrTransient)
	require.NoError(t, Classify(nil))
}
