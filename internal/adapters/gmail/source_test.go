package gmail

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/mikey/phish-filter/internal/core"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	gmailapi "google.golang.org/api/gmail/v1"
)

const goodToken = "ya29.good"

type fakeAPI struct {
	pages     map[string]*gmailapi.ListMessagesResponse
	messages  map[string]*gmailapi.Message
	failGets  bool
	getCalls  atomic.Int32
	listCalls atomic.Int32
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+goodToken {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":401,"message":"Invalid Credentials"}}`))
		return
	}

	const prefix = "/gmail/v1/users/me/"
	path := strings.TrimPrefix(r.URL.Path, prefix)
	switch {
	case path == "profile":
		writeJSON(w, &gmailapi.Profile{EmailAddress: "me@gmail.com", MessagesTotal: int64(len(f.messages))})
	case path == "messages":
		f.listCalls.Add(1)
		if got := r.URL.Query()["labelIds"]; len(got) != 1 || got[0] != "INBOX" {
			http.Error(w, "expected INBOX label", http.StatusBadRequest)
			return
		}
		page, ok := f.pages[r.URL.Query().Get("pageToken")]
		if !ok {
			http.Error(w, "unknown page", http.StatusBadRequest)
			return
		}
		writeJSON(w, page)
	case strings.HasPrefix(path, "messages/"):
		f.getCalls.Add(1)
		if f.failGets {
			http.Error(w, `{"error":{"code":503,"message":"backend error"}}`, http.StatusServiceUnavailable)
			return
		}
		if r.URL.Query().Get("format") != "full" {
			http.Error(w, "expected full format", http.StatusBadRequest)
			return
		}
		msg, ok := f.messages[strings.TrimPrefix(path, "messages/")]
		if !ok {
			http.Error(w, `{"error":{"code":404,"message":"Not Found"}}`, http.StatusNotFound)
			return
		}
		writeJSON(w, msg)
	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		pages: map[string]*gmailapi.ListMessagesResponse{
			"":   {Messages: []*gmailapi.Message{{Id: "m3"}, {Id: "m2"}}, NextPageToken: "p2"},
			"p2": {Messages: []*gmailapi.Message{{Id: "m1"}}},
		},
		messages: map[string]*gmailapi.Message{
			"m1": {
				Id:           "m1",
				InternalDate: 1704067200000,
				Payload: &gmailapi.MessagePart{
					MimeType: "text/plain",
					Headers:  []*gmailapi.MessagePartHeader{{Name: "Subject", Value: "hello"}},
					Body:     &gmailapi.MessagePartBody{Data: "aGk"},
				},
			},
		},
	}
}

func newTestSource(t *testing.T, api *fakeAPI, opts Options) *Source {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	opts.Endpoint = srv.URL + "/"
	opts.BaseClient = srv.Client()
	return NewSource(zap.NewNop(), opts)
}

func TestSource_ListPagesAndFetch(t *testing.T) {
	api := newFakeAPI()
	src := newTestSource(t, api, Options{})
	ctx := context.Background()

	sess, err := src.Open(ctx, core.Credentials{Token: goodToken})
	require.NoError(t, err)
	defer sess.Close(ctx)

	ids, err := sess.List(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"m3", "m2", "m1"}, ids)
	assert.Equal(t, int32(2), api.listCalls.Load())

	ids, err = sess.List(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"m3", "m2"}, ids)

	raw, err := sess.Fetch(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, core.SourceGmail, raw.Source)
	assert.Equal(t, "m1", raw.Handle)

	var decoded gmailapi.Message
	require.NoError(t, json.Unmarshal(raw.Data, &decoded))
	assert.Equal(t, "m1", decoded.Id)
	assert.Equal(t, int64(1704067200000), decoded.InternalDate)
	assert.Equal(t, "aGk", decoded.Payload.Body.Data)
}

func TestSource_InvalidTokenIsAuthError(t *testing.T) {
	src := newTestSource(t, newFakeAPI(), Options{})

	_, err := src.Open(context.Background(), core.Credentials{Token: "expired"})
	require.Error(t, err)
	assert.True(t, core.IsAuthError(err))

	_, err = src.Open(context.Background(), core.Credentials{})
	assert.True(t, core.IsAuthError(err))
}

func TestSource_MissingMessageIsFetchError(t *testing.T) {
	src := newTestSource(t, newFakeAPI(), Options{})
	ctx := context.Background()

	sess, err := src.Open(ctx, core.Credentials{Token: goodToken})
	require.NoError(t, err)

	_, err = sess.Fetch(ctx, "nope")
	var fetchErr *core.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "nope", fetchErr.Handle)
}

func TestSource_BreakerFailsFast(t *testing.T) {
	api := newFakeAPI()
	api.failGets = true
	src := newTestSource(t, api, Options{BreakerConsecutiveFailures: 2, BreakerTimeout: time.Minute})
	ctx := context.Background()

	sess, err := src.Open(ctx, core.Credentials{Token: goodToken})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := sess.Fetch(ctx, "m1")
		require.Error(t, err)
	}

	_, err = sess.Fetch(ctx, "m1")
	var fetchErr *core.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), api.getCalls.Load(), "open breaker must not reach the API")
}
