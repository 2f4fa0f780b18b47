package opencast

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	testUser     = "admin"
	testPassword = "opencast"
	testRealm    = "Opencast Matterhorn"
	testNonce    = "dcd98b7102dd2f0e8b11d0f600bfb0c093"
)

func sum(s string) string {
	h := md5.Sum([]byte(s))
	return hex.EncodeToString(h[:])
}

// digestServer wraps a handler with a digest-auth challenge/verify cycle
// mirroring what Opencast's Matterhorn endpoints do.
func digestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Digest", r.Header.Get("X-Requested-Auth"))
		require.Equal(t, "true", r.Header.Get("X-Opencast-Matterhorn-Authentication"))

		auth := r.Header.Get("Authorization")
		if auth == "" {
			w.Header().Set("WWW-Authenticate",
				`Digest realm="`+testRealm+`", nonce="`+testNonce+`", qop="auth"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		params := parseChallenge(strings.TrimPrefix(auth, "Digest "))
		require.Equal(t, testUser, params["username"])
		require.Equal(t, testRealm, params["realm"])

		ha1 := sum(testUser + ":" + testRealm + ":" + testPassword)
		ha2 := sum(r.Method + ":" + params["uri"])
		expected := sum(strings.Join([]string{ha1, testNonce, params["nc"], params["cnonce"], "auth", ha2}, ":"))
		require.Equal(t, expected, params["response"], "digest response mismatch")

		handler(w, r)
	}))
}

func testClient(ts *httptest.Server) *Client {
	return New(Config{BaseURL: ts.URL, APIUser: testUser, APIPassword: testPassword}, nil)
}

func TestAlreadyIngested_NonZeroCount(t *testing.T) {
	ts := digestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/workflow/instances.json", r.URL.Path)
		require.Equal(t, "mp-1", r.URL.Query().Get("mp"))
		w.Write([]byte(`{"workflows":{"totalCount":"2"}}`))
	})
	defer ts.Close()

	ingested, err := testClient(ts).AlreadyIngested(context.Background(), "mp-1")
	require.NoError(t, err)
	require.True(t, ingested)
}

func TestAlreadyIngested_ZeroCount(t *testing.T) {
	ts := digestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"workflows":{"totalCount":"0"}}`))
	})
	defer ts.Close()

	ingested, err := testClient(ts).AlreadyIngested(context.Background(), "mp-1")
	require.NoError(t, err)
	require.False(t, ingested)
}

func TestAlreadyIngested_NotFoundMeansNotIngested(t *testing.T) {
	ts := digestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
	defer ts.Close()

	ingested, err := testClient(ts).AlreadyIngested(context.Background(), "mp-1")
	require.NoError(t, err)
	require.False(t, ingested)
}

func TestAlreadyIngested_ServerErrorPropagates(t *testing.T) {
	ts := digestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	defer ts.Close()

	_, err := testClient(ts).AlreadyIngested(context.Background(), "mp-1")
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
}

func TestEpisodeDefaults(t *testing.T) {
	ts := digestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/otherpubs/episodedefaults/S1.json", r.URL.Path)
		w.Write([]byte(`{"http://purl.org/dc/terms/":{
			"contributor":[{"value":"Series Prof"}],
			"publisher":[{"value":"prof@example.edu"}]
		}}`))
	})
	defer ts.Close()

	defaults, err := testClient(ts).EpisodeDefaults(context.Background(), "S1")
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"contributor": "Series Prof",
		"publisher":   "prof@example.edu",
	}, defaults)
}

func TestSeriesCatalog(t *testing.T) {
	ts := digestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/series/S1.json", r.URL.Path)
		w.Write([]byte(`{"dublincore":"catalog"}`))
	})
	defer ts.Close()

	catalog, err := testClient(ts).SeriesCatalog(context.Background(), "S1")
	require.NoError(t, err)
	require.Equal(t, `{"dublincore":"catalog"}`, catalog)
}

func TestIngest_SubmitsMultipartAndParsesWorkflowID(t *testing.T) {
	ts := digestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/ingest/addMediaPackage/zoom-wf", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "mp-1", r.FormValue("identifier"))
		require.Equal(t, "Lecture", r.FormValue("title"))
		require.Equal(t, []string{"https://a", "https://b"}, r.MultipartForm.Value["mediaUri"])
		w.Write([]byte(`<?xml version="1.0"?><wf:workflow xmlns:wf="http://workflow.opencastproject.org" id="wf-1234" state="INSTANTIATED"/>`))
	})
	defer ts.Close()

	fields := []FormField{
		{Name: "identifier", Value: "mp-1"},
		{Name: "title", Value: "Lecture"},
		{Name: "flavor", Value: "multipart/partsource"},
		{Name: "mediaUri", Value: "https://a"},
		{Name: "flavor", Value: "multipart/partsource"},
		{Name: "mediaUri", Value: "https://b"},
	}
	wfID, err := testClient(ts).Ingest(context.Background(), "zoom-wf", fields)
	require.NoError(t, err)
	require.Equal(t, "wf-1234", wfID)
}

func TestWorkflowIDFromXML_NoID(t *testing.T) {
	_, err := workflowIDFromXML([]byte(`<workflow state="RUNNING"/>`))
	require.Error(t, err)
}
