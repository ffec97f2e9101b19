package status

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbhd/hwclient-go/hwclient"
	"github.com/mbhd/hwclient-go/internal/logs"
	"github.com/mbhd/hwclient-go/simulator"
)

func newStatusServer(t *testing.T) *httptest.Server {
	t.Helper()
	c, err := hwclient.New(hwclient.WithBus(simulator.NewBus(simulator.New(simulator.Initialised))))
	require.NoError(t, err)
	short, err := logs.NewMemoryWriter(20, 5, false, nil)
	require.NoError(t, err)
	long, err := logs.NewMemoryWriter(100, 5, false, nil)
	require.NoError(t, err)
	_, _ = short.Write([]byte("short line\n"))

	r := mux.NewRouter()
	ServeStatus(r.PathPrefix("/status").Subrouter(), c, "1.2.3", "http://127.0.0.1:21335", short, long)
	ServeStatusRedirect(r.Methods("GET").Path("/").Subrouter(), "http://127.0.0.1:21335")
	s := httptest.NewServer(r)
	t.Cleanup(func() {
		s.Close()
		c.Close()
	})
	return s
}

func get(t *testing.T, url, origin string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest("GET", url, nil)
	require.NoError(t, err)
	if origin != "" {
		req.Header.Set(originHeader, origin)
	}
	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestStatusPage(t *testing.T) {
	s := newStatusServer(t)
	resp, body := get(t, s.URL+"/status/", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "DENY", resp.Header.Get(frameOriginHeader))
	assert.Contains(t, body, "Version: 1.2.3")
	assert.Contains(t, body, "Connected devices: 1")
	assert.Contains(t, body, "Path: simulator")
	assert.Contains(t, body, "short line")
	assert.Contains(t, body, "gorilla.csrf.Token")
}

func TestStatusPageForeignOrigin(t *testing.T) {
	s := newStatusServer(t)
	resp, _ := get(t, s.URL+"/status/", "https://example.com")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestStatusRedirect(t *testing.T) {
	s := newStatusServer(t)
	resp, _ := get(t, s.URL+"/", "")
	assert.Equal(t, http.StatusMovedPermanently, resp.StatusCode)
	assert.Equal(t, "http://127.0.0.1:21335/status/", resp.Header.Get("Location"))
}

func TestLogNeedsToken(t *testing.T) {
	s := newStatusServer(t)
	req, err := http.NewRequest("POST", s.URL+"/status/log.gz", nil)
	require.NoError(t, err)
	req.Header.Set(originHeader, "http://127.0.0.1:21335")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
