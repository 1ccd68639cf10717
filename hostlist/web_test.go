package hostlist

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/springfiles/spring-hostlist/common"
)

func TestWebInfo(t *testing.T) {
	server := httptest.NewServer(NewWebServer(NewStats()).Handler())
	defer server.Close()

	var info infoResponse
	response, err := resty.New().R().SetResult(&info).Get(server.URL + "/info")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, response.StatusCode())
	assert.Equal(t, common.SoftwareName, info.Software)
	assert.Equal(t, common.SoftwareVersion, info.Version)
}

func TestWebStats(t *testing.T) {
	stats := NewStats()
	stats.ConnectionOpened()
	stats.CountQuery("ALL NONE")
	stats.CountQuery("ALL NONE")

	server := httptest.NewServer(NewWebServer(stats).Handler())
	defer server.Close()

	var snapshot StatsSnapshot
	response, err := resty.New().R().SetResult(&snapshot).Get(server.URL + "/stats")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, response.StatusCode())
	assert.Equal(t, uint64(1), snapshot.Connections)
	assert.Equal(t, 1, snapshot.TrackedQueries)
	assert.Equal(t, uint64(2), snapshot.Queries["ALL NONE"])
}

// The HTTP server must come down with the rest of the process, not linger.
func TestWebStartAndShutdown(t *testing.T) {
	server := NewWebServer(NewStats())
	server.Start(0)
	server.Shutdown()

	// Shutdown without Start is a no-op.
	NewWebServer(NewStats()).Shutdown()
}

func TestWebRejectsOtherMethods(t *testing.T) {
	server := httptest.NewServer(NewWebServer(NewStats()).Handler())
	defer server.Close()

	response, err := resty.New().R().Post(server.URL + "/stats")
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, response.StatusCode())
}
