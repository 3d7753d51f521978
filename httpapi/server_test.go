package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hashrouter "go-hashrouter"
	"go-hashrouter/metrics"
)

// cluster runs one backend stub per server and a router dialing them by name.
type cluster struct {
	backends   map[string]*httptest.Server
	membership *hashrouter.Membership
	handler    http.Handler
}

func newCluster(t *testing.T, servers ...string) *cluster {
	t.Helper()

	var c = &cluster{backends: make(map[string]*httptest.Server)}
	for _, serverID := range servers {
		var srv = httptest.NewServer(NewBackendHandler(serverID, nil))
		t.Cleanup(srv.Close)
		c.backends[serverID+":5000"] = srv
	}

	var (
		dialer    net.Dialer
		transport = &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				if srv, ok := c.backends[addr]; ok {
					addr = srv.Listener.Addr().String()
				}
				return dialer.DialContext(ctx, network, addr)
			},
			DisableKeepAlives: true,
		}
		backend  = hashrouter.NewHTTPBackendWithClient(&http.Client{Transport: transport, Timeout: time.Second})
		registry = prometheus.NewRegistry()
		opts     = []hashrouter.Option{hashrouter.WithMetrics(metrics.New(registry))}
	)

	c.membership = hashrouter.NewMembership(opts...)
	if len(servers) > 0 {
		_, err := c.membership.AddServers(len(servers), servers)
		require.NoError(t, err)
	}

	c.handler = NewHandler(c.membership, hashrouter.NewRouter(c.membership, backend, backend, opts...), HandlerConfig{
		Metrics: metrics.Handler(registry),
	})
	return c
}

func (c *cluster) kill(serverID string) {
	c.backends[serverID+":5000"].Close()
}

func (c *cluster) do(method, target, body string) *httptest.ResponseRecorder {
	var (
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		rec = httptest.NewRecorder()
	)
	c.handler.ServeHTTP(rec, req)
	return rec
}

func decodeReplicas(t *testing.T, rec *httptest.ResponseRecorder) replicaMessage {
	t.Helper()
	var body struct {
		Message replicaMessage `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Message
}

func TestMembershipEndpoints(t *testing.T) {
	t.Run("should list replicas", func(t *testing.T) {
		// Arrange
		var sut = newCluster(t, "Server_1", "Server_2", "Server_3")

		// Act
		var rec = sut.do(http.MethodGet, "/rep", "")

		// Assert
		require.Equal(t, http.StatusOK, rec.Code)
		var msg = decodeReplicas(t, rec)
		assert.Equal(t, 3, msg.N)
		assert.Equal(t, []string{"Server_1:5000", "Server_2:5000", "Server_3:5000"}, msg.Replicas)
		assert.Equal(t, "successful", msg.Status)
	})

	t.Run("should add servers", func(t *testing.T) {
		// Arrange
		var sut = newCluster(t, "Server_1")

		// Act
		var rec = sut.do(http.MethodPost, "/add", `{"n": 2, "hostnames": ["Server_4", "Server_5:6000"]}`)

		// Assert
		require.Equal(t, http.StatusOK, rec.Code)
		var msg = decodeReplicas(t, rec)
		assert.Equal(t, 3, msg.N)
		assert.Equal(t, []string{"Server_4:5000", "Server_5:6000"}, msg.Added)
		assert.Equal(t, []string{"Server_1:5000", "Server_4:5000", "Server_5:6000"}, msg.Replicas)
	})

	t.Run("should reject malformed add requests without mutating", func(t *testing.T) {
		for name, body := range map[string]string{
			"zero n":                 `{"n": 0}`,
			"string n":               `{"n": "3"}`,
			"fractional n":           `{"n": 2.5}`,
			"missing n":              `{"hostnames": ["Server_4"]}`,
			"more hostnames than n":  `{"n": 1, "hostnames": ["Server_4", "Server_5"]}`,
			"not json":               `n=1`,
			"n beyond the namespace": `{"n": 50000}`,
		} {
			t.Run(name, func(t *testing.T) {
				// Arrange
				var sut = newCluster(t, "Server_1")

				// Act
				var rec = sut.do(http.MethodPost, "/add", body)

				// Assert
				assert.Equal(t, http.StatusBadRequest, rec.Code)
				assert.Contains(t, rec.Body.String(), `"status":"failure"`)
				assert.Equal(t, 1, sut.membership.Count())
			})
		}
	})

	t.Run("should remove named servers", func(t *testing.T) {
		// Arrange
		var sut = newCluster(t, "Server_1", "Server_2", "Server_3")

		// Act
		var rec = sut.do(http.MethodDelete, "/rm", `{"n": 1, "hostnames": ["Server_2"]}`)

		// Assert
		require.Equal(t, http.StatusOK, rec.Code)
		var msg = decodeReplicas(t, rec)
		assert.Equal(t, 2, msg.N)
		assert.Equal(t, []string{"Server_2:5000"}, msg.Removed)
		assert.Equal(t, []string{"Server_1:5000", "Server_3:5000"}, msg.Replicas)
	})

	t.Run("should refuse to remove more servers than exist", func(t *testing.T) {
		// Arrange
		var sut = newCluster(t, "Server_1", "Server_2")

		// Act
		var rec = sut.do(http.MethodDelete, "/rm", `{"n": 3}`)

		// Assert
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, 2, sut.membership.Count())
	})

	t.Run("should report slot distribution and topology", func(t *testing.T) {
		// Arrange
		var sut = newCluster(t, "Server_1", "Server_2", "Server_3")

		// Act
		var (
			stats = sut.do(http.MethodGet, "/stats", "")
			ring  = sut.do(http.MethodGet, "/ring", "")
		)

		// Assert
		require.Equal(t, http.StatusOK, stats.Code)
		assert.JSONEq(t,
			`{"message":{"N":3,"distribution":{"Server_1":9,"Server_2":9,"Server_3":9}},"status":"successful"}`,
			stats.Body.String())
		require.Equal(t, http.StatusOK, ring.Code)
		assert.Contains(t, ring.Body.String(), "Servers: 3")
	})

	t.Run("should describe itself on the index", func(t *testing.T) {
		// Arrange
		var sut = newCluster(t)

		// Act
		var rec = sut.do(http.MethodGet, "/", "")

		// Assert
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "Load balancer is running")
	})
}

func TestRoutedEndpoints(t *testing.T) {
	t.Run("should route a pinned request to its owner", func(t *testing.T) {
		// Arrange
		var sut = newCluster(t, "Server_1", "Server_2", "Server_3")

		// Act
		var rec = sut.do(http.MethodGet, "/home?id=100", "")

		// Assert
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"message":"Hello from Server: Server_1","status":"successful"}`, rec.Body.String())
	})

	t.Run("should route an unpinned request to some server", func(t *testing.T) {
		// Arrange
		var sut = newCluster(t, "Server_1", "Server_2", "Server_3")

		// Act
		var rec = sut.do(http.MethodGet, "/home", "")

		// Assert
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "Hello from Server: Server_")
	})

	t.Run("should evict a dead backend and fail over", func(t *testing.T) {
		// Arrange
		var sut = newCluster(t, "Server_1", "Server_2", "Server_3")
		sut.kill("Server_1")

		// Act
		var rec = sut.do(http.MethodGet, "/home?id=100", "")

		// Assert
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"message":"Hello from Server: Server_2","status":"successful"}`, rec.Body.String())
		assert.Equal(t, []string{"Server_2:5000", "Server_3:5000"}, sut.membership.Replicas())
	})

	t.Run("should fail when every backend is dead", func(t *testing.T) {
		// Arrange
		var sut = newCluster(t, "Server_1", "Server_2")
		sut.kill("Server_1")
		sut.kill("Server_2")

		// Act
		var rec = sut.do(http.MethodGet, "/home?id=100", "")

		// Assert
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.JSONEq(t, `{"message":"Error: No healthy server found","status":"failure"}`, rec.Body.String())
		assert.Zero(t, sut.membership.Count())
	})

	t.Run("should fail on an empty membership", func(t *testing.T) {
		// Arrange
		var sut = newCluster(t)

		// Act
		var rec = sut.do(http.MethodGet, "/home", "")

		// Assert
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("should reject unsupported paths", func(t *testing.T) {
		// Arrange
		var sut = newCluster(t, "Server_1")

		// Act
		var rec = sut.do(http.MethodGet, "/other", "")

		// Assert
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"message":"Error: 'other' endpoint not supported","status":"failure"}`, rec.Body.String())
	})

	t.Run("should reject a non-numeric request id", func(t *testing.T) {
		// Arrange
		var sut = newCluster(t, "Server_1")

		// Act
		var rec = sut.do(http.MethodGet, "/home?id=abc", "")

		// Assert
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("should expose routing metrics", func(t *testing.T) {
		// Arrange
		var sut = newCluster(t, "Server_1", "Server_2", "Server_3")
		sut.kill("Server_1")
		_ = sut.do(http.MethodGet, "/home?id=100", "")

		// Act
		var rec = sut.do(http.MethodGet, "/metrics", "")

		// Assert
		require.Equal(t, http.StatusOK, rec.Code)
		var body, _ = io.ReadAll(rec.Body)
		assert.Contains(t, string(body), `hashrouter_requests_total{result="routed"} 1`)
		assert.Contains(t, string(body), `hashrouter_evictions_total{reason="health_check"} 1`)
		assert.Contains(t, string(body), "hashrouter_servers 2")
	})
}

func TestBackendHandler(t *testing.T) {
	var sut = NewBackendHandler("Server_7", nil)

	t.Run("should answer heartbeats", func(t *testing.T) {
		// Arrange
		var rec = httptest.NewRecorder()

		// Act
		sut.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/heartbeat", nil))

		// Assert
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("should greet from its server id", func(t *testing.T) {
		// Arrange
		var rec = httptest.NewRecorder()

		// Act
		sut.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/home", nil))

		// Assert
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"message":"Hello from Server: Server_7","status":"successful"}`, rec.Body.String())
	})
}
