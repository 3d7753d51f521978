package hashrouter

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// fakeChecker reports every endpoint alive unless marked dead.
type fakeChecker struct {
	mu    sync.Mutex
	dead  map[string]bool
	calls []string
}

func newFakeChecker(dead ...string) *fakeChecker {
	var c = &fakeChecker{dead: make(map[string]bool)}
	for _, endpoint := range dead {
		c.dead[endpoint] = true
	}
	return c
}

func (c *fakeChecker) Check(ctx context.Context, endpoint string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, endpoint)
	return !c.dead[endpoint]
}

func (c *fakeChecker) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// fakeForwarder answers with a fixed response unless the endpoint is unreachable.
type fakeForwarder struct {
	mu          sync.Mutex
	unreachable map[string]bool
	status      int
	calls       []string
	requestIDs  []string
}

func newFakeForwarder(unreachable ...string) *fakeForwarder {
	var f = &fakeForwarder{unreachable: make(map[string]bool), status: 200}
	for _, endpoint := range unreachable {
		f.unreachable[endpoint] = true
	}
	return f
}

func (f *fakeForwarder) Forward(ctx context.Context, endpoint, path, requestID string) (*BackendResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, endpoint)
	f.requestIDs = append(f.requestIDs, requestID)

	if f.unreachable[endpoint] {
		return nil, errors.New("connection refused")
	}

	return &BackendResponse{
		StatusCode:  f.status,
		ContentType: "application/json",
		Body:        []byte(`{"server":"` + endpoint + `","path":"` + path + `"}`),
	}, nil
}

func (f *fakeForwarder) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// seqRand replays fixed draws, reduced modulo n, then returns 0.
type seqRand struct {
	values []int
	next   int
}

func (r *seqRand) IntN(n int) int {
	if r.next >= len(r.values) {
		return 0
	}
	var v = r.values[r.next]
	r.next++
	return v % n
}

// fixedIDs returns an id source replaying ids in a loop.
func fixedIDs(ids ...uint64) func() uint64 {
	var (
		mu   sync.Mutex
		next int
	)
	return func() uint64 {
		mu.Lock()
		defer mu.Unlock()
		var id = ids[next%len(ids)]
		next++
		return id
	}
}

// newTestMembership returns a membership on a 512-slot ring with K=9 holding
// Server_1..Server_3 at port 5000.
func newTestMembership(opts ...Option) *Membership {
	var m = NewMembership(opts...)
	if _, err := m.AddServers(3, []string{"Server_1:5000", "Server_2:5000", "Server_3:5000"}); err != nil {
		panic(err)
	}
	return m
}

// assertConsistent fails if ring and registry disagree on membership.
func assertConsistent(t testing.TB, m *Membership) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ring.Len() != len(m.endpoints) || len(m.order) != len(m.endpoints) {
		t.Errorf("ring has %d servers, registry %d, order %d", m.ring.Len(), len(m.endpoints), len(m.order))
	}
	for serverID := range m.endpoints {
		if !m.ring.Contains(serverID) {
			t.Errorf("%s registered but not on the ring", serverID)
		}
	}
}
