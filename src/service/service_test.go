package service

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/meshnetworks/hoard/src/cas"
	"github.com/meshnetworks/hoard/src/common"
	"github.com/meshnetworks/hoard/src/keys"
	"github.com/meshnetworks/hoard/src/net"
	"github.com/meshnetworks/hoard/src/node"
	"github.com/meshnetworks/hoard/src/peers"
	"github.com/meshnetworks/hoard/src/store"
)

func initServiceNode(t *testing.T) *node.Node {
	conf := node.TestConfig(t)
	conf.WantTimeout = 100 * time.Millisecond
	conf.RetryLimit = 3

	key, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}

	network := net.NewInmemNetwork()

	n := node.NewNode(conf,
		node.NewIdentity(key, "service-node"),
		peers.NewPeerSet(nil),
		store.NewInmemStore(),
		cas.DefaultRegistry(),
		network.NewTransport(""),
	)
	if err := n.Init(); err != nil {
		t.Fatal(err)
	}
	n.RunAsync()

	return n
}

// A pending block fetch must not hold up the other endpoints.
func TestStatsNotBlockedByPendingGet(t *testing.T) {
	n := initServiceNode(t)
	defer n.Shutdown()

	s := &Service{
		node:   n,
		logger: common.NewTestLogger(t).WithField("component", "service"),
	}

	missing, err := cas.NewBlock(cas.Raw, []byte("nobody has this"))
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan int, 1)
	go func() {
		w := httptest.NewRecorder()
		r := httptest.NewRequest("GET", "/block/"+missing.Address.String(), nil)
		s.makeHandler(s.GetBlock)(w, r)
		done <- w.Code
	}()

	// Give the block fetch time to start waiting on the exchange.
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	w := httptest.NewRecorder()
	s.makeHandler(s.GetStats)(w, httptest.NewRequest("GET", "/stats", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("/stats should return 200, not %d", w.Code)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("/stats should not wait on the pending fetch, took %s", elapsed)
	}

	stats := map[string]string{}
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats["state"] != "Serving" {
		t.Fatalf("state should be Serving, not %s", stats["state"])
	}

	select {
	case code := <-done:
		if code != http.StatusNotFound {
			t.Fatalf("/block for a missing address should return 404, not %d", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout waiting for the block fetch to give up")
	}
}
