package coordinator

import (
	"fmt"
	"net"
	"net/http"

	"cartas/network"
	"cartas/network/participant"
	"cartas/storage"

	"github.com/goccy/go-json"
)

// TestNode is one mesh node with only the peer endpoints mounted, enough
// to exercise the transaction engine without the client-facing API.
type TestNode struct {
	URL   string
	Coord *Manager
	Part  *participant.Manager
	srv   *http.Server
	lis   net.Listener
}

// TestCluster is an in-process mesh over a shared memory store.
type TestCluster struct {
	Store storage.Store
	Nodes []*TestNode
}

// TestKit boots n nodes on loopback listeners and returns the cluster.
func TestKit(n int) (*TestCluster, error) {
	cs := storage.NewMemoryStore()
	lisns := make([]net.Listener, n)
	urls := make([]string, n)
	for i := 0; i < n; i++ {
		lis, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return nil, err
		}
		lisns[i] = lis
		urls[i] = fmt.Sprintf("http://%s", lis.Addr().String())
	}
	cluster := &TestCluster{Store: cs}
	for i := 0; i < n; i++ {
		part := participant.NewManager(cs, urls[i])
		node := &TestNode{
			URL:   urls[i],
			Part:  part,
			Coord: NewManager(cs, part, nil, urls),
			lis:   lisns[i],
		}
		node.srv = &http.Server{Handler: peerMux(part)}
		go node.srv.Serve(node.lis)
		cluster.Nodes = append(cluster.Nodes, node)
	}
	return cluster, nil
}

func (c *TestCluster) Close() {
	for _, node := range c.Nodes {
		node.srv.Close()
	}
}

// peerMux serves the four peer endpoints straight off a participant
// manager. A broken node answers 503, which its coordinator reads as a
// missing vote or a missing ack.
func peerMux(part *participant.Manager) *http.ServeMux {
	mux := http.NewServeMux()
	prepare := func(w http.ResponseWriter, r *http.Request) {
		if part.Broken() {
			http.Error(w, "indisponivel", http.StatusServiceUnavailable)
			return
		}
		tx := &storage.Transacao2PC{}
		if err := json.NewDecoder(r.Body).Decode(tx); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(part.Prepare(r.Context(), tx))
	}
	decide := func(w http.ResponseWriter, r *http.Request) {
		if part.Broken() {
			http.Error(w, "indisponivel", http.StatusServiceUnavailable)
			return
		}
		res := &network.Resultado2PC{}
		if err := json.NewDecoder(r.Body).Decode(res); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := part.Decide(r.Context(), res); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
	mux.HandleFunc(network.EndpointPreparePacote, prepare)
	mux.HandleFunc(network.EndpointPrepareTroca, prepare)
	mux.HandleFunc(network.EndpointDecidePacote, decide)
	mux.HandleFunc(network.EndpointDecideTroca, decide)
	return mux
}
