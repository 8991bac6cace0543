package mesh

import (
	"fmt"
	"net"
	"net/http"

	"cartas/eventbus"
	"cartas/network/coordinator"
	"cartas/network/participant"
	"cartas/storage"
)

// Node bundles one full server with its managers, for in-process clusters.
type Node struct {
	URL    string
	Server *Server
	Coord  *coordinator.Manager
	Part   *participant.Manager
	srv    *http.Server
	lis    net.Listener
}

// Cluster is an in-process mesh of complete servers over a shared memory
// store, serving the whole HTTP surface on loopback listeners.
type Cluster struct {
	Store storage.Store
	Nodes []*Node
}

func TestKit(n int) (*Cluster, error) {
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
	cluster := &Cluster{Store: cs}
	bus := eventbus.New(cs)
	for i := 0; i < n; i++ {
		part := participant.NewManager(cs, urls[i])
		coord := coordinator.NewManager(cs, part, nil, urls)
		node := &Node{
			URL:    urls[i],
			Part:   part,
			Coord:  coord,
			Server: New(cs, coord, part, bus),
			lis:    lisns[i],
		}
		node.srv = &http.Server{Handler: node.Server.Handler()}
		go node.srv.Serve(node.lis)
		cluster.Nodes = append(cluster.Nodes, node)
	}
	return cluster, nil
}

func (c *Cluster) Close() {
	for _, node := range c.Nodes {
		node.srv.Close()
	}
}
