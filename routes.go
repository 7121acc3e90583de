package pktsim

// routes.go fills router FIBs with static shortest-path routes.
//
// The network is converted into a gonum graph with one node per pktsim node
// (keyed by the node's id) and one edge of weight 1 per connection, so that a
// shortest path minimizes hop count.  Dijkstra computes a shortest-path tree
// rooted at each destination end host; the tree gives every node its hop
// distance to the destination.  The next hop from a node is the neighbor one
// hop closer, choosing among equals the neighbor whose name sorts first, so
// the routes do not depend on map iteration order.  Trees are cached until
// the topology changes.

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

// ErrNoPath is returned when no sequence of links joins two nodes
var ErrNoPath = errors.New("no path")

// routeCache holds the graph form of a network and the shortest-path trees computed on it
type routeCache struct {
	connGraph *simple.WeightedUndirectedGraph
	cachedSP  map[int]path.Shortest // tree rooted at the node with the key's id
}

// buildRouteCache converts the network's nodes and links into a gonum graph
func buildRouteCache(net *Network) *routeCache {
	connGraph := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for _, node := range net.order {
		connGraph.AddNode(simple.Node(node.ID()))
	}
	for _, node := range net.order {
		for _, link := range node.Links() {
			// both directions of a connection are one undirected edge
			if node.ID() > link.To().ID() {
				continue
			}
			connGraph.SetWeightedEdge(simple.WeightedEdge{F: simple.Node(node.ID()), T: simple.Node(link.To().ID()), W: 1.0})
		}
	}
	return &routeCache{connGraph: connGraph, cachedSP: make(map[int]path.Shortest)}
}

// getSPTree returns the shortest-path tree rooted at node, computing and saving it if needed
func (rc *routeCache) getSPTree(node Node) path.Shortest {
	spTree, present := rc.cachedSP[node.ID()]
	if present {
		return spTree
	}
	spTree = path.DijkstraFrom(simple.Node(node.ID()), rc.connGraph)
	rc.cachedSP[node.ID()] = spTree
	return spTree
}

// hops returns the hop distance from node to the root of spTree, +Inf if unreachable
func hops(spTree path.Shortest, node Node) float64 {
	return spTree.WeightTo(int64(node.ID()))
}

// getRouteCache returns the cache for the current topology
func (net *Network) getRouteCache() *routeCache {
	if net.routes == nil {
		net.routes = buildRouteCache(net)
	}
	return net.routes
}

// nextHopToward returns the neighbor of node on a shortest path to dst
func (net *Network) nextHopToward(node, dst Node) (Node, bool) {
	if node == dst {
		return nil, false
	}
	spTree := net.getRouteCache().getSPTree(dst)
	dist := hops(spTree, node)
	if math.IsInf(dist, 1) {
		return nil, false
	}
	// Links is ordered by peer name
	for _, link := range node.Links() {
		if hops(spTree, link.To())+1.0 == dist {
			return link.To(), true
		}
	}
	return nil, false
}

// ShortestPath returns the names of the nodes on the route ComputeRoutes
// would choose from src to dst, both included
func (net *Network) ShortestPath(src, dst string) ([]string, error) {
	srcNode, present := net.nodes[src]
	if !present {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, src)
	}
	dstNode, present := net.nodes[dst]
	if !present {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, dst)
	}

	route := []string{src}
	here := srcNode
	for here != dstNode {
		next, found := net.nextHopToward(here, dstNode)
		if !found {
			return nil, fmt.Errorf("%w: from %s to %s", ErrNoPath, src, dst)
		}
		route = append(route, next.Name())
		here = next
	}
	return route, nil
}

// ComputeRoutes gives every router a FIB entry for every end host, through
// the next hop of a hop-count shortest path.  Entries already present are
// kept.  Pairs with no path are reported in the returned error, after every
// reachable pair has been filled in.
func (net *Network) ComputeRoutes() error {
	errs := []error{}
	added := 0
	for _, dst := range net.order {
		if _, isHost := dst.(*EndHost); !isHost {
			continue
		}
		for _, node := range net.order {
			router, isRouter := node.(*Router)
			if !isRouter {
				continue
			}
			if _, present := router.NextHop(dst.Name()); present {
				continue
			}
			hop, found := net.nextHopToward(router, dst)
			if !found {
				errs = append(errs, fmt.Errorf("%w: from %s to %s", ErrNoPath, router.Name(), dst.Name()))
				continue
			}
			router.AddFIB(dst.Name(), hop)
			added += 1
		}
	}
	logger.Info("routes computed", "network", net.Name, "entries", added, "unreachable", len(errs))
	return ReportErrs(errs)
}
