// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

// Package servicegraph assembles the derived service-graph description
// sent to the worker-runtime child process (spec §3 "Service graph",
// §9 "Cycles in the service graph"): services deduplicated by name
// (first definition wins), a socket list mapping the entry name to the
// entry service, and a reference-preserving encoder so dead-letter-queue
// references that form cycles across consumer configurations serialize
// without infinite recursion.
package servicegraph

import "github.com/goccy/go-json"

// ServiceKind distinguishes the body shape a Service carries.
type ServiceKind string

const (
	KindWorker   ServiceKind = "worker"
	KindNetwork  ServiceKind = "network"
	KindExternal ServiceKind = "external"
	KindDisk     ServiceKind = "disk"
)

// Service is one node in the graph.
type Service struct {
	Name string
	Kind ServiceKind

	// Worker-kind fields.
	Bindings []Binding
	Queues   []QueueBinding

	// Network/external/disk-kind fields.
	Address string
}

// Binding is a single injected binding on a worker service.
type Binding struct {
	Name string
	Kind string
	// Value carries the binding's configuration payload (JSON/text/data
	// blob, service reference, etc.), opaque to the graph itself.
	Value interface{}
}

// QueueBinding is a queue producer or consumer declaration; Consumer
// declarations may name a dead-letter-queue service that, across
// multiple consumers, forms a reference cycle.
type QueueBinding struct {
	QueueName         string
	IsConsumer        bool
	DeadLetterService string
}

// Socket maps an external-facing name (conventionally "entry") to the
// service handling it.
type Socket struct {
	Name    string
	Service string
}

// Graph is the full derived description, ready to encode for the child
// process.
type Graph struct {
	services []Service
	seen     map[string]bool
	Sockets  []Socket
}

// New builds an empty graph.
func New() *Graph {
	return &Graph{seen: make(map[string]bool)}
}

// AddService registers svc, ignoring it if a service with the same name
// was already added — per spec §3, "Services are deduplicated by name;
// the first definition wins."
func (g *Graph) AddService(svc Service) {
	if g.seen[svc.Name] {
		return
	}
	g.seen[svc.Name] = true
	g.services = append(g.services, svc)
}

// AddSocket registers a socket mapping.
func (g *Graph) AddSocket(name, service string) {
	g.Sockets = append(g.Sockets, Socket{Name: name, Service: service})
}

// Services returns the deduplicated service list in insertion order.
func (g *Graph) Services() []Service {
	return g.services
}

// wireService is the adjacency-table encoding of one service: queue
// dead-letter references are encoded as plain string IDs (service
// names) rather than nested Service values, so a cycle among consumer
// configurations never forces a recursive walk during encoding.
type wireService struct {
	Name     string        `json:"name"`
	Kind     ServiceKind   `json:"kind"`
	Address  string        `json:"address,omitempty"`
	Bindings []wireBinding `json:"bindings,omitempty"`
	Queues   []wireQueue   `json:"queues,omitempty"`
}

type wireBinding struct {
	Name  string      `json:"name"`
	Kind  string      `json:"kind"`
	Value interface{} `json:"value,omitempty"`
}

type wireQueue struct {
	QueueName  string `json:"queueName"`
	IsConsumer bool   `json:"isConsumer"`
	// DeadLetterServiceID is a string reference into the sibling
	// services array by name, never an inline nested service — this is
	// what makes the encoding cycle-safe (spec §9).
	DeadLetterServiceID string `json:"deadLetterServiceId,omitempty"`
}

type wireGraph struct {
	Services []wireService `json:"services"`
	Sockets  []Socket      `json:"sockets"`
}

// Encode serializes the graph to JSON using the reference-preserving
// encoding described above: every cross-service reference (queue
// dead-letter service) is a name string, so a cycle in the logical graph
// never becomes a cycle in the encoded value tree.
func (g *Graph) Encode() ([]byte, error) {
	wg := wireGraph{Sockets: g.Sockets}

	for _, s := range g.services {
		ws := wireService{Name: s.Name, Kind: s.Kind, Address: s.Address}
		for _, b := range s.Bindings {
			ws.Bindings = append(ws.Bindings, wireBinding{Name: b.Name, Kind: b.Kind, Value: b.Value})
		}
		for _, q := range s.Queues {
			ws.Queues = append(ws.Queues, wireQueue{
				QueueName:           q.QueueName,
				IsConsumer:          q.IsConsumer,
				DeadLetterServiceID: q.DeadLetterService,
			})
		}
		wg.Services = append(wg.Services, ws)
	}

	return json.Marshal(wg)
}
