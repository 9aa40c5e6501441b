package mcpgateway

import (
	"maps"
	"slices"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	metaKeyServerID   = "mcpgateway.server_id"
	metaKeyNativeName = "mcpgateway.native_name"
	metaKeyNativeURI  = "mcpgateway.native_uri"
)

// route ties a name the gateway exposes to the server and native identifier
// behind it. For resources Native is the upstream URI.
type route struct {
	Exposed  string
	ServerID string
	Native   string
}

// registration is a rewritten upstream feature ready to be added to the
// gateway server, together with its route.
type registration[T any] struct {
	Feature *T
	Route   route
}

// routeTable tracks one feature kind.
type routeTable struct {
	routes map[string]route
	owned  map[string][]string
}

func newRouteTable() routeTable {
	return routeTable{routes: make(map[string]route), owned: make(map[string][]string)}
}

func (t *routeTable) drop(serverID string) []string {
	names := t.owned[serverID]
	for _, name := range names {
		delete(t.routes, name)
	}
	delete(t.owned, serverID)
	return names
}

func (t *routeTable) lookup(exposed string) (route, bool) {
	r, ok := t.routes[exposed]
	return r, ok
}

// catalog is the gateway's view of every mirrored server's tools, prompts and
// resources. Each Update call replaces a server's whole set for that kind.
type catalog struct {
	ns Namespace

	mu        sync.RWMutex
	tools     routeTable
	prompts   routeTable
	resources routeTable
}

func newCatalog(ns Namespace) *catalog {
	return &catalog{
		ns:        ns,
		tools:     newRouteTable(),
		prompts:   newRouteTable(),
		resources: newRouteTable(),
	}
}

// replaceLocked swaps serverID's entries in table for upstream. native reads
// the upstream identifier and rewrite produces the copy that is registered
// downstream under the exposed name.
func replaceLocked[T any](
	table *routeTable,
	ns Namespace,
	kind FeatureKind,
	serverID string,
	upstream []*T,
	native func(*T) string,
	rewrite func(*T, route) *T,
) (removed []string, added []registration[T]) {
	removed = table.drop(serverID)
	added = make([]registration[T], 0, len(upstream))
	names := make([]string, 0, len(upstream))
	for _, item := range upstream {
		if item == nil {
			continue
		}
		r := route{ServerID: serverID, Native: native(item)}
		r.Exposed = ns.Expose(kind, serverID, r.Native)
		table.routes[r.Exposed] = r
		names = append(names, r.Exposed)
		added = append(added, registration[T]{Feature: rewrite(item, r), Route: r})
	}
	if len(names) > 0 {
		table.owned[serverID] = names
	}
	return removed, added
}

func (c *catalog) UpdateTools(serverID string, upstream []*mcp.Tool) ([]string, []registration[mcp.Tool]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return replaceLocked(&c.tools, c.ns, KindTool, serverID, upstream,
		func(t *mcp.Tool) string { return t.Name },
		func(t *mcp.Tool, r route) *mcp.Tool {
			clone := *t
			clone.Name = r.Exposed
			clone.Meta = withMeta(t.Meta, metaKeyNativeName, r)
			return &clone
		})
}

func (c *catalog) UpdatePrompts(serverID string, upstream []*mcp.Prompt) ([]string, []registration[mcp.Prompt]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return replaceLocked(&c.prompts, c.ns, KindPrompt, serverID, upstream,
		func(p *mcp.Prompt) string { return p.Name },
		func(p *mcp.Prompt, r route) *mcp.Prompt {
			clone := *p
			clone.Name = r.Exposed
			clone.Meta = withMeta(p.Meta, metaKeyNativeName, r)
			return &clone
		})
}

func (c *catalog) UpdateResources(serverID string, upstream []*mcp.Resource) ([]string, []registration[mcp.Resource]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return replaceLocked(&c.resources, c.ns, KindResource, serverID, upstream,
		func(res *mcp.Resource) string { return res.URI },
		func(res *mcp.Resource, r route) *mcp.Resource {
			clone := *res
			clone.URI = r.Exposed
			clone.Meta = withMeta(res.Meta, metaKeyNativeURI, r)
			return &clone
		})
}

// RemoveServer forgets every feature of serverID and returns the exposed
// names and URIs that must be withdrawn from the gateway server.
func (c *catalog) RemoveServer(serverID string) (tools, prompts, resources []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tools.drop(serverID), c.prompts.drop(serverID), c.resources.drop(serverID)
}

// Servers returns the ids that currently contribute at least one feature.
func (c *catalog) Servers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, t := range []routeTable{c.tools, c.prompts, c.resources} {
		for id := range t.owned {
			seen[id] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(seen))
}

func (c *catalog) ToolRoute(name string) (route, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools.lookup(name)
}

func (c *catalog) PromptRoute(name string) (route, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.prompts.lookup(name)
}

func (c *catalog) ResourceRoute(uri string) (route, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resources.lookup(uri)
}

// withMeta copies base and records where the feature came from. nativeKey
// differs between named features and resources.
func withMeta(base map[string]any, nativeKey string, r route) map[string]any {
	out := maps.Clone(base)
	if out == nil {
		out = make(map[string]any, 2)
	}
	out[metaKeyServerID] = r.ServerID
	out[nativeKey] = r.Native
	return out
}
