package mcpgateway

import (
	"net/url"
	"strings"
)

// FeatureKind says which identifier a Namespace is rewriting.
type FeatureKind int

const (
	KindTool FeatureKind = iota
	KindPrompt
	KindResource
)

func (k FeatureKind) String() string {
	switch k {
	case KindTool:
		return "tool"
	case KindPrompt:
		return "prompt"
	case KindResource:
		return "resource"
	default:
		return "unknown"
	}
}

// DefaultSeparator joins a server id and a tool or prompt name.
const DefaultSeparator = "__"

// resourceScheme wraps upstream resource URIs so two servers can expose the
// same URI without colliding.
const resourceScheme = "mcphost"

// Namespace maps a server's native identifier into the gateway's flat
// namespace. Expose must be deterministic, and distinct (serverID, native)
// pairs of one kind must never map to the same value.
type Namespace interface {
	Expose(kind FeatureKind, serverID, native string) string
}

// NamespaceFunc adapts an ordinary function to Namespace.
type NamespaceFunc func(kind FeatureKind, serverID, native string) string

func (f NamespaceFunc) Expose(kind FeatureKind, serverID, native string) string {
	return f(kind, serverID, native)
}

// PrefixNamespace exposes tools and prompts as "<server><sep><name>" and
// resources as "mcphost://<server>/<escaped uri>".
type PrefixNamespace struct {
	Separator string
}

func (p PrefixNamespace) Expose(kind FeatureKind, serverID, native string) string {
	if kind == KindResource {
		return ResourceURI(serverID, native)
	}
	sep := p.Separator
	if sep == "" {
		sep = DefaultSeparator
	}
	return serverID + sep + native
}

// ResourceURI builds the gateway URI for an upstream resource.
func ResourceURI(serverID, native string) string {
	return resourceScheme + "://" + url.PathEscape(serverID) + "/" + url.PathEscape(native)
}

// SplitResourceURI reverses ResourceURI.
func SplitResourceURI(uri string) (serverID, native string, ok bool) {
	rest, ok := strings.CutPrefix(uri, resourceScheme+"://")
	if !ok {
		return "", "", false
	}
	host, path, ok := strings.Cut(rest, "/")
	if !ok || host == "" {
		return "", "", false
	}
	serverID, err := url.PathUnescape(host)
	if err != nil {
		return "", "", false
	}
	native, err = url.PathUnescape(path)
	if err != nil {
		return "", "", false
	}
	return serverID, native, true
}
