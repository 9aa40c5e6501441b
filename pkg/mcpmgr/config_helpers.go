package mcpmgr

// Lightweight helpers for narrowing and inspecting ServerConfig values without
// forcing consumers to use a type switch at every call site.

// TransportOf returns the transport kind for a ServerConfig.
// Returns an empty string when no spec is set.
func TransportOf(cfg ServerConfig) TransportKind {
	return cfg.Transport()
}

// IsStdio reports whether cfg carries a *StdioSpec.
func IsStdio(cfg ServerConfig) bool {
	_, ok := cfg.Spec.(*StdioSpec)
	return ok
}

// IsHTTP reports whether cfg reaches its server over HTTP, either Streamable
// HTTP or HTTP+SSE.
func IsHTTP(cfg ServerConfig) bool {
	switch cfg.Spec.(type) {
	case *HTTPSpec, *SSESpec:
		return true
	default:
		return false
	}
}

// AsStdio narrows cfg to *StdioSpec, returning (nil, false) when it
// does not match.
func AsStdio(cfg ServerConfig) (*StdioSpec, bool) {
	s, ok := cfg.Spec.(*StdioSpec)
	return s, ok
}

// AsHTTP narrows cfg to *HTTPSpec, returning (nil, false) when it
// does not match.
func AsHTTP(cfg ServerConfig) (*HTTPSpec, bool) {
	s, ok := cfg.Spec.(*HTTPSpec)
	return s, ok
}

// AsSSE narrows cfg to *SSESpec, returning (nil, false) when it
// does not match.
func AsSSE(cfg ServerConfig) (*SSESpec, bool) {
	s, ok := cfg.Spec.(*SSESpec)
	return s, ok
}

// EndpointOf returns the URL of an HTTP or SSE config and "" otherwise.
func EndpointOf(cfg ServerConfig) string {
	switch s := cfg.Spec.(type) {
	case *HTTPSpec:
		return s.URL
	case *SSESpec:
		return s.URL
	default:
		return ""
	}
}
