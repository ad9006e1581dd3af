package sandbox

import (
	"os"
	"time"

	"github.com/mattjoyce/majordomo/internal/registry"
)

// Limits are the gateway-wide bounds applied to every grant. MaxTimeout is a
// hard ceiling no per-service declaration may exceed.
type Limits struct {
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
}

// Grant is the concrete, minimal permission set for one execution. The zero
// value grants nothing: no network, no filesystem, no environment.
type Grant struct {
	AllowedHosts []string
	Timeout      time.Duration
	Env          map[string]string
	ReadPaths    []string
	WritePaths   []string
}

// NetworkEnabled reports whether any egress is granted. A declared-but-empty
// allowlist grants none, by construction of ResolveGrant.
func (g Grant) NetworkEnabled() bool {
	return len(g.AllowedHosts) > 0
}

// ResolveGrant turns a service's declared capabilities into a Grant. Pure
// except for reading the gateway's own environment for the env allowlist.
//
// Network is only granted when allowNetwork is set AND the allowlist is
// non-empty; "declared but empty allowlist" is equivalent to no network.
func ResolveGrant(caps *registry.Capabilities, limits Limits) Grant {
	g := Grant{Timeout: limits.DefaultTimeout}
	if caps == nil {
		return g
	}

	if caps.AllowNetwork && len(caps.NetworkAllowlist) > 0 {
		g.AllowedHosts = append([]string(nil), caps.NetworkAllowlist...)
	}

	if caps.TimeoutMs > 0 {
		g.Timeout = time.Duration(caps.TimeoutMs) * time.Millisecond
	}
	if g.Timeout > limits.MaxTimeout {
		g.Timeout = limits.MaxTimeout
	}

	for _, name := range caps.Env {
		value, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		if g.Env == nil {
			g.Env = make(map[string]string)
		}
		g.Env[name] = value
	}

	g.ReadPaths = append([]string(nil), caps.Read...)
	g.WritePaths = append([]string(nil), caps.Write...)
	return g
}
