package sandbox

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// egressGuard is the per-invocation HTTP proxy enforcing a service's network
// allowlist. It listens on a unix socket bound into the sandbox; since the
// sandbox's network namespace is unshared, this socket is the only path out,
// and the guard refuses any host not explicitly granted.
//
// Both proxy forms are supported: CONNECT for opaque TLS tunnels and
// absolute-form requests for plain HTTP forwarding.
type egressGuard struct {
	socketPath string
	allowed    map[string]struct{}
	listener   net.Listener
	server     *http.Server
	logger     *slog.Logger

	wg sync.WaitGroup
}

func startEgressGuard(socketPath string, hosts []string, logger *slog.Logger) (*egressGuard, error) {
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale egress socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen on egress socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0o660); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod egress socket: %w", err)
	}

	g := &egressGuard{
		socketPath: socketPath,
		allowed:    make(map[string]struct{}, len(hosts)),
		listener:   listener,
		logger:     logger,
	}
	for _, h := range hosts {
		g.allowed[strings.ToLower(h)] = struct{}{}
	}

	g.server = &http.Server{
		Handler:     http.HandlerFunc(g.handle),
		ReadTimeout: 30 * time.Second,
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := g.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			g.logger.Error("egress guard serve error", "error", err)
		}
	}()

	return g, nil
}

func (g *egressGuard) Close() error {
	err := g.server.Close()
	g.wg.Wait()
	_ = os.Remove(g.socketPath)
	return err
}

// hostAllowed checks a host (with or without port) against the allowlist.
func (g *egressGuard) hostAllowed(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	_, ok := g.allowed[strings.ToLower(host)]
	return ok
}

func (g *egressGuard) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		g.handleConnect(w, r)
		return
	}
	g.handleForward(w, r)
}

func (g *egressGuard) handleConnect(w http.ResponseWriter, r *http.Request) {
	if !g.hostAllowed(r.Host) {
		g.logger.Warn("egress denied", "host", r.Host, "method", r.Method)
		http.Error(w, "host not in allowlist", http.StatusForbidden)
		return
	}

	target := r.Host
	if !strings.Contains(target, ":") {
		target += ":443"
	}
	upstream, err := net.DialTimeout("tcp", target, 10*time.Second)
	if err != nil {
		http.Error(w, "upstream unreachable", http.StatusBadGateway)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		_ = upstream.Close()
		http.Error(w, "tunneling unsupported", http.StatusInternalServerError)
		return
	}
	client, _, err := hijacker.Hijack()
	if err != nil {
		_ = upstream.Close()
		return
	}
	_, _ = client.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n"))

	go func() {
		defer client.Close()
		defer upstream.Close()
		_, _ = io.Copy(upstream, client)
	}()
	go func() {
		defer client.Close()
		defer upstream.Close()
		_, _ = io.Copy(client, upstream)
	}()
}

func (g *egressGuard) handleForward(w http.ResponseWriter, r *http.Request) {
	if !r.URL.IsAbs() {
		http.Error(w, "absolute-form request required", http.StatusBadRequest)
		return
	}
	if !g.hostAllowed(r.URL.Host) {
		g.logger.Warn("egress denied", "host", r.URL.Host, "method", r.Method)
		http.Error(w, "host not in allowlist", http.StatusForbidden)
		return
	}

	out, err := http.NewRequestWithContext(r.Context(), r.Method, r.URL.String(), r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	out.Header = r.Header.Clone()
	out.Header.Del("Proxy-Connection")
	out.Header.Del("Connection")

	resp, err := http.DefaultTransport.RoundTrip(out)
	if err != nil {
		http.Error(w, "upstream unreachable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for k, vals := range resp.Header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}
