package sandbox

import (
	"fmt"
	"os"
	"sort"
)

// Sandbox-internal mount points. The artifact and the per-invocation work
// directory (which carries the egress socket, when granted) are the only
// writable-adjacent paths a service ever sees.
const (
	sandboxEntryPath = "/run/service"
	sandboxWorkDir   = "/run/work"
	egressSocketName = "egress.sock"
)

// systemBinds are host paths bind-mounted read-only when present, so that
// interpreter-based artifacts can find their runtime. Absent paths are
// skipped.
var systemBinds = []string{
	"/usr",
	"/lib",
	"/lib64",
	"/bin",
	"/sbin",
	"/etc/ssl/certs",
	"/etc/alternatives",
}

// bwrapArgs builds the bubblewrap argument list for one invocation. Every
// namespace is unshared unconditionally; in particular the network namespace
// is always unshared, so the only possible egress is the unix socket of the
// proxy bound inside the work directory.
func bwrapArgs(entryPath, workdir string, g Grant) []string {
	args := []string{
		"--die-with-parent",
		"--new-session",
		"--clearenv",
		"--unshare-user",
		"--unshare-pid",
		"--unshare-net",
		"--unshare-ipc",
		"--unshare-uts",
		"--unshare-cgroup",
		"--proc", "/proc",
		"--dev", "/dev",
		"--tmpfs", "/tmp",
	}

	for _, p := range systemBinds {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		args = append(args, "--ro-bind", p, p)
	}

	args = append(args, "--ro-bind", entryPath, sandboxEntryPath)
	args = append(args, "--bind", workdir, sandboxWorkDir)
	args = append(args, "--chdir", sandboxWorkDir)

	for _, p := range g.ReadPaths {
		args = append(args, "--ro-bind", p, p)
	}
	for _, p := range g.WritePaths {
		args = append(args, "--bind", p, p)
	}

	// Sorted for deterministic argument output.
	envKeys := make([]string, 0, len(g.Env))
	for k := range g.Env {
		envKeys = append(envKeys, k)
	}
	sort.Strings(envKeys)
	for _, k := range envKeys {
		args = append(args, "--setenv", k, g.Env[k])
	}

	args = append(args, "--", sandboxEntryPath)
	return args
}

// detectBwrap finds the bubblewrap binary in its standard locations.
func detectBwrap() (string, error) {
	paths := []string{
		"/usr/bin/bwrap",
		"/usr/local/bin/bwrap",
		"/bin/bwrap",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("bwrap not found in standard locations")
}
