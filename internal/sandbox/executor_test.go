package sandbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/majordomo/internal/config"
	"github.com/mattjoyce/majordomo/internal/protocol"
)

// writeScript writes an executable shell script to act as a service artifact.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "service.sh")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func newPlainExecutor(t *testing.T) *ProcessExecutor {
	t.Helper()
	exec, err := NewProcessExecutor(config.SandboxConfig{BwrapPath: "none"}, t.TempDir())
	require.NoError(t, err)
	return exec
}

func testPayload() *protocol.Payload {
	return &protocol.Payload{
		Protocol:     protocol.Version,
		InvocationID: "inv-test-1",
		Event: protocol.Event{
			Type:    protocol.EventCommand,
			Command: "echo",
		},
		Context: protocol.Context{
			ChatID:    "chat-1",
			ServiceID: "svc.echo",
			Config:    map[string]any{},
		},
	}
}

func TestExecutePlainModeReply(t *testing.T) {
	entry := writeScript(t, `
# Consume the payload line, then answer.
read -r payload
echo '{"kind":"reply","text":"hello from service"}'`)

	exec := newPlainExecutor(t)
	spec := &Spec{
		EntryPath: entry,
		Grant:     Grant{Timeout: 10 * time.Second},
		Payload:   testPayload(),
	}

	result, err := exec.Execute(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, protocol.KindReply, result.Kind)
	assert.Equal(t, "hello from service", result.Text)
}

func TestExecutePayloadReachesStdin(t *testing.T) {
	entry := writeScript(t, `
read -r payload
case "$payload" in
*inv-test-1*) echo '{"kind":"reply","text":"saw invocation id"}' ;;
*) echo '{"kind":"error","message":"payload missing"}' ;;
esac`)

	exec := newPlainExecutor(t)
	spec := &Spec{
		EntryPath: entry,
		Grant:     Grant{Timeout: 10 * time.Second},
		Payload:   testPayload(),
	}

	result, err := exec.Execute(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, "saw invocation id", result.Text)
}

func TestExecuteTimeoutKills(t *testing.T) {
	entry := writeScript(t, `
read -r payload
sleep 30
echo '{"kind":"none"}'`)

	exec := newPlainExecutor(t)
	spec := &Spec{
		EntryPath: entry,
		Grant:     Grant{Timeout: 200 * time.Millisecond},
		Payload:   testPayload(),
	}

	start := time.Now()
	_, err := exec.Execute(context.Background(), spec)
	elapsed := time.Since(start)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 200*time.Millisecond, timeoutErr.Timeout)
	assert.Less(t, elapsed, 5*time.Second, "watchdog must not wait for the sleep")
}

func TestExecuteNonZeroExit(t *testing.T) {
	entry := writeScript(t, `
read -r payload
echo "service blew up" >&2
exit 3`)

	exec := newPlainExecutor(t)
	spec := &Spec{
		EntryPath: entry,
		Grant:     Grant{Timeout: 10 * time.Second},
		Payload:   testPayload(),
	}

	_, err := exec.Execute(context.Background(), spec)

	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, 3, execErr.ExitCode)
	assert.Contains(t, execErr.Stderr, "service blew up")
}

func TestExecuteMalformedOutput(t *testing.T) {
	entry := writeScript(t, `
read -r payload
echo 'this is not json'`)

	exec := newPlainExecutor(t)
	spec := &Spec{
		EntryPath: entry,
		Grant:     Grant{Timeout: 10 * time.Second},
		Payload:   testPayload(),
	}

	_, err := exec.Execute(context.Background(), spec)

	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
}

func TestExecuteNetworkGrantInjected(t *testing.T) {
	// The payload on stdin must carry the proxy socket path when the grant
	// enables network.
	entry := writeScript(t, `
read -r payload
case "$payload" in
*proxy_socket*egress.sock*) echo '{"kind":"reply","text":"network granted"}' ;;
*) echo '{"kind":"error","message":"no network grant in payload"}' ;;
esac`)

	exec := newPlainExecutor(t)
	spec := &Spec{
		EntryPath: entry,
		Grant: Grant{
			AllowedHosts: []string{"api.example.com"},
			Timeout:      10 * time.Second,
		},
		Payload: testPayload(),
	}

	result, err := exec.Execute(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, "network granted", result.Text)
}

func TestExecuteNoNetworkGrantWhenDenied(t *testing.T) {
	entry := writeScript(t, `
read -r payload
case "$payload" in
*proxy_socket*) echo '{"kind":"error","message":"unexpected network grant"}' ;;
*) echo '{"kind":"none"}' ;;
esac`)

	exec := newPlainExecutor(t)
	spec := &Spec{
		EntryPath: entry,
		Grant:     Grant{Timeout: 10 * time.Second},
		Payload:   testPayload(),
	}

	result, err := exec.Execute(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, protocol.KindNone, result.Kind)
}

func TestExecuteContextCancellation(t *testing.T) {
	entry := writeScript(t, `
read -r payload
sleep 30
echo '{"kind":"none"}'`)

	exec := newPlainExecutor(t)
	spec := &Spec{
		EntryPath: entry,
		Grant:     Grant{Timeout: time.Minute},
		Payload:   testPayload(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := exec.Execute(ctx, spec)
	assert.True(t, errors.Is(err, context.Canceled))
}
