package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServiceConfigValid(t *testing.T) {
	t.Parallel()
	doc := `{
		"id": "svc.links",
		"name": "Community Links",
		"kind": "single_command",
		"source": {"url": "https://artifacts.example.org/links", "content_hash": "abc123"},
		"capabilities": {"allowNetwork": true, "networkAllowlist": ["example.com"], "timeoutMs": 5000},
		"default_config": {
			"command": "links",
			"datasets": [{"key": "links", "url": "https://x/datasets/1.json", "schema": "links.v1", "ttl_seconds": 300}]
		}
	}`
	cfg, err := ParseServiceConfig([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "svc.links", cfg.ID)
	assert.Equal(t, KindSingleCommand, cfg.Kind)

	refs := DatasetRefs(cfg.DefaultConfig)
	require.Len(t, refs, 1)
	assert.Equal(t, "links", refs[0].Key)
	assert.Equal(t, "links.v1", refs[0].Schema)
}

func TestParseServiceConfigRejectsUnknownKind(t *testing.T) {
	t.Parallel()
	_, err := ParseServiceConfig([]byte(`{"id":"x","kind":"webhook","source":{"url":"https://a/b"}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid kind")
}

func TestParseServiceConfigSourceExactlyOne(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"none": `{"id":"x","kind":"listener","source":{}}`,
		"two":  `{"id":"x","kind":"listener","source":{"url":"https://a/b","package":"p","version":"1"}}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseServiceConfig([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestParseServiceConfigRepoRequiresCommit(t *testing.T) {
	t.Parallel()
	_, err := ParseServiceConfig([]byte(`{"id":"x","kind":"listener","source":{"repo":"github.com/a/b"}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pinned commit")
}

func TestParseChatConfigValidatesBindings(t *testing.T) {
	t.Parallel()
	_, err := ParseChatConfig([]byte(`{"id":"c1","periodic":[{"service_ref":"svc","schedule":""}]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing schedule")
}

func TestParseChatConfigRejectsBadTimezone(t *testing.T) {
	t.Parallel()
	_, err := ParseChatConfig([]byte(`{"id":"c1","timezone":"Mars/Olympus"}`))
	assert.Error(t, err)
}

func TestMergeConfigOverrideWins(t *testing.T) {
	t.Parallel()
	defaults := map[string]any{"command": "links", "page_size": 5, "title": "Links"}
	overrides := map[string]any{"page_size": 10}
	merged := MergeConfig(defaults, overrides)
	assert.Equal(t, 10, merged["page_size"])
	assert.Equal(t, "links", merged["command"])
	// Shallow merge never mutates inputs.
	assert.Equal(t, 5, defaults["page_size"])
}
