package memory_tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/inboxpilot/internal/backends"
	"github.com/teemow/inboxpilot/internal/classifier"
	"github.com/teemow/inboxpilot/internal/tools"
)

func TestStore(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewStore(clock)

	s.Put("alice", "manager", "Dana Smith", []string{"people"})
	clock.Advance(time.Minute)
	s.Put("alice", "office", "Berlin, floor 3", nil)
	s.Put("bob", "manager", "Someone else", nil)

	list := s.List("alice")
	require.Len(t, list, 2)
	assert.Equal(t, "office", list[0].Key, "newest first")

	assert.Len(t, s.Search("alice", "PEOPLE", 0), 1, "tags match case-insensitively")
	assert.Len(t, s.Search("alice", "berlin", 0), 1)
	assert.Len(t, s.Search("alice", "", 1), 1)
	assert.Empty(t, s.Search("carol", "manager", 0))

	assert.True(t, s.Delete("alice", "office"))
	assert.False(t, s.Delete("alice", "office"))
	assert.Len(t, s.List("alice"), 1)
	assert.Len(t, s.List("bob"), 1, "users are isolated")
}

func TestDefinitions_Classification(t *testing.T) {
	want := map[string]tools.Category{
		"memory_store":  tools.SequentialOnly,
		"memory_search": tools.SafeParallel,
		"memory_list":   tools.SafeParallel,
		"memory_delete": tools.RequiresApproval,
	}

	c := classifier.New(nil, nil)
	defs := Definitions()
	require.Len(t, defs, len(want))
	for _, tool := range defs {
		assert.Equal(t, want[tool.Name], c.ClassifyTool(tool.Name, backends.CapabilityFromAnnotations(tool.Annotations)), tool.Name)
	}
}

func TestServer_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)

	factory := backends.NewMCPFactory(map[backends.Kind]backends.ServerBuilder{
		backends.KindMemory: ServerBuilder(store, nil, "test"),
	}, nil, nil, "test")
	conn, err := factory.Connect(ctx, backends.ServerConfig{Name: ProviderName, Kind: backends.KindMemory, Auth: backends.AuthNone}, "alice", "")
	require.NoError(t, err)
	defer conn.Close()

	list, err := conn.ListTools(ctx)
	require.NoError(t, err)
	index := tools.NewIndex(list)

	invoke := func(name string, args map[string]any) (string, error) {
		d, ok := index.Lookup(name)
		require.True(t, ok, name)
		return d.Invoke(ctx, args)
	}

	out, err := invoke("memory_store", map[string]any{"key": "manager", "content": "Dana", "tags": []any{"people"}})
	require.NoError(t, err)
	assert.Equal(t, `Remembered "manager"`, out)

	out, err = invoke("memory_search", map[string]any{"query": "dana"})
	require.NoError(t, err)
	var found []Entry
	require.NoError(t, json.Unmarshal([]byte(out), &found))
	require.Len(t, found, 1)
	assert.Equal(t, []string{"people"}, found[0].Tags)

	_, err = invoke("memory_delete", map[string]any{"key": "missing"})
	var toolErr *backends.ToolError
	require.ErrorAs(t, err, &toolErr)

	_, err = invoke("memory_delete", map[string]any{"key": "manager"})
	require.NoError(t, err)
	assert.Empty(t, store.List("alice"))
}

func TestServerBuilder_RequiresUser(t *testing.T) {
	_, err := ServerBuilder(NewStore(nil), nil, "")(context.Background(), "", "")
	assert.Error(t, err)
}
