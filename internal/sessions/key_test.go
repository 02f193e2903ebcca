package sessions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildSessionKey(t *testing.T) {
	assert.Equal(t, "agent:main:zalouser:direct:42", BuildSessionKey("main", "zalouser", PeerDirect, "42"))
	assert.Equal(t, "agent:default:zalouser:group:7", BuildSessionKey("", "zalouser", PeerGroup, "7"))
}

func TestBuildAccountSessionKey(t *testing.T) {
	assert.Equal(t, "agent:a:zalouser:direct:1", BuildAccountSessionKey("a", "zalouser", "default", PeerDirect, "1"))
	assert.Equal(t, "agent:a:zalouser:work:group:9", BuildAccountSessionKey("a", "zalouser", "work", PeerGroup, "9"))
}

func TestParseAndSubagent(t *testing.T) {
	key := BuildSubagentSessionKey("main", "research")
	agent, rest := ParseSessionKey(key)
	assert.Equal(t, "main", agent)
	assert.Equal(t, "subagent:research", rest)
	assert.True(t, IsSubagentSession(key))
	assert.False(t, IsSubagentSession("agent:main:zalouser:direct:1"))

	agent, rest = ParseSessionKey("not-a-key")
	assert.Empty(t, agent)
	assert.Empty(t, rest)
}

func TestPeerKindFromGroup(t *testing.T) {
	assert.Equal(t, PeerGroup, PeerKindFromGroup(true))
	assert.Equal(t, PeerDirect, PeerKindFromGroup(false))
}
