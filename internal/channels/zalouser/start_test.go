//go:build !windows

package zalouser

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/zalouser/internal/bus"
	"github.com/nextlevelbuilder/zalouser/internal/channels/zalouser/zca"
	"github.com/nextlevelbuilder/zalouser/internal/config"
)

const fakeZCA = `#!/bin/sh
case "$1" in
auth) exit 0 ;;
me) echo '{"userId":"bot","displayName":"Bot"}' ;;
listen)
	echo '{"kind":"lifecycle","event":"connected"}'
	echo '{"type":0,"threadId":"42","data":{"msgId":"1","cliMsgId":"2","uidFrom":"42","dName":"Alice","ts":"1700000000000","content":"hi there"}}'
	echo '{"type":0,"threadId":"42","isSelf":true,"data":{"msgId":"3","cliMsgId":"4","uidFrom":"bot","content":"echo"}}'
	sleep 5
	;;
esac
`

func TestStartListensAndStops(t *testing.T) {
	bin := filepath.Join(t.TempDir(), "zca")
	require.NoError(t, os.WriteFile(bin, []byte(fakeZCA), 0o755))

	mb := bus.New()
	cfg := config.ZaloUserConfig{Enabled: true, DMPolicy: "open", DebounceMs: intPtr(0)}
	runner := &zca.Runner{Binary: bin, KillGrace: 100 * time.Millisecond}
	ch := New(cfg, runner, mb, Deps{}, WithReadyInterval(10*time.Millisecond))

	require.NoError(t, ch.Start(context.Background()))
	assert.True(t, ch.IsRunning())
	assert.Equal(t, "bot", ch.SelfUID())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	msg, ok := mb.ConsumeInbound(ctx)
	require.True(t, ok)
	assert.Equal(t, "hi there", msg.Content)
	assert.Equal(t, "user:42", msg.ChatID)

	start := time.Now()
	require.NoError(t, ch.Stop(context.Background()))
	assert.False(t, ch.IsRunning())
	assert.Less(t, time.Since(start), 2*time.Second)

	latest, ok := ch.cache.Latest("default", "42", false)
	require.True(t, ok)
	assert.Equal(t, "3", latest.MsgID, "own messages are remembered")
}
