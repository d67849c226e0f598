package control_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/node-manager/internal/control"
)

func TestCommandRoundTrip(t *testing.T) {
	for _, cmd := range []control.Command{
		control.StartDataEngine("10.0.0.5:21001"),
		control.StopDataEngine("10.0.0.5:21001"),
		control.Status(""),
		control.Status("10.0.0.6:21001"),
		control.Assignment(""),
		control.Assignment("10.0.0.6:21001"),
	} {
		b, err := cmd.Encode()
		require.NoError(t, err)
		got, err := control.DecodeCommand(b)
		require.NoError(t, err, cmd.Tag.String())
		assert.Equal(t, cmd, got)
	}
}

func TestCommandMatch(t *testing.T) {
	assert.Equal(t, control.MatchAll, control.Status("").Match)
	assert.Equal(t, control.MatchSpecific, control.Assignment("n").Match)
}

func TestDecodeUnknownTag(t *testing.T) {
	b, err := control.EncodeReply([]interface{}{uint8(9), "future payload", 3})
	require.NoError(t, err)
	cmd, err := control.DecodeCommand(b)
	require.NoError(t, err)
	assert.Equal(t, control.Tag(9), cmd.Tag)
	assert.Equal(t, "tag_9", cmd.Tag.String())
}

func TestDecodeMalformed(t *testing.T) {
	empty, err := control.EncodeReply([]interface{}{})
	require.NoError(t, err)
	_, err = control.DecodeCommand(empty)
	assert.Error(t, err)

	noNode, err := control.EncodeReply([]interface{}{uint8(control.TagStartDataEngine)})
	require.NoError(t, err)
	_, err = control.DecodeCommand(noNode)
	assert.Error(t, err)

	// 数组声明两个元素，只给了一个
	_, err = control.DecodeCommand([]byte{0x92, 0x01})
	assert.Error(t, err)
}

func TestReplyDecodeMap(t *testing.T) {
	b, err := control.EncodeReply(map[string]interface{}{"node": "10.0.0.5:21001", "state": "running"})
	require.NoError(t, err)
	var got map[string]interface{}
	require.NoError(t, control.Reply{Raw: b}.Decode(&got))
	assert.Equal(t, "running", got["state"])
}

func freePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

// 用 REP socket 模拟引擎，走一遍真实的 ZeroMQ 往返
func TestZMQRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	addr := freePort(t)
	rep := zmq4.NewRep(ctx)
	defer rep.Close()
	require.NoError(t, rep.Listen("tcp://"+addr))

	go func() {
		msg, err := rep.Recv()
		if err != nil {
			return
		}
		cmd, err := control.DecodeCommand(msg.Bytes())
		if err != nil {
			return
		}
		out, _ := control.EncodeReply(map[string]interface{}{"ack": cmd.NodeID})
		_ = rep.Send(zmq4.NewMsg(out))
	}()

	ch, err := control.Connect(ctx, control.ZMQDialer{}, addr, control.ConnectOptions{MaxTries: 5, InitialBackoff: 10 * time.Millisecond})
	require.NoError(t, err)
	defer ch.Close()

	var ack string
	require.NoError(t, ch.SendAndAwait(control.StartDataEngine("10.0.0.5:21001"), func(r control.Reply) {
		var m map[string]interface{}
		if r.Decode(&m) == nil {
			ack, _ = m["ack"].(string)
		}
	}))
	deadline := time.Now().Add(5 * time.Second)
	for ch.Awaiting() && time.Now().Before(deadline) {
		require.NoError(t, ch.Process(100*time.Millisecond))
	}
	assert.Equal(t, "10.0.0.5:21001", ack)
}
