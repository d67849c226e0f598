package control

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-zeromq/zmq4"
)

// Transport 严格一问一答的传输：Send 之后必须 Recv 才能再次 Send
type Transport interface {
	Send(payload []byte) error
	// Recv 阻塞直到收到应答或 Close
	Recv() ([]byte, error)
	Close() error
}

// Dialer 建立到引擎控制端口的连接
type Dialer interface {
	Dial(ctx context.Context, address string) (Transport, error)
}

// ZMQDialer 使用 ZeroMQ REQ socket
type ZMQDialer struct{}

// Dial address 没有 scheme 时补 tcp://
func (ZMQDialer) Dial(ctx context.Context, address string) (Transport, error) {
	endpoint := address
	if !strings.Contains(endpoint, "://") {
		endpoint = "tcp://" + endpoint
	}
	// 重试由上层 backoff 控制
	sck := zmq4.NewReq(ctx, zmq4.WithDialerMaxRetries(0))
	if err := sck.Dial(endpoint); err != nil {
		_ = sck.Close()
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	return &zmqTransport{sck: sck}, nil
}

type zmqTransport struct {
	sck zmq4.Socket
}

func (t *zmqTransport) Send(payload []byte) error {
	return t.sck.Send(zmq4.NewMsg(payload))
}

func (t *zmqTransport) Recv() ([]byte, error) {
	msg, err := t.sck.Recv()
	if err != nil {
		return nil, err
	}
	return msg.Bytes(), nil
}

func (t *zmqTransport) Close() error {
	return t.sck.Close()
}
