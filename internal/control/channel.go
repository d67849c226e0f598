// Package control 到数据库引擎的控制通道。
// 传输层严格一问一答：同一时刻最多一个在途请求，发送时登记一个续体，
// 应答到达后由 Process 在调用方的 goroutine 里执行。没有队列，也不允许流水线。
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/node-manager/pkg/logger"
	"github.com/node-manager/pkg/monitor"
)

var (
	ErrRequestOutstanding = errors.New("control: request outstanding")
	ErrClosed             = errors.New("control: channel closed")
)

// Continuation 应答回调
type Continuation func(Reply)

type result struct {
	payload []byte
	err     error
}

// Channel 两个状态：idle / awaiting
type Channel struct {
	address   string
	transport Transport
	metrics   *monitor.EngineMetrics

	mu       sync.Mutex
	awaiting bool
	cont     Continuation
	replies  chan result
	closed   bool
}

// ConnectOptions 连接重试参数
type ConnectOptions struct {
	MaxTries       uint
	MaxElapsedTime time.Duration
	InitialBackoff time.Duration
	Metrics        *monitor.EngineMetrics
}

// DefaultConnectOptions 引擎启动需要时间监听端口，默认最多重试 30s
var DefaultConnectOptions = ConnectOptions{
	MaxTries:       20,
	MaxElapsedTime: 30 * time.Second,
	InitialBackoff: 100 * time.Millisecond,
}

// Connect 带指数退避地建立连接
func Connect(ctx context.Context, d Dialer, address string, opts ConnectOptions) (*Channel, error) {
	b := backoff.NewExponentialBackOff()
	if opts.InitialBackoff > 0 {
		b.InitialInterval = opts.InitialBackoff
	}
	retryOpts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Debug("control connect retry", logger.Component("control"),
				zap.String("address", address), zap.Duration("next", next), zap.Error(err))
		}),
	}
	if opts.MaxTries > 0 {
		retryOpts = append(retryOpts, backoff.WithMaxTries(opts.MaxTries))
	}
	if opts.MaxElapsedTime > 0 {
		retryOpts = append(retryOpts, backoff.WithMaxElapsedTime(opts.MaxElapsedTime))
	}

	t, err := backoff.Retry(ctx, func() (Transport, error) {
		return d.Dial(ctx, address)
	}, retryOpts...)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", address, err)
	}
	return NewChannel(address, t, opts.Metrics), nil
}

// NewChannel 包装已建立的传输
func NewChannel(address string, t Transport, metrics *monitor.EngineMetrics) *Channel {
	return &Channel{
		address:   address,
		transport: t,
		metrics:   metrics,
		replies:   make(chan result, 1),
	}
}

func (c *Channel) Address() string { return c.address }

// Awaiting 是否有在途请求
func (c *Channel) Awaiting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.awaiting
}

// SendAndAwait 发送命令并登记续体；已有在途请求时返回 ErrRequestOutstanding
func (c *Channel) SendAndAwait(cmd Command, cont Continuation) error {
	payload, err := cmd.Encode()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.awaiting {
		return fmt.Errorf("%w: cannot send %s", ErrRequestOutstanding, cmd.Tag)
	}
	if err := c.transport.Send(payload); err != nil {
		c.countError()
		return fmt.Errorf("send %s to %s: %w", cmd.Tag, c.address, err)
	}
	if c.metrics != nil {
		c.metrics.ControlRequests.WithLabelValues(cmd.Tag.String()).Inc()
	}
	c.awaiting = true
	c.cont = cont

	t, replies := c.transport, c.replies
	go func() {
		payload, err := t.Recv()
		replies <- result{payload: payload, err: err}
	}()
	return nil
}

// Process 最多等待 timeout；收到应答时先回到 idle、清掉续体，再调用续体。
// 没有在途请求时立即返回。传输错误同样回到 idle 并返回错误。
func (c *Channel) Process(timeout time.Duration) error {
	c.mu.Lock()
	if !c.awaiting {
		c.mu.Unlock()
		return nil
	}
	replies := c.replies
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var res result
	select {
	case res = <-replies:
	case <-timer.C:
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.awaiting = false
	cont := c.cont
	c.cont = nil
	c.mu.Unlock()

	if res.err != nil {
		c.countError()
		return fmt.Errorf("recv from %s: %w", c.address, res.err)
	}
	if cont != nil {
		cont(Reply{Raw: res.payload})
	}
	return nil
}

// Close 丢弃在途续体并关闭传输，可重复调用
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.awaiting = false
	c.cont = nil
	return c.transport.Close()
}

func (c *Channel) countError() {
	if c.metrics != nil {
		c.metrics.ControlErrors.Inc()
	}
}
