// Package manager 对外的读模型：集群节点、健康指标、引擎控制，以及驱动控制通道的 reactor。
package manager

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/node-manager/internal/cluster"
	"github.com/node-manager/internal/engine"
	"github.com/node-manager/internal/health"
	"github.com/node-manager/internal/series"
	"github.com/node-manager/pkg/logger"
)

const (
	DefaultPollTimeout    = 100 * time.Millisecond
	DefaultStatusInterval = 10 * time.Second
)

// NodeList 集群概况
type NodeList struct {
	ClusterName        string   `json:"cluster_name"`
	PeakClusterSize    int      `json:"peak_cluster_size"`
	CurrentClusterSize int      `json:"current_cluster_size"`
	Nodes              []string `json:"nodes"`
	Leader             string   `json:"leader"`
}

// NodeDetail 单个节点；节点未知时 Leader/Local 省略
type NodeDetail struct {
	ClusterName string `json:"cluster_name"`
	Node        string `json:"node"`
	Exists      bool   `json:"exists"`
	Leader      *bool  `json:"leader,omitempty"`
	Local       *bool  `json:"local,omitempty"`
}

// MetricResult 指标查询结果；Values 是样本列表或聚合值
type MetricResult struct {
	Metric     string      `json:"metric"`
	Resolution int64       `json:"resolution,omitempty"`
	From       int64       `json:"from,omitempty"`
	Until      int64       `json:"until,omitempty"`
	Values     interface{} `json:"values"`
}

type Option func(*Controller)

func WithClock(c clockwork.Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

func WithPollTimeout(d time.Duration) Option {
	return func(ctl *Controller) { ctl.pollTimeout = d }
}

// WithStatusInterval 定期向 Ready 的引擎查询状态，<=0 关闭
func WithStatusInterval(d time.Duration) Option {
	return func(ctl *Controller) { ctl.statusInterval = d }
}

type Controller struct {
	view    *cluster.View
	health  *health.Registry
	engines *engine.Manager

	clock          clockwork.Clock
	pollTimeout    time.Duration
	statusInterval time.Duration

	// 后台启动中的引擎
	starting sync.WaitGroup
}

func NewController(view *cluster.View, reg *health.Registry, engines *engine.Manager, opts ...Option) *Controller {
	c := &Controller{
		view:           view,
		health:         reg,
		engines:        engines,
		clock:          clockwork.NewRealClock(),
		pollTimeout:    DefaultPollTimeout,
		statusInterval: DefaultStatusInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) NodeList() NodeList {
	return NodeList{
		ClusterName:        c.view.Name(),
		PeakClusterSize:    c.view.PeakSize(),
		CurrentClusterSize: c.view.CurrentSize(),
		Nodes:              c.view.Nodes(),
		Leader:             c.view.Leader(),
	}
}

func (c *Controller) NodeDetail(node string) NodeDetail {
	d := NodeDetail{ClusterName: c.view.Name(), Node: node, Exists: c.view.IsKnown(node)}
	if d.Exists {
		leader, local := c.view.IsLeader(node), c.view.IsLocal(node)
		d.Leader, d.Local = &leader, &local
	}
	return d
}

func (c *Controller) MetricNames() ([]string, error) {
	return c.health.MetricNames()
}

// QueryMetric op 为 values 时返回样本，否则返回聚合值。
// 未知指标返回空 values；聚合窗口为空返回 series.ErrEmptyWindow。
func (c *Controller) QueryMetric(name, op string, from, until time.Time) (MetricResult, error) {
	var agg series.Op
	if op != "values" {
		var err error
		if agg, err = series.ParseOp(op); err != nil {
			return MetricResult{}, err
		}
	}

	w, values, err := c.health.Fetch(name, from, until)
	if errors.Is(err, health.ErrUnknownMetric) {
		return MetricResult{Metric: name, Values: []*float64{}}, nil
	}
	if err != nil {
		return MetricResult{}, err
	}

	res := MetricResult{
		Metric:     name,
		Resolution: int64(w.Resolution / time.Second),
		From:       w.From.Unix(),
		Until:      w.Until.Unix(),
		Values:     values,
	}
	if values == nil {
		res.Values = []*float64{}
	}
	if op == "values" {
		return res, nil
	}
	v, err := series.Reduce(agg, values)
	if err != nil {
		return res, err
	}
	res.Values = v
	return res, nil
}

// StartEngine 后台启动，失败只记录日志
func (c *Controller) StartEngine(ctx context.Context, node string) {
	ctx = context.WithoutCancel(ctx)
	c.starting.Add(1)
	go func() {
		defer c.starting.Done()
		if err := c.engines.StartEngine(ctx, node); err != nil {
			logger.Error("start database engine failed", logger.Component("manager"), zap.String("node", node), zap.Error(err))
		}
	}()
}

// StopEngine 未知引擎返回 engine.ErrUnknownEngine
func (c *Controller) StopEngine(ctx context.Context, node string) error {
	return c.engines.StopEngine(ctx, node)
}

func (c *Controller) Engines() []engine.Info {
	return c.engines.Engines()
}

// Run reactor：反复以 pollTimeout 轮询控制通道，直到 ctx 结束
func (c *Controller) Run(ctx context.Context) error {
	logger.Info("controller reactor started", logger.Component("manager"), zap.Duration("poll", c.pollTimeout))
	lastStatus := c.clock.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		began := c.clock.Now()
		_ = c.engines.Process(c.pollTimeout)

		if c.statusInterval > 0 && c.clock.Since(lastStatus) >= c.statusInterval {
			c.engines.RequestStatus()
			lastStatus = c.clock.Now()
		}

		// 没有在途请求时 Process 立即返回，补足剩余时间避免空转
		if rest := c.pollTimeout - c.clock.Since(began); rest > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-c.clock.After(rest):
			}
		}
	}
}

// Shutdown 等待后台启动结束并停止全部引擎
func (c *Controller) Shutdown(ctx context.Context) error {
	c.starting.Wait()
	return c.engines.StopAll(ctx)
}
