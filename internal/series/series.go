// Package series 固定大小的多精度时间序列（类 whisper）。
// 每个 tier 是按 bucket 对齐的环形槽位；写入只落到最细的 tier，
// 更粗的 tier 在写入时用下一级当前 bucket 内样本的均值重新计算。
// 文件在创建时一次性分配完整大小，之后只做原地覆盖写。
package series

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

var (
	ErrInvalidTiers = errors.New("series: invalid tiers")
	ErrInvalidRange = errors.New("series: from is after until")
	ErrEmptyWindow  = errors.New("series: no samples in window")
	ErrCorruptFile  = errors.New("series: corrupt file")
)

// Window Fetch 实际返回的区间：[From, Until)，步长 Resolution
type Window struct {
	From       time.Time
	Until      time.Time
	Resolution time.Duration
}

type slot struct {
	ts  int64
	val float64
}

type archive struct {
	Tier
	offset int64
	slots  []slot
}

func (a *archive) step() int64 { return int64(a.Resolution) }

func (a *archive) span() int64 { return int64(a.Resolution) * int64(a.Retention) }

func (a *archive) bucket(ts int64) int64 { return ts - ts%a.step() }

func (a *archive) index(bucket int64) int {
	return int((bucket / a.step()) % int64(a.Retention))
}

// read 槽位时间戳不匹配（上一圈的旧数据）或值为 NaN 时视为缺失
func (a *archive) read(bucket int64) (float64, bool) {
	s := a.slots[a.index(bucket)]
	if s.ts != bucket || math.IsNaN(s.val) {
		return 0, false
	}
	return s.val, true
}

// Series 单个指标的时间序列，并发安全
type Series struct {
	mu       sync.RWMutex
	name     string
	path     string
	file     *os.File
	archives []*archive
	clock    clockwork.Clock
}

type Option func(*Series)

// WithClock 替换时钟（测试用 clockwork.FakeClock）
func WithClock(c clockwork.Clock) Option {
	return func(s *Series) { s.clock = c }
}

// New 创建仅内存的序列（不落盘）
func New(name string, tiers []Tier, opts ...Option) (*Series, error) {
	if err := ValidateTiers(tiers); err != nil {
		return nil, err
	}
	s := &Series{name: name, clock: clockwork.NewRealClock()}
	for _, o := range opts {
		o(s)
	}
	s.archives = newArchives(tiers)
	return s, nil
}

func newArchives(tiers []Tier) []*archive {
	archives := make([]*archive, len(tiers))
	offset := headerSize(len(tiers))
	for i, t := range tiers {
		a := &archive{Tier: t, offset: offset, slots: make([]slot, t.Retention)}
		for j := range a.slots {
			a.slots[j].val = math.NaN()
		}
		archives[i] = a
		offset += int64(t.Retention) * slotSize
	}
	return archives
}

func (s *Series) Name() string { return s.name }

// Path 落盘文件路径，内存序列为空
func (s *Series) Path() string { return s.path }

// Tiers 实际使用的布局；重新打开已有文件时以文件头为准
func (s *Series) Tiers() []Tier {
	tiers := make([]Tier, len(s.archives))
	for i, a := range s.archives {
		tiers[i] = a.Tier
	}
	return tiers
}

// Retention 最粗 tier 覆盖的时长
func (s *Series) Retention() time.Duration {
	return s.archives[len(s.archives)-1].Span()
}

// Update 在当前时间写入一个样本，NaN/Inf 按缺失处理
func (s *Series) Update(value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return s.write(math.NaN())
	}
	return s.write(value)
}

// UpdateAbsent 当前时间采集失败，写入缺失标记
func (s *Series) UpdateAbsent() error {
	return s.write(math.NaN())
}

func (s *Series) write(v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now().Unix()
	fine := s.archives[0]
	if err := s.store(fine, fine.bucket(now), v); err != nil {
		return fmt.Errorf("write %s: %w", s.name, err)
	}
	for i := 1; i < len(s.archives); i++ {
		if err := s.consolidate(s.archives[i-1], s.archives[i], now); err != nil {
			return fmt.Errorf("consolidate %s tier %d: %w", s.name, i, err)
		}
	}
	return nil
}

// consolidate 用 lower 的样本重新计算 upper 当前 bucket 的均值（幂等）
func (s *Series) consolidate(lower, upper *archive, now int64) error {
	start := upper.bucket(now)
	end := start + upper.step()

	var sum float64
	var n int
	for t := start; t < end; t += lower.step() {
		if v, ok := lower.read(t); ok {
			sum += v
			n++
		}
	}
	v := math.NaN()
	if n > 0 {
		v = sum / float64(n)
	}
	return s.store(upper, start, v)
}

func (s *Series) store(a *archive, bucket int64, v float64) error {
	idx := a.index(bucket)
	a.slots[idx] = slot{ts: bucket, val: v}
	if s.file == nil {
		return nil
	}
	return writeSlot(s.file, a.offset+int64(idx)*slotSize, a.slots[idx])
}

// Fetch 读取 [from, until] 的数据，选用能覆盖 from 的最细 tier。
// 缺失的样本返回 nil。
func (s *Series) Fetch(from, until time.Time) (Window, []*float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, u := from.Unix(), until.Unix()
	if f > u {
		return Window{}, nil, fmt.Errorf("%w: %s > %s", ErrInvalidRange, from.Format(time.RFC3339), until.Format(time.RFC3339))
	}

	now := s.clock.Now().Unix()
	oldest := now - s.archives[len(s.archives)-1].span()
	if f > now || u < oldest {
		return Window{From: from, Until: until}, []*float64{}, nil
	}
	if u > now {
		u = now
	}
	if f < oldest {
		f = oldest
	}

	a := s.archives[len(s.archives)-1]
	for _, candidate := range s.archives {
		if candidate.span() >= now-f {
			a = candidate
			break
		}
	}

	fromBucket := a.bucket(f) + a.step()
	untilBucket := a.bucket(u) + a.step()
	if fromBucket == untilBucket {
		untilBucket += a.step()
	}

	values := make([]*float64, 0, (untilBucket-fromBucket)/a.step())
	for t := fromBucket; t < untilBucket; t += a.step() {
		if v, ok := a.read(t); ok {
			values = append(values, &v)
		} else {
			values = append(values, nil)
		}
	}
	return Window{
		From:       time.Unix(fromBucket, 0),
		Until:      time.Unix(untilBucket, 0),
		Resolution: time.Duration(a.Resolution) * time.Second,
	}, values, nil
}

// FetchSince 从 from 读到当前时间
func (s *Series) FetchSince(from time.Time) (Window, []*float64, error) {
	return s.Fetch(from, s.clock.Now())
}

// Close 关闭落盘文件，之后不可再使用
func (s *Series) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
