package series

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Tier 一个精度档位：Retention 个 bucket，每个 Resolution 秒
type Tier struct {
	Resolution uint32 `json:"resolution" yaml:"resolution"`
	Retention  uint32 `json:"retention" yaml:"retention"`
}

// DefaultTiers 1s 保留 1 小时，1m 保留 1 天，10m 保留 1 周，1h 保留 30 天
var DefaultTiers = []Tier{
	{Resolution: 1, Retention: 3600},
	{Resolution: 60, Retention: 1440},
	{Resolution: 600, Retention: 1008},
	{Resolution: 3600, Retention: 720},
}

// Span tier 覆盖的总时长
func (t Tier) Span() time.Duration {
	return time.Duration(t.Resolution) * time.Duration(t.Retention) * time.Second
}

func (t Tier) String() string {
	return fmt.Sprintf("%ds:%d", t.Resolution, t.Retention)
}

// ParseTier 解析 "<resolution>:<retention>"
// resolution 为时长（"1s"、"10m"），retention 可以是 bucket 个数（"3600"）或时长（"24h"）
func ParseTier(s string) (Tier, error) {
	resStr, retStr, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Tier{}, fmt.Errorf("%w: %q is not <resolution>:<retention>", ErrInvalidTiers, s)
	}
	res, err := time.ParseDuration(resStr)
	if err != nil {
		return Tier{}, fmt.Errorf("%w: resolution %q: %v", ErrInvalidTiers, resStr, err)
	}
	if res < time.Second || res%time.Second != 0 {
		return Tier{}, fmt.Errorf("%w: resolution %q must be a whole number of seconds", ErrInvalidTiers, resStr)
	}
	tier := Tier{Resolution: uint32(res / time.Second)}

	if n, err := strconv.ParseUint(retStr, 10, 32); err == nil {
		tier.Retention = uint32(n)
	} else {
		span, err := time.ParseDuration(retStr)
		if err != nil {
			return Tier{}, fmt.Errorf("%w: retention %q: %v", ErrInvalidTiers, retStr, err)
		}
		if span%res != 0 {
			return Tier{}, fmt.Errorf("%w: retention %q is not a multiple of %s", ErrInvalidTiers, retStr, res)
		}
		tier.Retention = uint32(span / res)
	}
	if tier.Retention == 0 {
		return Tier{}, fmt.Errorf("%w: retention of %q is zero", ErrInvalidTiers, s)
	}
	return tier, nil
}

// ParseTiers 解析并校验 tier 列表
func ParseTiers(specs []string) ([]Tier, error) {
	tiers := make([]Tier, 0, len(specs))
	for _, s := range specs {
		t, err := ParseTier(s)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, t)
	}
	if err := ValidateTiers(tiers); err != nil {
		return nil, err
	}
	return tiers, nil
}

// ValidateTiers 校验相邻 tier 之间可以做聚合
// 1. 精度严格递增且能整除上一级
// 2. 每一级至少能容纳下一级的一个 bucket
// 3. 覆盖时长严格递增
func ValidateTiers(tiers []Tier) error {
	if len(tiers) == 0 {
		return fmt.Errorf("%w: no tiers", ErrInvalidTiers)
	}
	for i, t := range tiers {
		if t.Resolution == 0 || t.Retention == 0 {
			return fmt.Errorf("%w: tier %d (%s) is empty", ErrInvalidTiers, i, t)
		}
		if i == 0 {
			continue
		}
		prev := tiers[i-1]
		switch {
		case t.Resolution <= prev.Resolution:
			return fmt.Errorf("%w: tier %d resolution %ds is not coarser than %ds", ErrInvalidTiers, i, t.Resolution, prev.Resolution)
		case t.Resolution%prev.Resolution != 0:
			return fmt.Errorf("%w: tier %d resolution %ds is not a multiple of %ds", ErrInvalidTiers, i, t.Resolution, prev.Resolution)
		case prev.Span() < time.Duration(t.Resolution)*time.Second:
			return fmt.Errorf("%w: tier %d (%s) cannot hold one bucket of tier %d", ErrInvalidTiers, i-1, prev, i)
		case t.Span() <= prev.Span():
			return fmt.Errorf("%w: tier %d span %s does not exceed %s", ErrInvalidTiers, i, t.Span(), prev.Span())
		}
	}
	return nil
}
