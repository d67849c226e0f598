package series

import (
	"fmt"
	"strings"
)

// Op 窗口聚合方式
type Op string

const (
	OpMin Op = "min"
	OpMax Op = "max"
	OpAvg Op = "avg"
)

// ParseOp 支持 min/max/avg（以及 average、mean）
func ParseOp(s string) (Op, error) {
	switch strings.ToLower(s) {
	case "min":
		return OpMin, nil
	case "max":
		return OpMax, nil
	case "avg", "average", "mean":
		return OpAvg, nil
	}
	return "", fmt.Errorf("unknown aggregate %q", s)
}

// Reduce 忽略缺失样本；没有任何样本时返回 ErrEmptyWindow
func Reduce(op Op, values []*float64) (float64, error) {
	var (
		out float64
		n   int
	)
	for _, v := range values {
		if v == nil {
			continue
		}
		switch {
		case n == 0:
			out = *v
		case op == OpMin && *v < out:
			out = *v
		case op == OpMax && *v > out:
			out = *v
		case op == OpAvg:
			out += *v
		}
		n++
	}
	if n == 0 {
		return 0, ErrEmptyWindow
	}
	switch op {
	case OpMin, OpMax:
		return out, nil
	case OpAvg:
		return out / float64(n), nil
	}
	return 0, fmt.Errorf("unknown aggregate %q", op)
}
