package server

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

const (
	DefaultFrom  = "24 hours ago"
	DefaultUntil = "now"
)

var ErrTimeExpression = errors.New("unrecognised time expression")

// 自然语言时间："24 hours ago"、"yesterday"、"last monday 10am"
var naturalTime = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// ParseTime 解析查询参数中的时间：
// now、unix 秒、RFC3339、带负号的 Go duration（如 -90m），其余交给自然语言解析。
// 自然语言必须整体匹配，"banana 2 hours ago" 不被接受。
func ParseTime(expr string, now time.Time) (time.Time, error) {
	raw := strings.TrimSpace(expr)
	s := strings.ToLower(raw)
	if s == "" || s == "now" {
		return now, nil
	}

	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Unix(0, int64(secs*float64(time.Second))), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if strings.HasPrefix(s, "-") {
		d, err := time.ParseDuration(s)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrTimeExpression, expr)
		}
		return now.Add(d), nil
	}

	r, err := naturalTime.Parse(raw, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrTimeExpression, expr, err)
	}
	if r == nil || len(strings.TrimSpace(r.Text)) != len(raw) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrTimeExpression, expr)
	}
	return r.Time, nil
}
