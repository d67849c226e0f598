package util

import (
	"fmt"
	"io"
	"strings"

	"github.com/common-nighthawk/go-figure"
)

// ANSI 颜色
const (
	ColorReset  = "\x1b[0m"
	ColorRed    = "\x1b[1;31m"
	ColorGreen  = "\x1b[1;32m"
	ColorYellow = "\x1b[1;33m"
	ColorBlue   = "\x1b[1;34m"
	ColorCyan   = "\x1b[1;36m"
)

var colors = map[string]string{
	"red":    ColorRed,
	"green":  ColorGreen,
	"yellow": ColorYellow,
	"blue":   ColorBlue,
	"cyan":   ColorCyan,
}

// Banner 渲染 ASCII banner；未知颜色不着色
func Banner(text, color string) []string {
	code, ok := colors[strings.ToLower(color)]
	lines := figure.NewFigure(text, "", true).Slicify()
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if ok {
			line = code + line + ColorReset
		}
		out = append(out, line)
	}
	return out
}

// PrintBanner 打印 banner 及一行附加信息（版本、监听地址等）
func PrintBanner(w io.Writer, text, color, subtitle string) {
	for _, line := range Banner(text, color) {
		fmt.Fprintln(w, line)
	}
	if subtitle != "" {
		fmt.Fprintln(w, subtitle)
	}
}
