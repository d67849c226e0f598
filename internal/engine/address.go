package engine

import (
	"context"
	"errors"
	"net"
	"slices"

	gnet "github.com/shirou/gopsutil/v3/net"
)

var errNoInterface = errors.New("no usable network interface address")

// InterfaceAddrs 返回本机可用于连接的地址，按优先级排序
type InterfaceAddrs func(ctx context.Context) ([]string, error)

func isWildcard(ip string) bool {
	switch ip {
	case "*", "0.0.0.0", "::", "[::]":
		return true
	}
	return false
}

// localInterfaceAddrs 跳过 loopback 与 link-local，IPv4 优先
func localInterfaceAddrs(ctx context.Context) ([]string, error) {
	ifs, err := gnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	var v4, v6 []string
	for _, iface := range ifs {
		if slices.Contains(iface.Flags, "loopback") {
			continue
		}
		for _, a := range iface.Addrs {
			ip, _, err := net.ParseCIDR(a.Addr)
			if err != nil {
				ip = net.ParseIP(a.Addr)
			}
			if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
				continue
			}
			if ip.To4() != nil {
				v4 = append(v4, ip.String())
			} else {
				v6 = append(v6, ip.String())
			}
		}
	}
	return append(v4, v6...), nil
}

// resolveConnectHost 通配地址解析为第一个可用接口地址
func resolveConnectHost(ctx context.Context, ip string, addrs InterfaceAddrs) (string, error) {
	if !isWildcard(ip) {
		return ip, nil
	}
	list, err := addrs(ctx)
	if err != nil {
		return "", err
	}
	if len(list) == 0 {
		return "", errNoInterface
	}
	return list[0], nil
}
