package nodemgr

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/node-manager/pkg/config"
)

// dbe 子命令通过本机 manager 的 HTTP 接口控制引擎进程
func newDBECmd() *cobra.Command {
	var (
		node    string
		address string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "dbe",
		Short: "Control database engine processes through a running manager",
	}
	cmd.PersistentFlags().StringVar(&node, "node", "", "engine node id host:port")
	cmd.PersistentFlags().StringVar(&address, "manager", "", "manager HTTP address (default: server.addr)")
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")

	client := func(cmd *cobra.Command) (*dbeClient, error) {
		if address == "" {
			cfg, err := config.LoadConfigWithCli(cmd)
			if err != nil {
				return nil, err
			}
			address = cfg.Server.Addr
		}
		return newDBEClient(address, timeout), nil
	}

	action := func(op string) *cobra.Command {
		return &cobra.Command{
			Use:   op,
			Short: op + " the engine given by --node",
			RunE: func(cmd *cobra.Command, args []string) error {
				host, port, err := net.SplitHostPort(node)
				if err != nil {
					return fmt.Errorf("--node must be host:port: %w", err)
				}
				c, err := client(cmd)
				if err != nil {
					return err
				}
				body, err := c.get(fmt.Sprintf("/dbe/%s/%s/%s/", op, host, port))
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(body)
				return err
			},
		}
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List engines known to the manager",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client(cmd)
			if err != nil {
				return err
			}
			body, err := c.get("/dbe/")
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(body)
			return err
		},
	}

	cmd.AddCommand(action("start"), action("stop"), list)
	return cmd
}

type dbeClient struct {
	base string
	http *http.Client
}

// newDBEClient 监听通配地址时改为访问本机
func newDBEClient(addr string, timeout time.Duration) *dbeClient {
	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
			addr = net.JoinHostPort("127.0.0.1", port)
		}
	}
	return &dbeClient{base: "http://" + addr, http: &http.Client{Timeout: timeout}}
}

func (c *dbeClient) get(path string) ([]byte, error) {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return nil, fmt.Errorf("contact manager: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("manager: %s", e.Error)
		}
		return nil, fmt.Errorf("manager: %s", resp.Status)
	}
	return body, nil
}
