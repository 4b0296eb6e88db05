package builtin

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	gopsutilNet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/guestflow/cottage-agent/internal/tool"
)

const defaultDevServerPort = 3000

// newDevServer builds the read-only probe for a local development server.
// It inspects listening sockets; it never starts or stops anything.
func newDevServer(opts Options) *tool.Descriptor {
	return &tool.Descriptor{
		Name:        "dev-server",
		Description: "Check whether a development server is listening on the expected port.",
		Inputs:      []string{"port"},
		Outputs:     []string{"running", "port", "pid", "process"},
		Timeout:     5 * time.Second,
		FailureModes: []tool.FailureMode{
			{Name: "probe_failed", Match: "connections"},
		},
		Handler: func(ctx context.Context, inputs map[string]any) (map[string]any, error) {
			port := devServerPort(inputs)

			conns, err := gopsutilNet.ConnectionsWithContext(ctx, "tcp")
			if err != nil {
				return nil, fmt.Errorf("list connections: %w", err)
			}

			out := map[string]any{
				"running":   false,
				"port":      port,
				"satisfies": []string{"server_probe"},
			}
			for _, c := range conns {
				if c.Status != "LISTEN" || c.Laddr.Port != uint32(port) {
					continue
				}
				out["running"] = true
				out["pid"] = c.Pid
				if c.Pid > 0 {
					if p, perr := process.NewProcessWithContext(ctx, c.Pid); perr == nil {
						if name, nerr := p.NameWithContext(ctx); nerr == nil && strings.TrimSpace(name) != "" {
							out["process"] = name
						}
					}
				}
				break
			}
			return out, nil
		},
	}
}

func devServerPort(inputs map[string]any) int {
	if inputs != nil {
		switch v := inputs["port"].(type) {
		case int:
			if v > 0 && v < 65536 {
				return v
			}
		case float64:
			if v > 0 && v < 65536 {
				return int(v)
			}
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 && n < 65536 {
				return n
			}
		}
	}
	return defaultDevServerPort
}
