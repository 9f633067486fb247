// SPDX-License-Identifier: Apache-2.0

package activity

import (
	"context"
	"net"
	"runtime"

	"github.com/dustin/go-humanize"

	"github.com/adiadia/activity-relay/internal/auth"
	"github.com/adiadia/activity-relay/internal/domain"
)

// Bootup records that the application started.
func (s *Service) Bootup(ctx context.Context) domain.EventRecord {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return s.RecordEvent(ctx,
		domain.EventSystemBootup,
		"Web application started successfully",
		nil, nil,
		domain.Props(
			"environment", s.env,
			"go_version", runtime.Version(),
			"app_name", s.appName,
			"server_time", s.timestamp(),
			"memory_usage", humanize.IBytes(mem.Sys),
			"server_ip", serverIP(),
		),
	)
}

// TestEvent records a system.test event through the normal pipeline.
func (s *Service) TestEvent(ctx context.Context) domain.EventRecord {
	return s.RecordEvent(ctx,
		domain.EventSystemTest,
		"Discord webhook test message - if you see this, your integration is working correctly!",
		nil, nil,
		domain.Props(
			"test_timestamp", s.timestamp(),
			"app_name", s.appName,
			"environment", s.env,
		),
	)
}

// serverIP returns the first non-loopback IPv4 address of the host.
func serverIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return auth.Unknown
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return auth.Unknown
}
