package runtime

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuemby/fleetagent/pkg/log"
)

// cniAllocDir returns the host-local IPAM allocation directory for a CNI
// network.
func cniAllocDir(network string) string {
	return filepath.Join("/var/lib/cni/networks", network)
}

// releaseIPReservation best-effort removes a single host-local IPAM
// allocation file, used when a container create fails after a static IP
// was requested. Failures are logged, not returned: release
// is explicitly best-effort.
func releaseIPReservation(network, ip string) {
	path := filepath.Join(cniAllocDir(network), ip)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger := log.WithComponent("runtime")
		logger.Warn().Err(err).Str("ip", ip).Msg("failed to release ip reservation")
	}
}

// CleanStaleIPAllocations deletes host-local IPAM allocation files whose
// IP is not held by any running container, with two safety rules:
// never delete while running containers exist but none
// reports an IP (inspect likely raced with start), and never delete an
// allocation file younger than 60 seconds.
func (d *Driver) CleanStaleIPAllocations(ctx context.Context, network string) error {
	logger := log.WithComponent("runtime")
	dir := cniAllocDir(network)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	containers, err := d.List(ctx)
	if err != nil {
		return err
	}

	activeIPs := map[string]bool{}
	anyRunning := false
	for _, c := range containers {
		if !c.Running {
			continue
		}
		anyRunning = true
		if ip, err := d.ContainerIP(ctx, c.Name); err == nil && ip != "" {
			activeIPs[ip] = true
		}
	}
	if anyRunning && len(activeIPs) == 0 {
		logger.Warn().Str("network", network).Msg("running containers exist but none reports an ip; skipping GC")
		return nil
	}

	now := time.Now()
	for _, entry := range entries {
		name := entry.Name()
		if name == "lock" || strings.HasPrefix(name, "last_reserved_ip") {
			continue
		}
		if net.ParseIP(name) == nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < 60*time.Second {
			continue
		}
		if activeIPs[name] {
			continue
		}
		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("failed to remove stale cni allocation")
			continue
		}
		logger.Info().Str("ip", name).Str("network", network).Msg("removed stale cni ip allocation")
	}
	return nil
}
