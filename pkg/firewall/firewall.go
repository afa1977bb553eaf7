package firewall

import (
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"

	"github.com/cuemby/fleetagent/pkg/errs"
	"github.com/cuemby/fleetagent/pkg/log"
)

// Backend names the detected host firewall.
type Backend string

const (
	BackendUFW       Backend = "ufw"
	BackendFirewalld Backend = "firewalld"
	BackendIPTables  Backend = "iptables"
	BackendNone      Backend = "none"
)

// Driver opens and removes host firewall rules scoped to a container's
// port and IP, through whichever of ufw, firewalld, or raw iptables the
// host runs.
type Driver struct {
	backend Backend
	runner  func(name string, args ...string) (string, error)
}

// NewDriver detects the active backend: UFW, then firewalld, then
// iptables if present, else "none".
func NewDriver() *Driver {
	return &Driver{backend: detect(), runner: runCommand}
}

// Backend reports the detected firewall backend.
func (d *Driver) Backend() Backend { return d.backend }

func runCommand(name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

func detect() Backend {
	if out, err := runCommand("ufw", "status"); err == nil && strings.Contains(out, "Status: active") {
		return BackendUFW
	}
	if out, err := runCommand("firewall-cmd", "--state"); err == nil && strings.TrimSpace(out) == "running" {
		return BackendFirewalld
	}
	if _, err := exec.LookPath("iptables"); err == nil {
		return BackendIPTables
	}
	return BackendNone
}

func validIPv4(ip string) error {
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.To4() == nil {
		return errs.New(errs.KindInvalidRequest, "container_ip must be a valid IPv4 literal")
	}
	return nil
}

// AllowPort opens port for containerIP through the detected backend. It is
// idempotent: iptables duplicate-insert errors are logged and ignored
// since the backend provides no native idempotence there.
func (d *Driver) AllowPort(port int, containerIP string) error {
	if err := validIPv4(containerIP); err != nil {
		return err
	}
	logger := log.WithComponent("firewall")

	switch d.backend {
	case BackendUFW:
		if _, err := d.runner("ufw", "allow", strconv.Itoa(port)); err != nil {
			return errs.Wrap(errs.KindFirewall, "ufw allow", err)
		}
		if _, err := d.runner("ufw", "reload"); err != nil {
			return errs.Wrap(errs.KindFirewall, "ufw reload", err)
		}
		return nil

	case BackendFirewalld:
		if _, err := d.runner("firewall-cmd", "--permanent", "--add-port", fmt.Sprintf("%d/tcp", port)); err != nil {
			return errs.Wrap(errs.KindFirewall, "firewall-cmd add-port", err)
		}
		if _, err := d.runner("firewall-cmd", "--reload"); err != nil {
			return errs.Wrap(errs.KindFirewall, "firewall-cmd reload", err)
		}
		return nil

	case BackendIPTables:
		rules := [][]string{
			{"-I", "INPUT", "-p", "tcp", "--dport", strconv.Itoa(port), "-j", "ACCEPT"},
			{"-I", "FORWARD", "-p", "tcp", "-d", containerIP, "--dport", strconv.Itoa(port), "-j", "ACCEPT"},
			{"-I", "FORWARD", "-p", "tcp", "-s", containerIP, "--sport", strconv.Itoa(port), "-j", "ACCEPT"},
		}
		for _, args := range rules {
			if _, err := d.runner("iptables", args...); err != nil {
				logger.Warn().Err(err).Strs("rule", args).Msg("iptables insert failed, assuming duplicate")
			}
		}
		return nil

	default:
		logger.Warn().Int("port", port).Msg("no firewall backend detected, port left unmanaged")
		return nil
	}
}

// RemovePort performs the symmetric deletion of AllowPort's rules.
func (d *Driver) RemovePort(port int, containerIP string) error {
	if err := validIPv4(containerIP); err != nil {
		return err
	}
	logger := log.WithComponent("firewall")

	switch d.backend {
	case BackendUFW:
		if _, err := d.runner("ufw", "delete", "allow", strconv.Itoa(port)); err != nil {
			return errs.Wrap(errs.KindFirewall, "ufw delete", err)
		}
		if _, err := d.runner("ufw", "reload"); err != nil {
			return errs.Wrap(errs.KindFirewall, "ufw reload", err)
		}
		return nil

	case BackendFirewalld:
		if _, err := d.runner("firewall-cmd", "--permanent", "--remove-port", fmt.Sprintf("%d/tcp", port)); err != nil {
			return errs.Wrap(errs.KindFirewall, "firewall-cmd remove-port", err)
		}
		if _, err := d.runner("firewall-cmd", "--reload"); err != nil {
			return errs.Wrap(errs.KindFirewall, "firewall-cmd reload", err)
		}
		return nil

	case BackendIPTables:
		rules := [][]string{
			{"-D", "INPUT", "-p", "tcp", "--dport", strconv.Itoa(port), "-j", "ACCEPT"},
			{"-D", "FORWARD", "-p", "tcp", "-d", containerIP, "--dport", strconv.Itoa(port), "-j", "ACCEPT"},
			{"-D", "FORWARD", "-p", "tcp", "-s", containerIP, "--sport", strconv.Itoa(port), "-j", "ACCEPT"},
		}
		for _, args := range rules {
			if _, err := d.runner("iptables", args...); err != nil {
				logger.Warn().Err(err).Strs("rule", args).Msg("iptables delete failed, assuming already absent")
			}
		}
		return nil

	default:
		return nil
	}
}
