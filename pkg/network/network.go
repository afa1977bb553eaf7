package network

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/cuemby/fleetagent/pkg/config"
	"github.com/cuemby/fleetagent/pkg/errs"
	"github.com/cuemby/fleetagent/pkg/log"
)

// CNIConfDir is where macvlan conflist files are written.
var CNIConfDir = "/etc/cni/net.d"

var nameRE = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.\-]{0,62}$`)
var ifaceRE = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.\-]{0,14}$`)

// Definition is one resolved macvlan + host-local network.
type Definition struct {
	Name       string
	Interface  string
	CIDR       string
	Gateway    string
	RangeStart string
	RangeEnd   string
}

// Manager creates, updates, and deletes CNI macvlan conflists and mirrors
// them into the agent's persisted configuration.
type Manager struct {
	cfg        *config.Config
	configPath string
}

// NewManager creates a Manager that persists network definitions into cfg
// and writes them back to configPath on every mutation.
func NewManager(cfg *config.Config, configPath string) *Manager {
	return &Manager{cfg: cfg, configPath: configPath}
}

// Validate checks a network definition, stripping an
// "@ifN" suffix from the interface name first. It returns an error for
// hard violations; soft issues (gateway inside the allocation range, a
// very small range) are logged as warnings, not rejected.
func Validate(d Definition) error {
	if !nameRE.MatchString(d.Name) {
		return errs.New(errs.KindInvalidRequest, "network name must be 1-63 chars, alphanumeric start, restricted charset")
	}

	iface := stripIfSuffix(d.Interface)
	if iface != "" && !ifaceRE.MatchString(iface) {
		return errs.New(errs.KindInvalidRequest, "interface name must be 1-15 chars, alphanumeric start, restricted charset")
	}

	_, ipnet, err := net.ParseCIDR(d.CIDR)
	if err != nil {
		return errs.Wrap(errs.KindInvalidRequest, "cidr must be parseable", err)
	}
	ones, _ := ipnet.Mask.Size()
	if ones < 8 || ones > 30 {
		return errs.New(errs.KindInvalidRequest, "cidr prefix must be between /8 and /30")
	}

	gw := net.ParseIP(d.Gateway)
	if gw == nil || !ipnet.Contains(gw) {
		return errs.New(errs.KindInvalidRequest, "gateway must be a valid address within the cidr")
	}
	start := net.ParseIP(d.RangeStart)
	if start == nil || !ipnet.Contains(start) {
		return errs.New(errs.KindInvalidRequest, "range_start must be a valid address within the cidr")
	}
	end := net.ParseIP(d.RangeEnd)
	if end == nil || !ipnet.Contains(end) {
		return errs.New(errs.KindInvalidRequest, "range_end must be a valid address within the cidr")
	}
	if ipToUint32(start) >= ipToUint32(end) {
		return errs.New(errs.KindInvalidRequest, "range_start must be less than range_end")
	}

	logger := log.WithComponent("network")
	if ipToUint32(gw) >= ipToUint32(start) && ipToUint32(gw) <= ipToUint32(end) {
		logger.Warn().Str("network", d.Name).Msg("gateway falls inside the allocation range")
	}
	if ipToUint32(end)-ipToUint32(start) < 4 {
		logger.Warn().Str("network", d.Name).Msg("allocation range is very small")
	}
	if ones >= 30 {
		logger.Warn().Str("network", d.Name).Int("prefix", ones).Msg("few addresses available at this prefix")
	}
	return nil
}

func stripIfSuffix(iface string) string {
	if i := strings.Index(iface, "@"); i >= 0 {
		return iface[:i]
	}
	return iface
}

func ipToUint32(ip net.IP) uint32 {
	ip4 := ip.To4()
	if ip4 == nil {
		return 0
	}
	return uint32(ip4[0])<<24 | uint32(ip4[1])<<16 | uint32(ip4[2])<<8 | uint32(ip4[3])
}

// Discover fills in any absent field of d by inspecting the host's default
// route and interface addresses.
func Discover(d Definition) (Definition, error) {
	if d.Interface == "" {
		iface, err := defaultInterface()
		if err != nil {
			return d, err
		}
		d.Interface = iface
	}
	if d.Gateway == "" {
		gw, err := defaultGateway()
		if err == nil {
			d.Gateway = gw
		}
	}
	if d.CIDR == "" {
		cidr, err := interfaceCIDR(d.Interface)
		if err != nil {
			return d, err
		}
		d.CIDR = cidr
	}
	return d, nil
}

// defaultInterface reads /proc/net/route for the default route (destination
// 00000000) and returns its interface name, falling back to the first
// non-loopback link that is up.
func defaultInterface() (string, error) {
	if f, err := os.Open("/proc/net/route"); err == nil {
		defer f.Close()
		scanner := bufio.NewScanner(f)
		first := true
		for scanner.Scan() {
			if first {
				first = false
				continue
			}
			fields := strings.Fields(scanner.Text())
			if len(fields) < 2 {
				continue
			}
			if fields[1] == "00000000" {
				return fields[0], nil
			}
		}
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return "", errs.Wrap(errs.KindNetwork, "list interfaces", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if iface.Flags&net.FlagUp != 0 {
			return iface.Name, nil
		}
	}
	return "", errs.New(errs.KindNetwork, "no usable network interface found")
}

// defaultGateway reads the gateway field of the default route in
// /proc/net/route, which is stored little-endian hex.
func defaultGateway() (string, error) {
	f, err := os.Open("/proc/net/route")
	if err != nil {
		return "", errs.Wrap(errs.KindNetwork, "read /proc/net/route", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	first := true
	for scanner.Scan() {
		if first {
			first = false
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		if fields[1] != "00000000" {
			continue
		}
		gw, err := hexLEToIP(fields[2])
		if err != nil {
			continue
		}
		return gw, nil
	}
	return "", errs.New(errs.KindNetwork, "no default gateway found")
}

func hexLEToIP(hexStr string) (string, error) {
	v, err := strconv.ParseUint(hexStr, 16, 32)
	if err != nil {
		return "", err
	}
	ip := net.IPv4(byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
	return ip.String(), nil
}

// interfaceCIDR returns the interface's first IPv4 address, normalized by
// masking host bits.
func interfaceCIDR(name string) (string, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return "", errs.Wrap(errs.KindNetwork, "lookup interface", err)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return "", errs.Wrap(errs.KindNetwork, "list interface addresses", err)
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.To4() == nil {
			continue
		}
		masked := ipnet.IP.Mask(ipnet.Mask)
		ones, _ := ipnet.Mask.Size()
		return fmt.Sprintf("%s/%d", masked.String(), ones), nil
	}
	return "", errs.New(errs.KindNetwork, "interface has no IPv4 address")
}

// conflist is the on-disk shape of a CNI macvlan + host-local config.
type conflist struct {
	CNIVersion string      `json:"cniVersion"`
	Name       string      `json:"name"`
	Plugins    []cniPlugin `json:"plugins"`
}

type cniPlugin struct {
	Type   string   `json:"type"`
	Master string   `json:"master,omitempty"`
	Mode   string   `json:"mode,omitempty"`
	IPAM   *cniIPAM `json:"ipam,omitempty"`
}

type cniIPAM struct {
	Type   string       `json:"type"`
	Ranges [][]cniRange `json:"ranges"`
}

type cniRange struct {
	Subnet     string `json:"subnet"`
	RangeStart string `json:"rangeStart"`
	RangeEnd   string `json:"rangeEnd"`
	Gateway    string `json:"gateway"`
}

func conflistPath(name string) string {
	return filepath.Join(CNIConfDir, name+".conflist")
}

// Names returns the name of every configured network, for callers that
// sweep per-network state (the CNI allocation GC).
func (m *Manager) Names() []string {
	out := make([]string, 0, len(m.cfg.Networking.Networks))
	for _, n := range m.cfg.Networking.Networks {
		out = append(out, n.Name)
	}
	return out
}

// EnsureAll materializes a conflist file for every network in the
// persisted configuration, re-discovering absent fields. Called at
// startup so networks configured on a previous run (or by hand in the
// TOML) exist on disk before any workload references them. Invalid
// entries are logged and skipped rather than failing the boot.
func (m *Manager) EnsureAll() {
	logger := log.WithComponent("network")
	for _, n := range m.cfg.Networking.Networks {
		d := Definition{
			Name:       n.Name,
			Interface:  n.Interface,
			CIDR:       n.CIDR,
			Gateway:    n.Gateway,
			RangeStart: n.RangeStart,
			RangeEnd:   n.RangeEnd,
		}
		resolved, err := Discover(d)
		if err != nil {
			logger.Warn().Err(err).Str("network", d.Name).Msg("skipping network, discovery failed")
			continue
		}
		if err := Validate(resolved); err != nil {
			logger.Warn().Err(err).Str("network", d.Name).Msg("skipping invalid network")
			continue
		}
		if err := writeConflist(resolved); err != nil {
			logger.Warn().Err(err).Str("network", d.Name).Msg("failed to write conflist")
			continue
		}
		m.mirror(resolved, true)
	}
	if err := m.persist(); err != nil {
		logger.Warn().Err(err).Msg("failed to persist resolved network config")
	}
}

// CreateNetwork discovers any absent fields, validates, writes the
// conflist file, and mirrors the definition into config.
func (m *Manager) CreateNetwork(d Definition) (Definition, error) {
	d, err := Discover(d)
	if err != nil {
		return d, err
	}
	if err := Validate(d); err != nil {
		return d, err
	}
	if err := writeConflist(d); err != nil {
		return d, err
	}
	m.mirror(d, false)
	return d, m.persist()
}

// UpdateNetwork re-validates and re-writes an existing network's conflist,
// replacing its mirrored config entry.
func (m *Manager) UpdateNetwork(d Definition) (Definition, error) {
	if err := Validate(d); err != nil {
		return d, err
	}
	if err := writeConflist(d); err != nil {
		return d, err
	}
	m.mirror(d, true)
	return d, m.persist()
}

// DeleteNetwork removes a network's conflist file and its mirrored config
// entry.
func (m *Manager) DeleteNetwork(name string) error {
	if err := os.Remove(conflistPath(name)); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.KindFilesystem, "remove conflist", err)
	}
	filtered := m.cfg.Networking.Networks[:0]
	for _, n := range m.cfg.Networking.Networks {
		if n.Name != name {
			filtered = append(filtered, n)
		}
	}
	m.cfg.Networking.Networks = filtered
	return m.persist()
}

func writeConflist(d Definition) error {
	if err := os.MkdirAll(CNIConfDir, 0o755); err != nil {
		return errs.Wrap(errs.KindFilesystem, "create cni conf dir", err)
	}
	cl := conflist{
		CNIVersion: "1.0.0",
		Name:       d.Name,
		Plugins: []cniPlugin{
			{
				Type:   "macvlan",
				Master: d.Interface,
				Mode:   "bridge",
				IPAM: &cniIPAM{
					Type: "host-local",
					Ranges: [][]cniRange{{{
						Subnet:     d.CIDR,
						RangeStart: d.RangeStart,
						RangeEnd:   d.RangeEnd,
						Gateway:    d.Gateway,
					}}},
				},
			},
		},
	}
	data, err := json.MarshalIndent(cl, "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindInternal, "marshal conflist", err)
	}
	if err := os.WriteFile(conflistPath(d.Name), data, 0o644); err != nil {
		return errs.Wrap(errs.KindFilesystem, "write conflist", err)
	}
	return nil
}

func (m *Manager) mirror(d Definition, replace bool) {
	entry := config.CNINetworkConfig{
		Name:       d.Name,
		Interface:  d.Interface,
		CIDR:       d.CIDR,
		Gateway:    d.Gateway,
		RangeStart: d.RangeStart,
		RangeEnd:   d.RangeEnd,
	}
	if replace {
		for i, n := range m.cfg.Networking.Networks {
			if n.Name == d.Name {
				m.cfg.Networking.Networks[i] = entry
				return
			}
		}
	}
	m.cfg.Networking.Networks = append(m.cfg.Networking.Networks, entry)
}

func (m *Manager) persist() error {
	if m.configPath == "" {
		return nil
	}
	return m.cfg.Save(m.configPath)
}
