// Package network manages CNI macvlan + host-local IPAM configuration
// files for workload networks: validation, auto-discovery of host network
// parameters, conflist persistence, and a TOML mirror of every configured
// network.
package network
