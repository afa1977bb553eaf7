// Package firewall detects the active host firewall (UFW, firewalld, or
// iptables) and idempotently opens or removes per-port, per-container-IP
// allow rules.
package firewall
