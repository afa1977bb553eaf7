package session

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// parseByteSizeMB converts a human-readable size string ("512MiB", "1.2GB",
// "0B") as printed by the runtime's stats command into megabytes. Unknown
// suffixes are treated as bytes.
func parseByteSizeMB(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	i := 0
	for i < len(s) && (s[i] == '.' || (s[i] >= '0' && s[i] <= '9')) {
		i++
	}
	value, err := strconv.ParseFloat(s[:i], 64)
	if err != nil {
		return 0
	}
	unitStr := strings.ToLower(strings.TrimSpace(s[i:]))

	var bytesPerUnit float64
	switch {
	case strings.HasPrefix(unitStr, "kib"):
		bytesPerUnit = 1024
	case strings.HasPrefix(unitStr, "mib"):
		bytesPerUnit = 1024 * 1024
	case strings.HasPrefix(unitStr, "gib"):
		bytesPerUnit = 1024 * 1024 * 1024
	case strings.HasPrefix(unitStr, "tib"):
		bytesPerUnit = 1024 * 1024 * 1024 * 1024
	case strings.HasPrefix(unitStr, "kb"), unitStr == "k":
		bytesPerUnit = 1000
	case strings.HasPrefix(unitStr, "mb"), unitStr == "m":
		bytesPerUnit = 1000 * 1000
	case strings.HasPrefix(unitStr, "gb"), unitStr == "g":
		bytesPerUnit = 1000 * 1000 * 1000
	case strings.HasPrefix(unitStr, "tb"), unitStr == "t":
		bytesPerUnit = 1000 * 1000 * 1000 * 1000
	default:
		bytesPerUnit = 1
	}
	return value * bytesPerUnit / (1024 * 1024)
}

// parsePercent parses a "NN.N%" string, returning 0 for anything it can't
// read.
func parsePercent(s string) float64 {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// memInfoMB reads /proc/meminfo and returns (used, total) in megabytes.
func memInfoMB() (usedMB, totalMB int64, err error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	var totalKB, availKB int64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		switch strings.TrimSuffix(fields[0], ":") {
		case "MemTotal":
			totalKB, _ = strconv.ParseInt(fields[1], 10, 64)
		case "MemAvailable":
			availKB, _ = strconv.ParseInt(fields[1], 10, 64)
		}
	}
	totalMB = totalKB / 1024
	usedMB = (totalKB - availKB) / 1024
	return usedMB, totalMB, nil
}

// cpuSample is one reading of /proc/stat's aggregate cpu line.
type cpuSample struct {
	idle, total uint64
}

func readCPUSample() (cpuSample, error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return cpuSample{}, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return cpuSample{}, scanner.Err()
	}
	fields := strings.Fields(scanner.Text())
	if len(fields) < 5 || fields[0] != "cpu" {
		return cpuSample{}, nil
	}
	var total uint64
	for _, f := range fields[1:] {
		v, _ := strconv.ParseUint(f, 10, 64)
		total += v
	}
	idle, _ := strconv.ParseUint(fields[4], 10, 64)
	return cpuSample{idle: idle, total: total}, nil
}

// cpuPercentOverWindow samples /proc/stat twice, window apart, and returns
// the host-wide CPU busy percentage.
func cpuPercentOverWindow(window time.Duration) float64 {
	first, err := readCPUSample()
	if err != nil {
		return 0
	}
	time.Sleep(window)
	second, err := readCPUSample()
	if err != nil {
		return 0
	}
	totalDelta := float64(second.total - first.total)
	idleDelta := float64(second.idle - first.idle)
	if totalDelta <= 0 {
		return 0
	}
	return (totalDelta - idleDelta) / totalDelta * 100
}

// diskUsageMB returns (used, total) in megabytes for the filesystem backing
// path.
func diskUsageMB(path string) (usedMB, totalMB int64, err error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	blockSize := uint64(stat.Bsize)
	total := stat.Blocks * blockSize
	free := stat.Bfree * blockSize
	totalMB = int64(total / (1024 * 1024))
	usedMB = int64((total - free) / (1024 * 1024))
	return usedMB, totalMB, nil
}
