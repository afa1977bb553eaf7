package runtime

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/cuemby/fleetagent/pkg/types"
)

// statsRow is the runtime CLI's one-shot stats JSON row. Field names
// mirror nerdctl/docker's `stats --no-stream --format json` output; values
// stay as the runtime prints them (human-readable strings like
// "512MiB / 1GiB") since the exact format is runtime-version-specific.
type statsRow struct {
	CPUPerc  string `json:"CPUPerc"`
	MemUsage string `json:"MemUsage"`
	NetIO    string `json:"NetIO"`
	BlockIO  string `json:"BlockIO"`
}

// Stats returns the runtime's one-shot resource snapshot for name.
func (d *Driver) Stats(ctx context.Context, name string) (types.ContainerStats, error) {
	out, err := d.run(ctx, "stats", "--no-stream", "--format", "json", name)
	if err != nil {
		return types.ContainerStats{}, err
	}

	var row statsRow
	line := strings.TrimSpace(out)
	if line != "" {
		_ = json.Unmarshal([]byte(line), &row)
	}

	memParts := strings.SplitN(row.MemUsage, "/", 2)
	netParts := strings.SplitN(row.NetIO, "/", 2)
	blockParts := strings.SplitN(row.BlockIO, "/", 2)

	return types.ContainerStats{
		CPUPercent: row.CPUPerc,
		MemUsage:   strings.TrimSpace(first(memParts)),
		MemLimit:   strings.TrimSpace(second(memParts)),
		NetRX:      strings.TrimSpace(first(netParts)),
		NetTX:      strings.TrimSpace(second(netParts)),
		BlockRead:  strings.TrimSpace(first(blockParts)),
		BlockWrite: strings.TrimSpace(second(blockParts)),
	}, nil
}

func first(parts []string) string {
	if len(parts) > 0 {
		return parts[0]
	}
	return ""
}

func second(parts []string) string {
	if len(parts) > 1 {
		return parts[1]
	}
	return ""
}
