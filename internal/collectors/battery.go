package collectors

import (
	"context"
	"strconv"
	"strings"

	"github.com/fleetsync/inventory/pkg/api"
)

// CollectBattery returns the installed batteries. Desktops report none.
func CollectBattery(ctx context.Context) ([]api.Battery, error) {
	batteries, err := collectPlatformBattery(ctx)
	if err != nil {
		return nil, err
	}
	if batteries == nil {
		batteries = []api.Battery{}
	}
	return batteries, nil
}

// decodeChemistry turns the packed ASCII chemistry code reported by the
// Windows battery driver ("LION" as a little-endian uint32) into text.
// Values that are not numeric pass through unchanged.
func decodeChemistry(raw string) string {
	raw = strings.TrimSpace(raw)
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return raw
	}
	var b strings.Builder
	for i := 0; i < 4; i++ {
		c := byte(n >> (8 * i))
		if c == 0 {
			break
		}
		b.WriteByte(c)
	}
	return b.String()
}

func parseUint32(s string) uint32 {
	n, _ := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	return uint32(n)
}
