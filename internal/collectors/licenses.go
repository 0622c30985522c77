package collectors

import (
	"context"
	"fmt"
	"strings"

	"github.com/fleetsync/inventory/pkg/api"
)

const (
	productKeyChars  = "BCDFGHJKMPQRTVWXY2346789"
	productKeyOffset = 52
	productKeyLen    = 15
)

// CollectLicenses returns the product keys found on the endpoint.
func CollectLicenses(ctx context.Context) ([]api.License, error) {
	licenses, err := collectPlatformLicenses(ctx)
	if err != nil {
		return nil, err
	}
	if licenses == nil {
		licenses = []api.License{}
	}
	return licenses, nil
}

// DecodeProductKey decodes the 25 character product key embedded in a
// DigitalProductId registry value. The input is not modified.
func DecodeProductKey(digitalProductID []byte) (string, error) {
	if len(digitalProductID) < productKeyOffset+productKeyLen {
		return "", fmt.Errorf("digital product id too short: %d bytes", len(digitalProductID))
	}
	key := make([]byte, productKeyLen)
	copy(key, digitalProductID[productKeyOffset:productKeyOffset+productKeyLen])
	key[productKeyLen-1] &= 0xf7

	var (
		digits [25]byte
		last   int
	)
	for i := len(digits) - 1; i >= 0; i-- {
		cur := 0
		for x := productKeyLen - 1; x >= 0; x-- {
			cur = cur<<8 | int(key[x])
			key[x] = byte(cur / 24)
			cur %= 24
		}
		digits[i] = productKeyChars[cur]
		last = cur
	}

	// The leading character is replaced by an N placed at the position given
	// by the final remainder.
	body := string(digits[1:])
	raw := body[:last] + "N" + body[last:]

	var b strings.Builder
	for i := 0; i < len(raw); i += 5 {
		if i > 0 {
			b.WriteByte('-')
		}
		b.WriteString(raw[i : i+5])
	}
	return b.String(), nil
}
