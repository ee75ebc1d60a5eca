package shared

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateLotCode builds a unique human-readable lot code such as
// GRN-MCK3QZ1T-4F09A. The prefix names the stage; the remainder encodes the
// creation instant plus a random suffix.
func GenerateLotCode(prefix string) string {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 36)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:5]
	return strings.ToUpper(fmt.Sprintf("%s-%s-%s", prefix, ts, suffix))
}
