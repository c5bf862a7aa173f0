package runtime

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewRunID mints a run identity of the form test-<unix ms>-<random>.
func NewRunID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("test-%d-%s", now.UnixMilli(), suffix)
}
