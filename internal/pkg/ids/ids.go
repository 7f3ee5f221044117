package ids

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ClientOrderID generates a locally unique order identifier scoped to a bot.
// The id is assigned before submission so the journal can address the order
// even if the venue never acknowledges it.
func ClientOrderID(botID, suffix string) string {
	base := fmt.Sprintf("%s-%s", botID, strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
	suffix = strings.TrimSpace(suffix)
	if suffix == "" {
		return base
	}
	return base + "-" + suffix
}
