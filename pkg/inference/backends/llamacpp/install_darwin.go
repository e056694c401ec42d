package llamacpp

import (
	"context"
)

// engineVariant selects the engine build variant for this platform.
func engineVariant(ctx context.Context, l *llamaCpp) string {
	return "metal"
}
