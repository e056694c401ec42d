package llamacpp

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/Vortextech01/OpenLLM/pkg/internal/enginepull"
)

// engineVersionFile records the image reference the current engine install
// came from. Installs are skipped while it matches the desired image.
const engineVersionFile = ".engine_version"

func (l *llamaCpp) ensureLatestEngine(ctx context.Context, httpClient *http.Client) error {
	variant := engineVariant(ctx, l)
	image := l.config.EngineImage + "-" + variant
	binaryPath := l.engineBinaryPath()

	versionFile := filepath.Join(l.enginePath, engineVersionFile)
	data, err := os.ReadFile(versionFile)
	if err == nil {
		if installed := strings.TrimSpace(string(data)); installed == image {
			if _, err := os.Stat(binaryPath); err == nil {
				l.log.Infoln("installed engine is already up to date")
				return nil
			}
			l.log.Infoln("engine binary is missing, reinstalling")
		} else {
			l.log.Infof("installed engine is outdated: %s vs %s, updating", installed, image)
		}
	}

	l.status = fmt.Sprintf("installing %s variant", variant)
	if err := enginepull.Pull(ctx, l.log, httpClient, image, l.enginePath, runtime.GOOS, runtime.GOARCH); err != nil {
		return fmt.Errorf("pulling engine image %s: %w", image, err)
	}
	if err := os.Chmod(binaryPath, 0o755); err != nil {
		return fmt.Errorf("could not chmod engine binary: %w", err)
	}
	if err := os.WriteFile(versionFile, []byte(image), 0o644); err != nil {
		l.log.Warnf("failed to save engine version: %v", err)
	}
	l.log.Infoln("successfully installed llama-server engine")
	return nil
}
