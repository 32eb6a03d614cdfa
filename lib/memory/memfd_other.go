//go:build !linux

package memory

import (
	"fmt"
	"runtime"

	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("memory")

// NewMemfdManager returns a manager whose operations always fail, memory files are linux only
func NewMemfdManager() IMemoryManager {
	return unsupportedManager{}
}

type unsupportedManager struct{}

func (unsupportedManager) Allocate(name string, _ int) (IRegion, error) {
	return nil, fmt.Errorf("memory files are not supported on %s (region %s)", runtime.GOOS, name)
}

func (unsupportedManager) Map(IExchangeHandle, int, bool) (IRegion, error) {
	return nil, fmt.Errorf("memory files are not supported on %s", runtime.GOOS)
}
