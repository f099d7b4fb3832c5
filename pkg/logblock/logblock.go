package logblock

import (
	"logblock/internal/engine"
)

// manager wraps *engine.LogBlockManager so its method set satisfies
// BlockManager without exposing the internal package to callers.
type manager struct {
	*engine.LogBlockManager
}

var _ BlockManager = (*manager)(nil)

// Open starts a BlockManager rooted at dataDirs, running startup repair
// before returning. Hole punching on delete defaults to enabled; pass
// WithHolePunching(false) to defer space reclamation to the next repair
// pass instead.
func Open(dataDirs []string, opts ...Option) (*manager, error) {
	o := engine.Options{
		DataDirs:           dataDirs,
		EnableHolePunching: true,
	}
	for _, apply := range opts {
		apply(&o)
	}

	e, _, err := engine.Open(o)
	if err != nil {
		return nil, err
	}
	return &manager{LogBlockManager: e}, nil
}
