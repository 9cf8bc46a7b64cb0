package cli

import (
	"fmt"

	arbiter "github.com/luhtfiimanal/go-serial-arbiter"
)

// openArbiter builds and opens an arbiter from the loaded config.
func openArbiter() (*arbiter.Arbiter, error) {
	pc, err := cfg.PortConfig()
	if err != nil {
		return nil, err
	}
	ac, err := cfg.ArbiterConfig(logger)
	if err != nil {
		return nil, err
	}
	arb := arbiter.New(ac)
	if err := arb.Open(pc); err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", pc.Device, err)
	}
	return arb, nil
}
