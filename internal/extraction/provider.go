package extraction

import "fmt"

// NewGenerator constructs the backend for a mode. Both modes are built
// once at wiring time; hot-swapping between them is the mode
// coordinator's job, never this package's.
func NewGenerator(mode Mode, cfg Config) (Generator, error) {
	switch mode {
	case ModeLocal:
		return NewLocalGenerator(cfg)
	case ModeRemote:
		return NewRemoteGenerator(cfg)
	default:
		return nil, fmt.Errorf("unknown backend mode: %q", mode)
	}
}
