package common

import "errors"

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// SameParty reports whether caller is a concrete (non-zero) party identical to
// expected. The zero address never matches, even itself.
func SameParty(caller, expected [20]byte) bool {
	if caller == ([20]byte{}) {
		return false
	}
	return caller == expected
}
