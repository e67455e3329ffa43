package bridge

import (
	"fmt"
	"sync/atomic"
)

type LinkState uint32

const (
	LinkDisconnected LinkState = iota
	LinkConnecting
	LinkConnected
)

func (s LinkState) String() string {
	switch s {
	case LinkDisconnected:
		return "disconnected"
	case LinkConnecting:
		return "connecting"
	case LinkConnected:
		return "connected"
	}
	return fmt.Sprintf("LinkState(%d)", uint32(s))
}

type link struct{ v uint32 }

func (l *link) Load() LinkState { return LinkState(atomic.LoadUint32(&l.v)) }

// Store returns previous state.
func (l *link) Store(s LinkState) LinkState { return LinkState(atomic.SwapUint32(&l.v, uint32(s))) }
