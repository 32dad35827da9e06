//go:build !linux || !cgo

package media

import (
	"context"
	"fmt"
	"runtime"
)

// DefaultMicrophone reports every open as unavailable. Native capture needs
// the malgo driver, which is only built on linux with cgo.
func DefaultMicrophone() Microphone { return noMicrophone{} }

type noMicrophone struct{}

func (noMicrophone) Open(context.Context, Config, func() bool) (Source, error) {
	return nil, fmt.Errorf("%w: no capture driver on %s", ErrDeviceUnavailable, runtime.GOOS)
}
