//go:build !linux && !windows

package svcquery

func Query(name string) (Service, error) {
	return Service{Name: name, State: StateUnknown}, ErrUnsupported
}
