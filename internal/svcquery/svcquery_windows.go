//go:build windows

package svcquery

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"
)

func Query(name string) (Service, error) {
	m, err := mgr.Connect()
	if err != nil {
		return Service{Name: name, State: StateUnknown}, fmt.Errorf("connect to service manager: %w", err)
	}
	defer m.Disconnect()

	s, err := m.OpenService(name)
	if errors.Is(err, windows.ERROR_SERVICE_DOES_NOT_EXIST) {
		return Service{Name: name, State: StateNotInstalled}, nil
	}
	if err != nil {
		return Service{Name: name, State: StateUnknown}, fmt.Errorf("open service %s: %w", name, err)
	}
	defer s.Close()

	st, err := s.Query()
	if err != nil {
		return Service{Name: name, State: StateUnknown}, fmt.Errorf("query service %s: %w", name, err)
	}
	out := Service{Name: name, State: fromSvcState(st.State)}
	if cfg, err := s.Config(); err == nil {
		out.StartType = startType(cfg.StartType)
	}
	return out, nil
}

func fromSvcState(st svc.State) State {
	switch st {
	case svc.Running, svc.StartPending, svc.ContinuePending:
		return StateRunning
	case svc.Stopped, svc.StopPending, svc.Paused, svc.PausePending:
		return StateStopped
	}
	return StateUnknown
}

func startType(t uint32) string {
	switch t {
	case mgr.StartAutomatic:
		return "automatic"
	case mgr.StartManual:
		return "manual"
	case mgr.StartDisabled:
		return "disabled"
	}
	return ""
}
