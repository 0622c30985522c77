//go:build windows

package main

import (
	"golang.org/x/sys/windows/svc"
)

const (
	windowsServiceName = "InventoryAgent"
	agentServiceName   = windowsServiceName
)

// isWindowsService reports whether the SCM started the process. It must be
// called before any console output.
func isWindowsService() bool {
	ok, err := svc.IsWindowsService()
	if err != nil {
		return false
	}
	return ok
}

// hasConsole is false for the service process; interactive runs attach one.
func hasConsole() bool { return !isWindowsService() }

type inventoryService struct {
	startFn func() (*agentComponents, error)
}

func runAsService(startFn func() (*agentComponents, error)) error {
	return svc.Run(windowsServiceName, &inventoryService{startFn: startFn})
}

// Execute reports StartPending, starts the agent, then blocks until the SCM
// asks for Stop or Shutdown.
func (s *inventoryService) Execute(args []string, r <-chan svc.ChangeRequest, changes chan<- svc.Status) (bool, uint32) {
	const accepted = svc.AcceptStop | svc.AcceptShutdown

	changes <- svc.Status{State: svc.StartPending}

	comps, err := s.startFn()
	if err != nil {
		log.Error("agent start failed", "error", err)
		changes <- svc.Status{State: svc.StopPending}
		return true, 1
	}

	changes <- svc.Status{State: svc.Running, Accepts: accepted}
	log.Info("agent running as Windows service")

	for cr := range r {
		switch cr.Cmd {
		case svc.Interrogate:
			changes <- cr.CurrentStatus
		case svc.Stop, svc.Shutdown:
			log.Info("SCM requested stop")
			changes <- svc.Status{State: svc.StopPending}
			shutdownAgent(comps)
			return false, 0
		default:
			log.Warn("unexpected SCM control request", "cmd", cr.Cmd)
		}
	}
	shutdownAgent(comps)
	return false, 0
}
