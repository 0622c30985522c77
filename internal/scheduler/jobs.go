package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetsync/inventory/internal/audit"
	"github.com/fleetsync/inventory/internal/collectors"
	"github.com/fleetsync/inventory/internal/health"
	"github.com/fleetsync/inventory/internal/logging"
	"github.com/fleetsync/inventory/pkg/api"
)

// runFast registers the endpoint and pushes the OS facts. The first
// successful registration also fails tasks a previous process left Running.
func (s *Scheduler) runFast(ctx context.Context) {
	uuid, err := s.register(ctx)
	if err != nil {
		log.Warn("registration failed", "error", err)
		s.health.Update(CheckServer, health.Unhealthy, err.Error())
		return
	}
	s.health.Update(CheckServer, health.Healthy, "")

	if !s.recovered.Load() && s.recoverInterrupted(ctx) {
		s.recovered.Store(true)
	}

	if s.enabled.Enabled(collectors.NameOS) && s.opts.Collect.OS != nil {
		s.push(ctx, uuid, collectors.NameOS, func(ctx context.Context) error {
			info, err := s.opts.Collect.OS(ctx)
			if err != nil {
				return err
			}
			return s.opts.Server.PushOSInfo(ctx, uuid, &info)
		})
	}
}

// register announces the endpoint with its stored uuid, or asks for one on
// first contact. A newly assigned uuid is persisted before it is used.
func (s *Scheduler) register(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()

	current := s.EndpointUUID()
	var sent *string
	if current != "" {
		sent = &current
	}
	resp, err := s.opts.Server.Register(ctx, s.cfg.EndpointName, sent)
	if err != nil {
		return "", err
	}
	if resp == nil || resp.UUID == nil || *resp.UUID == "" {
		return "", fmt.Errorf("server returned no uuid")
	}
	assigned := *resp.UUID
	if assigned == current {
		return current, nil
	}

	if s.opts.SaveUUID != nil {
		if err := s.opts.SaveUUID(assigned); err != nil {
			return "", fmt.Errorf("persist endpoint uuid: %w", err)
		}
	}
	s.mu.Lock()
	s.uuid = assigned
	s.mu.Unlock()

	log.Info("endpoint registered", logging.KeyEndpointID, assigned, "name", s.cfg.EndpointName)
	s.opts.Audit.Log(audit.EventEndpointRegister, 0, map[string]any{"uuid": assigned, "previous": current})
	return assigned, nil
}

// runSlow pushes every enabled expensive collector in turn. One failing
// collector does not stop the others.
func (s *Scheduler) runSlow(ctx context.Context) {
	uuid := s.EndpointUUID()
	if uuid == "" {
		log.Debug("endpoint not registered yet, skipping slow cycle")
		return
	}
	c := s.opts.Collect
	srv := s.opts.Server

	jobs := []struct {
		name string
		fn   func(ctx context.Context) error
	}{
		{collectors.NameHardware, func(ctx context.Context) error {
			if c.Hardware == nil {
				return nil
			}
			hw, err := c.Hardware(ctx)
			if err != nil {
				return err
			}
			return srv.PushHardware(ctx, uuid, &hw)
		}},
		{collectors.NameProfiles, func(ctx context.Context) error {
			if c.Profiles == nil {
				return nil
			}
			profiles, err := c.Profiles(ctx)
			if err != nil {
				return err
			}
			return srv.PushProfiles(ctx, uuid, &api.UserProfiles{Profiles: profiles})
		}},
		{collectors.NameSoftware, func(ctx context.Context) error {
			if c.Software == nil {
				return nil
			}
			sw, err := c.Software(ctx)
			if err != nil {
				return err
			}
			return srv.PushSoftware(ctx, uuid, &api.SoftwareLibrary{Software: sw})
		}},
		{collectors.NameVolumes, func(ctx context.Context) error {
			if c.Volumes == nil {
				return nil
			}
			vols, err := c.Volumes(ctx)
			if err != nil {
				return err
			}
			return srv.PushVolumes(ctx, uuid, &api.VolumeList{Volumes: vols})
		}},
		{collectors.NameLicenses, func(ctx context.Context) error {
			if c.Licenses == nil {
				return nil
			}
			lic, err := c.Licenses(ctx)
			if err != nil {
				return err
			}
			return srv.PushLicenses(ctx, uuid, &api.LicenseBundle{Licenses: lic})
		}},
		{collectors.NameBattery, func(ctx context.Context) error {
			if c.Battery == nil {
				return nil
			}
			bat, err := c.Battery(ctx)
			if err != nil {
				return err
			}
			return srv.PushBattery(ctx, uuid, &api.BatteryStatus{Batteries: bat})
		}},
	}
	for _, j := range jobs {
		if !s.enabled.Enabled(j.name) {
			continue
		}
		s.push(ctx, uuid, j.name, j.fn)
	}

	s.pruneQueue(ctx)
}

// push runs one collect-and-send job and records its health. Failures are
// logged and left for the next cycle.
func (s *Scheduler) push(ctx context.Context, uuid, name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()

	start := time.Now()
	check := "collector:" + name
	if err := fn(ctx); err != nil {
		log.Warn("push failed", "collector", name, logging.KeyEndpointID, uuid, "error", err)
		s.health.Update(check, health.Degraded, err.Error())
		return
	}
	log.Debug("push complete", "collector", name, logging.KeyDurationMs, time.Since(start).Milliseconds())
	s.health.Update(check, health.Healthy, "")
}

func (s *Scheduler) pruneQueue(ctx context.Context) {
	q, ok := s.taskQueue()
	if !ok {
		return
	}
	n, err := q.Prune(ctx, s.now().Add(-pruneAge))
	if err != nil {
		log.Warn("pruning local task queue failed", "error", err)
		return
	}
	if n > 0 {
		log.Info("pruned finished tasks", "count", n)
	}
}
