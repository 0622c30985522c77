// Package scheduler drives the agent: it registers the endpoint, pushes
// collector snapshots and fetches and runs server tasks, each on its own
// cadence.
package scheduler

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fleetsync/inventory/internal/audit"
	"github.com/fleetsync/inventory/internal/collectors"
	"github.com/fleetsync/inventory/internal/config"
	"github.com/fleetsync/inventory/internal/health"
	"github.com/fleetsync/inventory/internal/localstore"
	"github.com/fleetsync/inventory/internal/logging"
	"github.com/fleetsync/inventory/internal/taskrunner"
	"github.com/fleetsync/inventory/internal/workerpool"
	"github.com/fleetsync/inventory/pkg/api"
)

var log = logging.L("scheduler")

// Health check names.
const (
	CheckServer = "server"
	CheckQueue  = "task_queue"
)

const (
	tickInterval  = time.Second
	pushTimeout   = 2 * time.Minute
	reportTimeout = 30 * time.Second
	// Finished tasks are kept locally for a month for `tasks` listings.
	pruneAge = 30 * 24 * time.Hour
)

// Server is the subset of the server API the agent uses.
type Server interface {
	Register(ctx context.Context, name string, uuid *string) (*api.Register, error)
	PushOSInfo(ctx context.Context, uuid string, info *api.OSInfo) error
	PushHardware(ctx context.Context, uuid string, info *api.HardwareInfo) error
	PushProfiles(ctx context.Context, uuid string, profiles *api.UserProfiles) error
	PushSoftware(ctx context.Context, uuid string, lib *api.SoftwareLibrary) error
	PushLicenses(ctx context.Context, uuid string, bundle *api.LicenseBundle) error
	PushVolumes(ctx context.Context, uuid string, volumes *api.VolumeList) error
	PushBattery(ctx context.Context, uuid string, status *api.BatteryStatus) error
	FetchTasks(ctx context.Context, uuid string) ([]api.Task, error)
	ReportTask(ctx context.Context, uuid string, update api.TaskUpdate) error
}

// Collect holds one function per collector so callers can substitute them.
type Collect struct {
	OS       func(context.Context) (api.OSInfo, error)
	Hardware func(context.Context) (api.HardwareInfo, error)
	Profiles func(context.Context) ([]api.ProfileInfo, error)
	Software func(context.Context) ([]api.SoftwareEntry, error)
	Volumes  func(context.Context) ([]api.Volume, error)
	Licenses func(context.Context) ([]api.License, error)
	Battery  func(context.Context) ([]api.Battery, error)
}

// DefaultCollect wires the platform collectors.
func DefaultCollect() Collect {
	return Collect{
		OS:       collectors.CollectOS,
		Hardware: collectors.CollectHardware,
		Profiles: collectors.CollectProfiles,
		Software: collectors.CollectSoftware,
		Volumes:  collectors.CollectVolumes,
		Licenses: collectors.CollectLicenses,
		Battery:  collectors.CollectBattery,
	}
}

// Options carries the scheduler's collaborators. Health, Audit and SaveUUID
// may be nil. Queue may be nil when OpenQueue is set: the queue is then
// opened on first use and reopened on later cycles until it succeeds.
type Options struct {
	Server    Server
	Queue     *localstore.Queue
	OpenQueue func() (*localstore.Queue, error)
	Runner    *taskrunner.Runner
	Collect   Collect
	Health    *health.Monitor
	Audit     *audit.Logger
	SaveUUID  func(uuid string) error

	DisableJitter bool
}

type cadence struct {
	name     string
	interval time.Duration
	offset   time.Duration
	next     time.Time
	running  atomic.Bool
	run      func(ctx context.Context)
}

// Scheduler runs the agent's cadences from a single tick loop.
type Scheduler struct {
	cfg     *config.Config
	opts    Options
	enabled *collectors.Set
	pool    *workerpool.Pool
	health  *health.Monitor

	mu   sync.RWMutex
	uuid string

	queueMu sync.Mutex
	queue   *localstore.Queue

	// recovered is set once tasks left Running by a previous process have
	// been failed. Task execution waits for it.
	recovered atomic.Bool

	cadences []*cadence
	started  bool

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// New builds a scheduler from the agent config. Intervals come from the
// config; the run, fetch and slow cadences are offset by a sixth, a third
// and two thirds of the fast interval so they do not fire together.
func New(cfg *config.Config, opts Options) *Scheduler {
	if opts.Health == nil {
		opts.Health = health.NewMonitor()
	}
	s := &Scheduler{
		cfg:      cfg,
		opts:     opts,
		enabled:  collectors.NewSet(cfg.EnabledCollectors),
		pool:     workerpool.New(),
		health:   opts.Health,
		queue:    opts.Queue,
		uuid:     cfg.EndpointUUID,
		stopChan: make(chan struct{}),
		now:      time.Now,
	}

	fast := seconds(cfg.FastIntervalSeconds, 60)
	s.cadences = []*cadence{
		{name: "fast", interval: fast, offset: 0, run: s.runFast},
		{name: "task-run", interval: seconds(cfg.TaskRunIntervalSeconds, 60), offset: fast / 6, run: s.runTasks},
		{name: "task-fetch", interval: seconds(cfg.TaskFetchIntervalSeconds, 60), offset: fast / 3, run: s.fetchTasks},
		{name: "slow", interval: seconds(cfg.SlowIntervalSeconds, 300), offset: fast * 2 / 3, run: s.runSlow},
	}
	return s
}

func seconds(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Second
}

// Health exposes the scheduler's health monitor.
func (s *Scheduler) Health() *health.Monitor {
	return s.health
}

// EndpointUUID returns the server-assigned identity, empty before the first
// successful registration.
func (s *Scheduler) EndpointUUID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uuid
}

// Queue returns the local task queue, or nil if it was never opened.
func (s *Scheduler) Queue() *localstore.Queue {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return s.queue
}

// taskQueue returns the local task queue, opening it if needed. While it
// cannot be opened the queue check stays Unhealthy and task work is skipped
// for the cycle.
func (s *Scheduler) taskQueue() (*localstore.Queue, bool) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	if s.queue != nil {
		return s.queue, true
	}
	if s.opts.OpenQueue == nil {
		s.health.Update(CheckQueue, health.Unhealthy, "no local task queue")
		return nil, false
	}
	q, err := s.opts.OpenQueue()
	if err != nil {
		log.Error("cannot open local task queue", "error", err)
		s.health.Update(CheckQueue, health.Unhealthy, err.Error())
		return nil, false
	}
	s.queue = q
	s.health.Update(CheckQueue, health.Healthy, "")
	log.Info("local task queue opened")
	return q, true
}

// Start blocks until Stop is called.
func (s *Scheduler) Start() {
	s.opts.Audit.Log(audit.EventAgentStart, 0, map[string]any{"endpoint": s.EndpointUUID()})

	if !s.opts.DisableJitter {
		window := seconds(s.cfg.FastIntervalSeconds, 60) / 6
		if window > 0 {
			jitter := time.Duration(rand.Int64N(int64(window)))
			log.Info("initial scheduler jitter", "delay", jitter)
			select {
			case <-time.After(jitter):
			case <-s.stopChan:
				return
			}
		}
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	s.tick(s.now())
	for {
		select {
		case <-ticker.C:
			s.tick(s.now())
		case <-s.stopChan:
			return
		}
	}
}

// tick launches every cadence that is due. A cadence whose previous run has
// not finished is skipped for this slot.
func (s *Scheduler) tick(now time.Time) {
	if !s.started {
		for _, c := range s.cadences {
			c.next = now.Add(c.offset)
		}
		s.started = true
	}
	for _, c := range s.cadences {
		if now.Before(c.next) {
			continue
		}
		c.next = c.next.Add(c.interval)
		if !c.next.After(now) {
			c.next = now.Add(c.interval)
		}
		if !c.running.CompareAndSwap(false, true) {
			log.Debug("cadence still running, skipping", "cadence", c.name)
			continue
		}
		s.wg.Add(1)
		go func(c *cadence) {
			defer s.wg.Done()
			defer c.running.Store(false)
			c.run(context.Background())
		}(c)
	}
}

// Stop ends the tick loop. Jobs already running are left to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.pool.StopAccepting()
		close(s.stopChan)
	})
}

// DrainAndWait waits for in-flight jobs and tasks up to the context
// deadline, then records the stop in the audit log.
func (s *Scheduler) DrainAndWait(ctx context.Context) {
	log.Info("draining in-flight jobs and tasks")

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn("job drain timed out")
	}
	s.pool.Drain(ctx)

	s.opts.Audit.Log(audit.EventAgentStop, 0, nil)
}
