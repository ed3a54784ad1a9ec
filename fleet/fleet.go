package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/gammadia/nimbus/fleet/internal"
	"github.com/gammadia/nimbus/metrics"
	"github.com/gammadia/nimbus/namegen"
	"github.com/gammadia/nimbus/retention"
	"github.com/samber/lo"
)

var (
	ErrUnknownNode     = errors.New("unknown node")
	ErrNodeUnavailable = errors.New("node is not accepting tasks")
	ErrFleetFull       = errors.New("fleet is at its maximum size")
	ErrShuttingDown    = errors.New("fleet is shutting down")
	ErrNoTaskRunning   = errors.New("no task running")
)

// Fleet keeps track of the nodes leased from a provisioner.
// It keeps at least MinNodes of them around, never more than MaxNodes, and tears down
// the nodes the retention engine marks pending delete once they are idle.
type Fleet struct {
	provisioner Provisioner
	config      Config
	log         *slog.Logger
	retention   *retention.Engine
	clock       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mutex sync.Mutex
	// Guarded by mutex
	nodes []*nodeState

	tickRequests chan any
	deferred     chan func()
	stop         chan any
	stopOnce     sync.Once
	wg           sync.WaitGroup

	listenersMutex sync.RWMutex
	listeners      map[chan Event]struct{}
}

// Fleet implements retention.Policy
var _ retention.Policy = (*Fleet)(nil)

func New(provisioner Provisioner, config Config) *Fleet {
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())
	f := &Fleet{
		provisioner: provisioner,
		config:      config,
		log:         config.Logger,
		clock:       time.Now,

		ctx:    ctx,
		cancel: cancel,

		tickRequests: make(chan any, 1),
		deferred:     make(chan func()),
		stop:         make(chan any),

		listeners: make(map[chan Event]struct{}),
	}

	f.retention = retention.New(retention.Config{
		Policy:   f,
		Auditor:  config.Auditor,
		Logger:   config.Logger.With("component", "retention"),
		Clock:    func() time.Time { return f.clock() },
		Disabled: config.RetentionDisabled,
	})

	// Released when Run returns, so that Wait covers the terminations started on stop
	f.wg.Add(1)

	return f
}

func (f *Fleet) Run() {
	defer f.wg.Done()
	f.log.Info("Fleet is running", "min-nodes", f.config.MinNodes, "max-nodes", f.config.MaxNodes, "retention", f.config.Retention)

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.retention.Run(f.ctx, f.config.CheckInterval, f.retentionNodes)
	}()

	var sweep <-chan time.Time
	if f.config.SweepInterval > 0 {
		ticker := time.NewTicker(f.config.SweepInterval)
		defer ticker.Stop()
		sweep = ticker.C
	}

	f.requestTick()
	for {
		select {
		case <-f.tickRequests:
			f.resizePool()

		case <-sweep:
			f.wg.Add(1)
			go f.sweep()

		case fn := <-f.deferred:
			fn()

		case <-f.stop:
			f.log.Info("Fleet is stopping")
			// Nodes coming online from now on see the cancelled context and terminate themselves
			f.cancel()
			f.terminateAll()
			f.provisioner.Shutdown()
			return
		}
	}
}

// Shutdown stops the fleet and terminates its nodes.
func (f *Fleet) Shutdown() {
	f.stopOnce.Do(func() {
		close(f.stop)
	})
}

// Wait blocks until every node has been terminated after Shutdown.
func (f *Fleet) Wait() {
	f.wg.Wait()
	f.provisioner.Wait()
}

// Subscribe returns a channel receiving every fleet event, and a function to stop receiving them.
// Slow subscribers miss events rather than blocking the fleet.
func (f *Fleet) Subscribe() (<-chan Event, func()) {
	c := make(chan Event, 1024)

	f.listenersMutex.Lock()
	f.listeners[c] = struct{}{}
	f.listenersMutex.Unlock()

	return c, func() {
		f.listenersMutex.Lock()
		delete(f.listeners, c)
		f.listenersMutex.Unlock()
	}
}

func (f *Fleet) broadcast(event Event) {
	f.listenersMutex.RLock()
	defer f.listenersMutex.RUnlock()

	for listener := range f.listeners {
		select {
		case listener <- event:
		default:
		}
	}
}

// requestTick requests a tick to be performed as soon as possible
// If a tick is already scheduled, this function does nothing
// This function is safe to call from multiple goroutines
func (f *Fleet) requestTick() {
	select {
	case f.tickRequests <- nil:
	default:
	}
}

// after schedules a function to be executed on the main fleet goroutine after a delay
// The function is dropped if the fleet stops in the meantime
func (f *Fleet) after(d time.Duration, fn func()) {
	time.AfterFunc(d, func() {
		select {
		case f.deferred <- fn:
		case <-f.stop:
		}
	})
}

// Nodes returns a snapshot of the fleet, in provisioning order.
func (f *Fleet) Nodes() []NodeInfo {
	f.mutex.Lock()
	nodes := slices.Clone(f.nodes)
	f.mutex.Unlock()

	return lo.Map(nodes, func(ns *nodeState, _ int) NodeInfo { return ns.info() })
}

// Provision adds a node to the fleet and returns its name right away.
func (f *Fleet) Provision() (string, error) {
	if f.ctx.Err() != nil {
		return "", ErrShuttingDown
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()

	if len(f.nodes) >= f.config.MaxNodes {
		return "", ErrFleetFull
	}
	return f.provisionLocked().nodeName, nil
}

// Terminate marks a node pending delete on behalf of a user.
func (f *Fleet) Terminate(name string) error {
	ns, err := f.lookup(name)
	if err != nil {
		return err
	}
	ns.MarkPendingDelete()
	return nil
}

func (f *Fleet) TaskStarted(name string) error {
	ns, err := f.lookup(name)
	if err != nil {
		return err
	}

	ns.mutex.Lock()
	if ns.status != NodeStatusOnline || ns.pendingDelete.Load() || ns.offlineByUser {
		ns.mutex.Unlock()
		return fmt.Errorf("%w: '%s'", ErrNodeUnavailable, name)
	}
	ns.tasks += 1
	tasks := ns.tasks
	ns.mutex.Unlock()

	f.broadcast(EventTaskStarted{Node: name, Tasks: tasks})
	return nil
}

// TaskCompleted records the end of a task and evicts single use nodes right away.
func (f *Fleet) TaskCompleted(name string) error {
	ns, err := f.lookup(name)
	if err != nil {
		return err
	}

	ns.mutex.Lock()
	if ns.tasks == 0 {
		ns.mutex.Unlock()
		return fmt.Errorf("%w on node '%s'", ErrNoTaskRunning, name)
	}
	ns.tasks -= 1
	ns.served += 1
	if ns.tasks == 0 {
		ns.idleSince = f.clock()
	}
	tasks := ns.tasks
	ns.mutex.Unlock()

	f.broadcast(EventTaskCompleted{Node: name, Tasks: tasks})

	if _, err := f.retention.TaskCompleted(ns); err != nil {
		ns.log.Warn("Retention check failed", "error", err)
	}
	f.requestTick()
	return nil
}

func (f *Fleet) SetOffline(name string, offline bool) error {
	ns, err := f.lookup(name)
	if err != nil {
		return err
	}

	ns.mutex.Lock()
	changed := ns.offlineByUser != offline
	ns.offlineByUser = offline
	ns.mutex.Unlock()

	if changed {
		ns.log.Info("Node offline state changed", "offline", offline)
		f.broadcast(EventNodeOffline{Node: name, Offline: offline})
	}
	return nil
}

// CheckResult reports the outcome of an on-demand retention check.
// Checked is false when the evaluation was skipped, PendingDelete is the node's state afterwards.
type CheckResult struct {
	Checked       bool `json:"checked"`
	PendingDelete bool `json:"pending-delete"`
}

// Check runs a retention check on a node right away.
func (f *Fleet) Check(name string) (CheckResult, error) {
	ns, err := f.lookup(name)
	if err != nil {
		return CheckResult{}, err
	}

	checked, err := f.retention.Check(ns)
	if err != nil {
		return CheckResult{}, err
	}
	return CheckResult{Checked: checked, PendingDelete: ns.IsPendingDelete()}, nil
}

// ShouldRetain implements retention.Policy.
// Nodes that must not be reused are kept until they served a task, other nodes while the fleet is at its minimum.
func (f *Fleet) ShouldRetain(node retention.Node) (bool, error) {
	if node.Retention() == 0 {
		ns, ok := node.(*nodeState)
		return ok && !ns.hasServed(), nil
	}

	f.mutex.Lock()
	active := lo.CountBy(f.nodes, isActive)
	f.mutex.Unlock()

	return internal.ShouldRetain(f.config.MinNodes, active), nil
}

func isActive(ns *nodeState) bool {
	if ns.IsPendingDelete() {
		return false
	}
	status := ns.Status()
	return status == NodeStatusProvisioning || status == NodeStatusOnline
}

func (f *Fleet) lookup(name string) (*nodeState, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	ns, found := lo.Find(f.nodes, func(ns *nodeState) bool { return ns.nodeName == name })
	if !found {
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownNode, name)
	}
	return ns, nil
}

func (f *Fleet) retentionNodes() []retention.Node {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return lo.Map(f.nodes, func(ns *nodeState, _ int) retention.Node { return ns })
}

func (f *Fleet) resizePool() {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.ctx.Err() != nil {
		return
	}

	active := 0
	counts := map[NodeStatus]int{}
	for _, ns := range f.nodes {
		status := ns.Status()
		counts[status] += 1

		switch status {
		case NodeStatusProvisioning:
			if !ns.IsPendingDelete() {
				active += 1
			}

		case NodeStatusOnline:
			if !ns.IsPendingDelete() {
				active += 1
			} else if ns.IsIdle() {
				f.startTermination(ns)
			}
		}
	}

	for _, status := range []NodeStatus{NodeStatusProvisioning, NodeStatusOnline, NodeStatusTerminating, NodeStatusFailed} {
		metrics.FleetNodes.WithLabelValues(string(status)).Set(float64(counts[status]))
	}

	missing := internal.NodesToCreate(f.config.MinNodes, f.config.MaxNodes, active, len(f.nodes))
	for i := 0; i < missing; i++ {
		f.provisionLocked()
	}
}

func (f *Fleet) provisionLocked() *nodeState {
	name := namegen.Node(f.config.NamePrefix)
	ns := &nodeState{
		fleet:     f,
		nodeName:  name,
		retention: f.config.Retention,
		createdAt: f.clock(),
		log:       f.log.With("node", name),
		status:    NodeStatusProvisioning,
	}
	f.nodes = append(f.nodes, ns)

	ns.log.Info("Provisioning a new node")
	f.broadcast(EventNodeCreated{Node: name, Status: NodeStatusProvisioning})

	f.wg.Add(1)
	go f.watchNodeProvisioning(ns)
	return ns
}

func (f *Fleet) watchNodeProvisioning(ns *nodeState) {
	defer f.wg.Done()

	node, err := f.provisioner.Provision(f.ctx, ns.nodeName)
	if err != nil {
		ns.log.Error("Provisioning of node failed", "error", err)
		ns.setStatus(NodeStatusFailed)

		f.after(f.config.ProvisioningFailureCooldown, func() {
			f.remove(ns)
			f.requestTick()
		})
		return
	}

	ns.attach(node, f.clock())
	ns.log.Info("Node is online")

	if f.ctx.Err() != nil {
		// The fleet stopped while the node was booting
		ns.pendingDelete.Store(true)
		f.startTermination(ns)
		return
	}

	f.requestTick()
}

func (f *Fleet) watchNodeTermination(ns *nodeState) {
	defer f.wg.Done()

	ns.mutex.Lock()
	node := ns.node
	ns.mutex.Unlock()

	if err := node.Terminate(); err != nil {
		ns.log.Error("Termination of node failed", "error", err)
	} else {
		ns.log.Info("Node terminated")
	}

	f.remove(ns)
	f.broadcast(EventNodeTerminated{Node: ns.nodeName})
	f.requestTick()
}

func (f *Fleet) remove(ns *nodeState) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.nodes = lo.Without(f.nodes, ns)
}

func (f *Fleet) terminateAll() {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	for _, ns := range f.nodes {
		if ns.Status() != NodeStatusOnline {
			continue
		}
		ns.pendingDelete.Store(true)
		f.startTermination(ns)
	}
}

// startTermination tears an online node down. Only the first caller for a given node does anything.
func (f *Fleet) startTermination(ns *nodeState) bool {
	if !ns.transition(NodeStatusOnline, NodeStatusTerminating) {
		return false
	}
	ns.log.Info("Terminating node")
	f.wg.Add(1)
	go f.watchNodeTermination(ns)
	return true
}

func (f *Fleet) sweep() {
	defer f.wg.Done()

	err := f.provisioner.Sweep(f.ctx, func(nodeName string) bool {
		_, err := f.lookup(nodeName)
		return err == nil
	})
	if err != nil {
		f.log.Warn("Failed to sweep leaked nodes", "error", err)
	}
}
