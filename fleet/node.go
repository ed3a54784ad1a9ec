package fleet

import (
	"log/slog"
	"maps"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammadia/nimbus/retention"
)

type NodeStatus string

const (
	NodeStatusProvisioning NodeStatus = "provisioning"
	NodeStatusOnline       NodeStatus = "online"
	NodeStatusTerminating  NodeStatus = "terminating"
	NodeStatusFailed       NodeStatus = "failed"
)

// NodeInfo is a point in time view of a fleet node.
type NodeInfo struct {
	Name          string            `json:"name"`
	Status        NodeStatus        `json:"status"`
	PendingDelete bool              `json:"pending-delete"`
	OfflineByUser bool              `json:"offline-by-user"`
	Tasks         int               `json:"tasks"`
	TasksServed   int               `json:"tasks-served"`
	CreatedAt     time.Time         `json:"created-at"`
	IdleSince     time.Time         `json:"idle-since"`
	Retention     time.Duration     `json:"retention"`
	Details       map[string]string `json:"details,omitempty"`
}

type nodeState struct {
	fleet     *Fleet
	nodeName  string
	retention time.Duration
	createdAt time.Time
	log       *slog.Logger

	pendingDelete atomic.Bool

	mutex sync.Mutex
	// Guarded by mutex
	node          Node
	status        NodeStatus
	tasks         int
	served        int
	idleSince     time.Time
	offlineByUser bool
}

// nodeState implements retention.Node
var _ retention.Node = (*nodeState)(nil)

func (ns *nodeState) Name() string {
	return ns.nodeName
}

func (ns *nodeState) IsPendingDelete() bool {
	return ns.pendingDelete.Load()
}

// MarkPendingDelete stops the node from accepting tasks; the fleet tears it down once idle.
func (ns *nodeState) MarkPendingDelete() {
	if !ns.pendingDelete.CompareAndSwap(false, true) {
		return
	}
	ns.log.Info("Node is pending delete")
	ns.fleet.broadcast(EventNodePendingDelete{Node: ns.nodeName})
	ns.fleet.requestTick()
}

func (ns *nodeState) IsConnecting() bool {
	return ns.Status() == NodeStatusProvisioning
}

func (ns *nodeState) IsIdle() bool {
	ns.mutex.Lock()
	defer ns.mutex.Unlock()
	return ns.tasks == 0
}

func (ns *nodeState) IdleSince() time.Time {
	ns.mutex.Lock()
	defer ns.mutex.Unlock()
	return ns.idleSince
}

func (ns *nodeState) Retention() time.Duration {
	return ns.retention
}

func (ns *nodeState) IsOfflineByUser() bool {
	ns.mutex.Lock()
	defer ns.mutex.Unlock()
	return ns.offlineByUser
}

// Describe implements Describer for the audit trail.
func (ns *nodeState) Describe() map[string]string {
	info := ns.info()
	details := map[string]string{
		"status":       string(info.Status),
		"created-at":   info.CreatedAt.UTC().Format(time.RFC3339),
		"idle-since":   info.IdleSince.UTC().Format(time.RFC3339),
		"retention":    info.Retention.String(),
		"tasks-served": strconv.Itoa(info.TasksServed),
	}
	maps.Copy(details, info.Details)
	return details
}

func (ns *nodeState) Status() NodeStatus {
	ns.mutex.Lock()
	defer ns.mutex.Unlock()
	return ns.status
}

func (ns *nodeState) setStatus(status NodeStatus) {
	ns.mutex.Lock()
	ns.status = status
	ns.mutex.Unlock()

	ns.fleet.broadcast(EventNodeStatusUpdated{Node: ns.nodeName, Status: status})
}

// transition moves the node from one status to another, unless another goroutine changed it first.
func (ns *nodeState) transition(from, to NodeStatus) bool {
	ns.mutex.Lock()
	if ns.status != from {
		ns.mutex.Unlock()
		return false
	}
	ns.status = to
	ns.mutex.Unlock()

	ns.fleet.broadcast(EventNodeStatusUpdated{Node: ns.nodeName, Status: to})
	return true
}

func (ns *nodeState) attach(node Node, now time.Time) {
	ns.mutex.Lock()
	ns.node = node
	ns.idleSince = now
	ns.mutex.Unlock()

	ns.setStatus(NodeStatusOnline)
}

func (ns *nodeState) hasServed() bool {
	ns.mutex.Lock()
	defer ns.mutex.Unlock()
	return ns.served > 0
}

func (ns *nodeState) info() NodeInfo {
	ns.mutex.Lock()
	info := NodeInfo{
		Name:          ns.nodeName,
		Status:        ns.status,
		PendingDelete: ns.pendingDelete.Load(),
		OfflineByUser: ns.offlineByUser,
		Tasks:         ns.tasks,
		TasksServed:   ns.served,
		CreatedAt:     ns.createdAt,
		IdleSince:     ns.idleSince,
		Retention:     ns.retention,
	}
	node := ns.node
	ns.mutex.Unlock()

	if describer, ok := node.(Describer); ok {
		info.Details = describer.Describe()
	}
	return info
}
