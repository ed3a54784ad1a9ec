package fleet

type Event interface{}

type EventNodeCreated struct {
	Node   string
	Status NodeStatus
}

type EventNodeStatusUpdated struct {
	Node   string
	Status NodeStatus
}

type EventNodePendingDelete struct {
	Node string
}

type EventNodeOffline struct {
	Node    string
	Offline bool
}

type EventNodeTerminated struct {
	Node string
}

type EventTaskStarted struct {
	Node  string
	Tasks int
}

type EventTaskCompleted struct {
	Node  string
	Tasks int
}
