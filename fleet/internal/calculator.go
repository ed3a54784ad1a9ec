package internal

// NodesToCreate returns how many nodes to provision so that activeNodes reaches minNodes,
// without the fleet growing past maxNodes.
func NodesToCreate(minNodes, maxNodes, activeNodes, totalNodes int) int {
	missing := minNodes - activeNodes
	room := maxNodes - totalNodes
	return max(0, min(missing, room))
}

// ShouldRetain tells whether removing one of activeNodes would take the fleet below minNodes.
// The node under evaluation is counted in activeNodes.
func ShouldRetain(minNodes, activeNodes int) bool {
	return minNodes > 0 && activeNodes <= minNodes
}
