package relay

import "github.com/hashicorp/go-metrics"

var (
	MetricBrokerClientAcceptCount = []string{"chatmesh", "relay", "client", "accept", "count"}
	MetricBrokerClientCloseCount  = []string{"chatmesh", "relay", "client", "close", "count"}
	MetricBrokerClientsLive       = []string{"chatmesh", "relay", "client", "live"}
	MetricBrokerFrameInBytes      = []string{"chatmesh", "relay", "frame", "in", "bytes"}
	MetricBrokerFrameInErrorCount = []string{"chatmesh", "relay", "frame", "in", "error", "count"}
	MetricBrokerDatagramOutBytes  = []string{"chatmesh", "relay", "datagram", "out", "bytes"}
	MetricBrokerDatagramOutErrors = []string{"chatmesh", "relay", "datagram", "out", "error", "count"}
	MetricBrokerDatagramInBytes   = []string{"chatmesh", "relay", "datagram", "in", "bytes"}
	MetricBrokerDatagramDropCount = []string{"chatmesh", "relay", "datagram", "drop", "count"}
	MetricClientConnectCount      = []string{"chatmesh", "relay", "connect", "count"}
	MetricClientConnectErrorCount = []string{"chatmesh", "relay", "connect", "error", "count"}
	MetricClientSpawnCount        = []string{"chatmesh", "relay", "spawn", "count"}
)

const (
	MLabelGroup  = "group"
	MLabelError  = "error"
	MLabelReason = "reason"
)

func groupLabels(base []metrics.Label, addr string) []metrics.Label {
	labels := make([]metrics.Label, 0, len(base)+1)
	labels = append(labels, base...)
	return append(labels, metrics.Label{Name: MLabelGroup, Value: addr})
}

func withLabel(base []metrics.Label, name, value string) []metrics.Label {
	labels := make([]metrics.Label, 0, len(base)+1)
	labels = append(labels, base...)
	return append(labels, metrics.Label{Name: name, Value: value})
}
