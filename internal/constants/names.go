package constants

// Resource name suffixes used when materializing a cluster.
const (
	SuffixKafka           = "-kafka"
	SuffixZookeeper       = "-zookeeper"
	SuffixConnect         = "-connect"
	SuffixHeadless        = "-headless"
	SuffixMetricsConfig   = "-metrics-config"
	SuffixSourceStream    = "-source"
	DefaultImageStreamTag = "latest"
)

// Container and port names shared between builders and diff extraction.
const (
	ContainerNameKafka     = "kafka"
	ContainerNameZookeeper = "zookeeper"

	PortNameClients     = "clients"
	PortNameReplication = "replication"
	PortNameClustering  = "clustering"
	PortNameLeader      = "leader-election"
	PortNameRESTAPI     = "rest-api"
	PortNameMetrics     = "metrics"

	PortClients          = 9092
	PortReplication      = 9091
	PortZookeeperClients = 2181
	PortClustering       = 2888
	PortLeader           = 3888
	PortRESTAPI          = 8083
	PortMetrics          = 9404

	VolumeData    = "data"
	VolumeMetrics = "metrics-config"

	PathData          = "/var/lib/kafka"
	PathZookeeperData = "/var/lib/zookeeper"
	PathMetrics       = "/opt/prometheus/config"

	MetricsConfigFile = "config.yml"
)

// Controller names.
const (
	ControllerNameCluster = "kafka-cluster"
)

// LeaderElectionID names the Lease used for controller leader election.
const LeaderElectionID = "kafka-cluster-operator-leader.strimzi.io"

// Lock backends selectable on the command line.
const (
	LockBackendMemory = "memory"
	LockBackendLease  = "lease"
)
