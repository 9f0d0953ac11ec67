package constants

// Label keys used to tie live resources to the cluster identity that owns them.
// LabelCluster and LabelType are the only mechanism used to discover every
// resource belonging to one cluster.
const (
	LabelCluster = "strimzi.io/cluster"
	LabelType    = "strimzi.io/type"
	LabelKind    = "strimzi.io/kind"
	LabelName    = "strimzi.io/name"

	LabelAppManagedBy = "app.kubernetes.io/managed-by"
)

// Label values used by the controller.
const (
	LabelValueKindCluster = "cluster"

	LabelValueAppManagedByController = "kafka-cluster-operator"
)

// Annotation keys stored on workloads so that teardown does not depend on the
// desired ConfigMap, which is already gone when a cluster is deleted.
const (
	AnnotationDeleteClaim = "strimzi.io/delete-claim"
	AnnotationStorage     = "strimzi.io/storage"
)

// Cluster types understood by the controller.
const (
	ClusterTypeKafka           = "kafka"
	ClusterTypeKafkaConnect    = "kafka-connect"
	ClusterTypeKafkaConnectS2I = "kafka-connect-s2i"
)
