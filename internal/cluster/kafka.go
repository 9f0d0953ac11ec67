package cluster

import (
	"fmt"
	"strconv"

	corev1 "k8s.io/api/core/v1"

	"github.com/dc-tec/kafka-cluster-operator/internal/constants"
	operatorerrors "github.com/dc-tec/kafka-cluster-operator/internal/errors"
)

// Desired-state ConfigMap keys of the kafka cluster type.
const (
	KeyKafkaReplicas                  = "kafka-nodes"
	KeyKafkaImage                     = "kafka-image"
	KeyKafkaHealthCheckDelay          = "kafka-healthcheck-delay"
	KeyKafkaHealthCheckTimeout        = "kafka-healthcheck-timeout"
	KeyKafkaStorage                   = "kafka-storage"
	KeyKafkaMetricsConfig             = "kafka-metrics-config"
	KeyZookeeperReplicas              = "zookeeper-nodes"
	KeyZookeeperImage                 = "zookeeper-image"
	KeyZookeeperHealthCheckDelay      = "zookeeper-healthcheck-delay"
	KeyZookeeperHealthCheckTimeout    = "zookeeper-healthcheck-timeout"
	KeyZookeeperStorage               = "zookeeper-storage"
	KeyZookeeperMetricsConfig         = "zookeeper-metrics-config"
	KeyDefaultReplicationFactor       = "KAFKA_DEFAULT_REPLICATION_FACTOR"
	KeyOffsetsTopicReplicationFactor  = "KAFKA_OFFSETS_TOPIC_REPLICATION_FACTOR"
	KeyTransactionStateLogReplication = "KAFKA_TRANSACTION_STATE_LOG_REPLICATION_FACTOR"
)

// Defaults of the kafka cluster type.
const (
	DefaultKafkaReplicas               = 3
	DefaultKafkaImage                  = "strimzi/kafka:latest"
	DefaultKafkaHealthCheckDelay       = 15
	DefaultKafkaHealthCheckTimeout     = 5
	DefaultZookeeperReplicas           = 1
	DefaultZookeeperImage              = "strimzi/zookeeper:latest"
	DefaultZookeeperHealthCheckDelay   = 15
	DefaultZookeeperHealthCheckTimeout = 5
)

const (
	envKafkaZookeeperConnect   = "KAFKA_ZOOKEEPER_CONNECT"
	envKafkaMetricsEnabled     = "KAFKA_METRICS_ENABLED"
	envZookeeperNodeCount      = "ZOOKEEPER_NODE_COUNT"
	envZookeeperMetricsEnabled = "ZOOKEEPER_METRICS_ENABLED"
)

var kafkaSettings = []setting{
	intSetting(KeyDefaultReplicationFactor, 3),
	intSetting(KeyOffsetsTopicReplicationFactor, 3),
	intSetting(KeyTransactionStateLogReplication, 3),
}

var kafkaSpec = componentSpec{
	description:    "Kafka",
	containerName:  constants.ContainerNameKafka,
	dataPath:       constants.PathData,
	healthCheck:    []string{"/opt/kafka/kafka_healthcheck.sh"},
	metricsEnvName: envKafkaMetricsEnabled,
	ports: []corev1.ContainerPort{
		containerPort(constants.PortNameClients, constants.PortClients),
		containerPort(constants.PortNameReplication, constants.PortReplication),
	},
	servicePorts: []corev1.ServicePort{
		servicePort(constants.PortNameClients, constants.PortClients),
	},
	headlessPorts: []corev1.ServicePort{
		servicePort(constants.PortNameClients, constants.PortClients),
		servicePort(constants.PortNameReplication, constants.PortReplication),
	},
	settings: kafkaSettings,
}

var zookeeperSpec = componentSpec{
	description:    "ZooKeeper",
	containerName:  constants.ContainerNameZookeeper,
	dataPath:       constants.PathZookeeperData,
	healthCheck:    []string{"/opt/zookeeper/zookeeper_healthcheck.sh"},
	metricsEnvName: envZookeeperMetricsEnabled,
	ports: []corev1.ContainerPort{
		containerPort(constants.PortNameClients, constants.PortZookeeperClients),
		containerPort(constants.PortNameClustering, constants.PortClustering),
		containerPort(constants.PortNameLeader, constants.PortLeader),
	},
	servicePorts: []corev1.ServicePort{
		servicePort(constants.PortNameClients, constants.PortZookeeperClients),
	},
	headlessPorts: []corev1.ServicePort{
		servicePort(constants.PortNameClients, constants.PortZookeeperClients),
		servicePort(constants.PortNameClustering, constants.PortClustering),
		servicePort(constants.PortNameLeader, constants.PortLeader),
	},
}

// KafkaCluster is the desired state of a kafka cluster: a ZooKeeper ensemble and the
// Kafka brokers that use it.
type KafkaCluster struct {
	Namespace string
	Name      string
	Zookeeper *StatefulComponent
	Kafka     *StatefulComponent
}

// KafkaName returns the name of the Kafka StatefulSet of a cluster.
func KafkaName(cluster string) string {
	return cluster + constants.SuffixKafka
}

// ZookeeperName returns the name of the ZooKeeper StatefulSet of a cluster.
func ZookeeperName(cluster string) string {
	return cluster + constants.SuffixZookeeper
}

// KafkaFromConfigMap parses the desired state of a kafka cluster.
func KafkaFromConfigMap(cm *corev1.ConfigMap) (*KafkaCluster, error) {
	if cm == nil {
		return nil, fmt.Errorf("desired-state ConfigMap is required")
	}
	labels := ClusterLabels(cm.Labels, cm.Name, constants.ClusterTypeKafka)

	zookeeper, err := statefulFromData(cm, labels, zookeeperSpec, statefulKeys{
		replicas:      KeyZookeeperReplicas,
		image:         KeyZookeeperImage,
		delay:         KeyZookeeperHealthCheckDelay,
		timeout:       KeyZookeeperHealthCheckTimeout,
		storage:       KeyZookeeperStorage,
		metrics:       KeyZookeeperMetricsConfig,
		defReplicas:   DefaultZookeeperReplicas,
		defImage:      DefaultZookeeperImage,
		defDelay:      DefaultZookeeperHealthCheckDelay,
		defTimeout:    DefaultZookeeperHealthCheckTimeout,
		componentName: ZookeeperName(cm.Name),
	})
	if err != nil {
		return nil, err
	}
	zookeeper.DerivedEnv = []corev1.EnvVar{
		{Name: envZookeeperNodeCount, Value: strconv.Itoa(int(zookeeper.Replicas))},
	}

	kafka, err := statefulFromData(cm, labels, kafkaSpec, statefulKeys{
		replicas:      KeyKafkaReplicas,
		image:         KeyKafkaImage,
		delay:         KeyKafkaHealthCheckDelay,
		timeout:       KeyKafkaHealthCheckTimeout,
		storage:       KeyKafkaStorage,
		metrics:       KeyKafkaMetricsConfig,
		defReplicas:   DefaultKafkaReplicas,
		defImage:      DefaultKafkaImage,
		defDelay:      DefaultKafkaHealthCheckDelay,
		defTimeout:    DefaultKafkaHealthCheckTimeout,
		componentName: KafkaName(cm.Name),
	})
	if err != nil {
		return nil, err
	}
	kafka.FixedEnv = []corev1.EnvVar{
		{Name: envKafkaZookeeperConnect, Value: fmt.Sprintf("%s:%d", ZookeeperName(cm.Name), constants.PortZookeeperClients)},
	}

	return &KafkaCluster{
		Namespace: cm.Namespace,
		Name:      cm.Name,
		Zookeeper: zookeeper,
		Kafka:     kafka,
	}, nil
}

// Components returns the cluster components in creation order.
func (k *KafkaCluster) Components() []*StatefulComponent {
	return []*StatefulComponent{k.Zookeeper, k.Kafka}
}

// Component returns the component owning the named StatefulSet, or nil.
func (k *KafkaCluster) Component(statefulSetName string) *StatefulComponent {
	for _, c := range k.Components() {
		if c.Name == statefulSetName {
			return c
		}
	}
	return nil
}

type statefulKeys struct {
	replicas, image, delay, timeout, storage, metrics string
	defReplicas, defDelay, defTimeout                 int32
	defImage                                          string
	componentName                                     string
}

func statefulFromData(cm *corev1.ConfigMap, labels map[string]string, spec componentSpec, keys statefulKeys) (*StatefulComponent, error) {
	data := cm.Data

	replicas, err := intValue(data, keys.replicas, keys.defReplicas)
	if err != nil {
		return nil, err
	}
	delay, err := intValue(data, keys.delay, keys.defDelay)
	if err != nil {
		return nil, err
	}
	timeout, err := intValue(data, keys.timeout, keys.defTimeout)
	if err != nil {
		return nil, err
	}
	storage, err := ParseStorage(data[keys.storage])
	if err != nil {
		return nil, err
	}
	metrics, err := ParseMetricsConfig(data[keys.metrics])
	if err != nil {
		return nil, operatorerrors.WrapPermanentConfig(err)
	}
	env, err := resolveSettings(spec.settings, data)
	if err != nil {
		return nil, err
	}

	return &StatefulComponent{
		Namespace:               cm.Namespace,
		ClusterName:             cm.Name,
		Name:                    keys.componentName,
		Labels:                  labels,
		Replicas:                replicas,
		Image:                   stringValue(data, keys.image, keys.defImage),
		HealthCheckInitialDelay: delay,
		HealthCheckTimeout:      timeout,
		Env:                     env,
		Metrics:                 metrics,
		Storage:                 storage,
		spec:                    spec,
	}, nil
}
