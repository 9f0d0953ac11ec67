package cluster

import (
	"context"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"

	"github.com/dc-tec/kafka-cluster-operator/internal/constants"
)

// Desired-state ConfigMap keys of the Kafka Connect cluster types.
const (
	KeyConnectReplicas                       = "nodes"
	KeyConnectImage                          = "image"
	KeyConnectHealthCheckDelay               = "healthcheck-delay"
	KeyConnectHealthCheckTimeout             = "healthcheck-timeout"
	KeyConnectBootstrapServers               = "KAFKA_CONNECT_BOOTSTRAP_SERVERS"
	KeyConnectGroupID                        = "KAFKA_CONNECT_GROUP_ID"
	KeyConnectKeyConverter                   = "KAFKA_CONNECT_KEY_CONVERTER"
	KeyConnectKeyConverterSchemasEnable      = "KAFKA_CONNECT_KEY_CONVERTER_SCHEMAS_ENABLE"
	KeyConnectValueConverter                 = "KAFKA_CONNECT_VALUE_CONVERTER"
	KeyConnectValueConverterSchemasEnable    = "KAFKA_CONNECT_VALUE_CONVERTER_SCHEMAS_ENABLE"
	KeyConnectConfigStorageReplicationFactor = "KAFKA_CONNECT_CONFIG_STORAGE_REPLICATION_FACTOR"
	KeyConnectOffsetStorageReplicationFactor = "KAFKA_CONNECT_OFFSET_STORAGE_REPLICATION_FACTOR"
	KeyConnectStatusStorageReplicationFactor = "KAFKA_CONNECT_STATUS_STORAGE_REPLICATION_FACTOR"
)

// Defaults of the Kafka Connect cluster types.
const (
	DefaultConnectReplicas           = 1
	DefaultConnectImage              = "strimzi/kafka-connect:latest"
	DefaultConnectHealthCheckDelay   = 60
	DefaultConnectHealthCheckTimeout = 5
	DefaultConnectBootstrapServers   = "kafka:9092"
	DefaultConnectGroupID            = "connect-cluster"
	DefaultConnectConverter          = "org.apache.kafka.connect.json.JsonConverter"

	connectHealthCheckPath = "/"
)

var connectSettings = []setting{
	stringSetting(KeyConnectBootstrapServers, DefaultConnectBootstrapServers),
	stringSetting(KeyConnectGroupID, DefaultConnectGroupID),
	stringSetting(KeyConnectKeyConverter, DefaultConnectConverter),
	boolSetting(KeyConnectKeyConverterSchemasEnable, true),
	stringSetting(KeyConnectValueConverter, DefaultConnectConverter),
	boolSetting(KeyConnectValueConverterSchemasEnable, true),
	intSetting(KeyConnectConfigStorageReplicationFactor, 3),
	intSetting(KeyConnectOffsetStorageReplicationFactor, 3),
	intSetting(KeyConnectStatusStorageReplicationFactor, 3),
}

// ConnectCluster is the desired state of a Kafka Connect cluster, run as a Deployment.
type ConnectCluster struct {
	Namespace   string
	ClusterName string
	Name        string
	// Labels are the cluster labels, without the resource name label.
	Labels                  map[string]string
	Replicas                int32
	Image                   string
	HealthCheckInitialDelay int32
	HealthCheckTimeout      int32
	// Env holds the values of the Connect worker settings.
	Env []corev1.EnvVar
}

// ConnectName returns the name of the Connect workload of a cluster.
func ConnectName(cluster string) string {
	return cluster + constants.SuffixConnect
}

// ConnectFromConfigMap parses the desired state of a kafka-connect cluster.
func ConnectFromConfigMap(cm *corev1.ConfigMap) (*ConnectCluster, error) {
	return connectFromConfigMap(cm, constants.ClusterTypeKafkaConnect, DefaultConnectImage)
}

func connectFromConfigMap(cm *corev1.ConfigMap, clusterType, defaultImage string) (*ConnectCluster, error) {
	if cm == nil {
		return nil, fmt.Errorf("desired-state ConfigMap is required")
	}
	data := cm.Data

	replicas, err := intValue(data, KeyConnectReplicas, DefaultConnectReplicas)
	if err != nil {
		return nil, err
	}
	delay, err := intValue(data, KeyConnectHealthCheckDelay, DefaultConnectHealthCheckDelay)
	if err != nil {
		return nil, err
	}
	timeout, err := intValue(data, KeyConnectHealthCheckTimeout, DefaultConnectHealthCheckTimeout)
	if err != nil {
		return nil, err
	}
	env, err := resolveSettings(connectSettings, data)
	if err != nil {
		return nil, err
	}

	return &ConnectCluster{
		Namespace:               cm.Namespace,
		ClusterName:             cm.Name,
		Name:                    ConnectName(cm.Name),
		Labels:                  ClusterLabels(cm.Labels, cm.Name, clusterType),
		Replicas:                replicas,
		Image:                   stringValue(data, KeyConnectImage, defaultImage),
		HealthCheckInitialDelay: delay,
		HealthCheckTimeout:      timeout,
		Env:                     env,
	}, nil
}

func (c *ConnectCluster) labelsWithName() map[string]string {
	return WithName(c.Labels, c.Name)
}

// Container builds the Connect worker container.
func (c *ConnectCluster) Container(image string) corev1.Container {
	return corev1.Container{
		Name:           c.Name,
		Image:          image,
		Env:            append([]corev1.EnvVar{}, c.Env...),
		Ports:          []corev1.ContainerPort{containerPort(constants.PortNameRESTAPI, constants.PortRESTAPI)},
		LivenessProbe:  httpProbe(connectHealthCheckPath, constants.PortNameRESTAPI, c.HealthCheckInitialDelay, c.HealthCheckTimeout),
		ReadinessProbe: httpProbe(connectHealthCheckPath, constants.PortNameRESTAPI, c.HealthCheckInitialDelay, c.HealthCheckTimeout),
	}
}

// Deployment builds the Connect Deployment.
func (c *ConnectCluster) Deployment() *appsv1.Deployment {
	labels := c.labelsWithName()
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      c.Name,
			Namespace: c.Namespace,
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(c.Replicas),
			Selector: &metav1.LabelSelector{MatchLabels: SelectorLabels(c.ClusterName, c.Name)},
			Strategy: appsv1.DeploymentStrategy{
				Type: appsv1.RollingUpdateDeploymentStrategyType,
				RollingUpdate: &appsv1.RollingUpdateDeployment{
					MaxSurge:       ptr.To(intstr.FromInt32(1)),
					MaxUnavailable: ptr.To(intstr.FromInt32(0)),
				},
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{c.Container(c.Image)},
				},
			},
		},
	}
}

// Service builds the Service exposing the Connect REST API.
func (c *ConnectCluster) Service() *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      c.Name,
			Namespace: c.Namespace,
			Labels:    c.labelsWithName(),
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: SelectorLabels(c.ClusterName, c.Name),
			Ports:    []corev1.ServicePort{servicePort(constants.PortNameRESTAPI, constants.PortRESTAPI)},
		},
	}
}

// Diff compares the cluster with its live Deployment.
func (c *ConnectCluster) Diff(ctx context.Context, deployment *appsv1.Deployment) (DiffResult, error) {
	b := newDiffBuilder(ctx, c.Name)
	b.replicas(c.Replicas, ptr.Deref(deployment.Spec.Replicas, 1))
	b.labels(c.labelsWithName(), deployment.Labels)

	container, err := firstContainer(c.Name, deployment.Spec.Template.Spec)
	if err != nil {
		return DiffResult{}, err
	}
	if err := c.diffContainer(b, container); err != nil {
		return DiffResult{}, err
	}
	b.image(c.Image, container.Image)
	return b.result(), nil
}

func (c *ConnectCluster) diffContainer(b *diffBuilder, container corev1.Container) error {
	b.settings(connectSettings, c.Env, container)
	return b.healthCheck(c.HealthCheckInitialDelay, c.HealthCheckTimeout, container)
}
