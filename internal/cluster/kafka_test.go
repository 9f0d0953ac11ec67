package cluster

import (
	"context"
	"errors"
	"maps"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"

	"github.com/dc-tec/kafka-cluster-operator/internal/constants"
	operatorerrors "github.com/dc-tec/kafka-cluster-operator/internal/errors"
)

func desiredConfigMap(name, clusterType string, data map[string]string) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: "ns",
			Labels: map[string]string{
				constants.LabelKind: constants.LabelValueKindCluster,
				constants.LabelType: clusterType,
				"team":              "streaming",
			},
		},
		Data: data,
	}
}

func TestKafkaFromConfigMap_Defaults(t *testing.T) {
	k, err := KafkaFromConfigMap(desiredConfigMap("my-cluster", constants.ClusterTypeKafka, nil))
	require.NoError(t, err)

	assert.Equal(t, "my-cluster-kafka", k.Kafka.Name)
	assert.Equal(t, "my-cluster-zookeeper", k.Zookeeper.Name)
	assert.Equal(t, int32(DefaultKafkaReplicas), k.Kafka.Replicas)
	assert.Equal(t, int32(DefaultZookeeperReplicas), k.Zookeeper.Replicas)
	assert.Equal(t, DefaultKafkaImage, k.Kafka.Image)
	assert.Equal(t, DefaultZookeeperImage, k.Zookeeper.Image)
	assert.Equal(t, StorageEphemeral, k.Kafka.Storage.Type)
	assert.Nil(t, k.Kafka.Metrics)

	assert.Equal(t, map[string]string{
		constants.LabelCluster: "my-cluster",
		constants.LabelType:    constants.ClusterTypeKafka,
		"team":                 "streaming",
	}, k.Kafka.Labels)
	assert.Equal(t, []*StatefulComponent{k.Zookeeper, k.Kafka}, k.Components())
	assert.Same(t, k.Kafka, k.Component("my-cluster-kafka"))
	assert.Nil(t, k.Component("other"))

	assert.Contains(t, k.Kafka.FixedEnv, corev1.EnvVar{Name: envKafkaZookeeperConnect, Value: "my-cluster-zookeeper:2181"})
	assert.Contains(t, k.Zookeeper.DerivedEnv, corev1.EnvVar{Name: envZookeeperNodeCount, Value: "1"})
}

func TestKafkaFromConfigMap_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		data map[string]string
	}{
		{name: "negative replicas", data: map[string]string{KeyKafkaReplicas: "-1"}},
		{name: "non numeric delay", data: map[string]string{KeyZookeeperHealthCheckDelay: "soon"}},
		{name: "storage without type", data: map[string]string{KeyKafkaStorage: `{"size": "1Gi"}`}},
		{name: "malformed metrics", data: map[string]string{KeyKafkaMetricsConfig: "{"}},
		{name: "non numeric setting", data: map[string]string{KeyDefaultReplicationFactor: "three"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := KafkaFromConfigMap(desiredConfigMap("c", constants.ClusterTypeKafka, tt.data))
			require.Error(t, err)
			assert.True(t, operatorerrors.IsPermanent(err))
		})
	}
}

func TestStatefulComponent_DiffOfOwnManifestIsEmpty(t *testing.T) {
	k, err := KafkaFromConfigMap(desiredConfigMap("c", constants.ClusterTypeKafka, map[string]string{
		KeyKafkaStorage:       `{"type": "persistent-claim", "size": "1Gi", "delete-claim": true}`,
		KeyKafkaMetricsConfig: `{"lowercaseOutputName": true}`,
	}))
	require.NoError(t, err)

	for _, c := range k.Components() {
		diff, err := c.Diff(context.Background(), c.StatefulSet(), c.MetricsConfigMap())
		require.NoError(t, err, c.Name)
		assert.Equal(t, DiffResult{}, diff, c.Name)
	}
}

func TestStatefulComponent_ScaleUpOnly(t *testing.T) {
	desired, err := KafkaFromConfigMap(desiredConfigMap("c", constants.ClusterTypeKafka, map[string]string{KeyKafkaReplicas: "5"}))
	require.NoError(t, err)
	live := desired.Kafka.StatefulSet()
	live.Spec.Replicas = ptr.To[int32](3)

	diff, err := desired.Kafka.Diff(context.Background(), live, desired.Kafka.MetricsConfigMap())
	require.NoError(t, err)
	assert.True(t, diff.Different)
	assert.True(t, diff.ScaleUp)
	assert.False(t, diff.ScaleDown)
	assert.False(t, diff.RequiresRollingUpdate)
}

func TestStatefulComponent_DiffFacets(t *testing.T) {
	desired, err := KafkaFromConfigMap(desiredConfigMap("c", constants.ClusterTypeKafka, nil))
	require.NoError(t, err)
	c := desired.Kafka

	tests := []struct {
		name    string
		mutate  func(live *StatefulComponent)
		rolling bool
		scale   bool
		metrics bool
		storage bool
	}{
		{name: "image", mutate: func(l *StatefulComponent) { l.Image = "strimzi/kafka:old" }, rolling: true},
		{name: "setting", mutate: func(l *StatefulComponent) {
			l.Env = []corev1.EnvVar{{Name: KeyDefaultReplicationFactor, Value: "1"}}
		}, rolling: true},
		{name: "health check", mutate: func(l *StatefulComponent) { l.HealthCheckTimeout = 30 }, rolling: true},
		{name: "labels", mutate: func(l *StatefulComponent) {
			l.Labels = maps.Clone(l.Labels)
			l.Labels["team"] = "batch"
		}},
		{name: "scale down", mutate: func(l *StatefulComponent) { l.Replicas = 7 }, scale: true},
		{name: "metrics", mutate: func(l *StatefulComponent) {
			l.Metrics = map[string]any{"rules": []any{}}
		}, rolling: true, metrics: true},
		{name: "storage", mutate: func(l *StatefulComponent) {
			l.Storage = Storage{Type: StorageLocal}
		}, storage: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			live := *c
			tt.mutate(&live)
			diff, err := c.Diff(context.Background(), live.StatefulSet(), live.MetricsConfigMap())
			require.NoError(t, err)

			assert.True(t, diff.Different)
			assert.Equal(t, tt.rolling, diff.RequiresRollingUpdate)
			assert.Equal(t, tt.scale, diff.ScaleDown)
			assert.Equal(t, tt.metrics, diff.MetricsChanged)
			assert.Equal(t, tt.storage, diff.Storage.Different())
			assert.False(t, diff.ScaleUp && diff.ScaleDown)
		})
	}
}

func TestStatefulComponent_SettingsDefaultWhenMissingFromContainer(t *testing.T) {
	k, err := KafkaFromConfigMap(desiredConfigMap("c", constants.ClusterTypeKafka, nil))
	require.NoError(t, err)
	live := k.Kafka.StatefulSet()
	container := &live.Spec.Template.Spec.Containers[0]
	var kept []corev1.EnvVar
	for _, e := range container.Env {
		if e.Name != KeyDefaultReplicationFactor {
			kept = append(kept, e)
		}
	}
	container.Env = kept

	diff, err := k.Kafka.Diff(context.Background(), live, k.Kafka.MetricsConfigMap())
	require.NoError(t, err)
	assert.False(t, diff.Different)
}

func TestStatefulComponent_DiffErrors(t *testing.T) {
	k, err := KafkaFromConfigMap(desiredConfigMap("c", constants.ClusterTypeKafka, nil))
	require.NoError(t, err)

	t.Run("no containers", func(t *testing.T) {
		live := k.Kafka.StatefulSet()
		live.Spec.Template.Spec.Containers = nil
		_, err := k.Kafka.Diff(context.Background(), live, nil)
		assert.True(t, errors.Is(err, operatorerrors.ErrDiffComputation))
	})
	t.Run("no readiness probe", func(t *testing.T) {
		live := k.Kafka.StatefulSet()
		live.Spec.Template.Spec.Containers[0].ReadinessProbe = nil
		_, err := k.Kafka.Diff(context.Background(), live, nil)
		assert.True(t, errors.Is(err, operatorerrors.ErrDiffComputation))
	})
	t.Run("malformed metrics ConfigMap", func(t *testing.T) {
		cm := k.Kafka.MetricsConfigMap()
		cm.Data[constants.MetricsConfigFile] = "{"
		_, err := k.Kafka.Diff(context.Background(), k.Kafka.StatefulSet(), cm)
		assert.True(t, errors.Is(err, operatorerrors.ErrDiffComputation))
	})
}

func TestStatefulComponent_MissingMetricsConfigMapMeansDisabled(t *testing.T) {
	k, err := KafkaFromConfigMap(desiredConfigMap("c", constants.ClusterTypeKafka, nil))
	require.NoError(t, err)

	diff, err := k.Kafka.Diff(context.Background(), k.Kafka.StatefulSet(), nil)
	require.NoError(t, err)
	assert.False(t, diff.MetricsChanged)
}

func TestStatefulComponent_StatefulSet(t *testing.T) {
	k, err := KafkaFromConfigMap(desiredConfigMap("c", constants.ClusterTypeKafka, map[string]string{
		KeyKafkaStorage:       `{"type": "persistent-claim", "size": "10Gi", "class": "ssd"}`,
		KeyKafkaMetricsConfig: `lowercaseOutputName: true`,
	}))
	require.NoError(t, err)

	sts := k.Kafka.StatefulSet()
	assert.Equal(t, "c-kafka-headless", sts.Spec.ServiceName)
	assert.Len(t, sts.Spec.VolumeClaimTemplates, 1)
	assert.Equal(t, ptr.To("ssd"), sts.Spec.VolumeClaimTemplates[0].Spec.StorageClassName)
	assert.Equal(t, "false", sts.Annotations[constants.AnnotationDeleteClaim])

	container := sts.Spec.Template.Spec.Containers[0]
	assert.Contains(t, container.Env, corev1.EnvVar{Name: envKafkaMetricsEnabled, Value: "true"})
	assert.Contains(t, container.Ports, containerPort(constants.PortNameMetrics, constants.PortMetrics))

	headless := k.Kafka.HeadlessService()
	assert.Equal(t, corev1.ClusterIPNone, headless.Spec.ClusterIP)
	assert.True(t, headless.Spec.PublishNotReadyAddresses)

	cm := k.Kafka.MetricsConfigMap()
	assert.Equal(t, "c-kafka-metrics-config", cm.Name)
	assert.JSONEq(t, `{"lowercaseOutputName": true}`, cm.Data[constants.MetricsConfigFile])
}

func TestObservedStorage_FallsBackToClaimTemplates(t *testing.T) {
	k, err := KafkaFromConfigMap(desiredConfigMap("c", constants.ClusterTypeKafka, map[string]string{
		KeyKafkaStorage: `{"type": "persistent-claim", "size": "1Gi"}`,
	}))
	require.NoError(t, err)
	sts := k.Kafka.StatefulSet()
	delete(sts.Annotations, constants.AnnotationStorage)

	observed := ObservedStorage(sts)
	assert.Equal(t, StoragePersistentClaim, observed.Type)
	assert.False(t, StorageDiff(k.Kafka.Storage, observed).Different())
}
