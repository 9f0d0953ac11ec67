package clusterops

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/dc-tec/kafka-cluster-operator/internal/cluster"
	"github.com/dc-tec/kafka-cluster-operator/internal/constants"
	operatorerrors "github.com/dc-tec/kafka-cluster-operator/internal/errors"
)

func newKafka(t *testing.T, objs ...client.Object) (*KafkaOperations, *simulator, client.WithWatch) {
	t.Helper()
	sim := &simulator{}
	c := sim.build(objs...)
	return NewKafkaOperations(c, nil, fastRolling, fastOptions), sim, c
}

func getStatefulSet(t *testing.T, c client.Client, name string) *appsv1.StatefulSet {
	t.Helper()
	sts := &appsv1.StatefulSet{}
	require.NoError(t, c.Get(context.Background(), client.ObjectKey{Namespace: testNamespace, Name: name}, sts))
	return sts
}

func kafkaData(overrides map[string]string) map[string]string {
	data := map[string]string{
		cluster.KeyKafkaReplicas:     "2",
		cluster.KeyZookeeperReplicas: "1",
	}
	for k, v := range overrides {
		data[k] = v
	}
	return data
}

func TestKafkaOperations_CreateThenUpdateIsNoop(t *testing.T) {
	ops, sim, c := newKafka(t)
	desired := desiredConfigMap("my-cluster", constants.ClusterTypeKafka, kafkaData(nil))

	require.NoError(t, ops.Create(context.Background(), desired))

	kafka := getStatefulSet(t, c, "my-cluster-kafka")
	assert.Equal(t, int32(2), *kafka.Spec.Replicas)
	assert.Equal(t, appsv1.OnDeleteStatefulSetStrategyType, kafka.Spec.UpdateStrategy.Type)
	getStatefulSet(t, c, "my-cluster-zookeeper")

	require.NoError(t, ops.Update(context.Background(), desired))
	assert.Empty(t, sim.rolledPods())
}

func TestKafkaOperations_UpdateRollsOnlyChangedComponent(t *testing.T) {
	ops, sim, c := newKafka(t)
	require.NoError(t, ops.Create(context.Background(), desiredConfigMap("c", constants.ClusterTypeKafka, kafkaData(nil))))

	changed := desiredConfigMap("c", constants.ClusterTypeKafka, kafkaData(map[string]string{
		cluster.KeyKafkaImage: "strimzi/kafka:0.2",
	}))
	require.NoError(t, ops.Update(context.Background(), changed))

	assert.Equal(t, []string{"c-kafka-0", "c-kafka-1"}, sim.rolledPods())
	kafka := getStatefulSet(t, c, "c-kafka")
	assert.Equal(t, "strimzi/kafka:0.2", kafka.Spec.Template.Spec.Containers[0].Image)
}

func TestKafkaOperations_UpdateScalesWithoutRolling(t *testing.T) {
	ops, sim, c := newKafka(t)
	require.NoError(t, ops.Create(context.Background(), desiredConfigMap("c", constants.ClusterTypeKafka, kafkaData(nil))))

	require.NoError(t, ops.Update(context.Background(), desiredConfigMap("c", constants.ClusterTypeKafka, kafkaData(map[string]string{
		cluster.KeyKafkaReplicas: "4",
	}))))
	assert.Equal(t, int32(4), *getStatefulSet(t, c, "c-kafka").Spec.Replicas)

	require.NoError(t, ops.Update(context.Background(), desiredConfigMap("c", constants.ClusterTypeKafka, kafkaData(map[string]string{
		cluster.KeyKafkaReplicas: "1",
	}))))
	assert.Equal(t, int32(1), *getStatefulSet(t, c, "c-kafka").Spec.Replicas)
	assert.Empty(t, sim.rolledPods())
}

func TestKafkaOperations_MetricsChangeRollsAndUpdatesConfigMap(t *testing.T) {
	ops, sim, c := newKafka(t)
	require.NoError(t, ops.Create(context.Background(), desiredConfigMap("c", constants.ClusterTypeKafka, kafkaData(nil))))

	require.NoError(t, ops.Update(context.Background(), desiredConfigMap("c", constants.ClusterTypeKafka, kafkaData(map[string]string{
		cluster.KeyKafkaMetricsConfig: `{"lowercaseOutputName": true}`,
	}))))

	assert.Equal(t, []string{"c-kafka-0", "c-kafka-1"}, sim.rolledPods())
	cm := &corev1.ConfigMap{}
	require.NoError(t, c.Get(context.Background(), client.ObjectKey{Namespace: testNamespace, Name: "c-kafka-metrics-config"}, cm))
	metrics, err := cluster.ParseMetricsConfig(cm.Data[constants.MetricsConfigFile])
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"lowercaseOutputName": true}, metrics)
}

func TestKafkaOperations_StorageChangeIsNotApplied(t *testing.T) {
	ops, sim, c := newKafka(t)
	original := `{"type": "persistent-claim", "size": "1Gi"}`
	require.NoError(t, ops.Create(context.Background(), desiredConfigMap("c", constants.ClusterTypeKafka, kafkaData(map[string]string{
		cluster.KeyKafkaStorage: original,
	}))))

	require.NoError(t, ops.Update(context.Background(), desiredConfigMap("c", constants.ClusterTypeKafka, kafkaData(map[string]string{
		cluster.KeyKafkaStorage: `{"type": "persistent-claim", "size": "5Gi"}`,
	}))))

	kafka := getStatefulSet(t, c, "c-kafka")
	require.Len(t, kafka.Spec.VolumeClaimTemplates, 1)
	size := kafka.Spec.VolumeClaimTemplates[0].Spec.Resources.Requests[corev1.ResourceStorage]
	assert.Equal(t, 0, size.Cmp(resource.MustParse("1Gi")), "claim templates are immutable")
	assert.Empty(t, sim.rolledPods())
}

func TestKafkaOperations_StorageOnlyChangeTouchesNothing(t *testing.T) {
	ops, sim, c := newKafka(t)
	require.NoError(t, ops.Create(context.Background(), desiredConfigMap("c", constants.ClusterTypeKafka, kafkaData(map[string]string{
		cluster.KeyKafkaStorage: `{"type": "persistent-claim", "size": "1Gi"}`,
	}))))
	// Patching the component would fail on the missing service.
	headless := &corev1.Service{}
	require.NoError(t, c.Get(context.Background(), client.ObjectKey{Namespace: testNamespace, Name: "c-kafka-headless"}, headless))
	require.NoError(t, c.Delete(context.Background(), headless))

	require.NoError(t, ops.Update(context.Background(), desiredConfigMap("c", constants.ClusterTypeKafka, kafkaData(map[string]string{
		cluster.KeyKafkaStorage: `{"type": "persistent-claim", "size": "5Gi"}`,
	}))))
	assert.Empty(t, sim.rolledPods())
	err := c.Get(context.Background(), client.ObjectKey{Namespace: testNamespace, Name: "c-kafka-headless"}, &corev1.Service{})
	assert.Error(t, err, "component was patched")
}

func TestKafkaOperations_DeleteClaimChangeIsApplied(t *testing.T) {
	ops, sim, c := newKafka(t)
	require.NoError(t, ops.Create(context.Background(), desiredConfigMap("c", constants.ClusterTypeKafka, kafkaData(map[string]string{
		cluster.KeyKafkaStorage: `{"type": "persistent-claim", "size": "1Gi"}`,
	}))))
	assert.False(t, cluster.DeleteClaim(getStatefulSet(t, c, "c-kafka")))

	require.NoError(t, ops.Update(context.Background(), desiredConfigMap("c", constants.ClusterTypeKafka, kafkaData(map[string]string{
		cluster.KeyKafkaStorage: `{"type": "persistent-claim", "size": "1Gi", "delete-claim": true}`,
	}))))

	kafka := getStatefulSet(t, c, "c-kafka")
	assert.True(t, cluster.DeleteClaim(kafka))
	assert.Equal(t, "true", kafka.Annotations[constants.AnnotationDeleteClaim])
	assert.Empty(t, sim.rolledPods())
}

func TestKafkaOperations_UpdateRecreatesMissingComponent(t *testing.T) {
	ops, _, c := newKafka(t)
	desired := desiredConfigMap("c", constants.ClusterTypeKafka, kafkaData(nil))
	require.NoError(t, ops.Create(context.Background(), desired))
	require.NoError(t, c.Delete(context.Background(), getStatefulSet(t, c, "c-zookeeper")))

	require.NoError(t, ops.Update(context.Background(), desired))
	getStatefulSet(t, c, "c-zookeeper")
}

func TestKafkaOperations_InvalidDesiredState(t *testing.T) {
	ops, _, _ := newKafka(t)
	err := ops.Create(context.Background(), desiredConfigMap("c", constants.ClusterTypeKafka, map[string]string{
		cluster.KeyKafkaReplicas: "many",
	}))
	require.Error(t, err)
	assert.True(t, operatorerrors.IsPermanent(err))
}

func TestKafkaOperations_Delete(t *testing.T) {
	claim := func(name, sts string) *corev1.PersistentVolumeClaim {
		return &corev1.PersistentVolumeClaim{ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: testNamespace,
			Labels:    cluster.SelectorLabels("c", sts),
		}}
	}

	tests := []struct {
		name         string
		storage      string
		claimsRemain bool
	}{
		{name: "claims kept", storage: `{"type": "persistent-claim", "size": "1Gi"}`, claimsRemain: true},
		{name: "claims deleted", storage: `{"type": "persistent-claim", "size": "1Gi", "delete-claim": true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops, _, c := newKafka(t, claim("data-c-kafka-0", "c-kafka"), claim("data-other-kafka-0", "other-kafka"))
			require.NoError(t, ops.Create(context.Background(), desiredConfigMap("c", constants.ClusterTypeKafka, kafkaData(map[string]string{
				cluster.KeyKafkaStorage: tt.storage,
			}))))

			require.NoError(t, ops.Delete(context.Background(), getStatefulSet(t, c, "c-kafka")))

			for _, obj := range []client.Object{&appsv1.StatefulSet{}, &corev1.Service{}} {
				err := c.Get(context.Background(), client.ObjectKey{Namespace: testNamespace, Name: "c-kafka"}, obj)
				assert.True(t, client.IgnoreNotFound(err) == nil && err != nil, "%T must be gone", obj)
			}
			err := c.Get(context.Background(), client.ObjectKey{Namespace: testNamespace, Name: "c-kafka-headless"}, &corev1.Service{})
			assert.Error(t, err)
			err = c.Get(context.Background(), client.ObjectKey{Namespace: testNamespace, Name: "c-kafka-metrics-config"}, &corev1.ConfigMap{})
			assert.Error(t, err)

			err = c.Get(context.Background(), client.ObjectKey{Namespace: testNamespace, Name: "data-c-kafka-0"}, &corev1.PersistentVolumeClaim{})
			if tt.claimsRemain {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
			require.NoError(t, c.Get(context.Background(), client.ObjectKey{Namespace: testNamespace, Name: "data-other-kafka-0"}, &corev1.PersistentVolumeClaim{}),
				"claims of other workloads are untouched")

			getStatefulSet(t, c, "c-zookeeper")
		})
	}
}

func TestKafkaOperations_DeleteReportsEveryFailure(t *testing.T) {
	ops, sim, c := newKafka(t)
	require.NoError(t, ops.Create(context.Background(), desiredConfigMap("c", constants.ClusterTypeKafka, kafkaData(nil))))
	sim.deleteErr = map[string]error{"c-kafka": errors.New("denied")}

	err := ops.Delete(context.Background(), getStatefulSet(t, c, "c-kafka"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, operatorerrors.ErrAPI))
	assert.Contains(t, sim.deleted(), "c-kafka-headless", "other deletes still happen")
}

func TestKafkaOperations_DeleteRejectsOtherKinds(t *testing.T) {
	ops, _, _ := newKafka(t)
	err := ops.Delete(context.Background(), &appsv1.Deployment{ObjectMeta: metav1.ObjectMeta{Name: "x", Namespace: testNamespace}})
	assert.True(t, errors.Is(err, operatorerrors.ErrUnsupported))
}

func TestKafkaOperations_Resources(t *testing.T) {
	ops, _, _ := newKafka(t,
		&appsv1.StatefulSet{ObjectMeta: metav1.ObjectMeta{Name: "a-kafka", Namespace: testNamespace, Labels: map[string]string{
			constants.LabelCluster: "a", constants.LabelType: constants.ClusterTypeKafka,
		}}, Spec: appsv1.StatefulSetSpec{Replicas: ptr.To[int32](1)}},
		&appsv1.StatefulSet{ObjectMeta: metav1.ObjectMeta{Name: "b-kafka", Namespace: testNamespace, Labels: map[string]string{
			constants.LabelCluster: "b", constants.LabelType: constants.ClusterTypeKafka,
		}}},
	)
	resources, err := ops.Resources(context.Background(), testNamespace, map[string]string{constants.LabelCluster: "a"})
	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, "a-kafka", resources[0].GetName())
}
