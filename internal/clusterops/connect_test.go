package clusterops

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/dc-tec/kafka-cluster-operator/internal/cluster"
	"github.com/dc-tec/kafka-cluster-operator/internal/constants"
	operatorerrors "github.com/dc-tec/kafka-cluster-operator/internal/errors"
	"github.com/dc-tec/kafka-cluster-operator/internal/kube"
)

func getDeployment(t *testing.T, c client.Client, name string) *appsv1.Deployment {
	t.Helper()
	deployment := &appsv1.Deployment{}
	require.NoError(t, c.Get(context.Background(), client.ObjectKey{Namespace: testNamespace, Name: name}, deployment))
	return deployment
}

func TestConnectOperations_Lifecycle(t *testing.T) {
	sim := &simulator{}
	c := sim.build()
	ops := NewConnectOperations(c, nil, fastOptions)
	ctx := context.Background()

	require.NoError(t, ops.Create(ctx, desiredConfigMap("my-connect", constants.ClusterTypeKafkaConnect, nil)))
	deployment := getDeployment(t, c, "my-connect-connect")
	assert.Equal(t, int32(cluster.DefaultConnectReplicas), *deployment.Spec.Replicas)
	require.NoError(t, c.Get(ctx, client.ObjectKey{Namespace: testNamespace, Name: "my-connect-connect"}, &corev1.Service{}))

	require.NoError(t, ops.Update(ctx, desiredConfigMap("my-connect", constants.ClusterTypeKafkaConnect, map[string]string{
		cluster.KeyConnectReplicas: "3",
		cluster.KeyConnectGroupID:  "workers",
	})))
	deployment = getDeployment(t, c, "my-connect-connect")
	assert.Equal(t, int32(3), *deployment.Spec.Replicas)
	assert.Contains(t, deployment.Spec.Template.Spec.Containers[0].Env, corev1.EnvVar{Name: cluster.KeyConnectGroupID, Value: "workers"})

	resources, err := ops.Resources(ctx, testNamespace, map[string]string{constants.LabelCluster: "my-connect"})
	require.NoError(t, err)
	require.Len(t, resources, 1)

	require.NoError(t, ops.Delete(ctx, resources[0]))
	assert.ElementsMatch(t, []string{"my-connect-connect", "my-connect-connect"}, sim.deleted())
	resources, err = ops.Resources(ctx, testNamespace, map[string]string{constants.LabelCluster: "my-connect"})
	require.NoError(t, err)
	assert.Empty(t, resources)
}

func TestConnectOperations_UpdateRecreatesMissingDeployment(t *testing.T) {
	c := (&simulator{}).build()
	ops := NewConnectOperations(c, nil, fastOptions)

	require.NoError(t, ops.Update(context.Background(), desiredConfigMap("x", constants.ClusterTypeKafkaConnect, nil)))
	getDeployment(t, c, "x-connect")
}

func TestConnectOperations_DeleteRejectsOtherKinds(t *testing.T) {
	ops := NewConnectOperations((&simulator{}).build(), nil, fastOptions)
	err := ops.Delete(context.Background(), &appsv1.StatefulSet{})
	assert.True(t, errors.Is(err, operatorerrors.ErrUnsupported))
}

func getUnstructured(t *testing.T, c client.Client, kind kube.Kind, name string) *unstructured.Unstructured {
	t.Helper()
	obj := kind.New()
	require.NoError(t, c.Get(context.Background(), client.ObjectKey{Namespace: testNamespace, Name: name}, obj))
	return obj.(*unstructured.Unstructured)
}

func TestConnectS2IOperations_Lifecycle(t *testing.T) {
	sim := &simulator{}
	c := sim.build()
	ops := NewConnectS2IOperations(c, nil)
	ctx := context.Background()

	require.NoError(t, ops.Create(ctx, desiredConfigMap("s2i", constants.ClusterTypeKafkaConnectS2I, nil)))
	getUnstructured(t, c, kube.DeploymentConfigKind(), "s2i-connect")
	getUnstructured(t, c, kube.ImageStreamKind(), "s2i-connect")
	getUnstructured(t, c, kube.ImageStreamKind(), "s2i-connect-source")
	getUnstructured(t, c, kube.BuildConfigKind(), "s2i-connect")
	require.NoError(t, c.Get(ctx, client.ObjectKey{Namespace: testNamespace, Name: "s2i-connect"}, &corev1.Service{}))

	require.NoError(t, ops.Update(ctx, desiredConfigMap("s2i", constants.ClusterTypeKafkaConnectS2I, map[string]string{
		cluster.KeyConnectImage: "strimzi/kafka-connect-s2i:0.2",
	})))
	source := getUnstructured(t, c, kube.ImageStreamKind(), "s2i-connect-source")
	tags, _, _ := unstructured.NestedSlice(source.Object, "spec", "tags")
	require.Len(t, tags, 1)
	assert.Equal(t, "0.2", tags[0].(map[string]any)["name"])
	bc := getUnstructured(t, c, kube.BuildConfigKind(), "s2i-connect")
	from, _, _ := unstructured.NestedString(bc.Object, "spec", "strategy", "sourceStrategy", "from", "name")
	assert.Equal(t, "s2i-connect-source:0.2", from)

	resources, err := ops.Resources(ctx, testNamespace, map[string]string{constants.LabelCluster: "s2i"})
	require.NoError(t, err)
	require.Len(t, resources, 1)
	require.NoError(t, ops.Delete(ctx, resources[0]))
	assert.Len(t, sim.deleted(), 5)
}

func TestConnectS2IOperations_UpdateFillsMissingResources(t *testing.T) {
	c := (&simulator{}).build()
	ops := NewConnectS2IOperations(c, nil)
	ctx := context.Background()
	desired := desiredConfigMap("s2i", constants.ClusterTypeKafkaConnectS2I, nil)

	require.NoError(t, ops.Create(ctx, desired))
	require.NoError(t, c.Delete(ctx, getUnstructured(t, c, kube.BuildConfigKind(), "s2i-connect")))

	require.NoError(t, ops.Update(ctx, desired))
	getUnstructured(t, c, kube.BuildConfigKind(), "s2i-connect")
}
