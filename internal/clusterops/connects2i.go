package clusterops

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/dc-tec/kafka-cluster-operator/internal/cluster"
	"github.com/dc-tec/kafka-cluster-operator/internal/constants"
	"github.com/dc-tec/kafka-cluster-operator/internal/kube"
	"github.com/dc-tec/kafka-cluster-operator/internal/logging"
)

// ConnectS2IOperations manages kafka-connect-s2i clusters on OpenShift. The workload
// runs the output of a source-to-image build, so a create does not wait for readiness:
// nothing runs until the first build is pushed.
type ConnectS2IOperations struct {
	services          *kube.ResourceOperations
	imageStreams      *kube.ResourceOperations
	buildConfigs      *kube.ResourceOperations
	deploymentConfigs *kube.ScalableOperations
}

// NewConnectS2IOperations returns the kafka-connect-s2i cluster operations.
func NewConnectS2IOperations(c client.Client, pool *kube.Pool) *ConnectS2IOperations {
	return &ConnectS2IOperations{
		services:          kube.NewResourceOperations(c, pool, kube.ServiceKind()),
		imageStreams:      kube.NewResourceOperations(c, pool, kube.ImageStreamKind()),
		buildConfigs:      kube.NewResourceOperations(c, pool, kube.BuildConfigKind()),
		deploymentConfigs: kube.NewScalableOperations(c, pool, kube.DeploymentConfigKind()),
	}
}

func (o *ConnectS2IOperations) ClusterType() string { return constants.ClusterTypeKafkaConnectS2I }
func (o *ConnectS2IOperations) Description() string { return "Kafka Connect S2I cluster" }

func (o *ConnectS2IOperations) Create(ctx context.Context, desired *corev1.ConfigMap) error {
	c, err := cluster.ConnectS2IFromConfigMap(desired)
	if err != nil {
		return err
	}
	return o.create(ctx, c)
}

func (o *ConnectS2IOperations) create(ctx context.Context, c *cluster.ConnectS2ICluster) error {
	dc, err := c.DeploymentConfig()
	if err != nil {
		return err
	}
	if err := o.services.Create(ctx, c.Service()); err != nil {
		return err
	}
	if err := createAll(ctx, o.imageStreams, c.SourceImageStream(), c.TargetImageStream()); err != nil {
		return err
	}
	if err := o.buildConfigs.Create(ctx, c.BuildConfig()); err != nil {
		return err
	}
	return o.deploymentConfigs.Create(ctx, dc)
}

// s2iResources is the live state of one S2I cluster.
type s2iResources struct {
	deploymentConfig, sourceStream, targetStream, buildConfig *unstructured.Unstructured
}

func (r s2iResources) complete() bool {
	return r.deploymentConfig != nil && r.sourceStream != nil && r.targetStream != nil && r.buildConfig != nil
}

func (o *ConnectS2IOperations) observe(ctx context.Context, c *cluster.ConnectS2ICluster) (s2iResources, error) {
	var r s2iResources
	for _, get := range []struct {
		ops  kube.Operations
		name string
		into **unstructured.Unstructured
	}{
		{o.deploymentConfigs, c.Name, &r.deploymentConfig},
		{o.imageStreams, c.SourceImageStreamName(), &r.sourceStream},
		{o.imageStreams, c.Name, &r.targetStream},
		{o.buildConfigs, c.Name, &r.buildConfig},
	} {
		obj, err := get.ops.Get(ctx, c.Namespace, get.name)
		if err != nil {
			return r, err
		}
		if obj == nil {
			continue
		}
		u, ok := obj.(*unstructured.Unstructured)
		if !ok {
			return r, fmt.Errorf("unexpected %T for %s", obj, get.name)
		}
		*get.into = u
	}
	return r, nil
}

func (o *ConnectS2IOperations) Update(ctx context.Context, desired *corev1.ConfigMap) error {
	c, err := cluster.ConnectS2IFromConfigMap(desired)
	if err != nil {
		return err
	}
	logger := log.FromContext(ctx).WithValues("component", c.Name)

	live, err := o.observe(ctx, c)
	if err != nil {
		return err
	}
	if !live.complete() {
		// Create skips what exists, so this only fills the gaps.
		logger.Info("S2I resources are missing, creating them")
		return o.create(ctx, c)
	}

	diff, err := c.Diff(ctx, live.deploymentConfig, live.sourceStream, live.targetStream, live.buildConfig)
	if err != nil {
		return err
	}
	if !diff.Different {
		logger.V(1).Info("Connect S2I cluster is up to date")
		return nil
	}

	if diff.ScaleDown {
		if err := o.deploymentConfigs.ScaleDown(ctx, c.Namespace, c.Name, c.Replicas); err != nil {
			return err
		}
	}
	if err := o.services.Patch(ctx, c.Namespace, c.Name, c.Service(), true); err != nil {
		return err
	}
	dc, err := c.PatchDeploymentConfig(live.deploymentConfig)
	if err != nil {
		return err
	}
	if err := o.deploymentConfigs.Patch(ctx, c.Namespace, c.Name, dc, true); err != nil {
		return err
	}
	if err := o.imageStreams.Patch(ctx, c.Namespace, c.SourceImageStreamName(), c.PatchSourceImageStream(live.sourceStream), true); err != nil {
		return err
	}
	if err := o.imageStreams.Patch(ctx, c.Namespace, c.Name, c.PatchTargetImageStream(live.targetStream), true); err != nil {
		return err
	}
	if err := o.buildConfigs.Patch(ctx, c.Namespace, c.Name, c.PatchBuildConfig(live.buildConfig), true); err != nil {
		return err
	}
	if diff.ScaleUp {
		if err := o.deploymentConfigs.ScaleUp(ctx, c.Namespace, c.Name, c.Replicas); err != nil {
			return err
		}
	}

	logging.LogAuditEvent(logger, logging.EventClusterUpdate, logging.ClusterFields(
		constants.ClusterTypeKafkaConnectS2I, c.Namespace, c.ClusterName, map[string]string{"component": c.Name}))
	return nil
}

// Delete removes a DeploymentConfig with its Service, ImageStreams and BuildConfig.
func (o *ConnectS2IOperations) Delete(ctx context.Context, resource client.Object) error {
	u, ok := resource.(*unstructured.Unstructured)
	if !ok || (u.GetKind() != "" && u.GetKind() != kube.DeploymentConfigGVK.Kind) {
		return unexpectedResource(constants.ClusterTypeKafkaConnectS2I, resource)
	}
	name := u.GetName()
	return deleteAll(ctx, u.GetNamespace(),
		deleteTask{o.deploymentConfigs, name},
		deleteTask{o.services, name},
		deleteTask{o.imageStreams, name + constants.SuffixSourceStream},
		deleteTask{o.imageStreams, name},
		deleteTask{o.buildConfigs, name},
	)
}

func (o *ConnectS2IOperations) Resources(ctx context.Context, namespace string, labels map[string]string) ([]client.Object, error) {
	return o.deploymentConfigs.List(ctx, namespace, labels)
}
