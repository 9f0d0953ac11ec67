package clusterops

import (
	"context"
	"strconv"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/dc-tec/kafka-cluster-operator/internal/cluster"
	"github.com/dc-tec/kafka-cluster-operator/internal/constants"
	"github.com/dc-tec/kafka-cluster-operator/internal/kube"
	"github.com/dc-tec/kafka-cluster-operator/internal/logging"
)

// ConnectOperations manages kafka-connect clusters. The Deployment controller rolls the
// workers itself, so updates only scale and patch.
type ConnectOperations struct {
	services    *kube.ResourceOperations
	deployments *kube.ScalableOperations
	opts        Options
}

// NewConnectOperations returns the kafka-connect cluster operations.
func NewConnectOperations(c client.Client, pool *kube.Pool, opts Options) *ConnectOperations {
	return &ConnectOperations{
		services:    kube.NewResourceOperations(c, pool, kube.ServiceKind()),
		deployments: kube.NewScalableOperations(c, pool, kube.DeploymentKind()),
		opts:        opts.withDefaults(),
	}
}

func (o *ConnectOperations) ClusterType() string { return constants.ClusterTypeKafkaConnect }
func (o *ConnectOperations) Description() string { return "Kafka Connect cluster" }

func (o *ConnectOperations) Create(ctx context.Context, desired *corev1.ConfigMap) error {
	c, err := cluster.ConnectFromConfigMap(desired)
	if err != nil {
		return err
	}
	return o.create(ctx, c)
}

func (o *ConnectOperations) create(ctx context.Context, c *cluster.ConnectCluster) error {
	if err := o.services.Create(ctx, c.Service()); err != nil {
		return err
	}
	if err := o.deployments.Create(ctx, c.Deployment()); err != nil {
		return err
	}
	return o.deployments.WaitReady(ctx, c.Namespace, c.Name, o.opts.ReadyPollInterval, o.opts.ReadyTimeout)
}

func (o *ConnectOperations) Update(ctx context.Context, desired *corev1.ConfigMap) error {
	c, err := cluster.ConnectFromConfigMap(desired)
	if err != nil {
		return err
	}
	logger := log.FromContext(ctx).WithValues("component", c.Name)

	obj, err := o.deployments.Get(ctx, c.Namespace, c.Name)
	if err != nil {
		return err
	}
	if obj == nil {
		logger.Info("Deployment is missing, creating it")
		return o.create(ctx, c)
	}

	diff, err := c.Diff(ctx, obj.(*appsv1.Deployment))
	if err != nil {
		return err
	}
	if !diff.Different {
		logger.V(1).Info("Connect cluster is up to date")
		return nil
	}

	if diff.ScaleDown {
		if err := o.deployments.ScaleDown(ctx, c.Namespace, c.Name, c.Replicas); err != nil {
			return err
		}
	}
	if err := o.services.Patch(ctx, c.Namespace, c.Name, c.Service(), true); err != nil {
		return err
	}
	if err := o.deployments.Patch(ctx, c.Namespace, c.Name, c.Deployment(), true); err != nil {
		return err
	}
	if diff.ScaleUp {
		if err := o.deployments.ScaleUp(ctx, c.Namespace, c.Name, c.Replicas); err != nil {
			return err
		}
	}

	logging.LogAuditEvent(logger, logging.EventClusterUpdate, logging.ClusterFields(
		constants.ClusterTypeKafkaConnect, c.Namespace, c.ClusterName, map[string]string{
			"component": c.Name,
			"replicas":  strconv.Itoa(int(c.Replicas)),
		}))
	return nil
}

// Delete removes a Connect Deployment and its Service.
func (o *ConnectOperations) Delete(ctx context.Context, resource client.Object) error {
	deployment, ok := resource.(*appsv1.Deployment)
	if !ok {
		return unexpectedResource(constants.ClusterTypeKafkaConnect, resource)
	}
	return deleteAll(ctx, deployment.Namespace,
		deleteTask{o.deployments, deployment.Name},
		deleteTask{o.services, deployment.Name},
	)
}

func (o *ConnectOperations) Resources(ctx context.Context, namespace string, labels map[string]string) ([]client.Object, error) {
	return o.deployments.List(ctx, namespace, labels)
}
