package clusterops

import (
	"context"
	"fmt"
	"strconv"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/dc-tec/kafka-cluster-operator/internal/cluster"
	"github.com/dc-tec/kafka-cluster-operator/internal/constants"
	"github.com/dc-tec/kafka-cluster-operator/internal/kube"
	"github.com/dc-tec/kafka-cluster-operator/internal/logging"
	"github.com/dc-tec/kafka-cluster-operator/internal/upgrade/rolling"
)

// KafkaOperations manages kafka clusters: a ZooKeeper ensemble and the Kafka brokers,
// each a StatefulSet with its Services and metrics ConfigMap.
type KafkaOperations struct {
	configMaps   *kube.ResourceOperations
	services     *kube.ResourceOperations
	claims       *kube.ResourceOperations
	statefulSets *kube.ScalableOperations
	rolling      *rolling.Orchestrator
	opts         Options
}

// NewKafkaOperations returns the kafka cluster operations. Every API call shares pool.
func NewKafkaOperations(c client.WithWatch, pool *kube.Pool, rollingOpts rolling.Options, opts Options) *KafkaOperations {
	statefulSets := kube.NewScalableOperations(c, pool, kube.StatefulSetKind())
	return &KafkaOperations{
		configMaps:   kube.NewResourceOperations(c, pool, kube.ConfigMapKind()),
		services:     kube.NewResourceOperations(c, pool, kube.ServiceKind()),
		claims:       kube.NewResourceOperations(c, pool, kube.PersistentVolumeClaimKind()),
		statefulSets: statefulSets,
		rolling:      rolling.NewOrchestrator(statefulSets, kube.NewPodOperations(c, pool), rollingOpts),
		opts:         opts.withDefaults(),
	}
}

func (o *KafkaOperations) ClusterType() string { return constants.ClusterTypeKafka }
func (o *KafkaOperations) Description() string { return "Kafka cluster" }

// Create creates ZooKeeper and then Kafka, waiting for each to be ready.
func (o *KafkaOperations) Create(ctx context.Context, desired *corev1.ConfigMap) error {
	k, err := cluster.KafkaFromConfigMap(desired)
	if err != nil {
		return err
	}
	for _, component := range k.Components() {
		if err := o.createComponent(ctx, component); err != nil {
			return fmt.Errorf("create %s: %w", component.Description(), err)
		}
	}
	return nil
}

func (o *KafkaOperations) createComponent(ctx context.Context, c *cluster.StatefulComponent) error {
	if err := createAll(ctx, o.configMaps, c.MetricsConfigMap()); err != nil {
		return err
	}
	if err := createAll(ctx, o.services, c.HeadlessService(), c.Service()); err != nil {
		return err
	}
	if err := o.statefulSets.Create(ctx, c.StatefulSet()); err != nil {
		return err
	}
	return o.statefulSets.WaitReady(ctx, c.Namespace, c.Name, o.opts.ReadyPollInterval, o.opts.ReadyTimeout)
}

// Update converges ZooKeeper and then Kafka. A component whose StatefulSet is gone is
// created again.
func (o *KafkaOperations) Update(ctx context.Context, desired *corev1.ConfigMap) error {
	k, err := cluster.KafkaFromConfigMap(desired)
	if err != nil {
		return err
	}
	for _, component := range k.Components() {
		if err := o.updateComponent(ctx, component); err != nil {
			return fmt.Errorf("update %s: %w", component.Description(), err)
		}
	}
	return nil
}

func (o *KafkaOperations) updateComponent(ctx context.Context, c *cluster.StatefulComponent) error {
	logger := log.FromContext(ctx).WithValues("component", c.Name)

	obj, err := o.statefulSets.Get(ctx, c.Namespace, c.Name)
	if err != nil {
		return err
	}
	if obj == nil {
		logger.Info("StatefulSet is missing, creating component")
		return o.createComponent(ctx, c)
	}
	sts := obj.(*appsv1.StatefulSet)

	var metricsConfigMap *corev1.ConfigMap
	cmObj, err := o.configMaps.Get(ctx, c.Namespace, c.MetricsConfigMapName())
	if err != nil {
		return err
	}
	if cmObj != nil {
		metricsConfigMap = cmObj.(*corev1.ConfigMap)
	}

	diff, err := c.Diff(ctx, sts, metricsConfigMap)
	if err != nil {
		return err
	}
	if !diff.Different {
		logger.V(1).Info("Component is up to date")
		return nil
	}
	if diff.OnlyUnappliedStorageChanged() {
		logger.V(1).Info("Component is up to date apart from storage, which is not applied",
			"desired", c.Storage.String())
		return nil
	}
	logger.Info("Updating component",
		"rollingUpdate", diff.RequiresRollingUpdate,
		"scaleUp", diff.ScaleUp,
		"scaleDown", diff.ScaleDown,
		"metricsChanged", diff.MetricsChanged)

	// Claim templates are immutable, so the StatefulSet keeps the storage it was created
	// with. Only the teardown behavior follows the desired state.
	applied := *c
	applied.Storage = cluster.ObservedStorage(sts)
	applied.Storage.DeleteClaim = c.Storage.DeleteClaim
	if diff.Storage.Unapplied() {
		logger.Info("Storage configuration changed and is not applied",
			"desired", c.Storage.String(), "observed", applied.Storage.String())
		logging.LogAuditEvent(logger, logging.EventStorageChangeSkip,
			logging.ClusterFields(constants.ClusterTypeKafka, c.Namespace, c.ClusterName, map[string]string{"component": c.Name}))
	}

	if diff.ScaleDown {
		if err := o.statefulSets.ScaleDown(ctx, c.Namespace, c.Name, c.Replicas); err != nil {
			return err
		}
	}

	for _, svc := range []*corev1.Service{c.HeadlessService(), c.Service()} {
		if err := o.services.Patch(ctx, c.Namespace, svc.Name, svc, true); err != nil {
			return err
		}
	}
	if err := o.statefulSets.Patch(ctx, c.Namespace, c.Name, applied.StatefulSet(), diff.RequiresRollingUpdate); err != nil {
		return err
	}
	if metricsConfigMap == nil {
		err = o.configMaps.Create(ctx, c.MetricsConfigMap())
	} else {
		err = o.configMaps.Patch(ctx, c.Namespace, c.MetricsConfigMapName(), c.MetricsConfigMap(), true)
	}
	if err != nil {
		return err
	}

	if diff.RequiresRollingUpdate {
		if err := o.rolling.RollingUpdate(ctx, c.Namespace, c.Name); err != nil {
			return err
		}
	}
	if diff.ScaleUp {
		if err := o.statefulSets.ScaleUp(ctx, c.Namespace, c.Name, c.Replicas); err != nil {
			return err
		}
	}

	logging.LogAuditEvent(logger, logging.EventClusterUpdate, logging.ClusterFields(
		constants.ClusterTypeKafka, c.Namespace, c.ClusterName, map[string]string{
			"component":      c.Name,
			"rolling_update": strconv.FormatBool(diff.RequiresRollingUpdate),
			"replicas":       strconv.Itoa(int(c.Replicas)),
		}))
	return nil
}

// Delete tears down one component given its StatefulSet. The claims are deleted too
// when the StatefulSet was created with delete-claim set.
func (o *KafkaOperations) Delete(ctx context.Context, resource client.Object) error {
	sts, ok := resource.(*appsv1.StatefulSet)
	if !ok {
		return unexpectedResource(constants.ClusterTypeKafka, resource)
	}
	namespace, name := sts.Namespace, sts.Name

	err := deleteAll(ctx, namespace,
		deleteTask{o.statefulSets, name},
		deleteTask{o.services, name},
		deleteTask{o.services, name + constants.SuffixHeadless},
		deleteTask{o.configMaps, cluster.MetricsConfigMapName(name)},
	)
	if !cluster.DeleteClaim(sts) {
		return err
	}

	errs := []error{err}
	claims, listErr := o.claims.List(ctx, namespace, cluster.SelectorLabels(sts.Labels[constants.LabelCluster], name))
	if listErr != nil {
		return utilerrors.NewAggregate(append(errs, listErr))
	}
	for _, claim := range claims {
		errs = append(errs, o.claims.Delete(ctx, namespace, claim.GetName()))
	}
	return utilerrors.NewAggregate(errs)
}

// Resources lists the StatefulSets of the clusters matching labels.
func (o *KafkaOperations) Resources(ctx context.Context, namespace string, labels map[string]string) ([]client.Object, error) {
	return o.statefulSets.List(ctx, namespace, labels)
}
