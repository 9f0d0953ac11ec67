package clusterops

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/dc-tec/kafka-cluster-operator/internal/cluster"
	"github.com/dc-tec/kafka-cluster-operator/internal/constants"
	"github.com/dc-tec/kafka-cluster-operator/internal/kube"
	"github.com/dc-tec/kafka-cluster-operator/internal/operationlock"
	"github.com/dc-tec/kafka-cluster-operator/internal/reconcile"
)

var _ = Describe("Kafka cluster reconciliation", func() {
	var (
		ctx    context.Context
		sim    *simulator
		c      client.WithWatch
		ops    *KafkaOperations
		engine *reconcile.Engine
	)

	setup := func(objs ...client.Object) {
		sim = &simulator{}
		c = sim.build(objs...)
		ops = NewKafkaOperations(c, nil, fastRolling, fastOptions)
		engine = reconcile.NewEngine(
			kube.NewResourceOperations(c, nil, kube.ConfigMapKind()),
			ops,
			operationlock.NewMemoryLocker(),
			reconcile.Options{LockTimeout: time.Second},
		)
	}

	exists := func(obj client.Object, name string) bool {
		err := c.Get(ctx, client.ObjectKey{Namespace: testNamespace, Name: name}, obj)
		if apierrors.IsNotFound(err) {
			return false
		}
		Expect(err).NotTo(HaveOccurred())
		return true
	}

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("creates the full resource set of a new cluster", func() {
		setup(desiredConfigMap("kafka1", constants.ClusterTypeKafka, nil))

		result, err := engine.Reconcile(ctx, testNamespace, "kafka1")
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Operation).To(Equal(reconcile.OperationCreate))

		for _, component := range []string{"kafka1-zookeeper", "kafka1-kafka"} {
			By("checking " + component)
			sts := &appsv1.StatefulSet{}
			Expect(exists(sts, component)).To(BeTrue())
			Expect(sts.Labels).To(HaveKeyWithValue(constants.LabelCluster, "kafka1"))
			Expect(sts.Labels).To(HaveKeyWithValue(constants.LabelType, constants.ClusterTypeKafka))
			Expect(exists(&corev1.Service{}, component)).To(BeTrue())
			Expect(exists(&corev1.Service{}, component+constants.SuffixHeadless)).To(BeTrue())
			Expect(exists(&corev1.ConfigMap{}, cluster.MetricsConfigMapName(component))).To(BeTrue())
		}

		kafka := &appsv1.StatefulSet{}
		Expect(exists(kafka, "kafka1-kafka")).To(BeTrue())
		Expect(*kafka.Spec.Replicas).To(Equal(int32(cluster.DefaultKafkaReplicas)))
	})

	It("deletes every observed resource of a cluster without desired state and joins", func() {
		setup(desiredConfigMap("kafka1", constants.ClusterTypeKafka, nil))
		Expect(ops.Create(ctx, desiredConfigMap("kafka1", constants.ClusterTypeKafka, nil))).To(Succeed())
		Expect(c.Delete(ctx, desiredConfigMap("kafka1", constants.ClusterTypeKafka, nil))).To(Succeed())

		sim.deleteDelay = map[string]time.Duration{"kafka1-kafka": 100 * time.Millisecond}

		result, err := engine.Reconcile(ctx, testNamespace, "kafka1")
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Operation).To(Equal(reconcile.OperationDelete))

		By("returning only once both deletions have finished")
		Expect(sim.deletesInFlight()).To(BeZero())
		Expect(exists(&appsv1.StatefulSet{}, "kafka1-kafka")).To(BeFalse())
		Expect(exists(&appsv1.StatefulSet{}, "kafka1-zookeeper")).To(BeFalse())
		Expect(sim.deleted()).To(ContainElements("kafka1-kafka", "kafka1-zookeeper"))
	})

	It("reports a scale up without a rolling update", func() {
		k, err := cluster.KafkaFromConfigMap(desiredConfigMap("kafka1", constants.ClusterTypeKafka, map[string]string{
			cluster.KeyKafkaReplicas: "3",
		}))
		Expect(err).NotTo(HaveOccurred())
		live := k.Kafka.StatefulSet()

		desired, err := cluster.KafkaFromConfigMap(desiredConfigMap("kafka1", constants.ClusterTypeKafka, map[string]string{
			cluster.KeyKafkaReplicas: "5",
		}))
		Expect(err).NotTo(HaveOccurred())

		diff, err := desired.Kafka.Diff(ctx, live, k.Kafka.MetricsConfigMap())
		Expect(err).NotTo(HaveOccurred())
		Expect(diff.ScaleUp).To(BeTrue())
		Expect(diff.Different).To(BeTrue())
		Expect(diff.RequiresRollingUpdate).To(BeFalse())
	})

	It("sweeps the union of desired and observed clusters", func() {
		setup(
			desiredConfigMap("a", constants.ClusterTypeKafka, nil),
			desiredConfigMap("b", constants.ClusterTypeKafka, nil),
		)
		Expect(ops.Create(ctx, desiredConfigMap("b", constants.ClusterTypeKafka, nil))).To(Succeed())
		Expect(ops.Create(ctx, desiredConfigMap("c", constants.ClusterTypeKafka, nil))).To(Succeed())

		results, err := engine.ReconcileAll(ctx, testNamespace, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(3))
		Expect(results["a"].Operation).To(Equal(reconcile.OperationCreate))
		Expect(results["b"].Operation).To(Equal(reconcile.OperationUpdate))
		Expect(results["c"].Operation).To(Equal(reconcile.OperationDelete))

		Expect(exists(&appsv1.StatefulSet{}, "a-kafka")).To(BeTrue())
		Expect(exists(&appsv1.StatefulSet{}, "b-kafka")).To(BeTrue())
		Expect(exists(&appsv1.StatefulSet{}, "c-kafka")).To(BeFalse())
	})
})
