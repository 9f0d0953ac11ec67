package clusterops

import (
	"context"
	"fmt"
	"sync"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/watch"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	"github.com/dc-tec/kafka-cluster-operator/internal/constants"
	"github.com/dc-tec/kafka-cluster-operator/internal/kube"
	"github.com/dc-tec/kafka-cluster-operator/internal/upgrade/rolling"
)

const testNamespace = "ns"

// testScheme knows the OpenShift kinds as unstructured objects.
var testScheme = func() *runtime.Scheme {
	scheme := runtime.NewScheme()
	_ = clientgoscheme.AddToScheme(scheme)
	for _, gvk := range openShiftGVKs {
		scheme.AddKnownTypeWithName(gvk, &unstructured.Unstructured{})
		scheme.AddKnownTypeWithName(gvk.GroupVersion().WithKind(gvk.Kind+"List"), &unstructured.UnstructuredList{})
	}
	return scheme
}()

var openShiftGVKs = []schema.GroupVersionKind{kube.DeploymentConfigGVK, kube.ImageStreamGVK, kube.BuildConfigGVK}

var fastOptions = Options{ReadyPollInterval: 10 * time.Millisecond, ReadyTimeout: 2 * time.Second}

var fastRolling = rolling.Options{
	DeleteTimeout:         2 * time.Second,
	PodReadyTimeout:       2 * time.Second,
	PodReadyCheckInterval: 10 * time.Millisecond,
}

// simulator stands in for the workload controllers: new StatefulSets and Deployments
// become ready at once, StatefulSet members exist as ready pods, and a deleted member
// is reported on the open pod watch and comes back with a new UID.
type simulator struct {
	mu         sync.Mutex
	watcher    *watch.RaceFreeFakeWatcher
	generation int
	podDeletes []string
	deletes    []string
	// deleteDelay holds back the deletion of the named resources.
	deleteDelay map[string]time.Duration
	// deleteErr fails the deletion of the named resources.
	deleteErr map[string]error
	// inFlight counts deletions currently held back by deleteDelay.
	inFlight int
}

func (s *simulator) build(objs ...client.Object) client.WithWatch {
	return fake.NewClientBuilder().
		WithScheme(testScheme).
		WithObjects(objs...).
		WithInterceptorFuncs(interceptor.Funcs{
			Create: s.create,
			Watch: func(ctx context.Context, c client.WithWatch, list client.ObjectList, opts ...client.ListOption) (watch.Interface, error) {
				s.mu.Lock()
				defer s.mu.Unlock()
				s.watcher = watch.NewRaceFreeFake()
				return s.watcher, nil
			},
			Delete: s.delete,
		}).
		Build()
}

func (s *simulator) create(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.CreateOption) error {
	if err := c.Create(ctx, obj, opts...); err != nil {
		return err
	}
	switch o := obj.(type) {
	case *appsv1.StatefulSet:
		replicas := ptr.Deref(o.Spec.Replicas, 1)
		o.Status.Replicas = replicas
		o.Status.ReadyReplicas = replicas
		if err := c.Status().Update(ctx, o); err != nil {
			return err
		}
		for i := range replicas {
			if err := s.createPod(ctx, c, fmt.Sprintf("%s-%d", o.Name, i), o.Labels); err != nil {
				return err
			}
		}
	case *appsv1.Deployment:
		replicas := ptr.Deref(o.Spec.Replicas, 1)
		o.Status.Replicas = replicas
		o.Status.ReadyReplicas = replicas
		return c.Status().Update(ctx, o)
	}
	return nil
}

func (s *simulator) createPod(ctx context.Context, c client.Client, name string, labels map[string]string) error {
	s.mu.Lock()
	s.generation++
	uid := types.UID(fmt.Sprintf("%s-gen-%d", name, s.generation))
	s.mu.Unlock()

	pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: testNamespace, UID: uid, Labels: labels}}
	if err := c.Create(ctx, pod); err != nil {
		return err
	}
	pod.Status.Conditions = []corev1.PodCondition{{Type: corev1.PodReady, Status: corev1.ConditionTrue}}
	return c.Status().Update(ctx, pod)
}

func (s *simulator) delete(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.DeleteOption) error {
	name := obj.GetName()
	s.mu.Lock()
	delay, err := s.deleteDelay[name], s.deleteErr[name]
	if delay > 0 {
		s.inFlight++
	}
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}
	if err != nil {
		return err
	}

	pod, isPod := obj.(*corev1.Pod)
	var live corev1.Pod
	if isPod {
		if err := c.Get(ctx, client.ObjectKeyFromObject(pod), &live); err != nil {
			return err
		}
	}
	if err := c.Delete(ctx, obj, opts...); err != nil {
		return err
	}

	s.mu.Lock()
	s.deletes = append(s.deletes, name)
	w := s.watcher
	if isPod {
		s.podDeletes = append(s.podDeletes, name)
	}
	s.mu.Unlock()

	if !isPod {
		return nil
	}
	if w != nil {
		w.Delete(&live)
	}
	return s.createPod(ctx, c, pod.Name, live.Labels)
}

func (s *simulator) deleted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deletes...)
}

func (s *simulator) rolledPods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.podDeletes...)
}

func (s *simulator) deletesInFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

func desiredConfigMap(name, clusterType string, data map[string]string) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: testNamespace,
			Labels: map[string]string{
				constants.LabelKind: constants.LabelValueKindCluster,
				constants.LabelType: clusterType,
			},
		},
		Data: data,
	}
}
