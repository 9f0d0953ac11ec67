package kube

import (
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// ReadyFunc reports whether a live object is ready. Kinds without a readiness
// concept use a nil ReadyFunc and are ready as soon as they exist.
type ReadyFunc func(obj client.Object) bool

// PodReady reports whether a Pod has the Ready condition set to True.
func PodReady(obj client.Object) bool {
	pod, ok := obj.(*corev1.Pod)
	if !ok || pod == nil {
		return false
	}
	if pod.DeletionTimestamp != nil {
		return false
	}
	for _, condition := range pod.Status.Conditions {
		if condition.Type == corev1.PodReady && condition.Status == corev1.ConditionTrue {
			return true
		}
	}
	return false
}

// StatefulSetReady reports whether every desired replica of a StatefulSet is ready.
func StatefulSetReady(obj client.Object) bool {
	sts, ok := obj.(*appsv1.StatefulSet)
	if !ok || sts == nil {
		return false
	}
	desired := int32(1)
	if sts.Spec.Replicas != nil {
		desired = *sts.Spec.Replicas
	}
	return sts.Status.ReadyReplicas >= desired
}

// DeploymentReady reports whether every desired replica of a Deployment is ready.
func DeploymentReady(obj client.Object) bool {
	deployment, ok := obj.(*appsv1.Deployment)
	if !ok || deployment == nil {
		return false
	}
	desired := int32(1)
	if deployment.Spec.Replicas != nil {
		desired = *deployment.Spec.Replicas
	}
	return deployment.Status.ReadyReplicas >= desired
}

// UnstructuredReplicasReady compares status.readyReplicas with spec.replicas on
// unstructured workloads such as OpenShift DeploymentConfigs.
func UnstructuredReplicasReady(obj client.Object) bool {
	u, ok := obj.(*unstructured.Unstructured)
	if !ok || u == nil {
		return false
	}
	desired, found, err := unstructured.NestedInt64(u.Object, "spec", "replicas")
	if err != nil {
		return false
	}
	if !found {
		desired = 1
	}
	ready, _, err := unstructured.NestedInt64(u.Object, "status", "readyReplicas")
	if err != nil {
		return false
	}
	return ready >= desired
}
