package kube

import (
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// OpenShift kinds are handled as unstructured objects so the operator does not need
// the OpenShift API types compiled in.
var (
	BuildConfigGVK      = schema.GroupVersionKind{Group: "build.openshift.io", Version: "v1", Kind: "BuildConfig"}
	ImageStreamGVK      = schema.GroupVersionKind{Group: "image.openshift.io", Version: "v1", Kind: "ImageStream"}
	DeploymentConfigGVK = schema.GroupVersionKind{Group: "apps.openshift.io", Version: "v1", Kind: "DeploymentConfig"}
)

// ConfigMapKind describes ConfigMaps.
func ConfigMapKind() Kind {
	return Kind{
		Name:    "ConfigMap",
		New:     func() client.Object { return &corev1.ConfigMap{} },
		NewList: func() client.ObjectList { return &corev1.ConfigMapList{} },
	}
}

// ServiceKind describes Services. The allocated cluster IP is immutable.
func ServiceKind() Kind {
	return Kind{
		Name:    "Service",
		New:     func() client.Object { return &corev1.Service{} },
		NewList: func() client.ObjectList { return &corev1.ServiceList{} },
		Preserve: [][]string{
			{"spec", "clusterIP"},
			{"spec", "clusterIPs"},
		},
	}
}

// PodKind describes Pods.
func PodKind() Kind {
	return Kind{
		Name:    "Pod",
		New:     func() client.Object { return &corev1.Pod{} },
		NewList: func() client.ObjectList { return &corev1.PodList{} },
		Ready:   PodReady,
	}
}

// PersistentVolumeClaimKind describes PVCs. They are only ever created by StatefulSet
// volume claim templates, so create and patch are rejected.
func PersistentVolumeClaimKind() Kind {
	return Kind{
		Name:     "PersistentVolumeClaim",
		New:      func() client.Object { return &corev1.PersistentVolumeClaim{} },
		NewList:  func() client.ObjectList { return &corev1.PersistentVolumeClaimList{} },
		ReadOnly: true,
	}
}

// StatefulSetKind describes StatefulSets. Replicas are owned by the scale operations
// and the selector, service name and claim templates are immutable.
func StatefulSetKind() Kind {
	return Kind{
		Name:    "StatefulSet",
		New:     func() client.Object { return &appsv1.StatefulSet{} },
		NewList: func() client.ObjectList { return &appsv1.StatefulSetList{} },
		Ready:   StatefulSetReady,
		Preserve: [][]string{
			{"spec", "replicas"},
			{"spec", "selector"},
			{"spec", "serviceName"},
			{"spec", "volumeClaimTemplates"},
			{"spec", "podManagementPolicy"},
		},
	}
}

// DeploymentKind describes Deployments.
func DeploymentKind() Kind {
	return Kind{
		Name:    "Deployment",
		New:     func() client.Object { return &appsv1.Deployment{} },
		NewList: func() client.ObjectList { return &appsv1.DeploymentList{} },
		Ready:   DeploymentReady,
		Preserve: [][]string{
			{"spec", "replicas"},
			{"spec", "selector"},
		},
	}
}

// BuildConfigKind describes OpenShift BuildConfigs.
func BuildConfigKind() Kind {
	return unstructuredKind(BuildConfigGVK, nil)
}

// ImageStreamKind describes OpenShift ImageStreams.
func ImageStreamKind() Kind {
	return unstructuredKind(ImageStreamGVK, nil)
}

// DeploymentConfigKind describes OpenShift DeploymentConfigs.
func DeploymentConfigKind() Kind {
	kind := unstructuredKind(DeploymentConfigGVK, UnstructuredReplicasReady)
	kind.Preserve = [][]string{{"spec", "replicas"}}
	return kind
}

func unstructuredKind(gvk schema.GroupVersionKind, ready ReadyFunc) Kind {
	listGVK := gvk.GroupVersion().WithKind(gvk.Kind + "List")
	return Kind{
		Name: gvk.Kind,
		New: func() client.Object {
			u := &unstructured.Unstructured{}
			u.SetGroupVersionKind(gvk)
			return u
		},
		NewList: func() client.ObjectList {
			list := &unstructured.UnstructuredList{}
			list.SetGroupVersionKind(listGVK)
			return list
		},
		Ready: ready,
	}
}
