/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package controller

import (
	"k8s.io/apimachinery/pkg/api/equality"
	"k8s.io/apimachinery/pkg/labels"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/event"
	"sigs.k8s.io/controller-runtime/pkg/predicate"

	"github.com/dc-tec/kafka-cluster-operator/internal/constants"
)

// IsDesiredState reports whether obj is a desired-state ConfigMap of clusterType that
// also carries every label of selector.
func IsDesiredState(obj client.Object, clusterType string, selector map[string]string) bool {
	if obj == nil {
		return false
	}
	objLabels := obj.GetLabels()
	if objLabels[constants.LabelKind] != constants.LabelValueKindCluster ||
		objLabels[constants.LabelType] != clusterType {
		return false
	}
	return labels.SelectorFromSet(selector).Matches(labels.Set(objLabels))
}

// DesiredStatePredicate filters ConfigMap events down to the desired state of
// clusterType clusters selected by selector.
//
// The predicate allows reconciliation when:
//   - A matching ConfigMap is created or deleted
//   - A ConfigMap starts or stops matching (labels changed)
//   - The data, labels or annotations of a matching ConfigMap change
//
// Resyncs of unchanged ConfigMaps are filtered out; the periodic sweep covers them.
func DesiredStatePredicate(clusterType string, selector map[string]string) predicate.Predicate {
	matches := func(obj client.Object) bool {
		return IsDesiredState(obj, clusterType, selector)
	}
	return predicate.Funcs{
		CreateFunc: func(e event.CreateEvent) bool {
			return matches(e.Object)
		},
		DeleteFunc: func(e event.DeleteEvent) bool {
			return matches(e.Object)
		},
		UpdateFunc: func(e event.UpdateEvent) bool {
			oldMatches, newMatches := matches(e.ObjectOld), matches(e.ObjectNew)
			if !oldMatches && !newMatches {
				return false
			}
			if oldMatches != newMatches {
				return true
			}
			if !equality.Semantic.DeepEqual(e.ObjectOld.GetLabels(), e.ObjectNew.GetLabels()) {
				return true
			}
			if !equality.Semantic.DeepEqual(e.ObjectOld.GetAnnotations(), e.ObjectNew.GetAnnotations()) {
				return true
			}
			// ConfigMaps carry no generation; the resource version moves on every write
			// to the data.
			return e.ObjectOld.GetResourceVersion() != e.ObjectNew.GetResourceVersion()
		},
		GenericFunc: func(e event.GenericEvent) bool {
			return matches(e.Object)
		},
	}
}

// ClusterResourceDeletedPredicate passes deletions of resources that belong to a
// clusterType cluster, so that a workload removed behind the operator's back is
// recreated without waiting for the next sweep.
//
// Creates and updates are filtered out: the operator causes almost all of them
// itself, and reacting would only contend for the cluster lock.
func ClusterResourceDeletedPredicate(clusterType string) predicate.Predicate {
	owned := func(obj client.Object) bool {
		if obj == nil {
			return false
		}
		objLabels := obj.GetLabels()
		return objLabels[constants.LabelCluster] != "" && objLabels[constants.LabelType] == clusterType
	}
	return predicate.Funcs{
		CreateFunc: func(e event.CreateEvent) bool {
			return false
		},
		DeleteFunc: func(e event.DeleteEvent) bool {
			return owned(e.Object)
		},
		UpdateFunc: func(e event.UpdateEvent) bool {
			return false
		},
		GenericFunc: func(e event.GenericEvent) bool {
			return owned(e.Object)
		},
	}
}
