package cluster

import (
	"encoding/json"
	"fmt"
	"maps"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/yaml"

	"github.com/dc-tec/kafka-cluster-operator/internal/constants"
	operatorerrors "github.com/dc-tec/kafka-cluster-operator/internal/errors"
)

// StorageType selects how a stateful component keeps its data.
type StorageType string

const (
	StorageEphemeral       StorageType = "ephemeral"
	StoragePersistentClaim StorageType = "persistent-claim"
	StorageLocal           StorageType = "local"
)

// Storage is the storage configuration of a stateful component. It is written as
// JSON or YAML in the desired-state ConfigMap, e.g.
//
//	{"type": "persistent-claim", "size": "1Gi", "class": "ssd", "delete-claim": true}
type Storage struct {
	Type        StorageType        `json:"type"`
	Size        *resource.Quantity `json:"size,omitempty"`
	Class       *string            `json:"class,omitempty"`
	Selector    *StorageSelector   `json:"selector,omitempty"`
	DeleteClaim bool               `json:"delete-claim,omitempty"`
}

// StorageSelector restricts the volumes a claim may bind to. Only match labels are supported.
type StorageSelector struct {
	MatchLabels map[string]string `json:"match-labels,omitempty"`
}

// StorageDiffResult reports which storage facets differ.
type StorageDiffResult struct {
	Type         bool
	Size         bool
	StorageClass bool
	Selector     bool
	DeleteClaim  bool
}

// Different reports whether any storage facet differs.
func (r StorageDiffResult) Different() bool {
	return r.Type || r.Size || r.StorageClass || r.Selector || r.DeleteClaim
}

// Unapplied reports whether a facet differs that a live StatefulSet cannot take, since
// claim templates are immutable. The delete-claim policy is not one of them.
func (r StorageDiffResult) Unapplied() bool {
	return r.Type || r.Size || r.StorageClass || r.Selector
}

// EphemeralStorage is the storage used when none is configured.
func EphemeralStorage() Storage {
	return Storage{Type: StorageEphemeral}
}

// ParseStorage parses a storage document. An empty document means ephemeral storage.
func ParseStorage(raw string) (Storage, error) {
	if raw == "" {
		return EphemeralStorage(), nil
	}
	var s Storage
	if err := yaml.Unmarshal([]byte(raw), &s); err != nil {
		return Storage{}, operatorerrors.WrapPermanentConfig(fmt.Errorf("invalid storage configuration: %w", err))
	}
	switch s.Type {
	case StorageEphemeral, StoragePersistentClaim, StorageLocal:
	case "":
		return Storage{}, operatorerrors.WrapPermanentConfig(fmt.Errorf("storage %q is mandatory", "type"))
	default:
		return Storage{}, operatorerrors.WrapPermanentConfig(fmt.Errorf("unknown storage type %q", s.Type))
	}
	if s.Type == StoragePersistentClaim && s.Size == nil {
		return Storage{}, operatorerrors.WrapPermanentConfig(fmt.Errorf("storage %q is mandatory for %s", "size", s.Type))
	}
	return s, nil
}

// String renders the storage as JSON, the form stored in the workload annotation.
func (s Storage) String() string {
	out, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return string(out)
}

// StorageFromPersistentVolumeClaim extracts the storage of a claim or claim template.
func StorageFromPersistentVolumeClaim(pvc corev1.PersistentVolumeClaim) Storage {
	s := Storage{Type: StoragePersistentClaim, Class: pvc.Spec.StorageClassName}
	if size, ok := pvc.Spec.Resources.Requests[corev1.ResourceStorage]; ok {
		s.Size = ptr.To(size)
	}
	if pvc.Spec.Selector != nil {
		s.Selector = &StorageSelector{MatchLabels: maps.Clone(pvc.Spec.Selector.MatchLabels)}
	}
	return s
}

// VolumeClaimTemplate builds the claim template of a persistent-claim storage.
func (s Storage) VolumeClaimTemplate(labels map[string]string) corev1.PersistentVolumeClaim {
	pvc := corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:   constants.VolumeData,
			Labels: labels,
		},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes:      []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			StorageClassName: s.Class,
		},
	}
	if s.Size != nil {
		pvc.Spec.Resources.Requests = corev1.ResourceList{corev1.ResourceStorage: *s.Size}
	}
	if s.Selector != nil {
		pvc.Spec.Selector = &metav1.LabelSelector{MatchLabels: maps.Clone(s.Selector.MatchLabels)}
	}
	return pvc
}

// StorageDiff compares desired storage with observed storage.
func StorageDiff(desired, observed Storage) StorageDiffResult {
	return StorageDiffResult{
		Type:         desired.Type != observed.Type,
		Size:         !quantityEqual(desired.Size, observed.Size),
		StorageClass: !stringPtrEqual(desired.Class, observed.Class),
		Selector:     !selectorEqual(desired.Selector, observed.Selector),
		DeleteClaim:  desired.DeleteClaim != observed.DeleteClaim,
	}
}

// quantityEqual compares amounts, so "1Gi" equals "1024Mi".
func quantityEqual(a, b *resource.Quantity) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Cmp(*b) == 0
}

func stringPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// selectorEqual compares match labels as sets of pairs.
func selectorEqual(a, b *StorageSelector) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.MatchLabels == nil || b.MatchLabels == nil {
		return a.MatchLabels == nil && b.MatchLabels == nil
	}
	return maps.Equal(a.MatchLabels, b.MatchLabels)
}
