package cluster

import (
	"context"
	"fmt"

	"github.com/google/go-cmp/cmp"
	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/log"

	operatorerrors "github.com/dc-tec/kafka-cluster-operator/internal/errors"
)

// DiffResult is the comparison of a desired cluster component with its live resources.
// Facets are independent, except that Different is set whenever any other facet is.
type DiffResult struct {
	Different             bool
	RequiresRollingUpdate bool
	ScaleUp               bool
	ScaleDown             bool
	MetricsChanged        bool
	Storage               StorageDiffResult

	// applicable is set when a facet other than an unapplied storage change differs.
	applicable bool
}

// NewDiffResult builds a DiffResult. A metrics change requires a rolling update, since
// metrics are read by the containers at start up, and any facet implies Different.
func NewDiffResult(different, rollingUpdate, scaleUp, scaleDown, metricsChanged bool, storage StorageDiffResult) DiffResult {
	if scaleUp && scaleDown {
		panic("cluster: scale up and scale down are mutually exclusive")
	}
	rollingUpdate = rollingUpdate || metricsChanged
	applicable := different || rollingUpdate || scaleUp || scaleDown || storage.DeleteClaim
	return DiffResult{
		Different:             different || rollingUpdate || scaleUp || scaleDown || storage.Different(),
		RequiresRollingUpdate: rollingUpdate,
		ScaleUp:               scaleUp,
		ScaleDown:             scaleDown,
		MetricsChanged:        metricsChanged,
		Storage:               storage,
		applicable:            applicable,
	}
}

// OnlyUnappliedStorageChanged reports whether the sole difference is a storage change
// that a live StatefulSet cannot take. Such a difference persists until the component
// is recreated, so there is nothing to patch.
func (d DiffResult) OnlyUnappliedStorageChanged() bool {
	return d.Storage.Unapplied() && !d.applicable
}

// OnlyMetadataChanged reports whether the difference can be applied without touching
// the pod template.
func (d DiffResult) OnlyMetadataChanged() bool {
	return d.Different && !d.RequiresRollingUpdate && !d.ScaleUp && !d.ScaleDown
}

// diffBuilder accumulates facets while comparing and logs each detected difference.
type diffBuilder struct {
	ctx            context.Context
	component      string
	different      bool
	rollingUpdate  bool
	scaleUp        bool
	scaleDown      bool
	metricsChanged bool
	storage        StorageDiffResult
}

func newDiffBuilder(ctx context.Context, component string) *diffBuilder {
	return &diffBuilder{ctx: ctx, component: component}
}

func (b *diffBuilder) log(msg string, expected, actual any) {
	log.FromContext(b.ctx).V(1).Info("Diff: "+msg, "component", b.component, "diff", cmp.Diff(expected, actual))
}

func (b *diffBuilder) replicas(desired, observed int32) {
	switch {
	case desired > observed:
		b.log("replicas", desired, observed)
		b.scaleUp = true
	case desired < observed:
		b.log("replicas", desired, observed)
		b.scaleDown = true
	}
}

func (b *diffBuilder) labels(desired, observed map[string]string) {
	if !LabelsEqual(desired, observed) {
		b.log("labels", desired, observed)
		b.different = true
	}
}

// settings compares desired environment settings with the container environment.
func (b *diffBuilder) settings(settings []setting, desired []corev1.EnvVar, container corev1.Container) {
	observed := envMap(container)
	want := make(map[string]string, len(desired))
	for _, e := range desired {
		want[e.Name] = e.Value
	}

	for _, s := range settings {
		got, err := s.resolve(observed)
		if err != nil || got != want[s.Name] {
			b.log("configuration "+s.Name, want[s.Name], observed[s.Name])
			b.different = true
			b.rollingUpdate = true
		}
	}
}

func (b *diffBuilder) env(name, desired string, container corev1.Container) {
	if got := envMap(container)[name]; got != desired {
		b.log("environment "+name, desired, got)
		b.different = true
		b.rollingUpdate = true
	}
}

func (b *diffBuilder) healthCheck(desiredDelay, desiredTimeout int32, container corev1.Container) error {
	probe := container.ReadinessProbe
	if probe == nil {
		return fmt.Errorf("%w: %s container %q has no readiness probe", operatorerrors.ErrDiffComputation, b.component, container.Name)
	}
	if probe.InitialDelaySeconds != desiredDelay || probe.TimeoutSeconds != desiredTimeout {
		b.log("healthcheck timing",
			[]int32{desiredDelay, desiredTimeout},
			[]int32{probe.InitialDelaySeconds, probe.TimeoutSeconds})
		b.different = true
		b.rollingUpdate = true
	}
	return nil
}

func (b *diffBuilder) image(desired, observed string) {
	if desired != observed {
		b.log("image", desired, observed)
		b.different = true
		b.rollingUpdate = true
	}
}

// field marks a difference that is applied by a patch alone.
func (b *diffBuilder) field(msg, desired, observed string) {
	if desired != observed {
		b.log(msg, desired, observed)
		b.different = true
	}
}

func (b *diffBuilder) metrics(desired, observed map[string]any) {
	if !MetricsConfigEqual(desired, observed) {
		b.log("metrics configuration", desired, observed)
		b.metricsChanged = true
	}
}

func (b *diffBuilder) storageDiff(desired, observed Storage) {
	b.storage = StorageDiff(desired, observed)
	if b.storage.Different() {
		b.log("storage", desired.String(), observed.String())
	}
}

func (b *diffBuilder) result() DiffResult {
	return NewDiffResult(b.different, b.rollingUpdate, b.scaleUp, b.scaleDown, b.metricsChanged, b.storage)
}

// firstContainer returns the first container of a pod template.
func firstContainer(component string, spec corev1.PodSpec) (corev1.Container, error) {
	if len(spec.Containers) == 0 {
		return corev1.Container{}, fmt.Errorf("%w: %s pod template has no containers", operatorerrors.ErrDiffComputation, component)
	}
	return spec.Containers[0], nil
}
