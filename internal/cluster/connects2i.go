package cluster

import (
	"context"
	"fmt"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/utils/ptr"

	"github.com/dc-tec/kafka-cluster-operator/internal/constants"
	operatorerrors "github.com/dc-tec/kafka-cluster-operator/internal/errors"
	"github.com/dc-tec/kafka-cluster-operator/internal/kube"
)

// DefaultConnectS2IImage is the builder image of kafka-connect-s2i clusters.
const DefaultConnectS2IImage = "strimzi/kafka-connect-s2i:latest"

const (
	triggerConfigChange = "ConfigChange"
	triggerImageChange  = "ImageChange"
	kindImageStreamTag  = "ImageStreamTag"
	kindDockerImage     = "DockerImage"
)

// ConnectS2ICluster is a Kafka Connect cluster whose image is built in-cluster with
// OpenShift source-to-image. The configured image is the builder; the workload runs
// the build output, tracked through the target ImageStream.
type ConnectS2ICluster struct {
	ConnectCluster
	SourceImageBaseName string
	SourceImageTag      string
	// Tag is the tag of the build output in the target ImageStream.
	Tag string
}

// ConnectS2IFromConfigMap parses the desired state of a kafka-connect-s2i cluster.
func ConnectS2IFromConfigMap(cm *corev1.ConfigMap) (*ConnectS2ICluster, error) {
	connect, err := connectFromConfigMap(cm, constants.ClusterTypeKafkaConnectS2I, DefaultConnectS2IImage)
	if err != nil {
		return nil, err
	}
	c := &ConnectS2ICluster{ConnectCluster: *connect, Tag: constants.DefaultImageStreamTag}
	c.SourceImageBaseName, c.SourceImageTag = splitImage(connect.Image)
	c.Image = c.Name + ":" + c.Tag
	return c, nil
}

// splitImage splits an image reference at the last colon. A reference without a tag
// is treated as latest.
func splitImage(image string) (string, string) {
	i := strings.LastIndex(image, ":")
	if i < 0 || strings.Contains(image[i:], "/") {
		return image, constants.DefaultImageStreamTag
	}
	return image[:i], image[i+1:]
}

// SourceImageStreamName returns the name of the ImageStream holding the builder image.
func (c *ConnectS2ICluster) SourceImageStreamName() string {
	return c.Name + constants.SuffixSourceStream
}

func (c *ConnectS2ICluster) sourceImage() string {
	return c.SourceImageBaseName + ":" + c.SourceImageTag
}

func (c *ConnectS2ICluster) sourceImageStreamTag() string {
	return c.SourceImageStreamName() + ":" + c.SourceImageTag
}

func newUnstructured(gvk schema.GroupVersionKind, namespace, name string, labels map[string]string) *unstructured.Unstructured {
	u := &unstructured.Unstructured{Object: map[string]any{}}
	u.SetGroupVersionKind(gvk)
	u.SetNamespace(namespace)
	u.SetName(name)
	u.SetLabels(labels)
	return u
}

// DeploymentConfig builds the DeploymentConfig running the build output. An image
// change trigger rolls it out whenever the build pushes a new image.
func (c *ConnectS2ICluster) DeploymentConfig() (*unstructured.Unstructured, error) {
	labels := c.labelsWithName()
	container, err := runtime.DefaultUnstructuredConverter.ToUnstructured(ptr.To(c.Container(c.Image)))
	if err != nil {
		return nil, err
	}

	dc := newUnstructured(kube.DeploymentConfigGVK, c.Namespace, c.Name, labels)
	dc.Object["spec"] = map[string]any{
		"replicas": int64(c.Replicas),
		"selector": stringMap(SelectorLabels(c.ClusterName, c.Name)),
		"template": map[string]any{
			"metadata": map[string]any{"labels": stringMap(labels)},
			"spec":     map[string]any{"containers": []any{container}},
		},
		"triggers": []any{
			map[string]any{"type": triggerConfigChange},
			map[string]any{
				"type": triggerImageChange,
				"imageChangeParams": map[string]any{
					"automatic":      true,
					"containerNames": []any{c.Name},
					"from": map[string]any{
						"kind": kindImageStreamTag,
						"name": c.Image,
					},
				},
			},
		},
		"strategy": map[string]any{
			"type": "Rolling",
			"rollingParams": map[string]any{
				"maxSurge":       int64(1),
				"maxUnavailable": int64(0),
			},
		},
	}
	return dc, nil
}

// SourceImageStream builds the ImageStream importing the builder image.
func (c *ConnectS2ICluster) SourceImageStream() *unstructured.Unstructured {
	name := c.SourceImageStreamName()
	is := newUnstructured(kube.ImageStreamGVK, c.Namespace, name, WithName(c.Labels, name))
	is.Object["spec"] = map[string]any{
		"lookupPolicy": map[string]any{"local": false},
		"tags": []any{
			map[string]any{
				"name": c.SourceImageTag,
				"from": map[string]any{"kind": kindDockerImage, "name": c.sourceImage()},
			},
		},
	}
	return is
}

// TargetImageStream builds the ImageStream receiving the build output.
func (c *ConnectS2ICluster) TargetImageStream() *unstructured.Unstructured {
	is := newUnstructured(kube.ImageStreamGVK, c.Namespace, c.Name, c.labelsWithName())
	is.Object["spec"] = map[string]any{
		"lookupPolicy": map[string]any{"local": true},
	}
	return is
}

// BuildConfig builds the binary source-to-image BuildConfig.
func (c *ConnectS2ICluster) BuildConfig() *unstructured.Unstructured {
	bc := newUnstructured(kube.BuildConfigGVK, c.Namespace, c.Name, c.labelsWithName())
	bc.Object["spec"] = map[string]any{
		"failedBuildsHistoryLimit": int64(5),
		"runPolicy":                "Serial",
		"output": map[string]any{
			"to": map[string]any{"kind": kindImageStreamTag, "name": c.Image},
		},
		"source": map[string]any{
			"type":   "Binary",
			"binary": map[string]any{},
		},
		"strategy": map[string]any{
			"type": "Source",
			"sourceStrategy": map[string]any{
				"from": map[string]any{"kind": kindImageStreamTag, "name": c.sourceImageStreamTag()},
			},
		},
		"triggers": []any{
			map[string]any{"type": triggerConfigChange},
			map[string]any{"type": triggerImageChange, "imageChange": map[string]any{}},
		},
	}
	return bc
}

// Diff compares the cluster with its live DeploymentConfig, ImageStreams and
// BuildConfig. Build wiring changes are applied by patches and never roll the pods
// directly; the image change trigger takes care of that.
func (c *ConnectS2ICluster) Diff(ctx context.Context, dc, sourceStream, targetStream, bc *unstructured.Unstructured) (DiffResult, error) {
	b := newDiffBuilder(ctx, c.Name)

	replicas, found, err := unstructured.NestedInt64(dc.Object, "spec", "replicas")
	if err != nil {
		return DiffResult{}, diffError(c.Name, "DeploymentConfig replicas", err)
	}
	if !found {
		replicas = 1
	}
	b.replicas(c.Replicas, int32(replicas))
	b.labels(c.labelsWithName(), dc.GetLabels())

	template, err := podTemplate(dc)
	if err != nil {
		return DiffResult{}, diffError(c.Name, "DeploymentConfig template", err)
	}
	container, err := firstContainer(c.Name, template.Spec)
	if err != nil {
		return DiffResult{}, err
	}
	if err := c.diffContainer(b, container); err != nil {
		return DiffResult{}, err
	}

	trigger, err := imageTrigger(dc)
	if err != nil {
		return DiffResult{}, diffError(c.Name, "DeploymentConfig triggers", err)
	}
	b.field("image trigger", c.Image, trigger)

	b.labels(WithName(c.Labels, c.SourceImageStreamName()), sourceStream.GetLabels())
	b.labels(c.labelsWithName(), targetStream.GetLabels())
	b.labels(c.labelsWithName(), bc.GetLabels())

	output, _, _ := unstructured.NestedString(bc.Object, "spec", "output", "to", "name")
	b.field("build output", c.Image, output)
	from, _, _ := unstructured.NestedString(bc.Object, "spec", "strategy", "sourceStrategy", "from", "name")
	b.field("build source", c.sourceImageStreamTag(), from)

	tagName, tagFrom, err := firstTag(sourceStream)
	if err != nil {
		return DiffResult{}, diffError(c.Name, "source ImageStream tags", err)
	}
	b.field("source image tag", c.SourceImageTag, tagName)
	b.field("source image", c.sourceImage(), tagFrom)

	return b.result(), nil
}

// PatchDeploymentConfig applies the desired state to a copy of the live
// DeploymentConfig. The container image and triggers are left alone, since they are
// owned by the image change trigger and resetting them breaks rollouts.
func (c *ConnectS2ICluster) PatchDeploymentConfig(live *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	dc := live.DeepCopy()
	labels := c.labelsWithName()
	dc.SetLabels(labels)
	if err := unstructured.SetNestedStringMap(dc.Object, labels, "spec", "template", "metadata", "labels"); err != nil {
		return nil, err
	}

	containers, found, err := unstructured.NestedSlice(dc.Object, "spec", "template", "spec", "containers")
	if err != nil || !found || len(containers) == 0 {
		return nil, diffError(c.Name, "DeploymentConfig containers", err)
	}
	desired := c.Container(c.Image)
	first, ok := containers[0].(map[string]any)
	if !ok {
		return nil, diffError(c.Name, "DeploymentConfig containers", nil)
	}
	for field, value := range map[string]any{
		"env":            desired.Env,
		"livenessProbe":  desired.LivenessProbe,
		"readinessProbe": desired.ReadinessProbe,
	} {
		converted, err := toUnstructuredValue(value)
		if err != nil {
			return nil, err
		}
		first[field] = converted
	}
	containers[0] = first
	if err := unstructured.SetNestedSlice(dc.Object, containers, "spec", "template", "spec", "containers"); err != nil {
		return nil, err
	}
	return dc, nil
}

// PatchSourceImageStream applies the desired builder image to a copy of the live
// source ImageStream.
func (c *ConnectS2ICluster) PatchSourceImageStream(live *unstructured.Unstructured) *unstructured.Unstructured {
	is := live.DeepCopy()
	is.SetLabels(WithName(c.Labels, c.SourceImageStreamName()))
	_ = unstructured.SetNestedSlice(is.Object, []any{
		map[string]any{
			"name": c.SourceImageTag,
			"from": map[string]any{"kind": kindDockerImage, "name": c.sourceImage()},
		},
	}, "spec", "tags")
	return is
}

// PatchTargetImageStream applies the desired labels to a copy of the live target
// ImageStream.
func (c *ConnectS2ICluster) PatchTargetImageStream(live *unstructured.Unstructured) *unstructured.Unstructured {
	is := live.DeepCopy()
	is.SetLabels(c.labelsWithName())
	return is
}

// PatchBuildConfig applies the desired builder image to a copy of the live BuildConfig.
func (c *ConnectS2ICluster) PatchBuildConfig(live *unstructured.Unstructured) *unstructured.Unstructured {
	bc := live.DeepCopy()
	bc.SetLabels(c.labelsWithName())
	_ = unstructured.SetNestedField(bc.Object, c.sourceImageStreamTag(), "spec", "strategy", "sourceStrategy", "from", "name")
	return bc
}

func podTemplate(obj *unstructured.Unstructured) (*corev1.PodTemplateSpec, error) {
	raw, found, err := unstructured.NestedMap(obj.Object, "spec", "template")
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("spec.template is missing")
	}
	template := &corev1.PodTemplateSpec{}
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(raw, template); err != nil {
		return nil, err
	}
	return template, nil
}

// imageTrigger returns the image stream tag the ImageChange trigger follows.
func imageTrigger(dc *unstructured.Unstructured) (string, error) {
	triggers, _, err := unstructured.NestedSlice(dc.Object, "spec", "triggers")
	if err != nil {
		return "", err
	}
	for _, t := range triggers {
		trigger, ok := t.(map[string]any)
		if !ok || trigger["type"] != triggerImageChange {
			continue
		}
		name, _, err := unstructured.NestedString(trigger, "imageChangeParams", "from", "name")
		return name, err
	}
	return "", fmt.Errorf("no %s trigger", triggerImageChange)
}

func firstTag(is *unstructured.Unstructured) (name, from string, err error) {
	tags, _, err := unstructured.NestedSlice(is.Object, "spec", "tags")
	if err != nil {
		return "", "", err
	}
	if len(tags) == 0 {
		return "", "", fmt.Errorf("no tags")
	}
	tag, ok := tags[0].(map[string]any)
	if !ok {
		return "", "", fmt.Errorf("malformed tag")
	}
	name, _, _ = unstructured.NestedString(tag, "name")
	from, _, _ = unstructured.NestedString(tag, "from", "name")
	return name, from, nil
}

func diffError(component, what string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s %s is malformed", operatorerrors.ErrDiffComputation, component, what)
	}
	return fmt.Errorf("%w: %s %s: %w", operatorerrors.ErrDiffComputation, component, what, err)
}

// toUnstructuredValue converts a typed API value into its unstructured form.
func toUnstructuredValue(v any) (any, error) {
	switch t := v.(type) {
	case []corev1.EnvVar:
		out := make([]any, 0, len(t))
		for i := range t {
			m, err := runtime.DefaultUnstructuredConverter.ToUnstructured(&t[i])
			if err != nil {
				return nil, err
			}
			out = append(out, m)
		}
		return out, nil
	case *corev1.Probe:
		return runtime.DefaultUnstructuredConverter.ToUnstructured(t)
	default:
		return nil, fmt.Errorf("unsupported value %T", v)
	}
}

func stringMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
