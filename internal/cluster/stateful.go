package cluster

import (
	"context"
	"strconv"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"

	"github.com/dc-tec/kafka-cluster-operator/internal/constants"
)

// componentSpec holds what differs between the stateful components of a cluster.
type componentSpec struct {
	description    string
	containerName  string
	dataPath       string
	healthCheck    []string
	metricsEnvName string
	ports          []corev1.ContainerPort
	servicePorts   []corev1.ServicePort
	headlessPorts  []corev1.ServicePort
	settings       []setting
}

// StatefulComponent is one StatefulSet-backed member of a cluster, e.g. the Kafka
// brokers or the ZooKeeper ensemble. Its pods are rolled by the controller, so the
// StatefulSet uses the OnDelete update strategy.
type StatefulComponent struct {
	Namespace   string
	ClusterName string
	Name        string
	// Labels are the cluster labels, without the resource name label.
	Labels                  map[string]string
	Replicas                int32
	Image                   string
	HealthCheckInitialDelay int32
	HealthCheckTimeout      int32
	// Env holds the values of the component's configuration settings.
	Env []corev1.EnvVar
	// FixedEnv is derived from the cluster identity and compared verbatim.
	FixedEnv []corev1.EnvVar
	// DerivedEnv is derived from other fields and never compared.
	DerivedEnv []corev1.EnvVar
	// Metrics is the JMX exporter configuration; nil disables metrics.
	Metrics map[string]any
	Storage Storage

	spec componentSpec
}

// Description is a human readable component name used in logs.
func (c *StatefulComponent) Description() string {
	return c.spec.description
}

// HeadlessServiceName returns the name of the governing headless Service.
func (c *StatefulComponent) HeadlessServiceName() string {
	return c.Name + constants.SuffixHeadless
}

// MetricsConfigMapName returns the name of the component's metrics ConfigMap.
func (c *StatefulComponent) MetricsConfigMapName() string {
	return MetricsConfigMapName(c.Name)
}

func (c *StatefulComponent) labelsWithName() map[string]string {
	return WithName(c.Labels, c.Name)
}

// StatefulSet builds the component's StatefulSet.
func (c *StatefulComponent) StatefulSet() *appsv1.StatefulSet {
	labels := c.labelsWithName()

	container := corev1.Container{
		Name:  c.spec.containerName,
		Image: c.Image,
		Env:   c.env(),
		Ports: c.containerPorts(),
		VolumeMounts: []corev1.VolumeMount{
			{Name: constants.VolumeData, MountPath: c.spec.dataPath},
		},
		LivenessProbe:  execProbe(c.spec.healthCheck, c.HealthCheckInitialDelay, c.HealthCheckTimeout),
		ReadinessProbe: execProbe(c.spec.healthCheck, c.HealthCheckInitialDelay, c.HealthCheckTimeout),
	}

	var volumes []corev1.Volume
	var claims []corev1.PersistentVolumeClaim
	if c.Storage.Type == StorageEphemeral {
		volumes = append(volumes, corev1.Volume{
			Name:         constants.VolumeData,
			VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}},
		})
	} else {
		claims = append(claims, c.Storage.VolumeClaimTemplate(labels))
	}
	if c.Metrics != nil {
		container.VolumeMounts = append(container.VolumeMounts, corev1.VolumeMount{
			Name:      constants.VolumeMetrics,
			MountPath: constants.PathMetrics,
		})
		volumes = append(volumes, corev1.Volume{
			Name: constants.VolumeMetrics,
			VolumeSource: corev1.VolumeSource{
				ConfigMap: &corev1.ConfigMapVolumeSource{
					LocalObjectReference: corev1.LocalObjectReference{Name: c.MetricsConfigMapName()},
				},
			},
		})
	}

	return &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{
			Name:      c.Name,
			Namespace: c.Namespace,
			Labels:    labels,
			Annotations: map[string]string{
				constants.AnnotationStorage:     c.Storage.String(),
				constants.AnnotationDeleteClaim: strconv.FormatBool(c.Storage.DeleteClaim),
			},
		},
		Spec: appsv1.StatefulSetSpec{
			Replicas:            ptr.To(c.Replicas),
			ServiceName:         c.HeadlessServiceName(),
			PodManagementPolicy: appsv1.ParallelPodManagement,
			UpdateStrategy: appsv1.StatefulSetUpdateStrategy{
				Type: appsv1.OnDeleteStatefulSetStrategyType,
			},
			Selector: &metav1.LabelSelector{MatchLabels: SelectorLabels(c.ClusterName, c.Name)},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{container},
					Volumes:    volumes,
				},
			},
			VolumeClaimTemplates: claims,
		},
	}
}

func (c *StatefulComponent) env() []corev1.EnvVar {
	env := make([]corev1.EnvVar, 0, len(c.Env)+len(c.FixedEnv)+len(c.DerivedEnv)+1)
	env = append(env, c.Env...)
	env = append(env, c.FixedEnv...)
	env = append(env, c.DerivedEnv...)
	if c.spec.metricsEnvName != "" {
		env = append(env, corev1.EnvVar{Name: c.spec.metricsEnvName, Value: strconv.FormatBool(c.Metrics != nil)})
	}
	return env
}

func (c *StatefulComponent) containerPorts() []corev1.ContainerPort {
	ports := append([]corev1.ContainerPort{}, c.spec.ports...)
	if c.Metrics != nil {
		ports = append(ports, corev1.ContainerPort{
			Name:          constants.PortNameMetrics,
			ContainerPort: constants.PortMetrics,
			Protocol:      corev1.ProtocolTCP,
		})
	}
	return ports
}

// Service builds the client Service of the component.
func (c *StatefulComponent) Service() *corev1.Service {
	ports := append([]corev1.ServicePort{}, c.spec.servicePorts...)
	if c.Metrics != nil {
		ports = append(ports, servicePort(constants.PortNameMetrics, constants.PortMetrics))
	}
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      c.Name,
			Namespace: c.Namespace,
			Labels:    c.labelsWithName(),
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: SelectorLabels(c.ClusterName, c.Name),
			Ports:    ports,
		},
	}
}

// HeadlessService builds the headless Service that governs the StatefulSet.
func (c *StatefulComponent) HeadlessService() *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      c.HeadlessServiceName(),
			Namespace: c.Namespace,
			Labels:    WithName(c.Labels, c.HeadlessServiceName()),
		},
		Spec: corev1.ServiceSpec{
			Type:                     corev1.ServiceTypeClusterIP,
			ClusterIP:                corev1.ClusterIPNone,
			Selector:                 SelectorLabels(c.ClusterName, c.Name),
			Ports:                    c.spec.headlessPorts,
			PublishNotReadyAddresses: true,
		},
	}
}

// MetricsConfigMap builds the ConfigMap holding the metrics configuration.
func (c *StatefulComponent) MetricsConfigMap() *corev1.ConfigMap {
	name := c.MetricsConfigMapName()
	return buildMetricsConfigMap(c.Namespace, name, WithName(c.Labels, name), c.Metrics)
}

// Diff compares the component with its live StatefulSet and metrics ConfigMap.
// metricsConfigMap may be nil.
func (c *StatefulComponent) Diff(ctx context.Context, sts *appsv1.StatefulSet, metricsConfigMap *corev1.ConfigMap) (DiffResult, error) {
	b := newDiffBuilder(ctx, c.Name)

	b.replicas(c.Replicas, ptr.Deref(sts.Spec.Replicas, 1))
	b.labels(c.labelsWithName(), sts.Labels)

	container, err := firstContainer(c.Name, sts.Spec.Template.Spec)
	if err != nil {
		return DiffResult{}, err
	}
	b.image(c.Image, container.Image)
	b.settings(c.spec.settings, c.Env, container)
	for _, e := range c.FixedEnv {
		b.env(e.Name, e.Value, container)
	}
	if err := b.healthCheck(c.HealthCheckInitialDelay, c.HealthCheckTimeout, container); err != nil {
		return DiffResult{}, err
	}

	observedMetrics, err := metricsFromConfigMap(metricsConfigMap)
	if err != nil {
		return DiffResult{}, err
	}
	b.metrics(c.Metrics, observedMetrics)
	b.storageDiff(c.Storage, ObservedStorage(sts))

	return b.result(), nil
}

// ObservedStorage extracts the storage of a live StatefulSet. The annotation written
// at creation is authoritative; claim templates are the fallback.
func ObservedStorage(sts *appsv1.StatefulSet) Storage {
	var storage Storage
	if raw, ok := sts.Annotations[constants.AnnotationStorage]; ok {
		if parsed, err := ParseStorage(raw); err == nil {
			storage = parsed
		}
	}
	if storage.Type == "" {
		if len(sts.Spec.VolumeClaimTemplates) > 0 {
			storage = StorageFromPersistentVolumeClaim(sts.Spec.VolumeClaimTemplates[0])
		} else {
			storage = EphemeralStorage()
		}
	}
	storage.DeleteClaim = DeleteClaim(sts)
	return storage
}

// DeleteClaim reports whether the claims of a StatefulSet are deleted with it.
func DeleteClaim(obj metav1.Object) bool {
	v, err := strconv.ParseBool(obj.GetAnnotations()[constants.AnnotationDeleteClaim])
	return err == nil && v
}

func execProbe(command []string, initialDelay, timeout int32) *corev1.Probe {
	return &corev1.Probe{
		ProbeHandler: corev1.ProbeHandler{
			Exec: &corev1.ExecAction{Command: command},
		},
		InitialDelaySeconds: initialDelay,
		TimeoutSeconds:      timeout,
	}
}

func httpProbe(path, port string, initialDelay, timeout int32) *corev1.Probe {
	return &corev1.Probe{
		ProbeHandler: corev1.ProbeHandler{
			HTTPGet: &corev1.HTTPGetAction{Path: path, Port: intstr.FromString(port)},
		},
		InitialDelaySeconds: initialDelay,
		TimeoutSeconds:      timeout,
	}
}

func containerPort(name string, port int32) corev1.ContainerPort {
	return corev1.ContainerPort{Name: name, ContainerPort: port, Protocol: corev1.ProtocolTCP}
}

func servicePort(name string, port int32) corev1.ServicePort {
	return corev1.ServicePort{
		Name:       name,
		Port:       port,
		TargetPort: intstr.FromInt32(port),
		Protocol:   corev1.ProtocolTCP,
	}
}
