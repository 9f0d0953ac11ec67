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
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
	"k8s.io/apimachinery/pkg/labels"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/dc-tec/kafka-cluster-operator/internal/constants"
	"github.com/dc-tec/kafka-cluster-operator/internal/kube"
)

// Config holds the controller settings gathered from flags and the environment.
type Config struct {
	Namespace               string
	Labels                  string
	SweepSchedule           string
	LockTimeout             time.Duration
	LockBackend             string
	OpenShift               bool
	APIConcurrency          int
	MaxConcurrentReconciles int

	MetricsAddr          string
	ProbeAddr            string
	SecureMetrics        bool
	EnableHTTP2          bool
	EnableLeaderElection bool

	Zap zap.Options
}

// DefaultConfig returns the settings used when neither a flag nor an environment
// variable provides a value.
func DefaultConfig() Config {
	return Config{
		SweepSchedule:           constants.DefaultSweepSchedule,
		LockTimeout:             constants.LockTimeout,
		LockBackend:             constants.LockBackendMemory,
		APIConcurrency:          kube.DefaultPoolSize,
		MaxConcurrentReconciles: 2,
		MetricsAddr:             ":8443",
		ProbeAddr:               ":8081",
		SecureMetrics:           true,
		Zap: zap.Options{
			TimeEncoder: zapcore.ISO8601TimeEncoder,
		},
	}
}

// BindFlags registers the controller flags on fs.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Namespace, "namespace", c.Namespace,
		"Namespace watched for cluster ConfigMaps. Defaults to the operator's own namespace.")
	fs.StringVar(&c.Labels, "labels", c.Labels,
		"Additional label selector (k=v,k2=v2) that cluster ConfigMaps must match.")
	fs.StringVar(&c.SweepSchedule, "sweep-schedule", c.SweepSchedule,
		"Cron expression for the periodic reconciliation of every cluster.")
	fs.DurationVar(&c.LockTimeout, "lock-timeout", c.LockTimeout,
		"How long a reconciliation waits for the lock of its cluster.")
	fs.StringVar(&c.LockBackend, "lock-backend", c.LockBackend,
		"Cluster lock implementation: memory (single replica) or lease (coordination.k8s.io Leases).")
	fs.BoolVar(&c.OpenShift, "openshift", c.OpenShift,
		"Also manage Kafka Connect S2I clusters. Requires the OpenShift build, image and apps APIs.")
	fs.IntVar(&c.APIConcurrency, "api-concurrency", c.APIConcurrency,
		"Maximum number of concurrent Kubernetes API calls made by cluster operations.")
	fs.IntVar(&c.MaxConcurrentReconciles, "max-concurrent-reconciles", c.MaxConcurrentReconciles,
		"Maximum number of concurrent reconciliations per cluster type.")
	fs.StringVar(&c.MetricsAddr, "metrics-bind-address", c.MetricsAddr, "The address the metrics endpoint binds to.")
	fs.StringVar(&c.ProbeAddr, "health-probe-bind-address", c.ProbeAddr, "The address the probe endpoint binds to.")
	fs.BoolVar(&c.SecureMetrics, "metrics-secure", c.SecureMetrics,
		"If set, the metrics endpoint is served securely via HTTPS. Use --metrics-secure=false to use HTTP instead.")
	fs.BoolVar(&c.EnableHTTP2, "enable-http2", c.EnableHTTP2,
		"If set, HTTP/2 will be enabled for the metrics server")
	fs.BoolVar(&c.EnableLeaderElection, "leader-elect", c.EnableLeaderElection,
		"Enable leader election for controller manager. "+
			"Enabling this will ensure there is only one active controller manager.")

	zapFlags := flag.NewFlagSet("zap", flag.ContinueOnError)
	c.Zap.BindFlags(zapFlags)
	fs.AddGoFlagSet(zapFlags)
}

// ApplyEnv fills every setting whose flag was not given explicitly from its
// environment variable.
func (c *Config) ApplyEnv(fs *pflag.FlagSet, lookup func(string) (string, bool)) error {
	str := func(flagName, env string, target *string) {
		if fs.Changed(flagName) {
			return
		}
		if v, ok := lookup(env); ok && v != "" {
			*target = v
		}
	}
	parse := func(flagName, env string, set func(string) error) error {
		if fs.Changed(flagName) {
			return nil
		}
		v, ok := lookup(env)
		if !ok || v == "" {
			return nil
		}
		if err := set(v); err != nil {
			return fmt.Errorf("invalid %s=%q: %w", env, v, err)
		}
		return nil
	}

	str("namespace", constants.EnvNamespace, &c.Namespace)
	str("labels", constants.EnvConfigMapLabels, &c.Labels)
	str("sweep-schedule", constants.EnvSweepSchedule, &c.SweepSchedule)
	str("lock-backend", constants.EnvLockBackend, &c.LockBackend)

	if err := parse("lock-timeout", constants.EnvLockTimeout, func(v string) error {
		d, err := parseDuration(v)
		c.LockTimeout = d
		return err
	}); err != nil {
		return err
	}
	if err := parse("openshift", constants.EnvOpenShift, func(v string) error {
		b, err := strconv.ParseBool(v)
		c.OpenShift = b
		return err
	}); err != nil {
		return err
	}
	if err := parse("api-concurrency", constants.EnvAPIConcurrency, func(v string) error {
		n, err := strconv.Atoi(v)
		c.APIConcurrency = n
		return err
	}); err != nil {
		return err
	}
	if err := parse("max-concurrent-reconciles", constants.EnvMaxReconciles, func(v string) error {
		n, err := strconv.Atoi(v)
		c.MaxConcurrentReconciles = n
		return err
	}); err != nil {
		return err
	}

	if c.Namespace == "" {
		c.Namespace, _ = lookup(constants.EnvOperatorNamespace)
	}
	return nil
}

// parseDuration accepts Go durations and bare milliseconds.
func parseDuration(v string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}

// Validate checks the settings and returns the parsed label selector.
func (c *Config) Validate() (map[string]string, error) {
	if c.Namespace == "" {
		return nil, fmt.Errorf("namespace is required: set --namespace, %s or %s",
			constants.EnvNamespace, constants.EnvOperatorNamespace)
	}
	if c.LockTimeout <= 0 {
		return nil, fmt.Errorf("lock timeout must be positive, got %s", c.LockTimeout)
	}
	if c.APIConcurrency <= 0 {
		return nil, fmt.Errorf("api concurrency must be positive, got %d", c.APIConcurrency)
	}
	if c.MaxConcurrentReconciles <= 0 {
		return nil, fmt.Errorf("max concurrent reconciles must be positive, got %d", c.MaxConcurrentReconciles)
	}
	switch c.LockBackend {
	case constants.LockBackendMemory, constants.LockBackendLease:
	default:
		return nil, fmt.Errorf("unknown lock backend %q (valid: %s, %s)",
			c.LockBackend, constants.LockBackendMemory, constants.LockBackendLease)
	}

	selector, err := labels.ConvertSelectorToLabelsMap(c.Labels)
	if err != nil {
		return nil, fmt.Errorf("invalid labels %q: %w", c.Labels, err)
	}
	return selector, nil
}

// environ adapts os.LookupEnv for ApplyEnv.
var environ = os.LookupEnv
