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

// Package controller implements the controller subcommand: it wires the cluster
// operations, reconcile engines and their controllers into a controller-runtime manager.
package controller

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/spf13/cobra"
	appsv1 "k8s.io/api/apps/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/controller-runtime/pkg/metrics/filters"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/dc-tec/kafka-cluster-operator/internal/clusterops"
	"github.com/dc-tec/kafka-cluster-operator/internal/constants"
	"github.com/dc-tec/kafka-cluster-operator/internal/controller/kafkacluster"
	"github.com/dc-tec/kafka-cluster-operator/internal/kube"
	"github.com/dc-tec/kafka-cluster-operator/internal/operationlock"
	"github.com/dc-tec/kafka-cluster-operator/internal/reconcile"
	"github.com/dc-tec/kafka-cluster-operator/internal/upgrade/rolling"
)

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
}

// NewCommand returns the controller subcommand.
func NewCommand() *cobra.Command {
	cfg := DefaultConfig()
	cmd := &cobra.Command{
		Use:   "controller",
		Short: "Run the Kafka cluster controller",
		Long: `Watches ConfigMaps labeled strimzi.io/kind=cluster and materializes the
Kafka, Kafka Connect and (on OpenShift) Kafka Connect S2I clusters they describe.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.ApplyEnv(cmd.Flags(), environ); err != nil {
				return err
			}
			ctrl.SetLogger(zap.New(zap.UseFlagOptions(&cfg.Zap)))
			return Run(cmd.Context(), cfg)
		},
	}
	cfg.BindFlags(cmd.Flags())
	return cmd
}

// engineSpec pairs a reconcile engine with the workload kind its controller watches.
type engineSpec struct {
	engine   *reconcile.Engine
	workload client.Object
}

// Run starts the manager and blocks until ctx is done or the manager fails.
func Run(ctx context.Context, cfg Config) error {
	selector, err := cfg.Validate()
	if err != nil {
		return err
	}
	schedule, err := kafkacluster.ParseSchedule(cfg.SweepSchedule)
	if err != nil {
		return err
	}

	var tlsOpts []func(*tls.Config)
	if !cfg.EnableHTTP2 {
		tlsOpts = append(tlsOpts, func(c *tls.Config) {
			setupLog.Info("disabling http/2")
			c.NextProtos = []string{"http/1.1"}
		})
	}
	metricsServerOptions := metricsserver.Options{
		BindAddress:   cfg.MetricsAddr,
		SecureServing: cfg.SecureMetrics,
		TLSOpts:       tlsOpts,
	}
	if cfg.SecureMetrics {
		metricsServerOptions.FilterProvider = filters.WithAuthenticationAndAuthorization
	}

	restConfig, err := ctrl.GetConfig()
	if err != nil {
		return fmt.Errorf("unable to load kubeconfig: %w", err)
	}
	mgr, err := ctrl.NewManager(restConfig, ctrl.Options{
		Scheme:                  scheme,
		Metrics:                 metricsServerOptions,
		HealthProbeBindAddress:  cfg.ProbeAddr,
		LeaderElection:          cfg.EnableLeaderElection,
		LeaderElectionID:        constants.LeaderElectionID,
		LeaderElectionNamespace: cfg.Namespace,
		Cache: cache.Options{
			DefaultNamespaces: map[string]cache.Config{cfg.Namespace: {}},
		},
	})
	if err != nil {
		return fmt.Errorf("unable to create manager: %w", err)
	}

	// Cluster operations read and write through an uncached client: they need
	// read-your-writes and the pod watches of rolling updates.
	apiClient, err := client.NewWithWatch(restConfig, client.Options{
		Scheme: scheme,
		Mapper: mgr.GetRESTMapper(),
	})
	if err != nil {
		return fmt.Errorf("unable to create API client: %w", err)
	}

	locker, err := newLocker(cfg, apiClient)
	if err != nil {
		return err
	}

	engines := buildEngines(cfg, apiClient, locker)
	sweepEngines := make([]kafkacluster.SweepEngine, 0, len(engines))
	for _, spec := range engines {
		r := &kafkacluster.ClusterReconciler{Engine: spec.engine, Selector: selector}
		if err := r.SetupWithManager(mgr, kafkacluster.SetupOptions{
			Workload:                spec.workload,
			MaxConcurrentReconciles: cfg.MaxConcurrentReconciles,
		}); err != nil {
			return fmt.Errorf("unable to set up %s controller: %w", spec.engine.ClusterType(), err)
		}
		sweepEngines = append(sweepEngines, spec.engine)
	}

	sweeper := kafkacluster.NewSweeper(ctrl.Log.WithName("sweep"), schedule, cfg.Namespace, selector, sweepEngines...)
	if err := mgr.Add(sweeper); err != nil {
		return fmt.Errorf("unable to add periodic reconciliation: %w", err)
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		return fmt.Errorf("unable to set up health check: %w", err)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		return fmt.Errorf("unable to set up ready check: %w", err)
	}

	setupLog.Info("starting manager",
		"namespace", cfg.Namespace,
		"labels", cfg.Labels,
		"sweep_schedule", cfg.SweepSchedule,
		"lock_backend", cfg.LockBackend,
		"openshift", cfg.OpenShift)
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("problem running manager: %w", err)
	}
	return nil
}

func newLocker(cfg Config, c client.Client) (operationlock.Locker, error) {
	if cfg.LockBackend == constants.LockBackendLease {
		locker, err := operationlock.NewLeaseLocker(c, operationlock.LeaseLockerOptions{Namespace: cfg.Namespace})
		if err != nil {
			return nil, fmt.Errorf("unable to create lease locker: %w", err)
		}
		return locker, nil
	}
	return operationlock.NewMemoryLocker(), nil
}

// buildEngines returns one engine per managed cluster type. All of them share the API
// pool and the locker.
func buildEngines(cfg Config, c client.WithWatch, locker operationlock.Locker) []engineSpec {
	pool := kube.NewPool(cfg.APIConcurrency)
	desired := kube.NewResourceOperations(c, pool, kube.ConfigMapKind())
	engineOpts := reconcile.Options{LockTimeout: cfg.LockTimeout}

	specs := []engineSpec{
		{
			engine: reconcile.NewEngine(desired,
				clusterops.NewKafkaOperations(c, pool, rolling.Options{}, clusterops.Options{}),
				locker, engineOpts),
			workload: &appsv1.StatefulSet{},
		},
		{
			engine: reconcile.NewEngine(desired,
				clusterops.NewConnectOperations(c, pool, clusterops.Options{}),
				locker, engineOpts),
			workload: &appsv1.Deployment{},
		},
	}
	if cfg.OpenShift {
		deploymentConfig := &unstructured.Unstructured{}
		deploymentConfig.SetGroupVersionKind(kube.DeploymentConfigGVK)
		specs = append(specs, engineSpec{
			engine: reconcile.NewEngine(desired,
				clusterops.NewConnectS2IOperations(c, pool),
				locker, engineOpts),
			workload: deploymentConfig,
		})
	}
	return specs
}
