package kafkacluster

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/manager"

	controllermetrics "github.com/dc-tec/kafka-cluster-operator/internal/controller"
	"github.com/dc-tec/kafka-cluster-operator/internal/reconcile"
)

// Parser is a cron parser configured for standard 5-field cron expressions.
var Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cron.Schedule, error) {
	schedule, err := Parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule, nil
}

// SweepEngine reconciles every cluster of one type in a namespace.
type SweepEngine interface {
	ClusterType() string
	ReconcileAll(ctx context.Context, namespace string, labels map[string]string) (map[string]reconcile.Result, error)
}

// Sweeper periodically reconciles every cluster of every engine, catching whatever
// the watches missed. It runs only on the elected leader.
type Sweeper struct {
	engines   []SweepEngine
	namespace string
	selector  map[string]string
	schedule  cron.Schedule
	logger    logr.Logger
}

var (
	_ manager.Runnable               = (*Sweeper)(nil)
	_ manager.LeaderElectionRunnable = (*Sweeper)(nil)
)

// NewSweeper returns a Sweeper running on schedule in namespace.
func NewSweeper(logger logr.Logger, schedule cron.Schedule, namespace string, selector map[string]string, engines ...SweepEngine) *Sweeper {
	return &Sweeper{
		engines:   engines,
		namespace: namespace,
		selector:  selector,
		schedule:  schedule,
		logger:    logger,
	}
}

// NeedLeaderElection makes the manager start the Sweeper on the leader only.
func (s *Sweeper) NeedLeaderElection() bool {
	return true
}

// Start runs one sweep immediately and then on every tick of the schedule until ctx
// is done. Ticks that arrive while a sweep is still running are skipped.
func (s *Sweeper) Start(ctx context.Context) error {
	c := cron.New(
		cron.WithParser(Parser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	c.Schedule(s.schedule, cron.FuncJob(func() { s.Sweep(ctx) }))

	s.logger.Info("Starting periodic reconciliation", "namespace", s.namespace, "next", s.schedule.Next(time.Now()))
	s.Sweep(ctx)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("Stopped periodic reconciliation")
	return nil
}

// Sweep reconciles every cluster of every engine once. Failures are logged and
// counted; a failing cluster type does not stop the others.
func (s *Sweeper) Sweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	for _, engine := range s.engines {
		logger := s.logger.WithValues("cluster_type", engine.ClusterType())
		results, err := engine.ReconcileAll(log.IntoContext(ctx, logger), s.namespace, s.selector)
		controllermetrics.NewSweepMetrics(engine.ClusterType()).
			RecordSweep(len(results), err != nil, float64(time.Now().Unix()))
		if err != nil {
			logger.Error(err, "Periodic reconciliation failed", "clusters", len(results))
			continue
		}
		logger.Info("Periodic reconciliation finished", "clusters", len(results))
	}
}
