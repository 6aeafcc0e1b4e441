package worker

import (
	"time"

	gometrics "github.com/rcrowley/go-metrics"
)

// workerMetrics are kept in a registry per worker, so several workers (e.g.
// one per cache key) never share counters.
type workerMetrics struct {
	registry       gometrics.Registry
	batchSize      gometrics.Histogram
	txnTimer       gometrics.Timer
	commits        gometrics.Counter
	aborts         gometrics.Counter
	commitFailures gometrics.Counter
}

func newWorkerMetrics() *workerMetrics {
	m := &workerMetrics{
		registry:       gometrics.NewRegistry(),
		batchSize:      gometrics.NewHistogram(gometrics.NewUniformSample(1028)),
		txnTimer:       gometrics.NewTimer(),
		commits:        gometrics.NewCounter(),
		aborts:         gometrics.NewCounter(),
		commitFailures: gometrics.NewCounter(),
	}
	_ = m.registry.Register("batch_size", m.batchSize)
	_ = m.registry.Register("txn_duration", m.txnTimer)
	_ = m.registry.Register("commits", m.commits)
	_ = m.registry.Register("aborts", m.aborts)
	_ = m.registry.Register("commit_failures", m.commitFailures)
	return m
}

// Stats is a point-in-time summary of a worker's activity.
type Stats struct {
	Transactions   int64         `json:"transactions"`
	Commits        int64         `json:"commits"`
	Aborts         int64         `json:"aborts"`
	CommitFailures int64         `json:"commit_failures"`
	MeanBatchSize  float64       `json:"mean_batch_size"`
	MaxBatchSize   int64         `json:"max_batch_size"`
	P99TxnDuration time.Duration `json:"p99_txn_duration"`
}

// Stats returns a summary of the worker's metrics.
func (w *Worker) Stats() Stats {
	m := w.metrics
	return Stats{
		Transactions:   m.txnTimer.Count(),
		Commits:        m.commits.Count(),
		Aborts:         m.aborts.Count(),
		CommitFailures: m.commitFailures.Count(),
		MeanBatchSize:  m.batchSize.Mean(),
		MaxBatchSize:   m.batchSize.Max(),
		P99TxnDuration: time.Duration(m.txnTimer.Percentile(0.99)),
	}
}

// Registry exposes the worker's metrics registry, e.g. for periodic logging
// with gometrics.Log.
func (w *Worker) Registry() gometrics.Registry {
	return w.metrics.registry
}
