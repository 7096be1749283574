package blobfs

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like
// Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    openCounter    prometheus.Counter
//	    stageHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordOpen(duration time.Duration, err error) {
//	    p.openCounter.Inc()
//	    // ... record error state, duration, etc.
//	}
type MetricsCollector interface {
	// RecordOpen is called after each open operation.
	// duration is the total time taken, err is nil if successful.
	RecordOpen(duration time.Duration, err error)

	// RecordCreate is called when a writer handed out by Create closes.
	// duration spans from Create to Close.
	RecordCreate(duration time.Duration, err error)

	// RecordCopy is called after each copy operation.
	RecordCopy(duration time.Duration, err error)

	// RecordRemove is called after each single-file remove.
	RecordRemove(duration time.Duration, err error)

	// RecordRemoveDir is called after each directory remove. removed is the
	// number of objects actually deleted, which can be lower than the
	// directory's total when some deletions failed.
	RecordRemoveDir(removed int, duration time.Duration, err error)

	// RecordList is called after each listing. entries is the number of
	// merged items returned.
	RecordList(entries int, duration time.Duration, err error)

	// RecordStat is called after each stat or directory-existence check.
	RecordStat(duration time.Duration, err error)

	// RecordChunkStage is called after every upload chunk staging attempt.
	// size is the chunk size in bytes.
	RecordChunkStage(size int, duration time.Duration, err error)

	// RecordUploadComplete is called after each upload finalization.
	// chunks is the number of chunks the resume token accounted for.
	RecordUploadComplete(chunks int32, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordOpen(time.Duration, error)                  {}
func (NoopMetricsCollector) RecordCreate(time.Duration, error)                {}
func (NoopMetricsCollector) RecordCopy(time.Duration, error)                  {}
func (NoopMetricsCollector) RecordRemove(time.Duration, error)                {}
func (NoopMetricsCollector) RecordRemoveDir(int, time.Duration, error)        {}
func (NoopMetricsCollector) RecordList(int, time.Duration, error)             {}
func (NoopMetricsCollector) RecordStat(time.Duration, error)                  {}
func (NoopMetricsCollector) RecordChunkStage(int, time.Duration, error)       {}
func (NoopMetricsCollector) RecordUploadComplete(int32, time.Duration, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	OpenCount        atomic.Int64
	OpenErrors       atomic.Int64
	OpenTotalNanos   atomic.Int64
	CreateCount      atomic.Int64
	CreateErrors     atomic.Int64
	CopyCount        atomic.Int64
	CopyErrors       atomic.Int64
	RemoveCount      atomic.Int64
	RemoveErrors     atomic.Int64
	RemoveDirCount   atomic.Int64
	RemoveDirObjects atomic.Int64
	ListCount        atomic.Int64
	ListErrors       atomic.Int64
	ListEntries      atomic.Int64
	ListTotalNanos   atomic.Int64
	StatCount        atomic.Int64
	StatErrors       atomic.Int64
	StageCount       atomic.Int64
	StageErrors      atomic.Int64
	StageBytes       atomic.Int64
	StageTotalNanos  atomic.Int64
	UploadCount      atomic.Int64
	UploadErrors     atomic.Int64
	UploadChunks     atomic.Int64
}

// RecordOpen implements MetricsCollector.
func (b *BasicMetricsCollector) RecordOpen(duration time.Duration, err error) {
	b.OpenCount.Add(1)
	b.OpenTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.OpenErrors.Add(1)
	}
}

// RecordCreate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCreate(duration time.Duration, err error) {
	b.CreateCount.Add(1)
	if err != nil {
		b.CreateErrors.Add(1)
	}
}

// RecordCopy implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCopy(duration time.Duration, err error) {
	b.CopyCount.Add(1)
	if err != nil {
		b.CopyErrors.Add(1)
	}
}

// RecordRemove implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRemove(duration time.Duration, err error) {
	b.RemoveCount.Add(1)
	if err != nil {
		b.RemoveErrors.Add(1)
	}
}

// RecordRemoveDir implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRemoveDir(removed int, duration time.Duration, err error) {
	b.RemoveDirCount.Add(1)
	b.RemoveDirObjects.Add(int64(removed))
}

// RecordList implements MetricsCollector.
func (b *BasicMetricsCollector) RecordList(entries int, duration time.Duration, err error) {
	b.ListCount.Add(1)
	b.ListEntries.Add(int64(entries))
	b.ListTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.ListErrors.Add(1)
	}
}

// RecordStat implements MetricsCollector.
func (b *BasicMetricsCollector) RecordStat(duration time.Duration, err error) {
	b.StatCount.Add(1)
	if err != nil {
		b.StatErrors.Add(1)
	}
}

// RecordChunkStage implements MetricsCollector.
func (b *BasicMetricsCollector) RecordChunkStage(size int, duration time.Duration, err error) {
	b.StageCount.Add(1)
	b.StageBytes.Add(int64(size))
	b.StageTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.StageErrors.Add(1)
	}
}

// RecordUploadComplete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUploadComplete(chunks int32, duration time.Duration, err error) {
	b.UploadCount.Add(1)
	b.UploadChunks.Add(int64(chunks))
	if err != nil {
		b.UploadErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		OpenCount:        b.OpenCount.Load(),
		OpenErrors:       b.OpenErrors.Load(),
		OpenAvgNanos:     b.getAvgOpenNanos(),
		CreateCount:      b.CreateCount.Load(),
		CreateErrors:     b.CreateErrors.Load(),
		CopyCount:        b.CopyCount.Load(),
		CopyErrors:       b.CopyErrors.Load(),
		RemoveCount:      b.RemoveCount.Load(),
		RemoveErrors:     b.RemoveErrors.Load(),
		RemoveDirCount:   b.RemoveDirCount.Load(),
		RemoveDirObjects: b.RemoveDirObjects.Load(),
		ListCount:        b.ListCount.Load(),
		ListErrors:       b.ListErrors.Load(),
		ListEntries:      b.ListEntries.Load(),
		ListAvgNanos:     b.getAvgListNanos(),
		StatCount:        b.StatCount.Load(),
		StatErrors:       b.StatErrors.Load(),
		StageCount:       b.StageCount.Load(),
		StageErrors:      b.StageErrors.Load(),
		StageBytes:       b.StageBytes.Load(),
		StageAvgNanos:    b.getAvgStageNanos(),
		UploadCount:      b.UploadCount.Load(),
		UploadErrors:     b.UploadErrors.Load(),
		UploadChunks:     b.UploadChunks.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgOpenNanos() int64 {
	count := b.OpenCount.Load()
	if count == 0 {
		return 0
	}
	return b.OpenTotalNanos.Load() / count
}

func (b *BasicMetricsCollector) getAvgListNanos() int64 {
	count := b.ListCount.Load()
	if count == 0 {
		return 0
	}
	return b.ListTotalNanos.Load() / count
}

func (b *BasicMetricsCollector) getAvgStageNanos() int64 {
	count := b.StageCount.Load()
	if count == 0 {
		return 0
	}
	return b.StageTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	OpenCount        int64
	OpenErrors       int64
	OpenAvgNanos     int64
	CreateCount      int64
	CreateErrors     int64
	CopyCount        int64
	CopyErrors       int64
	RemoveCount      int64
	RemoveErrors     int64
	RemoveDirCount   int64
	RemoveDirObjects int64
	ListCount        int64
	ListErrors       int64
	ListEntries      int64
	ListAvgNanos     int64
	StatCount        int64
	StatErrors       int64
	StageCount       int64
	StageErrors      int64
	StageBytes       int64
	StageAvgNanos    int64
	UploadCount      int64
	UploadErrors     int64
	UploadChunks     int64
}
