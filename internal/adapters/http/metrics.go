package httpadapter

import (
	"bytes"
	"net/http"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"sitewatch/internal/domain"
)

type metricsResponse struct {
	families []*dto.MetricFamily
}

func (m metricsResponse) visit(w http.ResponseWriter) error {
	var buf bytes.Buffer
	for _, mf := range m.families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return err
		}
	}
	w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	w.WriteHeader(http.StatusOK)
	_, err := w.Write(buf.Bytes())
	return err
}

func metricFamilies(counts domain.QueueCounts, stats domain.AnalysisStats, workerAlive, paused bool) []*dto.MetricFamily {
	queue := family("sitewatch_queue_jobs", "Jobs in the analysis queue by state.", dto.MetricType_GAUGE,
		gauge(float64(counts.Waiting), "state", "waiting"),
		gauge(float64(counts.Active), "state", "active"),
		gauge(float64(counts.Completed), "state", "completed"),
		gauge(float64(counts.Failed), "state", "failed"),
		gauge(float64(counts.Delayed), "state", "delayed"),
	)
	jobs := family("sitewatch_analysis_jobs_total", "Terminal, non-cached analysis outcomes.", dto.MetricType_COUNTER,
		counter(float64(stats.SuccessfulJobs), "outcome", "success"),
		counter(float64(stats.FailedJobs), "outcome", "failure"),
	)
	avg := family("sitewatch_analysis_duration_avg_ms", "Rolling mean analysis time of successful jobs.", dto.MetricType_GAUGE,
		gauge(stats.MeanAnalysisTimeMs),
	)
	alive := family("sitewatch_worker_alive", "1 while the in-process worker pool is running.", dto.MetricType_GAUGE,
		gauge(boolValue(workerAlive)),
	)
	pausedMF := family("sitewatch_queue_paused", "1 while the queue hands out no jobs.", dto.MetricType_GAUGE,
		gauge(boolValue(paused)),
	)
	return []*dto.MetricFamily{queue, jobs, avg, alive, pausedMF}
}

func family(name, help string, typ dto.MetricType, metrics ...*dto.Metric) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   ptr(name),
		Help:   ptr(help),
		Type:   typ.Enum(),
		Metric: metrics,
	}
}

func gauge(v float64, labels ...string) *dto.Metric {
	return &dto.Metric{Label: labelPairs(labels), Gauge: &dto.Gauge{Value: ptr(v)}}
}

func counter(v float64, labels ...string) *dto.Metric {
	return &dto.Metric{Label: labelPairs(labels), Counter: &dto.Counter{Value: ptr(v)}}
}

// labelPairs takes alternating names and values.
func labelPairs(kv []string) []*dto.LabelPair {
	var out []*dto.LabelPair
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, &dto.LabelPair{Name: ptr(kv[i]), Value: ptr(kv[i+1])})
	}
	return out
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func ptr[T any](v T) *T { return &v }
