package metrics

import (
	"bytes"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/afero"

	"github.com/fairwindsops/insights-plugins/plugins/kube-checker/pkg/models"
)

const namespace = "kube_checker"

// Recorder holds the gauges describing one audit run. Each Recorder owns
// its registry so runs never leak series into each other.
type Recorder struct {
	registry         *prometheus.Registry
	pods             prometheus.Gauge
	unresolvedPods   prometheus.Gauge
	objects          prometheus.Gauge
	objectCheck      *prometheus.GaugeVec
	lastRunTimestamp prometheus.Gauge
}

// NewRecorder registers the audit gauges on a fresh registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		pods: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pods_total",
			Help:      "Pods audited in the last run.",
		}),
		unresolvedPods: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unresolved_pods_total",
			Help:      "Pods without a Deployment or StatefulSet owner in the last run.",
		}),
		objects: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "objects_total",
			Help:      "Deployments and StatefulSets evaluated in the last run.",
		}),
		objectCheck: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "object_check_passed",
			Help:      "1 if the object passed the check, 0 otherwise.",
		}, []string{"namespace", "object", "kind", "check"}),
		lastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last report was generated.",
		}),
	}
	r.registry.MustRegister(r.pods, r.unresolvedPods, r.objects, r.objectCheck, r.lastRunTimestamp)
	return r
}

// Record sets the gauges from a report.
func (r *Recorder) Record(report *models.Report) {
	r.pods.Set(float64(report.Pods))
	r.unresolvedPods.Set(float64(report.UnresolvedPods))
	r.objects.Set(float64(len(report.Objects)))
	r.lastRunTimestamp.Set(float64(report.GeneratedAt.Unix()))

	r.objectCheck.Reset()
	for _, oc := range report.Objects {
		labels := func(check string) prometheus.Labels {
			return prometheus.Labels{
				"namespace": oc.Object.Namespace,
				"object":    oc.Object.Name,
				"kind":      oc.Object.Kind,
				"check":     check,
			}
		}
		r.objectCheck.With(labels("node_selector")).Set(boolToFloat(oc.Checks.NodeSelector))
		r.objectCheck.With(labels("qos")).Set(boolToFloat(oc.Checks.QoS))
		r.objectCheck.With(labels("image")).Set(boolToFloat(oc.Checks.Image))
	}
}

// WriteTextfile writes the gauges in the node-exporter textfile format. The
// file is renamed into place so a collector never scrapes a partial file.
func (r *Recorder) WriteTextfile(fs afero.Fs, path string) error {
	families, err := r.registry.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}
	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return fmt.Errorf("encoding metric %s: %w", mf.GetName(), err)
		}
	}
	tempFile := path + ".tmp"
	if err := afero.WriteFile(fs, tempFile, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	if err := fs.Rename(tempFile, path); err != nil {
		return fmt.Errorf("renaming metrics file: %w", err)
	}
	return nil
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
