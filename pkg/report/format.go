package report

import (
	"k8s.io/apimachinery/pkg/api/resource"
)

// FormatMillicores renders a CPU amount the way it is written in a pod spec, e.g. "250m" or "2".
func FormatMillicores(millis int64) string {
	return resource.NewMilliQuantity(millis, resource.DecimalSI).String()
}

// FormatBytes renders a memory amount with binary suffixes, e.g. "512Mi".
func FormatBytes(bytes int64) string {
	return resource.NewQuantity(bytes, resource.BinarySI).String()
}
