package report

import (
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/fairwindsops/insights-plugins/plugins/kube-checker/pkg/models"
)

const (
	ByContainerNameFile = "result_by_container_name.csv"
	ByObjectFile        = "result_by_object.csv"
)

var objectHeader = []string{
	"namespace", "object_name", "type_of", "container", "images", "pod_count", "replicas",
	"cpu_request_total_millicores", "cpu_request_avg_millicores",
	"memory_request_total_bytes", "memory_request_avg_bytes",
	"node_selectors", "node_selector_check", "qos_check", "image_check",
}

var containerHeader = []string{
	"container", "object_count", "pod_count", "replicas",
	"cpu_request_total_millicores", "cpu_request_avg_millicores",
	"memory_request_total_bytes", "memory_request_avg_bytes",
	"node_selector_check", "qos_check", "image_check",
}

// WriteCSV writes both views into dir. A failure writing one file does not
// prevent writing the other; all failures are returned together.
func WriteCSV(fs afero.Fs, dir string, report *models.Report) error {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory %s: %w", dir, err)
	}

	var allErrs *multierror.Error
	objectRecords := make([][]string, 0, len(report.ByObject))
	for _, row := range report.ByObject {
		objectRecords = append(objectRecords, []string{
			row.Namespace,
			row.ObjectName,
			row.Kind,
			row.Container,
			strings.Join(row.Images, "|"),
			strconv.Itoa(row.PodCount),
			strconv.Itoa(int(row.Replicas)),
			strconv.FormatInt(row.CPURequestMillis, 10),
			strconv.FormatInt(row.AvgCPURequestMillis, 10),
			strconv.FormatInt(row.MemoryRequestBytes, 10),
			strconv.FormatInt(row.AvgMemoryRequestBytes, 10),
			row.NodeSelectors,
			strconv.FormatBool(row.NodeSelectorCheck),
			strconv.FormatBool(row.QoSCheck),
			strconv.FormatBool(row.ImageCheck),
		})
	}
	if err := writeCSVFile(fs, filepath.Join(dir, ByObjectFile), objectHeader, objectRecords); err != nil {
		allErrs = multierror.Append(allErrs, err)
	}

	containerRecords := make([][]string, 0, len(report.ByContainerName))
	for _, row := range report.ByContainerName {
		containerRecords = append(containerRecords, []string{
			row.Container,
			strconv.Itoa(row.ObjectCount),
			strconv.Itoa(row.PodCount),
			strconv.Itoa(int(row.Replicas)),
			strconv.FormatInt(row.CPURequestMillis, 10),
			strconv.FormatInt(row.AvgCPURequestMillis, 10),
			strconv.FormatInt(row.MemoryRequestBytes, 10),
			strconv.FormatInt(row.AvgMemoryRequestBytes, 10),
			strconv.FormatBool(row.NodeSelectorCheck),
			strconv.FormatBool(row.QoSCheck),
			strconv.FormatBool(row.ImageCheck),
		})
	}
	if err := writeCSVFile(fs, filepath.Join(dir, ByContainerNameFile), containerHeader, containerRecords); err != nil {
		allErrs = multierror.Append(allErrs, err)
	}
	return allErrs.ErrorOrNil()
}

func writeCSVFile(fs afero.Fs, path string, header []string, records [][]string) error {
	f, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := w.WriteAll(records); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	logrus.Infof("Wrote %d rows to %s", len(records), path)
	return nil
}
