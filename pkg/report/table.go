package report

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/samber/lo"
	prettytable "github.com/tatsushid/go-prettytable"

	"github.com/fairwindsops/insights-plugins/plugins/kube-checker/pkg/models"
)

// PrintTables writes both views to w, heaviest CPU requests first. With
// failingOnly set, rows passing every check are left out of the tables; the
// report itself is not changed.
func PrintTables(w io.Writer, report *models.Report, failingOnly bool) error {
	objectRows, containerRows := report.ByObject, report.ByContainerName
	if failingOnly {
		objectRows = lo.Filter(objectRows, func(row models.ObjectRow, _ int) bool {
			return row.Failing()
		})
		containerRows = lo.Filter(containerRows, func(row models.ContainerRow, _ int) bool {
			return row.Failing()
		})
	}
	objects, err := objectTable(objectRows)
	if err != nil {
		return err
	}
	containers, err := containerTable(containerRows)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "By object\n%s\nBy container name\n%s", objects, containers)
	return err
}

func objectTable(rows []models.ObjectRow) (string, error) {
	table, err := prettytable.NewTable(
		prettytable.Column{Header: "Namespace"},
		prettytable.Column{Header: "Kind/Name"},
		prettytable.Column{Header: "Container"},
		prettytable.Column{Header: "Pods", AlignRight: true},
		prettytable.Column{Header: "Replicas", AlignRight: true},
		prettytable.Column{Header: "CPU Req", AlignRight: true},
		prettytable.Column{Header: "Mem Req", AlignRight: true},
		prettytable.Column{Header: "Node Selectors"},
		prettytable.Column{Header: "Node Selector Check"},
		prettytable.Column{Header: "QoS Check"},
		prettytable.Column{Header: "Image Check"},
		prettytable.Column{Header: "Images"},
	)
	if err != nil {
		return "", err
	}
	table.Separator = " | "

	sorted := append([]models.ObjectRow(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CPURequestMillis > sorted[j].CPURequestMillis
	})
	for _, row := range sorted {
		err = table.AddRow(
			row.Namespace,
			row.Kind+"/"+row.ObjectName,
			row.Container,
			row.PodCount,
			row.Replicas,
			FormatMillicores(row.CPURequestMillis),
			FormatBytes(row.MemoryRequestBytes),
			row.NodeSelectors,
			row.NodeSelectorCheck,
			row.QoSCheck,
			row.ImageCheck,
			strings.Join(row.Images, ","),
		)
		if err != nil {
			return "", err
		}
	}
	return table.String(), nil
}

func containerTable(rows []models.ContainerRow) (string, error) {
	table, err := prettytable.NewTable(
		prettytable.Column{Header: "Container"},
		prettytable.Column{Header: "Objects", AlignRight: true},
		prettytable.Column{Header: "Pods", AlignRight: true},
		prettytable.Column{Header: "Replicas", AlignRight: true},
		prettytable.Column{Header: "CPU Req", AlignRight: true},
		prettytable.Column{Header: "Avg CPU Req", AlignRight: true},
		prettytable.Column{Header: "Mem Req", AlignRight: true},
		prettytable.Column{Header: "Avg Mem Req", AlignRight: true},
		prettytable.Column{Header: "Node Selector Check"},
		prettytable.Column{Header: "QoS Check"},
		prettytable.Column{Header: "Image Check"},
	)
	if err != nil {
		return "", err
	}
	table.Separator = " | "

	sorted := append([]models.ContainerRow(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CPURequestMillis > sorted[j].CPURequestMillis
	})
	for _, row := range sorted {
		err = table.AddRow(
			row.Container,
			row.ObjectCount,
			row.PodCount,
			row.Replicas,
			FormatMillicores(row.CPURequestMillis),
			FormatMillicores(row.AvgCPURequestMillis),
			FormatBytes(row.MemoryRequestBytes),
			FormatBytes(row.AvgMemoryRequestBytes),
			row.NodeSelectorCheck,
			row.QoSCheck,
			row.ImageCheck,
		)
		if err != nil {
			return "", err
		}
	}
	return table.String(), nil
}
