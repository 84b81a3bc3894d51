package audit

import (
	"sort"

	"github.com/samber/lo"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/fairwindsops/insights-plugins/plugins/kube-checker/pkg/models"
)

// Mode selects which groups are emitted.
type Mode struct {
	// DisableFilter emits every group, including pods without a known owner.
	DisableFilter bool
}

type groupKey struct {
	Object    models.ResolvedObject
	Container string
}

// accumulator sums requests for one group. Absent requests are not counted
// in the sample totals, so they never drag the averages down.
type accumulator struct {
	pods          int
	cpu           resource.Quantity
	cpuSamples    int
	memory        resource.Quantity
	memorySamples int
	images        map[string]struct{}
	objects       map[models.ResolvedObject]struct{}
}

func newAccumulator() *accumulator {
	return &accumulator{
		images:  map[string]struct{}{},
		objects: map[models.ResolvedObject]struct{}{},
	}
}

func (a *accumulator) add(rec models.ContainerRecord) {
	a.pods++
	if rec.CPURequest != nil {
		a.cpu.Add(*rec.CPURequest)
		a.cpuSamples++
	}
	if rec.MemoryRequest != nil {
		a.memory.Add(*rec.MemoryRequest)
		a.memorySamples++
	}
	if rec.Image != "" {
		a.images[rec.Image] = struct{}{}
	}
	a.objects[rec.Object] = struct{}{}
}

func (a *accumulator) merge(other *accumulator) {
	a.pods += other.pods
	a.cpu.Add(other.cpu)
	a.cpuSamples += other.cpuSamples
	a.memory.Add(other.memory)
	a.memorySamples += other.memorySamples
	for image := range other.images {
		a.images[image] = struct{}{}
	}
	for obj := range other.objects {
		a.objects[obj] = struct{}{}
	}
}

func (a *accumulator) cpuMillis() (total, avg int64) {
	total = a.cpu.MilliValue()
	if a.cpuSamples > 0 {
		avg = total / int64(a.cpuSamples)
	}
	return total, avg
}

func (a *accumulator) memoryBytes() (total, avg int64) {
	total = a.memory.Value()
	if a.memorySamples > 0 {
		avg = total / int64(a.memorySamples)
	}
	return total, avg
}

func (a *accumulator) sortedImages() []string {
	images := lo.Keys(a.images)
	sort.Strings(images)
	return images
}

// Aggregator folds container records into the by-object and
// by-container-name views in a single pass.
type Aggregator struct {
	byObject    map[groupKey]*accumulator
	byContainer map[string]*accumulator
}

// NewAggregator returns an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		byObject:    map[groupKey]*accumulator{},
		byContainer: map[string]*accumulator{},
	}
}

// Add folds one record into both views.
func (a *Aggregator) Add(rec models.ContainerRecord) {
	key := groupKey{Object: rec.Object, Container: rec.Name}
	acc, ok := a.byObject[key]
	if !ok {
		acc = newAccumulator()
		a.byObject[key] = acc
	}
	acc.add(rec)

	acc, ok = a.byContainer[rec.Name]
	if !ok {
		acc = newAccumulator()
		a.byContainer[rec.Name] = acc
	}
	acc.add(rec)
}

// Merge folds another Aggregator into a. Merging is commutative and
// associative, so partial aggregates can be combined in any order.
func (a *Aggregator) Merge(other *Aggregator) {
	for key, acc := range other.byObject {
		if mine, ok := a.byObject[key]; ok {
			mine.merge(acc)
		} else {
			a.byObject[key] = cloneAccumulator(acc)
		}
	}
	for key, acc := range other.byContainer {
		if mine, ok := a.byContainer[key]; ok {
			mine.merge(acc)
		} else {
			a.byContainer[key] = cloneAccumulator(acc)
		}
	}
}

func cloneAccumulator(acc *accumulator) *accumulator {
	c := newAccumulator()
	c.merge(acc)
	return c
}

// Rows emits both views, sorted. Check results are object-level and are
// carried onto every row of the object unchanged; a container row passes a
// check only if every object running that container passes it.
func (a *Aggregator) Rows(checks map[models.ResolvedObject]models.CheckResult, replicas func(models.ResolvedObject) int32, mode Mode) ([]models.ObjectRow, []models.ContainerRow) {
	objectRows := make([]models.ObjectRow, 0, len(a.byObject))
	for key, acc := range a.byObject {
		if !mode.DisableFilter && !key.Object.IsWorkload() {
			continue
		}
		check := checks[key.Object]
		cpuTotal, cpuAvg := acc.cpuMillis()
		memTotal, memAvg := acc.memoryBytes()
		row := models.ObjectRow{
			Namespace:             key.Object.Namespace,
			ObjectName:            key.Object.Name,
			Kind:                  key.Object.Kind,
			Container:             key.Container,
			Images:                acc.sortedImages(),
			PodCount:              acc.pods,
			Replicas:              replicas(key.Object),
			CPURequestMillis:      cpuTotal,
			CPURequestSamples:     acc.cpuSamples,
			AvgCPURequestMillis:   cpuAvg,
			MemoryRequestBytes:    memTotal,
			MemoryRequestSamples:  acc.memorySamples,
			AvgMemoryRequestBytes: memAvg,
			NodeSelectors:         check.NodeSelectors,
			NodeSelectorCheck:     check.Evaluated && check.NodeSelector,
			QoSCheck:              check.Evaluated && check.QoS,
			ImageCheck:            check.Evaluated && check.Image,
		}
		objectRows = append(objectRows, row)
	}
	sort.Slice(objectRows, func(i, j int) bool {
		x, y := objectRows[i], objectRows[j]
		if x.Namespace != y.Namespace {
			return x.Namespace < y.Namespace
		}
		if x.ObjectName != y.ObjectName {
			return x.ObjectName < y.ObjectName
		}
		if x.Kind != y.Kind {
			return x.Kind < y.Kind
		}
		return x.Container < y.Container
	})

	containerRows := make([]models.ContainerRow, 0, len(a.byContainer))
	for container, acc := range a.byContainer {
		objects := lo.Keys(acc.objects)
		if !mode.DisableFilter {
			objects = lo.Filter(objects, func(obj models.ResolvedObject, _ int) bool {
				return obj.IsWorkload()
			})
			if len(objects) == 0 {
				continue
			}
		}
		cpuTotal, cpuAvg := acc.cpuMillis()
		memTotal, memAvg := acc.memoryBytes()
		row := models.ContainerRow{
			Container:             container,
			ObjectCount:           len(objects),
			PodCount:              acc.pods,
			CPURequestMillis:      cpuTotal,
			CPURequestSamples:     acc.cpuSamples,
			AvgCPURequestMillis:   cpuAvg,
			MemoryRequestBytes:    memTotal,
			MemoryRequestSamples:  acc.memorySamples,
			AvgMemoryRequestBytes: memAvg,
			NodeSelectorCheck:     true,
			QoSCheck:              true,
			ImageCheck:            true,
		}
		for _, obj := range objects {
			row.Replicas += replicas(obj)
			check := checks[obj]
			row.NodeSelectorCheck = row.NodeSelectorCheck && check.Evaluated && check.NodeSelector
			row.QoSCheck = row.QoSCheck && check.Evaluated && check.QoS
			row.ImageCheck = row.ImageCheck && check.Evaluated && check.Image
		}
		containerRows = append(containerRows, row)
	}
	sort.Slice(containerRows, func(i, j int) bool {
		return containerRows[i].Container < containerRows[j].Container
	})

	return objectRows, containerRows
}
