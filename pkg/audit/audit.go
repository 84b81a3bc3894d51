package audit

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	corev1 "k8s.io/api/core/v1"

	"github.com/fairwindsops/insights-plugins/plugins/kube-checker/pkg/models"
	"github.com/fairwindsops/insights-plugins/plugins/kube-checker/pkg/owner"
)

// ErrNoData is returned when the snapshot carries no pod listing at all.
var ErrNoData = errors.New("no pod listing available")

// Options configures an audit run.
type Options struct {
	RegistryPrefix    string
	DisableFilter     bool
	Workers           int
	Namespaces        []string
	ExcludeNamespaces []string
}

// partial is the result of auditing one slice of the pods.
type partial struct {
	aggregator      *Aggregator
	representatives map[models.ResolvedObject]*corev1.Pod
	pods            int
	unresolved      int
}

func newPartial() *partial {
	return &partial{
		aggregator:      NewAggregator(),
		representatives: map[models.ResolvedObject]*corev1.Pod{},
	}
}

func (p *partial) observe(pod *corev1.Pod, resolver *owner.Resolver, disableFilter bool) {
	p.pods++
	obj, resolved := resolver.Resolve(pod)
	if !resolved {
		p.unresolved++
		if !disableFilter {
			return
		}
	} else if current, ok := p.representatives[obj]; !ok || newer(pod, current) {
		p.representatives[obj] = pod
	}
	for _, rec := range ExtractContainers(pod, obj, resolved) {
		p.aggregator.Add(rec)
	}
}

func (p *partial) merge(other *partial) {
	p.aggregator.Merge(other.aggregator)
	for obj, pod := range other.representatives {
		if current, ok := p.representatives[obj]; !ok || newer(pod, current) {
			p.representatives[obj] = pod
		}
	}
	p.pods += other.pods
	p.unresolved += other.unresolved
}

// newer orders pods by creation time, then by name, so the most recently
// observed pod of an object wins regardless of listing order.
func newer(a, b *corev1.Pod) bool {
	ta, tb := a.CreationTimestamp.Time, b.CreationTimestamp.Time
	if !ta.Equal(tb) {
		return ta.After(tb)
	}
	return a.Name > b.Name
}

// Run audits a snapshot: every pod is resolved to its owning workload, its
// containers are aggregated, and the checks are evaluated once per object
// against the most recently created pod of that object.
func Run(snapshot *models.Snapshot, opts Options) (*models.Report, error) {
	if snapshot == nil || snapshot.Pods == nil {
		return nil, fmt.Errorf("auditing snapshot: %w", ErrNoData)
	}

	resolver := owner.NewResolver(snapshot.ReplicaSets, snapshot.Deployments, snapshot.StatefulSets)
	pods := selectPods(snapshot.Pods, opts.Namespaces, opts.ExcludeNamespaces)
	logrus.Infof("Auditing %d of %d pods", len(pods), len(snapshot.Pods))

	chunks := partition(pods, opts.Workers)
	partials := make([]*partial, len(chunks))
	var wg sync.WaitGroup
	for i, chunk := range chunks {
		wg.Add(1)
		go func(i int, chunk []*corev1.Pod) {
			defer wg.Done()
			p := newPartial()
			for _, pod := range chunk {
				p.observe(pod, resolver, opts.DisableFilter)
			}
			partials[i] = p
		}(i, chunk)
	}
	wg.Wait()

	result := newPartial()
	for _, p := range partials {
		result.merge(p)
	}

	evaluator := NewEvaluator(opts.RegistryPrefix)
	checks := make(map[models.ResolvedObject]models.CheckResult, len(result.representatives))
	for obj, pod := range result.representatives {
		checks[obj] = evaluator.Evaluate(pod)
	}

	mode := Mode{DisableFilter: opts.DisableFilter}
	byObject, byContainer := result.aggregator.Rows(checks, resolver.Replicas, mode)
	logrus.Infof("Found %d objects, %d unresolved pods", len(checks), result.unresolved)

	return &models.Report{
		GeneratedAt:     time.Now().UTC(),
		RegistryPrefix:  opts.RegistryPrefix,
		DisableFilter:   opts.DisableFilter,
		Pods:            result.pods,
		UnresolvedPods:  result.unresolved,
		Objects:         objectChecks(checks),
		ByObject:        byObject,
		ByContainerName: byContainer,
	}, nil
}

// selectPods drops finished pods and applies the namespace allow and block lists.
func selectPods(pods []corev1.Pod, allow, block []string) []*corev1.Pod {
	normalize := func(namespaces []string) []string {
		return lo.Map(namespaces, func(ns string, _ int) string {
			return strings.TrimSpace(strings.ToLower(ns))
		})
	}
	allow, block = normalize(allow), normalize(block)

	selected := make([]*corev1.Pod, 0, len(pods))
	for i := range pods {
		pod := &pods[i]
		if pod.Status.Phase == corev1.PodSucceeded || pod.Status.Phase == corev1.PodFailed {
			continue
		}
		if lo.Contains(block, pod.Namespace) {
			logrus.Debugf("Namespace %s blocked", pod.Namespace)
			continue
		}
		if len(allow) > 0 && !lo.Contains(allow, pod.Namespace) {
			continue
		}
		selected = append(selected, pod)
	}
	return selected
}

func partition(pods []*corev1.Pod, workers int) [][]*corev1.Pod {
	if workers < 1 {
		workers = 1
	}
	if len(pods) == 0 {
		return nil
	}
	size := (len(pods) + workers - 1) / workers
	return lo.Chunk(pods, size)
}

func objectChecks(checks map[models.ResolvedObject]models.CheckResult) []models.ObjectCheck {
	out := lo.MapToSlice(checks, func(obj models.ResolvedObject, check models.CheckResult) models.ObjectCheck {
		return models.ObjectCheck{Object: obj, Checks: check}
	})
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Object, out[j].Object
		if a.Namespace != b.Namespace {
			return a.Namespace < b.Namespace
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Kind < b.Kind
	})
	return out
}
