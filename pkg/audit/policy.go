package audit

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	corev1 "k8s.io/api/core/v1"

	"github.com/fairwindsops/insights-plugins/plugins/kube-checker/pkg/models"
)

// Evaluator applies the best-practice checks to the pod template of a workload.
type Evaluator struct {
	RegistryPrefix string
}

// NewEvaluator returns an Evaluator approving images under registryPrefix.
func NewEvaluator(registryPrefix string) *Evaluator {
	return &Evaluator{RegistryPrefix: registryPrefix}
}

// Evaluate runs all checks against a representative pod of an object.
func (e *Evaluator) Evaluate(pod *corev1.Pod) models.CheckResult {
	containers := pod.Spec.Containers
	return models.CheckResult{
		NodeSelector:  NodeSelectorCheck(pod.Spec.NodeSelector),
		QoS:           QoSCheck(containers),
		Image:         e.ImageCheck(containers),
		Evaluated:     true,
		NodeSelectors: FormatNodeSelector(pod.Spec.NodeSelector),
		Registries:    registries(containers),
	}
}

// NodeSelectorCheck passes when the pod is pinned to nodes by at least one selector.
func NodeSelectorCheck(nodeSelector map[string]string) bool {
	return len(nodeSelector) > 0
}

// QoSCheck passes when every container requests both CPU and memory.
func QoSCheck(containers []corev1.Container) bool {
	if len(containers) == 0 {
		return false
	}
	return lo.EveryBy(containers, func(ctn corev1.Container) bool {
		_, cpu := ctn.Resources.Requests[corev1.ResourceCPU]
		_, memory := ctn.Resources.Requests[corev1.ResourceMemory]
		return cpu && memory
	})
}

// ImageCheck passes when every container image comes from the approved registry.
// A single sidecar pulled from elsewhere fails the whole object.
func (e *Evaluator) ImageCheck(containers []corev1.Container) bool {
	if len(containers) == 0 || e.RegistryPrefix == "" {
		return false
	}
	return lo.EveryBy(containers, func(ctn corev1.Container) bool {
		return strings.HasPrefix(ctn.Image, e.RegistryPrefix)
	})
}

// FormatNodeSelector renders a node selector as sorted key=value pairs.
func FormatNodeSelector(nodeSelector map[string]string) string {
	if len(nodeSelector) == 0 {
		return "None"
	}
	keys := lo.Keys(nodeSelector)
	sort.Strings(keys)
	pairs := lo.Map(keys, func(k string, _ int) string {
		return fmt.Sprintf("%s=%s", k, nodeSelector[k])
	})
	return strings.Join(pairs, ",")
}

// RegistryOf returns the registry host of an image reference, e.g.
// "index.docker.io" for "nginx:1.25". It returns "" for references that do
// not parse.
func RegistryOf(image string) string {
	ref, err := name.ParseReference(image)
	if err != nil {
		logrus.Debugf("Unable to parse image reference %q: %v", image, err)
		return ""
	}
	return ref.Context().RegistryStr()
}

func registries(containers []corev1.Container) []string {
	hosts := lo.Uniq(lo.FilterMap(containers, func(ctn corev1.Container, _ int) (string, bool) {
		host := RegistryOf(ctn.Image)
		return host, host != ""
	}))
	sort.Strings(hosts)
	return hosts
}
