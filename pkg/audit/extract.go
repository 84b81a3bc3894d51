package audit

import (
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/fairwindsops/insights-plugins/plugins/kube-checker/pkg/models"
)

// ExtractContainers flattens the long-running containers of a pod into
// records tagged with the pod's owner. Init and ephemeral containers are
// not part of the steady-state footprint and are skipped.
func ExtractContainers(pod *corev1.Pod, obj models.ResolvedObject, resolved bool) []models.ContainerRecord {
	records := make([]models.ContainerRecord, 0, len(pod.Spec.Containers))
	for _, ctn := range pod.Spec.Containers {
		records = append(records, models.ContainerRecord{
			Object:        obj,
			Resolved:      resolved,
			Pod:           pod.Name,
			Name:          ctn.Name,
			Image:         ctn.Image,
			CPURequest:    requestOf(ctn.Resources.Requests, corev1.ResourceCPU),
			MemoryRequest: requestOf(ctn.Resources.Requests, corev1.ResourceMemory),
		})
	}
	return records
}

// requestOf returns nil when the resource was not requested, so an explicit
// zero request stays distinguishable from a missing one.
func requestOf(requests corev1.ResourceList, name corev1.ResourceName) *resource.Quantity {
	quantity, ok := requests[name]
	if !ok {
		return nil
	}
	q := quantity.DeepCopy()
	return &q
}
