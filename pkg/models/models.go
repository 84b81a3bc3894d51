package models

import (
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
)

const (
	KindDeployment  = "Deployment"
	KindStatefulSet = "StatefulSet"
	KindReplicaSet  = "ReplicaSet"
	KindUnresolved  = "Unresolved"

	// UnresolvedName is the object name reported for pods without a recognised top-level owner.
	UnresolvedName = "unresolved"
)

// Snapshot is a single point-in-time listing of the cluster objects needed for an audit.
type Snapshot struct {
	Pods         []corev1.Pod         `json:"pods"`
	ReplicaSets  []appsv1.ReplicaSet  `json:"replicaSets"`
	Deployments  []appsv1.Deployment  `json:"deployments"`
	StatefulSets []appsv1.StatefulSet `json:"statefulSets"`
}

// ResolvedObject identifies the top-level workload owning a pod.
type ResolvedObject struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Namespace string `json:"namespace"`
}

// Unresolved returns the sentinel identity used for pods in namespace ns that have no known owner.
func Unresolved(ns string) ResolvedObject {
	return ResolvedObject{Name: UnresolvedName, Kind: KindUnresolved, Namespace: ns}
}

// IsWorkload is true for the kinds the best-practice checks apply to.
func (o ResolvedObject) IsWorkload() bool {
	return o.Kind == KindDeployment || o.Kind == KindStatefulSet
}

// ContainerRecord is one container of one pod, tagged with its owner.
// A nil request means the container did not declare it.
type ContainerRecord struct {
	Object        ResolvedObject
	Resolved      bool
	Pod           string
	Name          string
	Image         string
	CPURequest    *resource.Quantity
	MemoryRequest *resource.Quantity
}

// CheckResult holds the best-practice checks for one object.
type CheckResult struct {
	NodeSelector bool `json:"nodeSelectorCheck"`
	QoS          bool `json:"qosCheck"`
	Image        bool `json:"imageCheck"`
	// Evaluated is false for identities that were never checked.
	Evaluated bool `json:"evaluated"`
	// NodeSelectors is the rendered node selector of the evaluated pod.
	NodeSelectors string `json:"nodeSelectors"`
	// Registries lists the registry hosts seen in the evaluated pod's images.
	Registries []string `json:"registries"`
}

// Passed is true when every check succeeded.
func (c CheckResult) Passed() bool {
	return c.Evaluated && c.NodeSelector && c.QoS && c.Image
}

// ObjectRow is the aggregate for one container name within one object.
type ObjectRow struct {
	Namespace             string   `json:"namespace"`
	ObjectName            string   `json:"objectName"`
	Kind                  string   `json:"kind"`
	Container             string   `json:"container"`
	Images                []string `json:"images"`
	PodCount              int      `json:"podCount"`
	Replicas              int32    `json:"replicas"`
	CPURequestMillis      int64    `json:"cpuRequestMillis"`
	CPURequestSamples     int      `json:"cpuRequestSamples"`
	AvgCPURequestMillis   int64    `json:"avgCpuRequestMillis"`
	MemoryRequestBytes    int64    `json:"memoryRequestBytes"`
	MemoryRequestSamples  int      `json:"memoryRequestSamples"`
	AvgMemoryRequestBytes int64    `json:"avgMemoryRequestBytes"`
	NodeSelectors         string   `json:"nodeSelectors"`
	NodeSelectorCheck     bool     `json:"nodeSelectorCheck"`
	QoSCheck              bool     `json:"qosCheck"`
	ImageCheck            bool     `json:"imageCheck"`
}

// Failing is true when at least one check did not pass.
func (r ObjectRow) Failing() bool {
	return !r.NodeSelectorCheck || !r.QoSCheck || !r.ImageCheck
}

// ContainerRow is the aggregate for one container name across all objects.
type ContainerRow struct {
	Container             string `json:"container"`
	ObjectCount           int    `json:"objectCount"`
	PodCount              int    `json:"podCount"`
	Replicas              int32  `json:"replicas"`
	CPURequestMillis      int64  `json:"cpuRequestMillis"`
	CPURequestSamples     int    `json:"cpuRequestSamples"`
	AvgCPURequestMillis   int64  `json:"avgCpuRequestMillis"`
	MemoryRequestBytes    int64  `json:"memoryRequestBytes"`
	MemoryRequestSamples  int    `json:"memoryRequestSamples"`
	AvgMemoryRequestBytes int64  `json:"avgMemoryRequestBytes"`
	NodeSelectorCheck     bool   `json:"nodeSelectorCheck"`
	QoSCheck              bool   `json:"qosCheck"`
	ImageCheck            bool   `json:"imageCheck"`
}

// Failing is true when at least one check did not pass.
func (r ContainerRow) Failing() bool {
	return !r.NodeSelectorCheck || !r.QoSCheck || !r.ImageCheck
}

// Report is the result of one audit run.
type Report struct {
	GeneratedAt     time.Time      `json:"generatedAt"`
	RegistryPrefix  string         `json:"registryPrefix"`
	DisableFilter   bool           `json:"disableFilter"`
	Pods            int            `json:"pods"`
	UnresolvedPods  int            `json:"unresolvedPods"`
	Objects         []ObjectCheck  `json:"objects"`
	ByObject        []ObjectRow    `json:"byObject"`
	ByContainerName []ContainerRow `json:"byContainerName"`
}

// ObjectCheck is the per-object summary of the checks.
type ObjectCheck struct {
	Object ResolvedObject `json:"object"`
	Checks CheckResult    `json:"checks"`
}
