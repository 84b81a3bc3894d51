package owner

import (
	"github.com/sirupsen/logrus"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/fairwindsops/insights-plugins/plugins/kube-checker/pkg/models"
)

// MaxHops bounds the owner chain walk. Real chains are at most two hops
// (Pod -> ReplicaSet -> Deployment); anything longer is treated as unresolved.
const MaxHops = 3

type objectKey struct {
	Namespace string
	Name      string
}

// Resolver maps pods to their top-level Deployment or StatefulSet using a fixed snapshot.
type Resolver struct {
	replicaSets map[objectKey][]metav1.OwnerReference
	replicas    map[models.ResolvedObject]int32
}

// NewResolver indexes the intermediate and top-level objects of a snapshot.
func NewResolver(replicaSets []appsv1.ReplicaSet, deployments []appsv1.Deployment, statefulSets []appsv1.StatefulSet) *Resolver {
	r := &Resolver{
		replicaSets: make(map[objectKey][]metav1.OwnerReference, len(replicaSets)),
		replicas:    make(map[models.ResolvedObject]int32, len(deployments)+len(statefulSets)),
	}
	for _, rs := range replicaSets {
		r.replicaSets[objectKey{Namespace: rs.Namespace, Name: rs.Name}] = rs.OwnerReferences
	}
	for _, d := range deployments {
		obj := models.ResolvedObject{Name: d.Name, Kind: models.KindDeployment, Namespace: d.Namespace}
		r.replicas[obj] = desiredReplicas(d.Spec.Replicas)
	}
	for _, s := range statefulSets {
		obj := models.ResolvedObject{Name: s.Name, Kind: models.KindStatefulSet, Namespace: s.Namespace}
		r.replicas[obj] = desiredReplicas(s.Spec.Replicas)
	}
	return r
}

// unset spec.replicas defaults to 1 on the API server
func desiredReplicas(replicas *int32) int32 {
	if replicas == nil {
		return 1
	}
	return *replicas
}

// Resolve walks the owner references of a pod up to its Deployment or
// StatefulSet. The second return value is false when the chain is absent,
// broken, too long, cyclic, or ends at a kind that is not audited; in that
// case the sentinel unresolved identity for the pod's namespace is returned.
func (r *Resolver) Resolve(pod *corev1.Pod) (models.ResolvedObject, bool) {
	ns := pod.Namespace
	ref := controllerOf(pod.OwnerReferences)
	if ref == nil {
		logrus.Debugf("Pod %s/%s has no owner", ns, pod.Name)
		return models.Unresolved(ns), false
	}

	visited := map[string]struct{}{}
	for hops := 1; ref != nil; hops++ {
		if hops > MaxHops {
			logrus.Debugf("Owner chain of pod %s/%s exceeds %d hops", ns, pod.Name, MaxHops)
			return models.Unresolved(ns), false
		}
		link := ref.Kind + "/" + ref.Name
		if _, seen := visited[link]; seen {
			logrus.Warnf("Owner chain of pod %s/%s loops at %s", ns, pod.Name, link)
			return models.Unresolved(ns), false
		}
		visited[link] = struct{}{}

		switch ref.Kind {
		case models.KindDeployment, models.KindStatefulSet:
			return models.ResolvedObject{Name: ref.Name, Kind: ref.Kind, Namespace: ns}, true
		case models.KindReplicaSet:
			owners, ok := r.replicaSets[objectKey{Namespace: ns, Name: ref.Name}]
			if !ok {
				logrus.Debugf("ReplicaSet %s/%s owning pod %s not found", ns, ref.Name, pod.Name)
				return models.Unresolved(ns), false
			}
			ref = controllerOf(owners)
		default:
			logrus.Debugf("Pod %s/%s is owned by unsupported kind %s", ns, pod.Name, ref.Kind)
			return models.Unresolved(ns), false
		}
	}
	logrus.Debugf("Pod %s/%s belongs to a bare ReplicaSet", ns, pod.Name)
	return models.Unresolved(ns), false
}

// Replicas returns the desired replica count of a resolved object, or 0 if
// the object was not part of the snapshot.
func (r *Resolver) Replicas(obj models.ResolvedObject) int32 {
	return r.replicas[obj]
}

// controllerOf returns the first reference flagged as controller, falling
// back to the first reference.
func controllerOf(refs []metav1.OwnerReference) *metav1.OwnerReference {
	if len(refs) == 0 {
		return nil
	}
	for i := range refs {
		if refs[i].Controller != nil && *refs[i].Controller {
			return &refs[i]
		}
	}
	return &refs[0]
}
