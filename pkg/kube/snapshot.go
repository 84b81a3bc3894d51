package kube

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/fairwindsops/insights-plugins/plugins/kube-checker/pkg/models"
)

// DefaultConcurrency is the number of namespaces listed in parallel.
const DefaultConcurrency = 8

// CollectSnapshot lists pods, ReplicaSets, Deployments and StatefulSets of
// every namespace in parallel. namespaces restricts the listing when non-empty.
// Any failed listing fails the whole snapshot; a partial snapshot would
// report workloads as unresolved.
func CollectSnapshot(ctx context.Context, kube kubernetes.Interface, namespaces []string, concurrency int) (*models.Snapshot, error) {
	if len(namespaces) == 0 {
		logrus.Info("Retrieving namespaces")
		list, err := kube.CoreV1().Namespaces().List(ctx, metav1.ListOptions{})
		if err != nil {
			return nil, fmt.Errorf("listing namespaces: %w", err)
		}
		for _, ns := range list.Items {
			namespaces = append(namespaces, ns.Name)
		}
	}
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}

	snapshot := &models.Snapshot{Pods: []corev1.Pod{}}
	var mu sync.Mutex
	var allErrs *multierror.Error

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, ns := range namespaces {
		g.Go(func() error {
			partial, err := collectNamespace(ctx, kube, ns)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				allErrs = multierror.Append(allErrs, err)
				return err
			}
			snapshot.Pods = append(snapshot.Pods, partial.Pods...)
			snapshot.ReplicaSets = append(snapshot.ReplicaSets, partial.ReplicaSets...)
			snapshot.Deployments = append(snapshot.Deployments, partial.Deployments...)
			snapshot.StatefulSets = append(snapshot.StatefulSets, partial.StatefulSets...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, allErrs.ErrorOrNil()
	}
	logrus.Infof("Retrieved %d pods from %d namespaces", len(snapshot.Pods), len(namespaces))
	return snapshot, nil
}

func collectNamespace(ctx context.Context, kube kubernetes.Interface, namespace string) (*models.Snapshot, error) {
	logrus.Debugf("Retrieving pods for namespace %s", namespace)
	listOpts := metav1.ListOptions{}

	pods, err := kube.CoreV1().Pods(namespace).List(ctx, listOpts)
	if err != nil {
		return nil, fmt.Errorf("listing pods in namespace %s: %w", namespace, err)
	}
	replicaSets, err := kube.AppsV1().ReplicaSets(namespace).List(ctx, listOpts)
	if err != nil {
		return nil, fmt.Errorf("listing replicasets in namespace %s: %w", namespace, err)
	}
	deployments, err := kube.AppsV1().Deployments(namespace).List(ctx, listOpts)
	if err != nil {
		return nil, fmt.Errorf("listing deployments in namespace %s: %w", namespace, err)
	}
	statefulSets, err := kube.AppsV1().StatefulSets(namespace).List(ctx, listOpts)
	if err != nil {
		return nil, fmt.Errorf("listing statefulsets in namespace %s: %w", namespace, err)
	}
	logrus.Debugf("Finished retrieving pods for namespace %s", namespace)

	return &models.Snapshot{
		Pods:         pods.Items,
		ReplicaSets:  replicaSets.Items,
		Deployments:  deployments.Items,
		StatefulSets: statefulSets.Items,
	}, nil
}
