package kube

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"k8s.io/client-go/kubernetes"
	_ "k8s.io/client-go/plugin/pkg/client/auth"
	ctrl "sigs.k8s.io/controller-runtime"
)

var once sync.Once
var singletonClient kubernetes.Interface
var singletonErr error

// GetKubeClient returns a clientset built from the ambient kubeconfig or
// in-cluster configuration. It is created once per process.
func GetKubeClient() (kubernetes.Interface, error) {
	once.Do(func() {
		singletonClient, singletonErr = getKubeClient()
		if singletonErr != nil {
			logrus.Errorf("Error retrieving kubernetes client: %v", singletonErr)
		}
	})
	return singletonClient, singletonErr
}

func getKubeClient() (kubernetes.Interface, error) {
	config, err := ctrl.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("fetching KubeConfig: %w", err)
	}
	kube, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("creating Kubernetes client: %w", err)
	}
	logrus.Debugf("Connected to %s", config.Host)
	return kube, nil
}
