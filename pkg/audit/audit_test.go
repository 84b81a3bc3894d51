package audit

import (
	"errors"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"

	"github.com/fairwindsops/insights-plugins/plugins/kube-checker/pkg/models"
)

const ecr = "123456789.dkr.ecr.us-east-1.amazonaws.com"

func loadSnapshot(t *testing.T) *models.Snapshot {
	t.Helper()
	data, err := os.ReadFile("testdata/snapshot.yaml")
	require.NoError(t, err)
	var snapshot models.Snapshot
	require.NoError(t, yaml.Unmarshal(data, &snapshot))
	return &snapshot
}

func container(name, image, cpu, memory string) corev1.Container {
	requests := corev1.ResourceList{}
	if cpu != "" {
		requests[corev1.ResourceCPU] = resource.MustParse(cpu)
	}
	if memory != "" {
		requests[corev1.ResourceMemory] = resource.MustParse(memory)
	}
	return corev1.Container{Name: name, Image: image, Resources: corev1.ResourceRequirements{Requests: requests}}
}

func statefulSetPod(name, owner string, created time.Time, nodeSelector map[string]string, containers ...corev1.Container) corev1.Pod {
	controller := true
	return corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:              name,
			Namespace:         "default",
			CreationTimestamp: metav1.NewTime(created),
			OwnerReferences:   []metav1.OwnerReference{{Kind: "StatefulSet", Name: owner, Controller: &controller}},
		},
		Spec:   corev1.PodSpec{NodeSelector: nodeSelector, Containers: containers},
		Status: corev1.PodStatus{Phase: corev1.PodRunning},
	}
}

func findObjectRow(rows []models.ObjectRow, name, ctn string) *models.ObjectRow {
	for i := range rows {
		if rows[i].ObjectName == name && rows[i].Container == ctn {
			return &rows[i]
		}
	}
	return nil
}

func findContainerRow(rows []models.ContainerRow, ctn string) *models.ContainerRow {
	for i := range rows {
		if rows[i].Container == ctn {
			return &rows[i]
		}
	}
	return nil
}

func TestRunFilterMode(t *testing.T) {
	report, err := Run(loadSnapshot(t), Options{RegistryPrefix: ecr, Workers: 1})
	require.NoError(t, err)

	assert.Equal(t, 5, report.Pods)
	assert.Equal(t, 1, report.UnresolvedPods)
	require.Len(t, report.ByObject, 5)
	assert.Len(t, report.Objects, 3)

	certManager := findObjectRow(report.ByObject, "cert-manager", "cert-manager")
	require.NotNil(t, certManager)
	assert.Equal(t, "Deployment", certManager.Kind)
	assert.False(t, certManager.NodeSelectorCheck)
	assert.False(t, certManager.QoSCheck)
	assert.False(t, certManager.ImageCheck)
	assert.Equal(t, "None", certManager.NodeSelectors)
	assert.Equal(t, 0, certManager.CPURequestSamples)
	assert.Equal(t, int32(1), certManager.Replicas)

	checkout := findObjectRow(report.ByObject, "checkout", "checkout")
	require.NotNil(t, checkout)
	assert.Equal(t, 2, checkout.PodCount)
	assert.Equal(t, int32(2), checkout.Replicas)
	assert.Equal(t, int64(500), checkout.CPURequestMillis)
	assert.Equal(t, int64(250), checkout.AvgCPURequestMillis)
	assert.Equal(t, int64(512*1024*1024), checkout.MemoryRequestBytes)
	assert.True(t, checkout.NodeSelectorCheck)
	assert.True(t, checkout.QoSCheck)
	assert.True(t, checkout.ImageCheck)
	assert.Equal(t, "pool=general", checkout.NodeSelectors)

	redisSidecar := findObjectRow(report.ByObject, "redis", "istio-proxy")
	require.NotNil(t, redisSidecar)
	assert.Equal(t, "StatefulSet", redisSidecar.Kind)
	assert.False(t, redisSidecar.ImageCheck)
	assert.True(t, redisSidecar.QoSCheck)

	assert.Nil(t, findObjectRow(report.ByObject, models.UnresolvedName, "shell"))
	assert.Nil(t, findObjectRow(report.ByObject, "migrate", "migrate"))

	require.Len(t, report.ByContainerName, 4)
	proxy := findContainerRow(report.ByContainerName, "istio-proxy")
	require.NotNil(t, proxy)
	assert.Equal(t, 2, proxy.ObjectCount)
	assert.Equal(t, 3, proxy.PodCount)
	assert.Equal(t, int32(3), proxy.Replicas)
	assert.Equal(t, int64(300), proxy.CPURequestMillis)
	assert.Equal(t, int64(100), proxy.AvgCPURequestMillis)
	assert.True(t, proxy.NodeSelectorCheck)
	assert.False(t, proxy.ImageCheck)
	assert.Nil(t, findContainerRow(report.ByContainerName, "shell"))
}

func TestRunDisableFilter(t *testing.T) {
	snapshot := loadSnapshot(t)

	report, err := Run(snapshot, Options{RegistryPrefix: ecr, DisableFilter: true})
	require.NoError(t, err)
	require.Len(t, report.ByObject, 6)

	unresolved := report.ByObject[5]
	assert.Equal(t, models.UnresolvedName, unresolved.ObjectName)
	assert.Equal(t, models.KindUnresolved, unresolved.Kind)
	assert.Equal(t, "shop", unresolved.Namespace)
	assert.Equal(t, "shell", unresolved.Container)
	assert.False(t, unresolved.NodeSelectorCheck)
	assert.False(t, unresolved.QoSCheck)
	assert.False(t, unresolved.ImageCheck)

	shell := findContainerRow(report.ByContainerName, "shell")
	require.NotNil(t, shell)
	assert.False(t, shell.ImageCheck)

	// same snapshot, filter mode
	report, err = Run(snapshot, Options{RegistryPrefix: ecr})
	require.NoError(t, err)
	assert.Nil(t, findObjectRow(report.ByObject, models.UnresolvedName, "shell"))
	assert.Nil(t, findContainerRow(report.ByContainerName, "shell"))
}

func TestRunFilterModeKeepsPassingWorkloads(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	snapshot := loadSnapshot(t)
	snapshot.Pods = append(snapshot.Pods,
		statefulSetPod("db-0", "db", base, map[string]string{"pool": "storage"}, container("db", ecr+"/db:1", "200m", "512Mi")))

	report, err := Run(snapshot, Options{RegistryPrefix: ecr})
	require.NoError(t, err)

	db := findObjectRow(report.ByObject, "db", "db")
	require.NotNil(t, db)
	assert.False(t, db.Failing())
	checkout := findObjectRow(report.ByObject, "checkout", "checkout")
	require.NotNil(t, checkout)
	assert.False(t, checkout.Failing())

	dbContainer := findContainerRow(report.ByContainerName, "db")
	require.NotNil(t, dbContainer)
	assert.False(t, dbContainer.Failing())
	assert.NotNil(t, findContainerRow(report.ByContainerName, "checkout"))
}

func TestRunCertManager(t *testing.T) {
	controller := true
	snapshot := &models.Snapshot{Pods: []corev1.Pod{{
		ObjectMeta: metav1.ObjectMeta{
			Name:            "cert-manager-abc-123",
			Namespace:       "cert-manager",
			OwnerReferences: []metav1.OwnerReference{{Kind: "Deployment", Name: "cert-manager", Controller: &controller}},
		},
		Spec: corev1.PodSpec{Containers: []corev1.Container{
			{Name: "cert-manager", Image: "quay.io/jetstack/cert-manager:v1"},
		}},
	}}}

	report, err := Run(snapshot, Options{RegistryPrefix: ecr})
	require.NoError(t, err)
	require.Len(t, report.ByObject, 1)
	row := report.ByObject[0]
	assert.Equal(t, "cert-manager", row.ObjectName)
	assert.False(t, row.NodeSelectorCheck)
	assert.False(t, row.QoSCheck)
	assert.False(t, row.ImageCheck)
	require.Len(t, report.Objects, 1)
	assert.Equal(t, []string{"quay.io"}, report.Objects[0].Checks.Registries)
}

func TestRunAverageExcludesMissingRequests(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	snapshot := &models.Snapshot{Pods: []corev1.Pod{
		statefulSetPod("db-0", "db", base, nil, container("db", ecr+"/db:1", "100m", "")),
		statefulSetPod("db-1", "db", base, nil, container("db", ecr+"/db:1", "", "")),
		statefulSetPod("db-2", "db", base, nil, container("db", ecr+"/db:1", "200m", "")),
	}}

	report, err := Run(snapshot, Options{RegistryPrefix: ecr})
	require.NoError(t, err)
	require.Len(t, report.ByObject, 1)
	row := report.ByObject[0]
	assert.Equal(t, 3, row.PodCount)
	assert.Equal(t, int64(300), row.CPURequestMillis)
	assert.Equal(t, 2, row.CPURequestSamples)
	assert.Equal(t, int64(150), row.AvgCPURequestMillis)
	assert.Equal(t, int64(0), row.AvgMemoryRequestBytes)
}

func TestRunLastObservedPodWins(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	old := statefulSetPod("db-old", "db", base, nil, container("db", ecr+"/db:1", "100m", "1Gi"))
	updated := statefulSetPod("db-new", "db", base.Add(time.Minute), map[string]string{"pool": "db"}, container("db", ecr+"/db:2", "100m", "1Gi"))

	for _, pods := range [][]corev1.Pod{{old, updated}, {updated, old}} {
		report, err := Run(&models.Snapshot{Pods: pods}, Options{RegistryPrefix: ecr})
		require.NoError(t, err)
		require.Len(t, report.ByObject, 1)
		assert.True(t, report.ByObject[0].NodeSelectorCheck)
		assert.Equal(t, "pool=db", report.ByObject[0].NodeSelectors)
	}
}

func TestRunOrderIndependent(t *testing.T) {
	snapshot := loadSnapshot(t)
	expected, err := Run(snapshot, Options{RegistryPrefix: ecr, DisableFilter: true})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 10; i++ {
		shuffled := *snapshot
		shuffled.Pods = append([]corev1.Pod(nil), snapshot.Pods...)
		rng.Shuffle(len(shuffled.Pods), func(a, b int) {
			shuffled.Pods[a], shuffled.Pods[b] = shuffled.Pods[b], shuffled.Pods[a]
		})

		got, err := Run(&shuffled, Options{RegistryPrefix: ecr, DisableFilter: true, Workers: 1 + i%4})
		require.NoError(t, err)
		assert.Equal(t, expected.ByObject, got.ByObject)
		assert.Equal(t, expected.ByContainerName, got.ByContainerName)
		assert.Equal(t, expected.Objects, got.Objects)
	}
}

func TestRunNamespaceFilters(t *testing.T) {
	report, err := Run(loadSnapshot(t), Options{RegistryPrefix: ecr, Namespaces: []string{"Shop"}})
	require.NoError(t, err)
	assert.Nil(t, findObjectRow(report.ByObject, "cert-manager", "cert-manager"))
	assert.NotNil(t, findObjectRow(report.ByObject, "checkout", "checkout"))

	report, err = Run(loadSnapshot(t), Options{RegistryPrefix: ecr, ExcludeNamespaces: []string{"shop"}})
	require.NoError(t, err)
	require.Len(t, report.ByObject, 1)
	assert.Equal(t, "cert-manager", report.ByObject[0].ObjectName)
}

func TestRunNoData(t *testing.T) {
	_, err := Run(nil, Options{})
	assert.True(t, errors.Is(err, ErrNoData))

	_, err = Run(&models.Snapshot{}, Options{})
	assert.True(t, errors.Is(err, ErrNoData))

	report, err := Run(&models.Snapshot{Pods: []corev1.Pod{}}, Options{Workers: 4})
	require.NoError(t, err)
	assert.Empty(t, report.ByObject)
	assert.Empty(t, report.ByContainerName)
	assert.Equal(t, 0, report.Pods)
}
