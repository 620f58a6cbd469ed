/*
Copyright 2026 Pressinfra SRL

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package upgrade

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/bitpoke/mysql-router-operator/pkg/juju"
)

const (
	appNameLabel      = "app.kubernetes.io/name"
	revisionHashLabel = "controller-revision-hash"
)

// Kubernetes is the platform of Kubernetes units. Juju runs the units as the
// pods of a StatefulSet named after the application, in the namespace named
// after the model. The pod template revision is the workload container
// version and the StatefulSet rolling update partition is the partition.
type Kubernetes struct {
	client    kubernetes.Interface
	namespace string
	app       string
}

var _ Platform = &Kubernetes{}

// NewKubernetes returns the platform of the given application
func NewKubernetes(client kubernetes.Interface, namespace, app string) *Kubernetes {
	return &Kubernetes{client: client, namespace: namespace, app: app}
}

// NewInClusterKubernetes returns the platform using the pod service account
func NewInClusterKubernetes(namespace, app string) (*Kubernetes, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load in-cluster config")
	}
	client, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create kubernetes client")
	}
	return NewKubernetes(client, namespace, app), nil
}

// TargetVersion implements Platform
func (p *Kubernetes) TargetVersion(ctx context.Context) (string, error) {
	sts, err := p.client.AppsV1().StatefulSets(p.namespace).Get(ctx, p.app, metav1.GetOptions{})
	if err != nil {
		return "", err
	}
	return sts.Status.UpdateRevision, nil
}

// unitName converts a pod name (eg. mysql-router-k8s-2) into a unit name
// (eg. mysql-router-k8s/2)
func unitName(pod string) (string, bool) {
	i := strings.LastIndex(pod, "-")
	if i < 0 {
		return "", false
	}
	if _, err := strconv.Atoi(pod[i+1:]); err != nil {
		return "", false
	}
	return pod[:i] + "/" + pod[i+1:], true
}

// UnitVersions implements Platform
func (p *Kubernetes) UnitVersions(ctx context.Context, _ map[string]*juju.Databag) (map[string]string, error) {
	pods, err := p.client.CoreV1().Pods(p.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("%s=%s", appNameLabel, p.app),
	})
	if err != nil {
		return nil, err
	}

	versions := map[string]string{}
	for _, pod := range pods.Items {
		unit, ok := unitName(pod.Name)
		if !ok {
			continue
		}
		versions[unit] = pod.Labels[revisionHashLabel]
	}
	return versions, nil
}

// Partition implements Platform
func (p *Kubernetes) Partition(ctx context.Context, _ []string, _ string, _ *juju.Databag) (int, error) {
	sts, err := p.client.AppsV1().StatefulSets(p.namespace).Get(ctx, p.app, metav1.GetOptions{})
	if err != nil {
		return 0, err
	}
	ru := sts.Spec.UpdateStrategy.RollingUpdate
	if ru == nil || ru.Partition == nil {
		return 0, nil
	}
	return int(*ru.Partition), nil
}

// SetPartition implements Platform
func (p *Kubernetes) SetPartition(ctx context.Context, partition int, _ string, _ *juju.Databag) error {
	patch := fmt.Sprintf(`{"spec":{"updateStrategy":{"rollingUpdate":{"partition":%d}}}}`, partition)
	_, err := p.client.AppsV1().StatefulSets(p.namespace).Patch(ctx, p.app, types.MergePatchType,
		[]byte(patch), metav1.PatchOptions{})
	return errors.Wrap(err, "failed to patch the statefulset partition")
}
