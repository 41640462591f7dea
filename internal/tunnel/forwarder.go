package tunnel

import (
	"context"
	"errors"
	"fmt"

	"dbbridge/internal/kube"
	"dbbridge/internal/store"
)

// KubeForwarder adapts a kube.Forwarder to the tunnel transport interface.
type KubeForwarder struct {
	Manager kube.Forwarder
}

// Open establishes the forward via the cluster client.
func (f *KubeForwarder) Open(ctx context.Context, namespace, serviceName string, remotePort, localPort int) (Handle, error) {
	handle, err := f.Manager.Open(ctx, namespace, serviceName, remotePort, localPort)
	if err != nil {
		return nil, err
	}
	return handle, nil
}

// StoreForwarderProvider builds per-cluster forwarders from persisted cluster
// records, caching nothing: the kube manager underneath caches its clientset.
type StoreForwarderProvider struct {
	Store *store.Store
	// DefaultKubeconfig and DefaultContext apply to connections with no
	// cluster record, falling back to the operator's ambient kubeconfig.
	DefaultKubeconfig string
	DefaultContext    string
}

// ForwarderFor resolves the transport for the given cluster reference.
func (p *StoreForwarderProvider) ForwarderFor(clusterID *uint) (Forwarder, error) {
	kubeconfig := p.DefaultKubeconfig
	contextName := p.DefaultContext

	if clusterID != nil {
		cluster, err := p.Store.GetCluster(*clusterID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("cluster %d referenced by connection does not exist: %w", *clusterID, err)
			}
			return nil, err
		}
		if cluster.Kubeconfig != "" {
			kubeconfig = cluster.Kubeconfig
		}
		if cluster.Context != "" {
			contextName = cluster.Context
		}
	}

	return &KubeForwarder{Manager: kube.NewManager(kubeconfig, contextName)}, nil
}
