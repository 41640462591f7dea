package kube

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"dbbridge/pkg/logging"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	_ "k8s.io/client-go/plugin/pkg/client/auth" // Important for various auth providers
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"
)

// Manager provides the cluster capability set the discovery and tunnel
// subsystems depend on: service/secret listing, context enumeration, and
// port-forward establishment.
type Manager interface {
	// Context Management
	ListContexts() ([]string, error)
	CurrentContext() (string, error)

	// Discovery Inputs
	ListAllServices(ctx context.Context) ([]corev1.Service, error)
	FindSecretForService(ctx context.Context, svc corev1.Service) (*corev1.Secret, error)

	// Tunnel Transport
	Forwarder
}

// Forwarder opens and closes local-port-to-service tunnels. It is split out
// of Manager so the tunnel lifecycle manager can be tested against a mock
// without dragging in a cluster.
type Forwarder interface {
	Open(ctx context.Context, namespace, serviceName string, remotePort, localPort int) (*ForwardHandle, error)
	Close(handle *ForwardHandle)
}

// manager implements the Manager interface against a single kubeconfig
// source and context.
type manager struct {
	kubeconfig  string // path to a kubeconfig file, inline YAML, or "" for the default chain
	contextName string // "" means the kubeconfig's current context

	mu        sync.RWMutex
	clientset kubernetes.Interface
	config    *rest.Config
}

// NewManager creates a Manager for the given kubeconfig source and context.
// kubeconfig may be a file path, inline kubeconfig YAML (as stored on an
// imported Cluster record), or empty to use the standard loading chain.
func NewManager(kubeconfig, contextName string) Manager {
	return &manager{kubeconfig: kubeconfig, contextName: contextName}
}

// clientConfig builds a clientcmd.ClientConfig from the manager's kubeconfig
// source, applying the context override.
func (m *manager) clientConfig() (clientcmd.ClientConfig, error) {
	if m.kubeconfig == "" {
		loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
		overrides := &clientcmd.ConfigOverrides{CurrentContext: m.contextName}
		return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides), nil
	}

	raw := []byte(m.kubeconfig)
	if _, err := os.Stat(m.kubeconfig); err == nil {
		raw, err = os.ReadFile(m.kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("%w: reading kubeconfig %s: %v", ErrInvalidClusterConfig, m.kubeconfig, err)
		}
	}

	apiConfig, err := clientcmd.Load(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClusterConfig, err)
	}
	return clientcmd.NewNonInteractiveClientConfig(*apiConfig, m.contextName, &clientcmd.ConfigOverrides{}, nil), nil
}

// getClientset returns a cached clientset, building one on first use.
func (m *manager) getClientset() (kubernetes.Interface, *rest.Config, error) {
	m.mu.RLock()
	if m.clientset != nil {
		defer m.mu.RUnlock()
		return m.clientset, m.config, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clientset != nil {
		return m.clientset, m.config, nil
	}

	clientConfig, err := m.clientConfig()
	if err != nil {
		return nil, nil, err
	}
	restConfig, err := clientConfig.ClientConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: context %q: %v", ErrInvalidClusterConfig, m.contextName, err)
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Kubernetes clientset: %w", err)
	}

	m.clientset = clientset
	m.config = restConfig
	return m.clientset, m.config, nil
}

// ListContexts returns the sorted context names available in the manager's
// kubeconfig source.
func (m *manager) ListContexts() ([]string, error) {
	rawConfig, err := m.rawConfig()
	if err != nil {
		return nil, err
	}
	contexts := make([]string, 0, len(rawConfig.Contexts))
	for name := range rawConfig.Contexts {
		contexts = append(contexts, name)
	}
	if len(contexts) == 0 {
		return nil, fmt.Errorf("%w: kubeconfig has no contexts", ErrInvalidClusterConfig)
	}
	sort.Strings(contexts)
	return contexts, nil
}

// CurrentContext returns the active context name of the kubeconfig source.
func (m *manager) CurrentContext() (string, error) {
	if m.contextName != "" {
		return m.contextName, nil
	}
	rawConfig, err := m.rawConfig()
	if err != nil {
		return "", err
	}
	if rawConfig.CurrentContext == "" {
		return "", fmt.Errorf("%w: current context is not set", ErrInvalidClusterConfig)
	}
	return rawConfig.CurrentContext, nil
}

func (m *manager) rawConfig() (clientcmdapi.Config, error) {
	clientConfig, err := m.clientConfig()
	if err != nil {
		return clientcmdapi.Config{}, err
	}
	raw, err := clientConfig.RawConfig()
	if err != nil {
		return clientcmdapi.Config{}, fmt.Errorf("%w: %v", ErrInvalidClusterConfig, err)
	}
	return raw, nil
}

// ListAllServices lists services across all namespaces. Discovery is
// deliberately cluster-wide, not namespace-scoped.
func (m *manager) ListAllServices(ctx context.Context) ([]corev1.Service, error) {
	clientset, _, err := m.getClientset()
	if err != nil {
		return nil, err
	}
	serviceList, err := clientset.CoreV1().Services(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	logging.Debug("Kube", "Listed %d services cluster-wide", len(serviceList.Items))
	return serviceList.Items, nil
}

// FindSecretForService locates the secret most likely to carry credentials
// for the given service. The heuristic is metadata-only: a secret in the
// service's namespace whose name equals or is prefixed by the service name,
// or that shares the service's app label. Returns nil (no error) when no
// candidate matches.
func (m *manager) FindSecretForService(ctx context.Context, svc corev1.Service) (*corev1.Secret, error) {
	clientset, _, err := m.getClientset()
	if err != nil {
		return nil, err
	}
	secretList, err := clientset.CoreV1().Secrets(svc.Namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list secrets in %s: %w", svc.Namespace, err)
	}

	appLabel := svc.Labels["app"]
	if appLabel == "" {
		appLabel = svc.Labels["app.kubernetes.io/name"]
	}

	var prefixed *corev1.Secret
	var labeled *corev1.Secret
	for i := range secretList.Items {
		secret := &secretList.Items[i]
		if secret.Type == corev1.SecretTypeServiceAccountToken {
			continue
		}
		if secret.Name == svc.Name {
			return secret, nil
		}
		if prefixed == nil && strings.HasPrefix(secret.Name, svc.Name+"-") {
			prefixed = secret
		}
		if labeled == nil && appLabel != "" {
			if secret.Labels["app"] == appLabel || secret.Labels["app.kubernetes.io/name"] == appLabel {
				labeled = secret
			}
		}
	}
	if prefixed != nil {
		return prefixed, nil
	}
	return labeled, nil
}
