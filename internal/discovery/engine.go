package discovery

import (
	"context"
	"fmt"

	"dbbridge/pkg/logging"

	corev1 "k8s.io/api/core/v1"
)

const subsystem = "Discovery"

// ClusterClient is the slice of the cluster capability set the engine needs.
type ClusterClient interface {
	ListAllServices(ctx context.Context) ([]corev1.Service, error)
	FindSecretForService(ctx context.Context, svc corev1.Service) (*corev1.Secret, error)
}

// Engine scans a cluster for database services and enriches the matches with
// credentials from associated secrets.
type Engine struct {
	client ClusterClient
}

// NewEngine creates a discovery engine over the given cluster client.
func NewEngine(client ClusterClient) *Engine {
	return &Engine{client: client}
}

// Discover lists services cluster-wide, classifies each, and produces a
// DiscoveredService per recognized middleware instance. Services whose
// (namespace, name) key appears in existingKeys are excluded: they already
// correspond to an imported connection. Unclassified services and
// per-service secret failures are skipped, never surfaced as errors; only a
// failure to list services aborts the run.
func (e *Engine) Discover(ctx context.Context, existingKeys map[ServiceKey]bool) ([]DiscoveredService, error) {
	services, err := e.client.ListAllServices(ctx)
	if err != nil {
		return nil, fmt.Errorf("discovery failed: %w", err)
	}

	var discovered []DiscoveredService
	for _, svc := range services {
		ports := servicePorts(svc)
		middlewareType, ok := Classify(svc.Name, ports)
		if !ok {
			continue
		}

		key := ServiceKey{Namespace: svc.Namespace, ServiceName: svc.Name}
		if existingKeys[key] {
			logging.Debug(subsystem, "Skipping %s/%s: already imported", svc.Namespace, svc.Name)
			continue
		}

		result := DiscoveredService{
			Name:      svc.Name,
			Type:      middlewareType,
			Namespace: svc.Namespace,
			Host:      fmt.Sprintf("%s.%s.svc.cluster.local", svc.Name, svc.Namespace),
			Port:      CanonicalPort(middlewareType, ports),
		}

		secret, err := e.client.FindSecretForService(ctx, svc)
		if err != nil {
			// One bad service must not abort the batch; report it without
			// credentials instead.
			logging.Warn(subsystem, "Secret lookup failed for %s/%s: %v", svc.Namespace, svc.Name, err)
		} else if secret != nil {
			creds := ExtractCredentials(decodeSecretData(secret), middlewareType)
			result.Username = creds.Username
			result.Password = creds.Password
			result.Database = creds.Database
			result.SecretRef = secret.Name
			result.HasCredentials = creds.HasPassword
		}
		if result.Username == "" {
			if profile, ok := profileFor(middlewareType); ok {
				result.Username = profile.DefaultUser
			}
		}

		discovered = append(discovered, result)
	}

	logging.Info(subsystem, "Discovered %d middleware service(s) out of %d", len(discovered), len(services))
	return discovered, nil
}

func servicePorts(svc corev1.Service) []int32 {
	ports := make([]int32, 0, len(svc.Spec.Ports))
	for _, p := range svc.Spec.Ports {
		ports = append(ports, p.Port)
	}
	return ports
}

// decodeSecretData flattens both the binary Data and StringData fields of a
// secret into plain strings. client-go has already base64-decoded Data.
func decodeSecretData(secret *corev1.Secret) map[string]string {
	data := make(map[string]string, len(secret.Data)+len(secret.StringData))
	for key, value := range secret.Data {
		data[key] = string(value)
	}
	for key, value := range secret.StringData {
		data[key] = value
	}
	return data
}
