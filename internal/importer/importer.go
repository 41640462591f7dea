package importer

import (
	"errors"
	"fmt"

	"dbbridge/internal/discovery"
	"dbbridge/internal/store"
	"dbbridge/pkg/logging"
)

const subsystem = "Import"

// Action is the outcome of importing a single discovered service.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionSkipped Action = "skipped"
	ActionFailed  Action = "failed"
)

// Result is the per-service outcome. Every input service produces exactly one
// Result; none are silently dropped.
type Result struct {
	Namespace    string `json:"namespace"`
	ServiceName  string `json:"service_name"`
	Action       Action `json:"action"`
	ConnectionID uint   `json:"connection_id,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Summary aggregates an import batch. The four counts are disjoint.
type Summary struct {
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Skipped int      `json:"skipped"`
	Failed  int      `json:"failed"`
	Results []Result `json:"results"`
}

// Options control a single import batch.
type Options struct {
	// ForceOverride updates records whose identity key already exists instead
	// of skipping them.
	ForceOverride bool
	// ClusterName attaches imported connections to a cluster record, creating
	// it when no cluster with that name exists yet.
	ClusterName string
	// Context and Kubeconfig are stored on a lazily created cluster so later
	// tunnel establishment can reach it.
	Context     string
	Kubeconfig  string
	Environment string
}

// Pipeline reconciles discovered services against the connection store.
type Pipeline struct {
	store *store.Store
}

// NewPipeline creates an import pipeline over the given store.
func NewPipeline(s *store.Store) *Pipeline {
	return &Pipeline{store: s}
}

// Import reconciles a batch of discovered services. Per-service failures are
// collected into the summary's failed bucket; the batch always completes.
// Only a failure to resolve the target cluster rejects the whole call, before
// any connection is written.
func (p *Pipeline) Import(services []discovery.DiscoveredService, opts Options) (*Summary, error) {
	clusterID, err := p.resolveCluster(opts)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Results: make([]Result, 0, len(services))}
	for _, svc := range services {
		result := p.importOne(svc, clusterID, opts.ForceOverride)
		switch result.Action {
		case ActionCreated:
			summary.Created++
		case ActionUpdated:
			summary.Updated++
		case ActionSkipped:
			summary.Skipped++
		case ActionFailed:
			summary.Failed++
		}
		summary.Results = append(summary.Results, result)
	}

	logging.Info(subsystem, "Import finished: %d created, %d updated, %d skipped, %d failed",
		summary.Created, summary.Updated, summary.Skipped, summary.Failed)
	return summary, nil
}

// resolveCluster finds or lazily creates the cluster named in the options.
// Returns nil when no cluster name was supplied.
func (p *Pipeline) resolveCluster(opts Options) (*uint, error) {
	if opts.ClusterName == "" {
		return nil, nil
	}

	cluster, err := p.store.GetClusterByName(opts.ClusterName)
	if err == nil {
		return &cluster.ID, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up cluster %q: %w", opts.ClusterName, err)
	}

	cluster = &store.Cluster{
		Name:        opts.ClusterName,
		Context:     opts.Context,
		Kubeconfig:  opts.Kubeconfig,
		Environment: opts.Environment,
		Active:      true,
	}
	if err := p.store.CreateCluster(cluster); err != nil {
		return nil, fmt.Errorf("failed to create cluster %q: %w", opts.ClusterName, err)
	}
	logging.Info(subsystem, "Created cluster %q (id %d)", cluster.Name, cluster.ID)
	return &cluster.ID, nil
}

// importOne records the outcome for a single service. Each service runs in
// its own transaction so an outcome is either durably recorded or not written
// at all.
func (p *Pipeline) importOne(svc discovery.DiscoveredService, clusterID *uint, forceOverride bool) Result {
	result := Result{Namespace: svc.Namespace, ServiceName: svc.Name}

	err := p.store.Transaction(func(tx *store.Store) error {
		existing, err := tx.GetConnectionByKey(svc.Namespace, svc.Name)
		switch {
		case err == nil && !forceOverride:
			result.Action = ActionSkipped
			result.ConnectionID = existing.ID
			return nil

		case err == nil:
			// Overriding credentials must not disturb a live tunnel or the
			// operator's default-connection choice, so is_default and the
			// forward_* fields are carried over untouched.
			existing.Name = svc.Name
			existing.Type = string(svc.Type)
			existing.Username = svc.Username
			existing.Password = svc.Password
			existing.Database = svc.Database
			existing.SecretRef = svc.SecretRef
			existing.K8sServicePort = int(svc.Port)
			if clusterID != nil {
				existing.ClusterID = clusterID
			}
			if err := tx.UpdateConnection(existing); err != nil {
				return err
			}
			result.Action = ActionUpdated
			result.ConnectionID = existing.ID
			return nil

		case errors.Is(err, store.ErrNotFound):
			conn := &store.Connection{
				Name:      svc.Name,
				Type:      string(svc.Type),
				Host:      "localhost", // placeholder until a tunnel assigns a local port
				Port:      0,
				Username:  svc.Username,
				Password:  svc.Password,
				Database:  svc.Database,
				SecretRef: svc.SecretRef,

				Source:         store.SourceK8s,
				K8sNamespace:   svc.Namespace,
				K8sServiceName: svc.Name,
				K8sServicePort: int(svc.Port),
				ClusterID:      clusterID,
				ForwardStatus:  store.ForwardPending,
			}
			if err := tx.CreateConnection(conn); err != nil {
				return err
			}
			result.Action = ActionCreated
			result.ConnectionID = conn.ID
			return nil

		default:
			return err
		}
	})
	if err != nil {
		logging.Warn(subsystem, "Import of %s/%s failed: %v", svc.Namespace, svc.Name, err)
		result.Action = ActionFailed
		result.Error = err.Error()
	}
	return result
}
