package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"dbbridge/internal/discovery"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store owns the persisted connection and cluster records.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if necessary) the sqlite database at path and runs
// migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := db.AutoMigrate(&Connection{}, &Cluster{}); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Transaction runs fn inside a database transaction. The import pipeline uses
// one transaction per service so no record is ever left half-written.
func (s *Store) Transaction(fn func(tx *Store) error) error {
	return s.db.Transaction(func(txDB *gorm.DB) error {
		return fn(&Store{db: txDB})
	})
}

// GetConnection fetches a connection by id.
func (s *Store) GetConnection(id uint) (*Connection, error) {
	var conn Connection
	if err := s.db.First(&conn, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("connection %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &conn, nil
}

// ListConnections returns all connection records.
func (s *Store) ListConnections() ([]Connection, error) {
	var conns []Connection
	if err := s.db.Order("id").Find(&conns).Error; err != nil {
		return nil, err
	}
	return conns, nil
}

// GetConnectionByKey looks up the k8s-sourced connection with the given
// identity key. Returns ErrNotFound when no record shares the key.
func (s *Store) GetConnectionByKey(namespace, serviceName string) (*Connection, error) {
	var conn Connection
	err := s.db.
		Where("source = ? AND k8s_namespace = ? AND k8s_service_name = ?", SourceK8s, namespace, serviceName).
		First(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("connection %s/%s: %w", namespace, serviceName, ErrNotFound)
		}
		return nil, err
	}
	return &conn, nil
}

// ListK8sServiceKeys returns the identity keys of all k8s-sourced
// connections, for the discovery engine's already-imported filter.
func (s *Store) ListK8sServiceKeys() (map[discovery.ServiceKey]bool, error) {
	var conns []Connection
	err := s.db.
		Select("k8s_namespace", "k8s_service_name").
		Where("source = ?", SourceK8s).
		Find(&conns).Error
	if err != nil {
		return nil, err
	}
	keys := make(map[discovery.ServiceKey]bool, len(conns))
	for _, conn := range conns {
		keys[discovery.ServiceKey{Namespace: conn.K8sNamespace, ServiceName: conn.K8sServiceName}] = true
	}
	return keys, nil
}

// CreateConnection persists a new connection record.
func (s *Store) CreateConnection(conn *Connection) error {
	return s.db.Create(conn).Error
}

// UpdateConnection saves all fields of an existing connection record.
func (s *Store) UpdateConnection(conn *Connection) error {
	return s.db.Save(conn).Error
}

// DeleteConnection removes a connection record.
func (s *Store) DeleteConnection(id uint) error {
	result := s.db.Delete(&Connection{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("connection %d: %w", id, ErrNotFound)
	}
	return nil
}

// SaveForwardState mirrors a tunnel transition onto the connection record.
func (s *Store) SaveForwardState(connID uint, forwardID string, localPort int, status ForwardStatus, errMsg string) error {
	return s.db.Model(&Connection{}).
		Where("id = ?", connID).
		Updates(map[string]interface{}{
			"forward_id":         forwardID,
			"forward_local_port": localPort,
			"forward_status":     status,
			"forward_error":      errMsg,
		}).Error
}

// GetClusterByName fetches a cluster record by its unique name.
func (s *Store) GetClusterByName(name string) (*Cluster, error) {
	var cluster Cluster
	if err := s.db.Where("name = ?", name).First(&cluster).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("cluster %q: %w", name, ErrNotFound)
		}
		return nil, err
	}
	return &cluster, nil
}

// GetCluster fetches a cluster by id.
func (s *Store) GetCluster(id uint) (*Cluster, error) {
	var cluster Cluster
	if err := s.db.First(&cluster, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("cluster %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &cluster, nil
}

// CreateCluster persists a new cluster record.
func (s *Store) CreateCluster(cluster *Cluster) error {
	return s.db.Create(cluster).Error
}

// ListClusters returns all cluster records.
func (s *Store) ListClusters() ([]Cluster, error) {
	var clusters []Cluster
	if err := s.db.Order("id").Find(&clusters).Error; err != nil {
		return nil, err
	}
	return clusters, nil
}
