// Package store defines the node directory interface and implementations.
package store

import (
	"context"
	"time"

	"github.com/scarecr0w12/ctrl-alt-play-panel-sub001/domain"
)

// Store is the node identity directory the auth gate consults during
// registration. Credential material and declared capabilities live here.
type Store interface {
	CreateNode(ctx context.Context, node *domain.Node) error
	GetNode(ctx context.Context, nodeID string) (*domain.Node, error)
	ListNodes(ctx context.Context) ([]domain.Node, error)
	DeleteNode(ctx context.Context, nodeID string) error

	// TouchNode records the last successful registration time.
	TouchNode(ctx context.Context, nodeID string, seenAt time.Time) error

	Close() error
}
