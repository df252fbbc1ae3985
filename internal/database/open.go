package database

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	dbconfig "mindlink/pkg/database"
	"mindlink/pkg/interfaces"
	"mindlink/pkg/types"
)

// Seeder writes the platform-owned rows the realtime core only reads.
type Seeder interface {
	CreateUser(ctx context.Context, id, email, name string, role types.Role) error
	CreateClass(ctx context.Context, id, name, teacherID string) error
	EnrollStudent(ctx context.Context, classID, studentID string) error
	CreateSession(ctx context.Context, session *types.Session) error
}

// Backend is a Store that can also be seeded.
type Backend interface {
	interfaces.Store
	Seeder
}

// Open returns the store selected by config.Driver.
func Open(ctx context.Context, config *dbconfig.Config, logger *zap.Logger) (Backend, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}
	if config.Driver == dbconfig.DriverPostgres {
		store, err := NewPostgresStore(ctx, config, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	manager, err := NewManager(config, logger)
	if err != nil {
		return nil, err
	}
	return manager, nil
}
