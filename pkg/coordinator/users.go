package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
)

// UsersSource loads the known users of a tenant
type UsersSource interface {
	Load(ctx context.Context, tenant, baseDir string) (*types.AllUsers, error)
}

// FileUsers reads users.json from the tenant base dir. A missing file
// means no users.
type FileUsers struct{}

func (FileUsers) Load(ctx context.Context, tenant, baseDir string) (*types.AllUsers, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, "users.json"))
	if errors.Is(err, os.ErrNotExist) {
		return &types.AllUsers{Users: map[string]types.UserInfo{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read users of %s: %w", tenant, err)
	}
	var users types.AllUsers
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("failed to parse users of %s: %w", tenant, err)
	}
	if users.Users == nil {
		users.Users = map[string]types.UserInfo{}
	}
	return &users, nil
}

func (s *Service) refreshUsersLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.UsersRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RefreshUsers(ctx)
		}
	}
}

// RefreshUsers reloads every tenant's users and broadcasts the ones that
// changed
func (s *Service) RefreshUsers(ctx context.Context) {
	for _, t := range s.tenants {
		users, err := s.users.Load(ctx, t.name, t.baseDir)
		if err != nil {
			t.logger.Warn().Err(err).Msg("Failed to refresh users")
			continue
		}
		if prev := t.users.Load(); prev != nil && maps.Equal(prev.Users, users.Users) {
			continue
		}
		t.users.Store(users)
		s.broker.Publish(t.name, types.TenantEventPayload{UsersUpdated: users})
		metrics.EventsPublishedTotal.WithLabelValues("UsersUpdated").Inc()
		t.logger.Info().Int("users", len(users.Users)).Msg("Users updated")
	}
}
