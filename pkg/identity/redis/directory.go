// Package redis provides a Redis-backed identity directory. The account service
// publishes group and account membership as Redis sets; every lookup reads the
// live set so membership changes are visible on the next resolution.
package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/procflow/pkg/identity"
	redis "github.com/redis/go-redis/v9"
)

const defaultPrefix = "procflow"

// Directory implements identity.Directory on top of Redis sets.
type Directory struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
}

// NewDirectory creates a Redis directory. An empty prefix uses "procflow".
func NewDirectory(client redis.UniversalClient, prefix string, logger *slog.Logger) *Directory {
	if prefix == "" {
		prefix = defaultPrefix
	}

	return &Directory{
		client: client,
		prefix: prefix,
		logger: logger.With("module", "redis_directory"),
	}
}

func (d *Directory) groupKey(groupID string) string {
	return fmt.Sprintf("%s:group:%s:members", d.prefix, groupID)
}

func (d *Directory) accountKey(accountID string) string {
	return fmt.Sprintf("%s:account:%s:users", d.prefix, accountID)
}

// GroupMembers returns identity.ErrGroupNotFound when the set does not exist.
func (d *Directory) GroupMembers(ctx context.Context, groupID string) ([]string, error) {
	key := d.groupKey(groupID)

	exists, err := d.client.Exists(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check group %s: %w", groupID, err)
	}

	if exists == 0 {
		return nil, identity.ErrGroupNotFound
	}

	members, err := d.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read members of group %s: %w", groupID, err)
	}

	d.logger.DebugContext(ctx, "Resolved group members", "group_id", groupID, "count", len(members))

	return members, nil
}

// IsAccountUser treats an account without a published user set as open, the
// same way the static directory does.
func (d *Directory) IsAccountUser(ctx context.Context, accountID, userID string) (bool, error) {
	key := d.accountKey(accountID)

	exists, err := d.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check account %s: %w", accountID, err)
	}

	if exists == 0 {
		return true, nil
	}

	ok, err := d.client.SIsMember(ctx, key, userID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check account membership: %w", err)
	}

	return ok, nil
}

// SetGroupMembers replaces a group's membership. Used by the account service sync and tests.
func (d *Directory) SetGroupMembers(ctx context.Context, groupID string, members ...string) error {
	if err := d.replaceSet(ctx, d.groupKey(groupID), members); err != nil {
		return fmt.Errorf("failed to set members of group %s: %w", groupID, err)
	}

	return nil
}

// SetAccountUsers replaces the active users of an account.
func (d *Directory) SetAccountUsers(ctx context.Context, accountID string, users ...string) error {
	if err := d.replaceSet(ctx, d.accountKey(accountID), users); err != nil {
		return fmt.Errorf("failed to set users of account %s: %w", accountID, err)
	}

	return nil
}

func (d *Directory) replaceSet(ctx context.Context, key string, values []string) error {
	_, err := d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)

		if len(values) > 0 {
			args := make([]any, 0, len(values))
			for _, value := range values {
				args = append(args, value)
			}

			pipe.SAdd(ctx, key, args...)
		}

		return nil
	})

	return err
}
