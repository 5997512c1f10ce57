// Package config provides configuration loading for the identity directory seed.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dukex/procflow/pkg/identity"
	"gopkg.in/yaml.v3"
)

var (
	ErrEmptyGroupID   = errors.New("group id cannot be empty")
	ErrEmptyAccountID = errors.New("account id cannot be empty")
	ErrEmptyUserID    = errors.New("user id cannot be empty")
)

// DirectoryFile represents the structure of the directory.yaml file
type DirectoryFile struct {
	Groups   map[string][]string `yaml:"groups"`
	Accounts map[string][]string `yaml:"accounts"`
}

// Seeder receives directory membership. Implemented by the Redis directory.
type Seeder interface {
	SetGroupMembers(ctx context.Context, groupID string, members ...string) error
	SetAccountUsers(ctx context.Context, accountID string, users ...string) error
}

// LoadDirectoryFile reads and validates a directory seed file.
func LoadDirectoryFile(filepath string) (DirectoryFile, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return DirectoryFile{}, fmt.Errorf("failed to read directory file %s: %w", filepath, err)
	}

	var file DirectoryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return DirectoryFile{}, fmt.Errorf("failed to parse YAML directory: %w", err)
	}

	if err := ValidateDirectoryFile(file); err != nil {
		return DirectoryFile{}, err
	}

	return file, nil
}

// LoadDirectory builds a static directory from a seed file. An empty path
// yields an empty directory that accepts every account user.
func LoadDirectory(filepath string) (*identity.Static, error) {
	if filepath == "" {
		return identity.NewStatic(nil, nil), nil
	}

	file, err := LoadDirectoryFile(filepath)
	if err != nil {
		return nil, err
	}

	return identity.NewStatic(file.Groups, file.Accounts), nil
}

// Seed copies the file's membership into seeder.
func (f DirectoryFile) Seed(ctx context.Context, seeder Seeder) error {
	for groupID, members := range f.Groups {
		if err := seeder.SetGroupMembers(ctx, groupID, members...); err != nil {
			return err
		}
	}

	for accountID, users := range f.Accounts {
		if err := seeder.SetAccountUsers(ctx, accountID, users...); err != nil {
			return err
		}
	}

	return nil
}

// ValidateDirectoryFile rejects empty identifiers.
func ValidateDirectoryFile(file DirectoryFile) error {
	for groupID, members := range file.Groups {
		if groupID == "" {
			return ErrEmptyGroupID
		}

		for _, member := range members {
			if member == "" {
				return fmt.Errorf("group %s: %w", groupID, ErrEmptyUserID)
			}
		}
	}

	for accountID, users := range file.Accounts {
		if accountID == "" {
			return ErrEmptyAccountID
		}

		for _, user := range users {
			if user == "" {
				return fmt.Errorf("account %s: %w", accountID, ErrEmptyUserID)
			}
		}
	}

	return nil
}
