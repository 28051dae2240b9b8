// Package cli holds the maintenance subcommands of the equiprent binary.
package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/equiprent/equiprent/internal/platform/db"
)

// Command selects what the binary does.
type Command string

const (
	CommandServe   Command = "serve"
	CommandMigrate Command = "migrate"
	// CommandPurgeKeys deletes idempotency keys older than the retention.
	CommandPurgeKeys Command = "purge-idempotency"
)

// DefaultKeyRetention is how long create requests stay replay-protected.
const DefaultKeyRetention = 72 * time.Hour

// Invocation is a parsed command line.
type Invocation struct {
	Command   Command
	Retention time.Duration
}

// ErrUsage is returned for unknown commands or arguments.
var ErrUsage = errors.New("usage: equiprent [serve | migrate | purge-idempotency [retention]]")

// Parse reads os.Args[1:]. No arguments means serve.
func Parse(args []string) (Invocation, error) {
	if len(args) == 0 {
		return Invocation{Command: CommandServe}, nil
	}
	inv := Invocation{Command: Command(strings.ToLower(strings.TrimSpace(args[0])))}
	switch inv.Command {
	case CommandServe, CommandMigrate:
		if len(args) > 1 {
			return Invocation{}, ErrUsage
		}
	case CommandPurgeKeys:
		inv.Retention = DefaultKeyRetention
		if len(args) > 2 {
			return Invocation{}, ErrUsage
		}
		if len(args) == 2 {
			d, err := time.ParseDuration(args[1])
			if err != nil || d <= 0 {
				return Invocation{}, fmt.Errorf("%w: retention %q must be a positive duration", ErrUsage, args[1])
			}
			inv.Retention = d
		}
	default:
		return Invocation{}, ErrUsage
	}
	return inv, nil
}

// KeyPurger removes expired idempotency keys.
type KeyPurger interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// MaintenanceCLI runs the one-shot subcommands.
type MaintenanceCLI struct {
	db   db.Beginner
	keys KeyPurger
}

// NewMaintenanceCLI wires the helpers.
func NewMaintenanceCLI(database db.Beginner, keys KeyPurger) *MaintenanceCLI {
	return &MaintenanceCLI{db: database, keys: keys}
}

// Migrate applies the embedded schema.
func (c *MaintenanceCLI) Migrate(ctx context.Context) error {
	if c == nil || c.db == nil {
		return errors.New("maintenance cli: database not configured")
	}
	return db.Migrate(ctx, c.db)
}

// PurgeKeys deletes idempotency keys older than retention.
func (c *MaintenanceCLI) PurgeKeys(ctx context.Context, retention time.Duration) (int64, error) {
	if c == nil || c.keys == nil {
		return 0, errors.New("maintenance cli: idempotency store not configured")
	}
	return c.keys.Cleanup(ctx, retention)
}
