// Package migrations embeds the shard key store schema into the binary.
package migrations

import (
	"embed"

	"github.com/nerrad567/shardlink/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "." // Files are at root of embedded FS
}
