package server

import (
	"time"

	"github.com/decred/slog"
	"github.com/google/uuid"
	"github.com/vctt94/bisonbotkit/logging"

	"github.com/devnation593/chupistica/pkg/chupistica"
	"github.com/devnation593/chupistica/pkg/server/internal/db"
)

// Database is the storage surface the server needs. The in-memory engine is
// the source of truth; rows here only serve history and debugging.
type Database interface {
	UpsertSnapshot(row *db.SnapshotRow) error
	LoadSnapshot(code string) (*db.SnapshotRow, error)
	DeleteSnapshot(code string) error
	InsertArchive(row *db.ArchiveRow) error
	ListArchivedCodes() ([]string, error)
	Close() error
}

// NewDatabase opens (creating if missing) the sqlite database at path.
func NewDatabase(path string) (Database, error) {
	return db.NewDB(path)
}

// SnapshotStore persists session snapshots fire-and-forget. Writes happen on
// short-lived goroutines so a session actor never waits on disk; failures
// are logged and never surfaced to players.
type SnapshotStore struct {
	db  Database
	log slog.Logger
}

// NewSnapshotStore wraps a database as a StateSaver.
func NewSnapshotStore(database Database, logBackend *logging.LogBackend) *SnapshotStore {
	return &SnapshotStore{
		db:  database,
		log: logBackend.Logger("STOR"),
	}
}

// SaveSnapshotAsync implements StateSaver.
func (st *SnapshotStore) SaveSnapshotAsync(code string, snap *chupistica.SessionSnapshot, reason string) {
	go func() {
		data, err := snap.Marshal()
		if err != nil {
			st.log.Errorf("failed to marshal snapshot for %s (%s): %v", code, reason, err)
			return
		}

		row := &db.SnapshotRow{
			Code:      code,
			Snapshot:  data,
			Status:    string(snap.Status),
			Reason:    reason,
			UpdatedAt: time.Now().UTC(),
		}
		if err := st.db.UpsertSnapshot(row); err != nil {
			st.log.Errorf("failed to save snapshot for %s (%s): %v", code, reason, err)
			return
		}

		if snap.Status == chupistica.StatusEnded {
			endedAt := time.Now().UTC()
			if snap.EndedAt != nil {
				endedAt = *snap.EndedAt
			}
			err := st.db.InsertArchive(&db.ArchiveRow{
				ID:       uuid.NewString(),
				Code:     code,
				Snapshot: data,
				EndedAt:  endedAt,
			})
			if err != nil {
				st.log.Errorf("failed to archive session %s: %v", code, err)
				return
			}
			// The live-snapshot row has served its purpose.
			if err := st.db.DeleteSnapshot(code); err != nil {
				st.log.Debugf("failed to clear snapshot row for %s: %v", code, err)
			}
		}

		st.log.Debugf("saved snapshot for %s (trigger: %s)", code, reason)
	}()
}
