package recordingdb

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE recording(
			id INTEGER PRIMARY KEY,
			session_id TEXT NOT NULL,
			path TEXT NOT NULL,
			width INT NOT NULL,
			height INT NOT NULL,
			fps REAL NOT NULL,
			codec TEXT NOT NULL,
			frames_written INT NOT NULL,
			frames_rejected INT NOT NULL,
			encoder_failures INT NOT NULL,
			sensors TEXT NOT NULL,
			started_at INT NOT NULL,
			finished_at INT NOT NULL,
			broken INT NOT NULL DEFAULT 0
		);
		CREATE UNIQUE INDEX idx_recording_session_id ON recording(session_id);
		CREATE INDEX idx_recording_started_at ON recording(started_at);
	`))

	return migs
}
