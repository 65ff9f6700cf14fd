package db

import (
	"database/sql"
	"fmt"
	"strings"
)

// Migrate runs all schema migrations.
func Migrate(db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			// Tolerate "duplicate column name" errors from ALTER TABLE
			// since the migration system re-runs all statements.
			if strings.Contains(err.Error(), "duplicate column name") {
				continue
			}
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

// Timestamps are unix seconds. Columns named after the platform tables keep
// the platform's naming (customint1, reaggregate, ...).
var migrations = []string{
	// Programs and their content tree.
	`CREATE TABLE IF NOT EXISTS programs (
		id                  INTEGER PRIMARY KEY AUTOINCREMENT,
		contextid           INTEGER NOT NULL DEFAULT 1,
		fullname            TEXT NOT NULL,
		idnumber            TEXT NOT NULL,
		description         TEXT NOT NULL DEFAULT '',
		archived            INTEGER NOT NULL DEFAULT 0,
		publicaccess        INTEGER NOT NULL DEFAULT 0,
		creategroups        INTEGER NOT NULL DEFAULT 0,
		timeallocationstart INTEGER,
		timeallocationend   INTEGER,
		startdatejson       TEXT NOT NULL DEFAULT '{"type":"allocation"}',
		duedatejson         TEXT NOT NULL DEFAULT '{"type":"notset"}',
		enddatejson         TEXT NOT NULL DEFAULT '{"type":"notset"}',
		timecreated         INTEGER NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_programs_idnumber ON programs(idnumber)`,

	`CREATE TABLE IF NOT EXISTS program_cohorts (
		programid INTEGER NOT NULL REFERENCES programs(id) ON DELETE CASCADE,
		cohortid  INTEGER NOT NULL,
		PRIMARY KEY (programid, cohortid)
	)`,

	`CREATE TABLE IF NOT EXISTS items (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		programid        INTEGER NOT NULL REFERENCES programs(id) ON DELETE CASCADE,
		topitem          INTEGER NOT NULL DEFAULT 0,
		parentid         INTEGER REFERENCES items(id) ON DELETE CASCADE,
		sortorder        INTEGER NOT NULL DEFAULT 0,
		idnumber         TEXT NOT NULL DEFAULT '',
		fullname         TEXT NOT NULL,
		kind             TEXT NOT NULL CHECK(kind IN ('set','course','training')),
		courseid         INTEGER,
		trainingid       INTEGER,
		sequencetype     TEXT,
		minprerequisites INTEGER,
		minpoints        INTEGER,
		points           INTEGER NOT NULL DEFAULT 1 CHECK(points >= 0),
		completiondelay  INTEGER NOT NULL DEFAULT 0 CHECK(completiondelay >= 0),
		previtemid       INTEGER REFERENCES items(id) ON DELETE SET NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_items_program ON items(programid)`,
	`CREATE INDEX IF NOT EXISTS idx_items_parent ON items(parentid)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_items_program_course ON items(programid, courseid) WHERE courseid IS NOT NULL`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_items_program_top ON items(programid) WHERE topitem = 1`,

	`CREATE TABLE IF NOT EXISTS item_prerequisites (
		itemid             INTEGER NOT NULL REFERENCES items(id) ON DELETE CASCADE,
		prerequisiteitemid INTEGER NOT NULL REFERENCES items(id) ON DELETE CASCADE,
		PRIMARY KEY (itemid, prerequisiteitemid)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_item_prerequisites_prereq ON item_prerequisites(prerequisiteitemid)`,

	// Allocation sources.
	`CREATE TABLE IF NOT EXISTS sources (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		programid INTEGER NOT NULL REFERENCES programs(id) ON DELETE CASCADE,
		type      TEXT NOT NULL,
		datajson  TEXT NOT NULL DEFAULT '{}',
		auxint1   INTEGER,
		auxint2   INTEGER,
		auxint3   INTEGER,
		UNIQUE (programid, type)
	)`,

	`CREATE TABLE IF NOT EXISTS source_cohorts (
		sourceid INTEGER NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
		cohortid INTEGER NOT NULL,
		PRIMARY KEY (sourceid, cohortid)
	)`,

	`CREATE TABLE IF NOT EXISTS allocations (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		programid        INTEGER NOT NULL REFERENCES programs(id) ON DELETE CASCADE,
		userid           INTEGER NOT NULL,
		sourceid         INTEGER NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
		sourcedatajson   TEXT NOT NULL DEFAULT '{}',
		sourceinstanceid INTEGER,
		archived         INTEGER NOT NULL DEFAULT 0,
		timeallocated    INTEGER NOT NULL,
		timestart        INTEGER NOT NULL,
		timedue          INTEGER,
		timeend          INTEGER,
		timecompleted    INTEGER,
		calendarupdated  INTEGER NOT NULL DEFAULT 0,
		timecreated      INTEGER NOT NULL,
		UNIQUE (programid, userid)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_allocations_user ON allocations(userid)`,
	`CREATE INDEX IF NOT EXISTS idx_allocations_source ON allocations(sourceid)`,

	`CREATE TABLE IF NOT EXISTS item_completions (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		itemid        INTEGER NOT NULL REFERENCES items(id) ON DELETE CASCADE,
		allocationid  INTEGER NOT NULL REFERENCES allocations(id) ON DELETE CASCADE,
		timecompleted INTEGER NOT NULL,
		UNIQUE (itemid, allocationid)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_item_completions_allocation ON item_completions(allocationid)`,

	`CREATE TABLE IF NOT EXISTS evidence (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		userid        INTEGER NOT NULL,
		itemid        INTEGER NOT NULL REFERENCES items(id) ON DELETE CASCADE,
		evidencejson  TEXT NOT NULL DEFAULT '{}',
		timecompleted INTEGER NOT NULL,
		timecreated   INTEGER NOT NULL,
		createdby     INTEGER,
		UNIQUE (userid, itemid)
	)`,

	`CREATE TABLE IF NOT EXISTS requests (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		sourceid      INTEGER NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
		userid        INTEGER NOT NULL,
		timerequested INTEGER NOT NULL,
		datajson      TEXT NOT NULL DEFAULT '{}',
		timerejected  INTEGER,
		rejectedby    INTEGER,
		UNIQUE (sourceid, userid)
	)`,

	// program_groups has no foreign key on programid: orphaned rows are
	// removed by the enrol instance sweep together with their course group.
	`CREATE TABLE IF NOT EXISTS program_groups (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		programid INTEGER NOT NULL,
		courseid  INTEGER NOT NULL,
		groupid   INTEGER NOT NULL,
		UNIQUE (programid, courseid)
	)`,

	`CREATE TABLE IF NOT EXISTS program_certificates (
		programid      INTEGER PRIMARY KEY REFERENCES programs(id) ON DELETE CASCADE,
		templateid     INTEGER NOT NULL,
		expirydatejson TEXT NOT NULL DEFAULT '{"type":"notset"}'
	)`,

	`CREATE TABLE IF NOT EXISTS certificate_issues (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		programid     INTEGER NOT NULL REFERENCES programs(id) ON DELETE CASCADE,
		allocationid  INTEGER NOT NULL REFERENCES allocations(id) ON DELETE CASCADE,
		userid        INTEGER NOT NULL,
		issueid       INTEGER NOT NULL,
		timecompleted INTEGER NOT NULL,
		timecreated   INTEGER NOT NULL,
		UNIQUE (allocationid, timecompleted)
	)`,

	`CREATE TABLE IF NOT EXISTS program_notifications (
		programid INTEGER NOT NULL REFERENCES programs(id) ON DELETE CASCADE,
		type      TEXT NOT NULL,
		enabled   INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (programid, type)
	)`,

	`CREATE TABLE IF NOT EXISTS notification_log (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		programid    INTEGER NOT NULL,
		allocationid INTEGER NOT NULL,
		userid       INTEGER NOT NULL,
		type         TEXT NOT NULL,
		timecreated  INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notification_log_allocation ON notification_log(allocationid, type)`,

	`CREATE TABLE IF NOT EXISTS events (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		name          TEXT NOT NULL,
		programid     INTEGER,
		allocationid  INTEGER,
		userid        INTEGER,
		correlationid TEXT NOT NULL DEFAULT '',
		payload       TEXT NOT NULL DEFAULT '{}',
		timecreated   INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_name ON events(name)`,

	// Platform tables. These belong to the hosting platform; the reference
	// providers in internal/platform read and write them.
	`CREATE TABLE IF NOT EXISTS users (
		id       INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		deleted  INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS courses (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		shortname TEXT NOT NULL UNIQUE,
		fullname  TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS cohorts (
		id      INTEGER PRIMARY KEY AUTOINCREMENT,
		name    TEXT NOT NULL,
		visible INTEGER NOT NULL DEFAULT 1
	)`,

	`CREATE TABLE IF NOT EXISTS cohort_members (
		cohortid INTEGER NOT NULL REFERENCES cohorts(id) ON DELETE CASCADE,
		userid   INTEGER NOT NULL,
		PRIMARY KEY (cohortid, userid)
	)`,

	`CREATE TABLE IF NOT EXISTS enrol_instances (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		courseid   INTEGER NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
		enrol      TEXT NOT NULL,
		customint1 INTEGER,
		status     INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_enrol_instances_lookup ON enrol_instances(enrol, customint1, courseid)`,

	`CREATE TABLE IF NOT EXISTS user_enrolments (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		enrolid   INTEGER NOT NULL REFERENCES enrol_instances(id) ON DELETE CASCADE,
		userid    INTEGER NOT NULL,
		status    INTEGER NOT NULL DEFAULT 0,
		timestart INTEGER NOT NULL DEFAULT 0,
		timeend   INTEGER NOT NULL DEFAULT 0,
		UNIQUE (enrolid, userid)
	)`,

	`CREATE TABLE IF NOT EXISTS role_assignments (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		roleid    INTEGER NOT NULL,
		userid    INTEGER NOT NULL,
		courseid  INTEGER NOT NULL,
		component TEXT NOT NULL DEFAULT '',
		itemid    INTEGER NOT NULL DEFAULT 0,
		UNIQUE (roleid, userid, courseid, component, itemid)
	)`,

	`CREATE TABLE IF NOT EXISTS course_groups (
		id       INTEGER PRIMARY KEY AUTOINCREMENT,
		courseid INTEGER NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
		name     TEXT NOT NULL,
		idnumber TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS group_members (
		groupid   INTEGER NOT NULL REFERENCES course_groups(id) ON DELETE CASCADE,
		userid    INTEGER NOT NULL,
		component TEXT NOT NULL DEFAULT '',
		itemid    INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (groupid, userid)
	)`,

	`CREATE TABLE IF NOT EXISTS course_completions (
		userid        INTEGER NOT NULL,
		courseid      INTEGER NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
		timecompleted INTEGER,
		reaggregate   INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (userid, courseid)
	)`,

	`CREATE TABLE IF NOT EXISTS module_completions (
		userid   INTEGER NOT NULL,
		courseid INTEGER NOT NULL,
		cmid     INTEGER NOT NULL,
		state    INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (userid, cmid)
	)`,

	`CREATE TABLE IF NOT EXISTS installed_modules (
		name    TEXT PRIMARY KEY,
		enabled INTEGER NOT NULL DEFAULT 1
	)`,

	`CREATE TABLE IF NOT EXISTS activity_data (
		id       INTEGER PRIMARY KEY AUTOINCREMENT,
		courseid INTEGER NOT NULL,
		userid   INTEGER NOT NULL,
		modname  TEXT NOT NULL,
		payload  TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_data_user ON activity_data(userid, courseid)`,

	`CREATE TABLE IF NOT EXISTS calendar_events (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		component    TEXT NOT NULL,
		eventtype    TEXT NOT NULL,
		programid    INTEGER NOT NULL,
		allocationid INTEGER NOT NULL,
		userid       INTEGER NOT NULL,
		name         TEXT NOT NULL,
		timestart    INTEGER NOT NULL,
		UNIQUE (allocationid, eventtype)
	)`,

	`CREATE TABLE IF NOT EXISTS training_frameworks (
		id                   INTEGER PRIMARY KEY AUTOINCREMENT,
		name                 TEXT NOT NULL,
		requiredtraining     TEXT NOT NULL DEFAULT '0',
		restrictedcompletion INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS training_completions (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		frameworkid   INTEGER NOT NULL REFERENCES training_frameworks(id) ON DELETE CASCADE,
		userid        INTEGER NOT NULL,
		credits       TEXT NOT NULL DEFAULT '0',
		timecompleted INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS certifications (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		fullname  TEXT NOT NULL,
		resettype INTEGER NOT NULL DEFAULT 0,
		archived  INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS certification_periods (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		certificationid INTEGER NOT NULL REFERENCES certifications(id) ON DELETE CASCADE,
		userid          INTEGER NOT NULL,
		programid       INTEGER NOT NULL,
		allocationid    INTEGER,
		timewindowstart INTEGER NOT NULL,
		timewindowdue   INTEGER,
		timewindowend   INTEGER,
		timecertified   INTEGER,
		timerevoked     INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_certification_periods_program ON certification_periods(programid, userid)`,

	`CREATE TABLE IF NOT EXISTS issued_certificates (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		templateid  INTEGER NOT NULL,
		userid      INTEGER NOT NULL,
		code        TEXT NOT NULL UNIQUE,
		expires     INTEGER,
		component   TEXT NOT NULL DEFAULT '',
		data        TEXT NOT NULL DEFAULT '{}',
		timecreated INTEGER NOT NULL
	)`,
}
