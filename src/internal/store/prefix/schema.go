package prefix

const schemaVersion = 1

const createSchemaSQL = `
CREATE TABLE IF NOT EXISTS schema_meta (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS packages (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	url          TEXT UNIQUE NOT NULL,
	package_id   TEXT NOT NULL,
	version      TEXT NOT NULL,
	installed_on DATETIME NOT NULL,
	updated_on   DATETIME NOT NULL,
	is_dependent BOOLEAN NOT NULL DEFAULT 0,
	is_pegged    BOOLEAN NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS packages_dependencies (
	package_id    INTEGER NOT NULL REFERENCES packages(id),
	dependency_id INTEGER NOT NULL REFERENCES packages(id)
);

CREATE TABLE IF NOT EXISTS packages_files (
	package_id INTEGER NOT NULL REFERENCES packages(id),
	file_path  TEXT NOT NULL
);
`
