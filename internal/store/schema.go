package store

// Schema v1 - star table and its scan indexes
const schemaV1 = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
  version INTEGER PRIMARY KEY,
  applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS stars (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  source_id TEXT UNIQUE NOT NULL,
  ra REAL NOT NULL,
  dec REAL NOT NULL,
  x REAL NOT NULL,
  y REAL NOT NULL,
  z REAL NOT NULL,
  parallax REAL,
  distance_pc REAL NOT NULL,
  magnitude REAL NOT NULL,
  bp_rp REAL NOT NULL DEFAULT 0,
  r REAL NOT NULL,
  g REAL NOT NULL,
  b REAL NOT NULL,
  pmra REAL NOT NULL DEFAULT 0,
  pmdec REAL NOT NULL DEFAULT 0,
  radial_velocity REAL,
  temperature REAL,
  created_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_magnitude ON stars(magnitude);
CREATE INDEX IF NOT EXISTS idx_distance ON stars(distance_pc);
CREATE INDEX IF NOT EXISTS idx_position ON stars(x, y, z);
`

// Schema v2 - provenance of the ingestion run that produced the file
const schemaV2 = `
CREATE TABLE IF NOT EXISTS catalog_info (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);
`

// starColumns is the column list shared by every star SELECT. Catalogs
// written before v1 allow NULL in the defaulted columns.
const starColumns = `source_id, ra, dec, x, y, z, parallax, distance_pc, magnitude,
	COALESCE(bp_rp, 0), r, g, b, COALESCE(pmra, 0), COALESCE(pmdec, 0),
	radial_velocity, temperature`
