package store

// Schema contains the DDL for the shotdiff tables. Timestamps are unix
// milliseconds.
const Schema = `
-- Report runs over a tutorials directory
CREATE TABLE IF NOT EXISTS runs (
    id             TEXT PRIMARY KEY,
    dir            TEXT NOT NULL,
    mode           TEXT NOT NULL,
    min_pixel_diff INTEGER NOT NULL DEFAULT 0,
    processed      INTEGER NOT NULL DEFAULT 0,
    skipped        INTEGER NOT NULL DEFAULT 0,
    errors         INTEGER NOT NULL DEFAULT 0,
    interrupted    INTEGER NOT NULL DEFAULT 0,
    started_at     INTEGER NOT NULL,
    finished_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

-- One row per screenshot diffed, inside a run or on its own (run_id NULL)
CREATE TABLE IF NOT EXISTS results (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id      TEXT,
    path        TEXT NOT NULL,
    name        TEXT NOT NULL,
    locale      TEXT NOT NULL,
    label       TEXT NOT NULL,
    status      TEXT NOT NULL,
    pixel_count INTEGER NOT NULL DEFAULT 0,
    old_w       INTEGER NOT NULL DEFAULT 0,
    old_h       INTEGER NOT NULL DEFAULT 0,
    new_w       INTEGER NOT NULL DEFAULT 0,
    new_h       INTEGER NOT NULL DEFAULT 0,
    artifact    TEXT NOT NULL DEFAULT '',
    error       TEXT NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL,
    FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_results_run ON results(run_id);
CREATE INDEX IF NOT EXISTS idx_results_path ON results(path, created_at DESC);

-- Reviewer decisions on a screenshot
CREATE TABLE IF NOT EXISTS verdicts (
    id            TEXT PRIMARY KEY,
    path          TEXT NOT NULL,
    decision      TEXT NOT NULL CHECK (decision IN ('accept', 'reject', 'note')),
    note_html     TEXT NOT NULL DEFAULT '',
    note_markdown TEXT NOT NULL DEFAULT '',
    reviewer      TEXT NOT NULL DEFAULT '',
    created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_verdicts_path ON verdicts(path, created_at DESC);
`
