package runstore

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    storyboard TEXT NOT NULL,
    style_preset TEXT,
    status TEXT NOT NULL,
    output_path TEXT,
    error TEXT,
    scene_count INTEGER NOT NULL DEFAULT 0,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

CREATE TABLE IF NOT EXISTS scene_results (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    scene_id INTEGER NOT NULL,
    title TEXT,
    image_url TEXT,
    video_url TEXT,
    clip_path TEXT,
    requested_seconds INTEGER,
    target_seconds REAL,
    error TEXT,
    PRIMARY KEY (run_id, scene_id)
);
`
