package store

const schema = `
CREATE TABLE IF NOT EXISTS lessons (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    title       TEXT NOT NULL,
    topic       TEXT NOT NULL DEFAULT '',
    grade       TEXT NOT NULL DEFAULT '',
    quiz        TEXT NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS lesson_scenes (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    lesson_id   INTEGER NOT NULL REFERENCES lessons(id) ON DELETE CASCADE,
    idx         INTEGER NOT NULL,
    narration   TEXT NOT NULL DEFAULT '',
    image       BLOB,
    image_mime  TEXT NOT NULL DEFAULT '',
    UNIQUE (lesson_id, idx)
);

CREATE TABLE IF NOT EXISTS assistant_sessions (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    title            TEXT NOT NULL DEFAULT '',
    transcript       TEXT NOT NULL DEFAULT '',
    full_transcript  TEXT NOT NULL DEFAULT '',
    partial          INTEGER NOT NULL DEFAULT 0,
    summary          TEXT NOT NULL DEFAULT '',
    key_points       TEXT NOT NULL DEFAULT '',
    condensed_lesson TEXT NOT NULL DEFAULT '',
    homework         TEXT NOT NULL DEFAULT '',
    quiz             TEXT NOT NULL DEFAULT '',
    lesson_prompt    TEXT NOT NULL DEFAULT '',
    created_at       INTEGER NOT NULL,
    updated_at       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    name        TEXT NOT NULL,
    token       TEXT NOT NULL UNIQUE,
    calls       INTEGER NOT NULL DEFAULT 0,
    call_limit  INTEGER NOT NULL DEFAULT 50
);

CREATE INDEX IF NOT EXISTS idx_lessons_created ON lessons(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_sessions_created ON assistant_sessions(created_at DESC);
`
