package sqlite

const qSchema = `--sql 6a3820ec-65a9-4e11-a146-47f0480dc6bb
CREATE TABLE IF NOT EXISTS media_jobs (
  id               TEXT PRIMARY KEY,
  state            TEXT NOT NULL,
  prompt           TEXT NOT NULL,
  parameters       TEXT NOT NULL DEFAULT '{}',
  retry_count      INTEGER NOT NULL DEFAULT 0,
  max_retries      INTEGER NOT NULL,
  result_reference TEXT,
  last_error       TEXT,
  created_at       INTEGER NOT NULL,
  updated_at       INTEGER NOT NULL,
  next_attempt_at  INTEGER,
  started_at       INTEGER,
  completed_at     INTEGER,
  CHECK (retry_count >= 0 AND retry_count <= max_retries)
);
CREATE INDEX IF NOT EXISTS media_jobs_due_idx ON media_jobs (state, created_at, id);
`

const qInsert = `--sql 503e510f-f907-47a3-8a97-a38246a06483
INSERT INTO media_jobs (id, state, prompt, parameters, retry_count, max_retries, created_at, updated_at)
VALUES (?, 'pending', ?, ?, 0, ?, ?, ?)`

const jobColumns = `id, state, prompt, parameters, retry_count, max_retries,
       result_reference, last_error, created_at, updated_at,
       next_attempt_at, started_at, completed_at`

const qGetByID = `--sql 16d6f127-96a3-4d7b-a3ff-4a284719982a
SELECT ` + jobColumns + `
FROM media_jobs
WHERE id = ?`

// qClaim selects and flips the oldest due row in one statement, which SQLite
// runs under its single write lock.
const qClaim = `--sql 15aa3e7f-8e7e-42ca-a7ef-e7ecc4400bea
UPDATE media_jobs
SET state = 'processing',
    next_attempt_at = NULL,
    updated_at = ?,
    started_at = COALESCE(started_at, ?)
WHERE id = (
    SELECT id FROM media_jobs
    WHERE state = 'pending'
       OR (state = 'retrying' AND (next_attempt_at IS NULL OR next_attempt_at <= ?))
    ORDER BY created_at ASC, id ASC
    LIMIT 1
)
RETURNING ` + jobColumns

const qMarkCompleted = `--sql e6c665b2-73c2-4673-9b5a-dee2ef88f972
UPDATE media_jobs
SET state = 'completed', result_reference = ?, completed_at = ?, updated_at = ?
WHERE id = ? AND state = 'processing'`

const qMarkRetry = `--sql 5cf844f7-bffe-4365-a647-3e9c7308b1d6
UPDATE media_jobs
SET state = 'retrying', retry_count = retry_count + 1, last_error = ?, next_attempt_at = ?, updated_at = ?
WHERE id = ? AND state = 'processing' AND retry_count < max_retries`

const qMarkFailed = `--sql 1ac5941c-29dd-4705-bf40-7d9075dc8926
UPDATE media_jobs
SET state = 'failed', last_error = ?, completed_at = ?, updated_at = ?
WHERE id = ? AND state = 'processing'`

const qState = `--sql 61f8fd59-0a2a-4315-b03b-89f90d32ad64
SELECT state FROM media_jobs WHERE id = ?`
