package sqlinline

const QJobsSchema = `--sql bd3da19c-747a-48ac-abf3-3e6f467e8e1f
create table if not exists media_jobs (
    id               uuid primary key,
    state            text not null check (state in ('pending','processing','retrying','completed','failed')),
    prompt           text not null,
    parameters       jsonb not null default '{}'::jsonb,
    retry_count      integer not null default 0,
    max_retries      integer not null,
    result_reference text,
    last_error       text,
    created_at       timestamptz not null default now(),
    updated_at       timestamptz not null default now(),
    next_attempt_at  timestamptz,
    started_at       timestamptz,
    completed_at     timestamptz,
    check (retry_count >= 0 and retry_count <= max_retries),
    check ((state = 'completed') = (result_reference is not null))
);
create index if not exists media_jobs_due_idx
    on media_jobs (created_at, id)
    where state in ('pending', 'retrying');
`

const QJobsInsert = `--sql 82e3cb25-a112-415b-9b3c-cff2299610d5
insert into media_jobs (id, state, prompt, parameters, retry_count, max_retries)
values ($1, 'pending', $2, $3, 0, $4)
returning created_at, updated_at;
`

const QJobsGetByID = `--sql 59564a47-347d-40a6-aaf5-bf17d24de858
select id, state, prompt, parameters, retry_count, max_retries,
       result_reference, last_error, created_at, updated_at,
       next_attempt_at, started_at, completed_at
from media_jobs
where id = $1;
`

const QJobsPing = `--sql 534d0d26-3d47-45e8-8e51-f028f5d07bcb
select 1;
`
