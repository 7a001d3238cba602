package sqlinline

const QWorkerClaimJob = `--sql 4f55a9b7-4e9f-4e45-a3b3-5a532d21d9db
with next_job as (
    select id
    from media_jobs
    where state = 'pending'
       or (state = 'retrying' and (next_attempt_at is null or next_attempt_at <= $1))
    order by created_at asc, id asc
    limit 1
    for update skip locked
),
updated as (
    update media_jobs j
    set state = 'processing',
        next_attempt_at = null,
        updated_at = $1,
        started_at = coalesce(j.started_at, $1)
    from next_job
    where j.id = next_job.id
    returning j.id, j.state, j.prompt, j.parameters, j.retry_count, j.max_retries,
              j.result_reference, j.last_error, j.created_at, j.updated_at,
              j.next_attempt_at, j.started_at, j.completed_at
)
select * from updated;
`

const QWorkerMarkCompleted = `--sql 29509f6f-fa4a-43ca-878b-9023b836f0e7
update media_jobs
set state = 'completed',
    result_reference = $2,
    completed_at = $3,
    updated_at = $3
where id = $1 and state = 'processing';
`

const QWorkerMarkRetry = `--sql a7e3fe51-72b2-471d-86d4-ce0b1c56aa29
update media_jobs
set state = 'retrying',
    retry_count = retry_count + 1,
    last_error = $2,
    next_attempt_at = $3,
    updated_at = $4
where id = $1 and state = 'processing' and retry_count < max_retries;
`

const QWorkerMarkFailed = `--sql a9f56e47-129a-44f9-910c-e2e8aaf1305a
update media_jobs
set state = 'failed',
    last_error = $2,
    completed_at = $3,
    updated_at = $3
where id = $1 and state = 'processing';
`

const QWorkerTransitionState = `--sql af7fc3a4-60c1-4ee2-b03d-777271b74d1c
select state, retry_count, max_retries
from media_jobs
where id = $1;
`
