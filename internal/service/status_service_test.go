package service

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fonoaudio/evaluation-service/internal/models"
)

func seedJob(q *fakeJobQueue, owner string) string {
	id, _ := q.Enqueue(context.Background(), models.JobTypeMLTranscription, owner, models.JobPayload{
		EvaluationID: 1,
		WordID:       7,
	})
	return id
}

func TestStatusService_GetJobStatus_Owner(t *testing.T) {
	q := newFakeJobQueue()
	jobID := seedJob(q, "user-1")

	svc := NewStatusService(q, zerolog.Nop())

	resp, err := svc.GetJobStatus(context.Background(), jobID, Principal{ID: "user-1", Role: RoleTherapist})
	require.NoError(t, err)

	assert.Equal(t, jobID, resp.JobID)
	assert.Equal(t, "queued", resp.Status)
	assert.Nil(t, resp.Result)
	assert.Nil(t, resp.Error)
}

func TestStatusService_GetJobStatus_Finished(t *testing.T) {
	q := newFakeJobQueue()
	jobID := seedJob(q, "user-1")
	require.NoError(t, q.MarkFinished(context.Background(), jobID, "true"))

	svc := NewStatusService(q, zerolog.Nop())

	resp, err := svc.GetJobStatus(context.Background(), jobID, Principal{ID: "user-1", Role: RoleTherapist})
	require.NoError(t, err)

	assert.Equal(t, "finished", resp.Status)
	require.NotNil(t, resp.Result)
	assert.Equal(t, "true", *resp.Result)
	assert.Nil(t, resp.Error)
}

func TestStatusService_GetJobStatus_Failed(t *testing.T) {
	q := newFakeJobQueue()
	jobID := seedJob(q, "user-1")
	require.NoError(t, q.MarkFailed(context.Background(), jobID, "training data unavailable"))

	svc := NewStatusService(q, zerolog.Nop())

	resp, err := svc.GetJobStatus(context.Background(), jobID, Principal{ID: "user-1", Role: RoleTherapist})
	require.NoError(t, err)

	assert.Equal(t, "failed", resp.Status)
	assert.Nil(t, resp.Result)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "training data unavailable", *resp.Error)
}

func TestStatusService_GetJobStatus_NonOwner(t *testing.T) {
	q := newFakeJobQueue()
	jobID := seedJob(q, "user-1")

	svc := NewStatusService(q, zerolog.Nop())

	_, err := svc.GetJobStatus(context.Background(), jobID, Principal{ID: "user-2", Role: RoleTherapist})
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestStatusService_GetJobStatus_AdminBypass(t *testing.T) {
	q := newFakeJobQueue()
	jobID := seedJob(q, "user-1")

	svc := NewStatusService(q, zerolog.Nop())

	resp, err := svc.GetJobStatus(context.Background(), jobID, Principal{ID: "admin-1", Role: RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, jobID, resp.JobID)
}

func TestStatusService_GetJobStatus_NotFound(t *testing.T) {
	svc := NewStatusService(newFakeJobQueue(), zerolog.Nop())

	_, err := svc.GetJobStatus(context.Background(), "nope", Principal{ID: "user-1", Role: RoleTherapist})
	assert.ErrorIs(t, err, ErrJobNotFound)
}
