package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fonoaudio/evaluation-service/internal/classifier"
	"github.com/fonoaudio/evaluation-service/internal/models"
	"github.com/fonoaudio/evaluation-service/internal/queue"
	"github.com/fonoaudio/evaluation-service/internal/repository"
	"github.com/fonoaudio/evaluation-service/internal/storage"
)

type fakeJobQueue struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

func newFakeJobQueue() *fakeJobQueue {
	return &fakeJobQueue{jobs: make(map[string]*models.Job)}
}

func (f *fakeJobQueue) addJob(id string, status models.JobStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[id] = &models.Job{ID: id, Type: models.JobTypeMLTranscription, Status: status}
}

func (f *fakeJobQueue) job(id string) *models.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[id]
}

func (f *fakeJobQueue) Enqueue(context.Context, string, string, models.JobPayload) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeJobQueue) FetchStatus(_ context.Context, jobID string) (models.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return "", queue.ErrJobNotFound
	}
	return job.Status, nil
}

func (f *fakeJobQueue) FetchResult(_ context.Context, jobID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return "", queue.ErrJobNotFound
	}
	if !job.Status.Terminal() {
		return "", queue.ErrResultNotReady
	}
	if job.Result != nil {
		return *job.Result, nil
	}
	return "", nil
}

func (f *fakeJobQueue) GetJob(_ context.Context, jobID string) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, queue.ErrJobNotFound
	}
	return job, nil
}

func (f *fakeJobQueue) MarkRunning(_ context.Context, jobID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok || job.Status.Terminal() {
		return false, nil
	}
	job.Status = models.JobStatusRunning
	return true, nil
}

func (f *fakeJobQueue) MarkFinished(_ context.Context, jobID, result string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[jobID]; ok && !job.Status.Terminal() {
		job.Status = models.JobStatusFinished
		job.Result = &result
	}
	return nil
}

func (f *fakeJobQueue) MarkFailed(_ context.Context, jobID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[jobID]; ok && !job.Status.Terminal() {
		job.Status = models.JobStatusFailed
		job.ErrorMessage = &message
	}
	return nil
}

type fakeEvalRepo struct {
	mu      sync.Mutex
	records map[string]*models.WordEvaluation
}

func newFakeEvalRepo() *fakeEvalRepo {
	return &fakeEvalRepo{records: make(map[string]*models.WordEvaluation)}
}

func evalKey(evaluationID, wordID int64) string {
	return fmt.Sprintf("%d/%d", evaluationID, wordID)
}

func (f *fakeEvalRepo) addRecord(evaluationID, wordID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[evalKey(evaluationID, wordID)] = &models.WordEvaluation{
		EvaluationID: evaluationID,
		WordID:       wordID,
	}
}

func (f *fakeEvalRepo) record(evaluationID, wordID int64) *models.WordEvaluation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[evalKey(evaluationID, wordID)]
}

func (f *fakeEvalRepo) InsertIfAbsent(_ context.Context, we *models.WordEvaluation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := evalKey(we.EvaluationID, we.WordID)
	if _, ok := f.records[key]; ok {
		return repository.ErrAlreadyExists
	}
	f.records[key] = we
	return nil
}

func (f *fakeEvalRepo) UpdateResult(_ context.Context, evaluationID, wordID int64, field string, value bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	we, ok := f.records[evalKey(evaluationID, wordID)]
	if !ok {
		return repository.ErrNotFound
	}
	if field != models.ResultFieldML {
		return fmt.Errorf("unexpected field: %s", field)
	}
	we.MLResult = &value
	return nil
}

func (f *fakeEvalRepo) FindByEvaluationAndWord(_ context.Context, evaluationID, wordID int64) (*models.WordEvaluation, error) {
	return f.record(evaluationID, wordID), nil
}

func (f *fakeEvalRepo) FindAllForEvaluation(context.Context, int64) ([]models.WordEvaluation, error) {
	return nil, nil
}

func (f *fakeEvalRepo) Delete(_ context.Context, evaluationID, wordID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, evalKey(evaluationID, wordID))
	return nil
}

func (f *fakeEvalRepo) Ping(context.Context) error { return nil }

type fakeObject struct {
	*bytes.Reader
}

func (fakeObject) Close() error { return nil }

type fakeAudioStore struct {
	files map[string][]byte
}

func (f *fakeAudioStore) Save(_ context.Context, name string, data []byte) (string, error) {
	f.files[name] = data
	return name, nil
}

func (f *fakeAudioStore) Open(_ context.Context, path string) (storage.Object, error) {
	data, ok := f.files[path]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return fakeObject{bytes.NewReader(data)}, nil
}

func (f *fakeAudioStore) Delete(_ context.Context, path string) error {
	delete(f.files, path)
	return nil
}

type fakeExtractor struct {
	vector []float64
	err    error
}

func (f *fakeExtractor) Extract(_ context.Context, r io.ReadSeeker, _ string, _ int) ([]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

type fixedClassifier struct {
	label int
}

func (c *fixedClassifier) Fit([][]float64, []int) error { return nil }

func (c *fixedClassifier) Predict([]float64) (int, error) { return c.label, nil }

func fixedTrainer(label int) classifier.TrainFunc {
	return func(context.Context, string) (classifier.Classifier, error) {
		return &fixedClassifier{label: label}, nil
	}
}

type capturedEvent struct {
	exchange   string
	routingKey string
	body       []byte
}

type capturePublisher struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (p *capturePublisher) Publish(_ context.Context, exchange, routingKey string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, capturedEvent{exchange: exchange, routingKey: routingKey, body: body})
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) all() []capturedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]capturedEvent(nil), p.events...)
}

type workerFixture struct {
	jobQueue  *fakeJobQueue
	evalRepo  *fakeEvalRepo
	store     *fakeAudioStore
	extractor *fakeExtractor
	publisher *capturePublisher
	worker    EvaluationWorker
}

func newWorkerFixture(t *testing.T, train classifier.TrainFunc) *workerFixture {
	t.Helper()

	f := &workerFixture{
		jobQueue:  newFakeJobQueue(),
		evalRepo:  newFakeEvalRepo(),
		store:     &fakeAudioStore{files: map[string][]byte{"1_7_audio.wav": []byte("pcm")}},
		extractor: &fakeExtractor{vector: []float64{0.1, 0.9}},
		publisher: &capturePublisher{},
	}

	pool := NewWorkerPool(1, zerolog.Nop())
	f.worker = NewEvaluationWorker(
		pool,
		&stubConsumer{},
		f.jobQueue,
		f.evalRepo,
		f.store,
		f.extractor,
		classifier.NewCache(train, zerolog.Nop()),
		f.publisher,
		"evaluation_exchange",
		"evaluation.completed",
		zerolog.Nop(),
	)

	return f
}

type stubConsumer struct{}

func (stubConsumer) Consume(context.Context) (<-chan queue.Message, error) {
	ch := make(chan queue.Message)
	close(ch)
	return ch, nil
}

func (stubConsumer) QueueLength() (int, error) { return 0, nil }

func (stubConsumer) Close() error { return nil }

func testPayload() models.JobPayload {
	return models.JobPayload{
		JobID:        "job-1",
		EvaluationID: 1,
		WordID:       7,
		Word:         "anel",
		AudioPath:    "1_7_audio.wav",
		FeatureBins:  2,
	}
}

func TestEvaluationWorker_ProcessJob_Correct(t *testing.T) {
	f := newWorkerFixture(t, fixedTrainer(1))
	f.jobQueue.addJob("job-1", models.JobStatusQueued)
	f.evalRepo.addRecord(1, 7)

	err := f.worker.ProcessJob(context.Background(), testPayload())
	require.NoError(t, err)

	job := f.jobQueue.job("job-1")
	assert.Equal(t, models.JobStatusFinished, job.Status)
	require.NotNil(t, job.Result)
	assert.Equal(t, "true", *job.Result)

	record := f.evalRepo.record(1, 7)
	require.NotNil(t, record.MLResult)
	assert.True(t, *record.MLResult)

	events := f.publisher.all()
	require.Len(t, events, 1)
	assert.Equal(t, "evaluation.completed", events[0].routingKey)

	var event models.JobCompletedEvent
	require.NoError(t, json.Unmarshal(events[0].body, &event))
	assert.Equal(t, "job-1", event.JobID)
	assert.Equal(t, "finished", event.Status)
	require.NotNil(t, event.Result)
	assert.Equal(t, "true", *event.Result)
}

func TestEvaluationWorker_ProcessJob_Incorrect(t *testing.T) {
	f := newWorkerFixture(t, fixedTrainer(0))
	f.jobQueue.addJob("job-1", models.JobStatusQueued)
	f.evalRepo.addRecord(1, 7)

	err := f.worker.ProcessJob(context.Background(), testPayload())
	require.NoError(t, err)

	job := f.jobQueue.job("job-1")
	require.NotNil(t, job.Result)
	assert.Equal(t, "false", *job.Result)

	record := f.evalRepo.record(1, 7)
	require.NotNil(t, record.MLResult)
	assert.False(t, *record.MLResult)
}

func TestEvaluationWorker_ProcessJob_TrainingUnavailable(t *testing.T) {
	train := func(context.Context, string) (classifier.Classifier, error) {
		return nil, fmt.Errorf("%w: no training file", classifier.ErrTrainingDataUnavailable)
	}
	f := newWorkerFixture(t, train)
	f.jobQueue.addJob("job-1", models.JobStatusQueued)
	f.evalRepo.addRecord(1, 7)

	err := f.worker.ProcessJob(context.Background(), testPayload())
	require.NoError(t, err)

	job := f.jobQueue.job("job-1")
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "training data unavailable")

	// The evaluation record keeps its null result.
	record := f.evalRepo.record(1, 7)
	assert.Nil(t, record.MLResult)

	events := f.publisher.all()
	require.Len(t, events, 1)
	var event models.JobCompletedEvent
	require.NoError(t, json.Unmarshal(events[0].body, &event))
	assert.Equal(t, "failed", event.Status)
	assert.Nil(t, event.Result)
}

func TestEvaluationWorker_ProcessJob_MissingAudio(t *testing.T) {
	f := newWorkerFixture(t, fixedTrainer(1))
	f.jobQueue.addJob("job-1", models.JobStatusQueued)
	f.evalRepo.addRecord(1, 7)

	payload := testPayload()
	payload.AudioPath = "gone.wav"

	err := f.worker.ProcessJob(context.Background(), payload)
	require.NoError(t, err)

	job := f.jobQueue.job("job-1")
	assert.Equal(t, models.JobStatusFailed, job.Status)
}

func TestEvaluationWorker_ProcessJob_MissingRecord(t *testing.T) {
	f := newWorkerFixture(t, fixedTrainer(1))
	f.jobQueue.addJob("job-1", models.JobStatusQueued)

	err := f.worker.ProcessJob(context.Background(), testPayload())
	require.NoError(t, err)

	job := f.jobQueue.job("job-1")
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "evaluation record missing")
}

func TestEvaluationWorker_ProcessJob_AlreadyTerminal(t *testing.T) {
	f := newWorkerFixture(t, fixedTrainer(1))
	f.jobQueue.addJob("job-1", models.JobStatusFinished)
	f.evalRepo.addRecord(1, 7)

	err := f.worker.ProcessJob(context.Background(), testPayload())
	require.NoError(t, err)

	// Nothing recomputed on redelivery of a completed job.
	record := f.evalRepo.record(1, 7)
	assert.Nil(t, record.MLResult)
	assert.Empty(t, f.publisher.all())
}

func TestEvaluationWorker_ProcessJob_ExtractionFailure(t *testing.T) {
	f := newWorkerFixture(t, fixedTrainer(1))
	f.jobQueue.addJob("job-1", models.JobStatusQueued)
	f.evalRepo.addRecord(1, 7)
	f.extractor.err = errors.New("short read")

	err := f.worker.ProcessJob(context.Background(), testPayload())
	require.NoError(t, err)

	job := f.jobQueue.job("job-1")
	assert.Equal(t, models.JobStatusFailed, job.Status)
}

func TestWorkerPool_RecoversFromPanic(t *testing.T) {
	pool := NewWorkerPool(2, zerolog.Nop())
	require.NoError(t, pool.Start(context.Background()))

	done := make(chan struct{})
	pool.Submit(func() { panic("boom") })
	pool.Submit(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool stopped processing after panic")
	}

	require.NoError(t, pool.Stop())
	assert.Equal(t, 0, pool.ActiveWorkers())
}

func TestPermanentError(t *testing.T) {
	base := errors.New("bad payload")

	assert.True(t, isPermanentError(permanent(base)))
	assert.False(t, isPermanentError(base))
	assert.ErrorIs(t, permanent(base), base)
}
