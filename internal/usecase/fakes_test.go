package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rhsieh91/sife-net/internal/domain/entity"
	"github.com/rhsieh91/sife-net/internal/domain/port"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	mu   sync.Mutex
	runs map[uuid.UUID]entity.Run
}

func newMemRepo() *memRepo { return &memRepo{runs: make(map[uuid.UUID]entity.Run)} }

func (r *memRepo) Create(_ context.Context, run *entity.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = *run
	return nil
}

func (r *memRepo) Update(_ context.Context, run *entity.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[run.ID]; !ok {
		return port.ErrRunNotFound
	}
	r.runs[run.ID] = *run
	return nil
}

func (r *memRepo) FindByID(_ context.Context, id uuid.UUID) (*entity.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, fmt.Errorf("find run %s: %w", id, port.ErrRunNotFound)
	}
	return &run, nil
}

// dirStore mimics a bucket with a local directory.
type dirStore struct {
	dir     string
	uploads []string
}

func (s *dirStore) UploadCheckpoint(_ context.Context, key, localPath string) error {
	s.uploads = append(s.uploads, key)
	return copyFile(localPath, filepath.Join(s.dir, filepath.FromSlash(key)))
}

func (s *dirStore) DownloadCheckpoint(_ context.Context, key, destPath string) error {
	return copyFile(filepath.Join(s.dir, filepath.FromSlash(key)), destPath)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

type statusRecorder struct {
	mu   sync.Mutex
	msgs []entity.RunStatusMessage
}

func (p *statusRecorder) PublishStatus(_ context.Context, msg []byte) error {
	var m entity.RunStatusMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, m)
	return nil
}

type dlqRecorder struct {
	bodies  [][]byte
	reasons []string
}

func (d *dlqRecorder) PublishToDLQ(_ context.Context, msg []byte, reason string) error {
	d.bodies = append(d.bodies, msg)
	d.reasons = append(d.reasons, reason)
	return nil
}

type notifyRecorder struct{ to, runID, errMsg string }

func (n *notifyRecorder) NotifyFailure(_ context.Context, to, runID, errMsg string) error {
	n.to, n.runID, n.errMsg = to, runID, errMsg
	return nil
}

type corpus struct {
	root, trainCSV, valCSV, actionsCSV, scenesCSV string
}

// writeCorpus lays out a tiny Charades-style dataset: four videos of solid-colour 8x8 frames.
func writeCorpus(t *testing.T) corpus {
	t.Helper()
	dir := t.TempDir()
	c := corpus{
		root:       filepath.Join(dir, "rgb"),
		trainCSV:   filepath.Join(dir, "train.csv"),
		valCSV:     filepath.Join(dir, "val.csv"),
		actionsCSV: filepath.Join(dir, "actions.csv"),
		scenesCSV:  filepath.Join(dir, "scenes.csv"),
	}
	videos := map[string]color.RGBA{
		"AAA01": {200, 30, 30, 255},
		"BBB02": {30, 200, 30, 255},
		"CCC03": {200, 30, 30, 255},
		"DDD04": {30, 200, 30, 255},
	}
	for id, col := range videos {
		frameDir := filepath.Join(c.root, id)
		require.NoError(t, os.MkdirAll(frameDir, 0o755))
		for f := 1; f <= 10; f++ {
			writeJPEG(t, filepath.Join(frameDir, fmt.Sprintf("%05d.jpg", f)), col)
		}
	}
	require.NoError(t, os.WriteFile(c.trainCSV, []byte("AAA01,c001,Kitchen\nBBB02,c002,Garage\nCCC03,c001,Kitchen\n"), 0o644))
	require.NoError(t, os.WriteFile(c.valCSV, []byte("DDD04,c002,Garage\n"), 0o644))
	require.NoError(t, os.WriteFile(c.actionsCSV, []byte("c001,Holding a cup\nc002,Opening a door\n"), 0o644))
	require.NoError(t, os.WriteFile(c.scenesCSV, []byte("Garage\nKitchen\n"), 0o644))
	return c
}

func writeJPEG(t *testing.T, path string, col color.RGBA) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetRGBA(x, y, col)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, jpeg.Encode(f, img, nil))
	require.NoError(t, f.Close())
}

func (c corpus) dataConfig() DataConfig {
	return DataConfig{
		TrainCSV: c.trainCSV, ValCSV: c.valCSV, ActionsCSV: c.actionsCSV, ScenesCSV: c.scenesCSV, Root: c.root,
		ClipSize: 8, NClips: 1, StepSize: 1, FrameSize: 8, LoadWorkers: 2,
		NumActions: 27, NumScenes: 10, Seed: 7,
	}
}

func (c corpus) request(runID uuid.UUID, epochs int) entity.TrainingRequestMessage {
	return entity.TrainingRequestMessage{
		RunID: runID, LearningRate: 0.01, BatchSize: 2, Epochs: epochs,
		TrainCSV: c.trainCSV, ValCSV: c.valCSV, ActionsCSV: c.actionsCSV, ScenesCSV: c.scenesCSV, Root: c.root,
		RequesterEmail: "ana@lab.org",
	}
}
