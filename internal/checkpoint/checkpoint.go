// Package checkpoint writes and reads training snapshots.
package checkpoint

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rhsieh91/sife-net/internal/model"
)

const Ext = ".ckpt"

// Checkpoint is everything needed to resume or fine-tune a run.
type Checkpoint struct {
	Epoch          int
	Iteration      int
	Loss           float64
	ModelState     map[string][]float64
	OptimizerState model.OptimizerState
}

// Path names a checkpoint the way the run directory expects: saveDir, then the two-digit epoch,
// then the six-digit iteration. saveDir is concatenated as is, so it normally ends in a separator.
func Path(saveDir string, epoch, iteration int) string {
	return fmt.Sprintf("%s%02d%06d%s", saveDir, epoch, iteration, Ext)
}

// Save writes ckpt under saveDir, creating the directory if needed, and returns the file path.
func Save(ckpt *Checkpoint, saveDir string) (string, error) {
	dir := saveDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(filepath.Dir(Path(dir, 0, 0)), 0o755); err != nil {
		return "", fmt.Errorf("create checkpoint dir: %w", err)
	}

	path := Path(saveDir, ckpt.Epoch, ckpt.Iteration)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create checkpoint: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(ckpt); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("publish checkpoint: %w", err)
	}
	return path, nil
}

func Load(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()

	var ckpt Checkpoint
	if err := gob.NewDecoder(f).Decode(&ckpt); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	return &ckpt, nil
}

// Restore loads a checkpoint's weights into net and, when opt is non-nil, its optimizer state.
func Restore(ckpt *Checkpoint, net model.Network, opt model.Optimizer) error {
	if err := model.LoadState(net, ckpt.ModelState); err != nil {
		return err
	}
	if opt != nil && ckpt.OptimizerState.Kind != "" {
		if err := opt.LoadState(ckpt.OptimizerState); err != nil {
			return err
		}
	}
	return nil
}
