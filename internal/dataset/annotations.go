// Package dataset indexes frame-directory video datasets (Charades, Jester) and turns them into
// batches of clips.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rhsieh91/sife-net/internal/domain/entity"
	"golang.org/x/text/unicode/norm"
)

var ErrUnknownLabel = errors.New("unknown label")

// Annotations is the parsed form of one split: its clips plus the action and scene vocabularies.
type Annotations struct {
	Clips   []entity.ClipRecord
	Actions *entity.LabelSet
	Scenes  *entity.LabelSet
}

type AnnotationFiles struct {
	Input   string
	Actions string
	// Scenes may be empty for datasets without scene annotations (Jester).
	Scenes string
	Root   string
	// Delimiter defaults to ','. Jester's own annotation files use ';'.
	Delimiter rune
	// ValidateLabels makes loading fail on clips whose labels are not in the vocabularies.
	ValidateLabels bool
}

func LoadAnnotations(files AnnotationFiles) (*Annotations, error) {
	comma := files.Delimiter
	if comma == 0 {
		comma = ','
	}

	clips, err := readClips(files.Input, files.Root, comma, files.Scenes != "")
	if err != nil {
		return nil, err
	}

	actions, err := readLabels(files.Actions, comma)
	if err != nil {
		return nil, err
	}

	var scenes *entity.LabelSet
	if files.Scenes == "" {
		scenes, _ = entity.NewLabelSet([]string{""})
	} else if scenes, err = readLabels(files.Scenes, comma); err != nil {
		return nil, err
	}

	a := &Annotations{Clips: clips, Actions: actions, Scenes: scenes}
	if files.ValidateLabels {
		if err := a.validate(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Annotations) validate() error {
	for _, c := range a.Clips {
		if _, ok := a.Actions.Index(c.Action); !ok {
			return fmt.Errorf("clip %s action %q: %w", c.ID, c.Action, ErrUnknownLabel)
		}
		if _, ok := a.Scenes.Index(c.Scene); !ok {
			return fmt.Errorf("clip %s scene %q: %w", c.ID, c.Scene, ErrUnknownLabel)
		}
	}
	return nil
}

// ReadClips parses rows of "id,action,scene"; a row with fewer columns is an error.
func ReadClips(path, root string) ([]entity.ClipRecord, error) {
	return readClips(path, root, ',', true)
}

// readClips without scenes accepts "id;action" rows (Jester) and leaves every scene empty.
func readClips(path, root string, comma rune, withScenes bool) ([]entity.ClipRecord, error) {
	minCols := 2
	if withScenes {
		minCols = 3
	}
	var clips []entity.ClipRecord
	err := readRows(path, comma, func(line int, row []string) error {
		if len(row) < minCols {
			return fmt.Errorf("%s:%d: want at least %d columns, got %d", path, line, minCols, len(row))
		}
		id := strings.TrimSpace(row[0])
		if id == "" {
			return fmt.Errorf("%s:%d: empty clip id", path, line)
		}
		rec := entity.ClipRecord{
			ID:     id,
			Action: normalizeLabel(row[1]),
			Path:   filepath.Join(root, id),
		}
		if withScenes {
			rec.Scene = normalizeLabel(row[2])
		}
		clips = append(clips, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return clips, nil
}

// ReadLabels reads the first column of every row, in file order.
func ReadLabels(path string) (*entity.LabelSet, error) {
	return readLabels(path, ',')
}

func readLabels(path string, comma rune) (*entity.LabelSet, error) {
	var names []string
	err := readRows(path, comma, func(_ int, row []string) error {
		names = append(names, normalizeLabel(row[0]))
		return nil
	})
	if err != nil {
		return nil, err
	}
	ls, err := entity.NewLabelSet(names)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ls, nil
}

func readRows(path string, comma rune, fn func(line int, row []string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = comma
	r.FieldsPerRecord = -1
	for {
		row, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if len(row) == 0 || (len(row) == 1 && strings.TrimSpace(row[0]) == "") {
			continue
		}
		line, _ := r.FieldPos(0)
		if err := fn(line, row); err != nil {
			return err
		}
	}
}

func normalizeLabel(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
