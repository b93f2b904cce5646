// Package curves renders training curves to PNG files, one chart per tag family
// (Loss/..., Accuracy/...).
package curves

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// CurveWriter buffers scalars in memory and draws them when closed.
type CurveWriter struct {
	dir string

	mu     sync.Mutex
	series map[string]plotter.XYs
	closed bool
}

func NewCurveWriter(dir string) *CurveWriter {
	return &CurveWriter{dir: dir, series: make(map[string]plotter.XYs)}
}

func (w *CurveWriter) AddScalar(_ context.Context, tag string, value float64, step int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("curve writer closed")
	}
	w.series[tag] = append(w.series[tag], plotter.XY{X: float64(step), Y: value})
	return nil
}

// Close writes <family>.png for every tag family seen. Closing twice is a no-op.
func (w *CurveWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if len(w.series) == 0 {
		return nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create plot dir: %w", err)
	}

	var errs []error
	for family, tags := range w.families() {
		if err := w.render(family, tags); err != nil {
			errs = append(errs, fmt.Errorf("plot %s: %w", family, err))
		}
	}
	return errors.Join(errs...)
}

// Files lists the PNGs Close produces.
func (w *CurveWriter) Files() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var files []string
	for family := range w.families() {
		files = append(files, w.path(family))
	}
	sort.Strings(files)
	return files
}

func (w *CurveWriter) families() map[string][]string {
	fams := make(map[string][]string)
	for tag := range w.series {
		family, _, _ := strings.Cut(tag, "/")
		fams[family] = append(fams[family], tag)
	}
	for _, tags := range fams {
		sort.Strings(tags)
	}
	return fams
}

func (w *CurveWriter) path(family string) string {
	return filepath.Join(w.dir, strings.ToLower(family)+".png")
}

func (w *CurveWriter) render(family string, tags []string) error {
	p := plot.New()
	p.Title.Text = family
	p.X.Label.Text = "step"
	p.Y.Label.Text = strings.ToLower(family)
	p.Add(plotter.NewGrid())

	// plotutil.AddLines takes alternating name, XYer pairs
	lines := make([]any, 0, 2*len(tags))
	for _, tag := range tags {
		_, name, _ := strings.Cut(tag, "/")
		lines = append(lines, name, w.series[tag])
	}
	if err := plotutil.AddLines(p, lines...); err != nil {
		return err
	}
	p.Legend.Top = true
	return p.Save(8*vg.Inch, 5*vg.Inch, w.path(family))
}
