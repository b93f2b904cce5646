package entity

import "fmt"

// ClipRecord is one annotated video: its id, labels and the directory holding its frames.
type ClipRecord struct {
	ID     string
	Action string
	Scene  string
	Path   string
}

// LabelSet is an ordered list of class names, addressable by name or index.
type LabelSet struct {
	names []string
	index map[string]int
}

func NewLabelSet(names []string) (*LabelSet, error) {
	ls := &LabelSet{names: make([]string, 0, len(names)), index: make(map[string]int, len(names))}
	for _, n := range names {
		if _, dup := ls.index[n]; dup {
			return nil, fmt.Errorf("duplicate label %q", n)
		}
		ls.index[n] = len(ls.names)
		ls.names = append(ls.names, n)
	}
	return ls, nil
}

func (l *LabelSet) Len() int { return len(l.names) }

func (l *LabelSet) Index(name string) (int, bool) {
	i, ok := l.index[name]
	return i, ok
}

func (l *LabelSet) Name(i int) (string, bool) {
	if i < 0 || i >= len(l.names) {
		return "", false
	}
	return l.names[i], true
}

// Names returns a copy of the class list in index order.
func (l *LabelSet) Names() []string {
	return append([]string(nil), l.names...)
}
