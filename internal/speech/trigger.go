package speech

import (
	"sort"
	"sync"
)

// trigger is the toggle control of a recognizer. Its class set mirrors the
// presentation state a client renders.
type trigger struct {
	mu      sync.Mutex
	classes map[string]struct{}
}

func newTrigger() *trigger {
	return &trigger{classes: make(map[string]struct{})}
}

func (t *trigger) AddClass(name string) {
	t.mu.Lock()
	t.classes[name] = struct{}{}
	t.mu.Unlock()
}

func (t *trigger) RemoveClass(name string) {
	t.mu.Lock()
	delete(t.classes, name)
	t.mu.Unlock()
}

func (t *trigger) Classes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.classes))
	for name := range t.classes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
