package sim

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/robotalks/sbclink/pkg/sbc/msgs"
)

// ErrNotFound indicates a path not present in the object model.
var ErrNotFound = errors.New("not found")

// ObjectModel is an in-memory object model. Each module is a JSON
// document addressed by paths like "move.axes[0].letter".
type ObjectModel struct {
	lock    sync.RWMutex
	modules map[uint8][]byte
}

// NewObjectModel creates an empty object model.
func NewObjectModel() *ObjectModel {
	return &ObjectModel{modules: make(map[uint8][]byte)}
}

var (
	pathPartRe = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)((?:\[[0-9]+\])*)$`)
	indexRe    = regexp.MustCompile(`\[([0-9]+)\]`)
)

// pathElem is a key, or an array index when index >= 0.
type pathElem struct {
	key   string
	index int
}

// objectPath is a parsed path with its gjson form.
type objectPath struct {
	elems []pathElem
	json  string
}

func parsePath(path string) (p objectPath, err error) {
	if path == "" {
		return
	}
	var parts []string
	for _, part := range strings.Split(path, ".") {
		m := pathPartRe.FindStringSubmatch(part)
		if m == nil {
			return p, errors.Errorf("invalid path %q", path)
		}
		p.elems = append(p.elems, pathElem{key: m[1], index: -1})
		parts = append(parts, m[1])
		for _, idx := range indexRe.FindAllStringSubmatch(m[2], -1) {
			n, err := strconv.Atoi(idx[1])
			if err != nil {
				return p, errors.Errorf("invalid index in path %q", path)
			}
			p.elems = append(p.elems, pathElem{index: n})
			parts = append(parts, idx[1])
		}
	}
	p.json = strings.Join(parts, ".")
	return
}

// prefix is the gjson path of the first n elements.
func (p objectPath) prefix(n int) string {
	parts := make([]string, n)
	for i, elem := range p.elems[:n] {
		if elem.index >= 0 {
			parts[i] = strconv.Itoa(elem.index)
		} else {
			parts[i] = elem.key
		}
	}
	return strings.Join(parts, ".")
}

func (m *ObjectModel) lookupLocked(module uint8, path string) (gjson.Result, error) {
	p, err := parsePath(path)
	if err != nil {
		return gjson.Result{}, err
	}
	doc, ok := m.modules[module]
	if !ok {
		return gjson.Result{}, errors.Wrapf(ErrNotFound, "module %d", module)
	}
	if p.json == "" {
		return gjson.ParseBytes(doc), nil
	}
	r := gjson.GetBytes(doc, p.json)
	if !r.Exists() {
		return r, errors.Wrapf(ErrNotFound, "module %d %q", module, path)
	}
	return r, nil
}

// Get returns the value at path decoded as by encoding/json.
func (m *ObjectModel) Get(module uint8, path string) (interface{}, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	r, err := m.lookupLocked(module, path)
	if err != nil {
		return nil, err
	}
	return r.Value(), nil
}

// Set assigns the value at path, creating missing objects on the way.
// Array elements must exist.
func (m *ObjectModel) Set(module uint8, path string, value interface{}) error {
	p, err := parsePath(path)
	if err != nil {
		return err
	}
	if len(p.elems) == 0 {
		return errors.New("empty path")
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	doc := m.modules[module]
	if doc == nil {
		doc = []byte("{}")
	}
	for n := 1; n < len(p.elems); n++ {
		parent := gjson.GetBytes(doc, p.prefix(n))
		if elem := p.elems[n]; elem.index >= 0 {
			if !parent.IsArray() || int64(elem.index) >= parent.Get("#").Int() {
				return errors.Wrapf(ErrNotFound, "module %d %q", module, path)
			}
		} else if parent.Exists() && !parent.IsObject() {
			return errors.Errorf("module %d %q: %q is not an object", module, path, p.elems[n-1].key)
		}
	}
	if doc, err = sjson.SetBytes(doc, p.json, value); err != nil {
		return errors.Wrapf(err, "module %d %q", module, path)
	}
	m.modules[module] = doc
	return nil
}

// Read implements dispatch.ObjectModel. The fragment is JSON.
func (m *ObjectModel) Read(module uint8, path string) ([]byte, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	r, err := m.lookupLocked(module, path)
	if err != nil {
		return nil, err
	}
	return []byte(r.Raw), nil
}

// Write implements dispatch.ObjectModel.
func (m *ObjectModel) Write(module uint8, path string, value msgs.Value) error {
	return m.Set(module, path, value.Interface())
}
