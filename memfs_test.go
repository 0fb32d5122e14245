package sitedeploy

import (
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"testing"
	"time"
)

// mockFileInfo implements os.FileInfo for testing.
type mockFileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
}

func (m *mockFileInfo) Name() string       { return m.name }
func (m *mockFileInfo) Size() int64        { return m.size }
func (m *mockFileInfo) Mode() os.FileMode  { return m.mode }
func (m *mockFileInfo) ModTime() time.Time { return m.modTime }
func (m *mockFileInfo) IsDir() bool        { return m.mode.IsDir() }
func (m *mockFileInfo) Sys() any           { return nil }

type memNode struct {
	mode    os.FileMode
	content []byte
}

// memFS is an in-memory RemoteFS. Paths are absolute and slash separated.
type memFS struct {
	nodes  map[string]*memNode
	errors map[string]error
	closed bool

	// removeDeletesDirs makes Remove succeed on directories, deleting the
	// whole subtree, like servers that map remove onto rm -r.
	removeDeletesDirs bool

	calls []string
}

var _ RemoteFS = (*memFS)(nil)

func newMemFS() *memFS {
	return &memFS{
		nodes: map[string]*memNode{
			"/": {mode: os.ModeDir | 0755},
		},
		errors: make(map[string]error),
	}
}

// fail makes op on p return err. An empty p matches every path.
func (m *memFS) fail(op, p string, err error) {
	m.errors[op+":"+p] = err
}

func (m *memFS) injected(op, p string) error {
	if err, ok := m.errors[op+":"+p]; ok {
		return err
	}
	return m.errors[op+":"]
}

func (m *memFS) record(op, p string) {
	m.calls = append(m.calls, op+" "+p)
}

func (m *memFS) addDir(t testing.TB, p string) {
	t.Helper()
	if err := m.MkdirAll(p); err != nil {
		t.Fatalf("addDir(%s): %v", p, err)
	}
}

func (m *memFS) addFile(t testing.TB, p, content string) {
	t.Helper()
	m.addDir(t, path.Dir(p))
	m.nodes[p] = &memNode{mode: 0644, content: []byte(content)}
}

func (m *memFS) addSymlink(t testing.TB, p string) {
	t.Helper()
	m.addDir(t, path.Dir(p))
	m.nodes[p] = &memNode{mode: os.ModeSymlink | 0777}
}

// tree returns every path below dir, relative to it. Directories map to
// "/", files to their content and symlinks to "->".
func (m *memFS) tree(dir string) map[string]string {
	out := make(map[string]string)
	prefix := strings.TrimSuffix(dir, "/") + "/"
	for p, n := range m.nodes {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rel := strings.TrimPrefix(p, prefix)
		if rel == "" {
			continue
		}
		switch {
		case n.mode.IsDir():
			out[rel] = "/"
		case n.mode&os.ModeSymlink != 0:
			out[rel] = "->"
		default:
			out[rel] = string(n.content)
		}
	}
	return out
}

func (m *memFS) children(dir string) []string {
	var names []string
	for p := range m.nodes {
		if p != "/" && path.Dir(p) == dir {
			names = append(names, path.Base(p))
		}
	}
	// Servers return entries in no particular order.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names
}

func (m *memFS) info(p string, n *memNode) os.FileInfo {
	return &mockFileInfo{
		name:    path.Base(p),
		size:    int64(len(n.content)),
		mode:    n.mode,
		modTime: time.Now(),
	}
}

func (m *memFS) ReadDir(p string) ([]os.FileInfo, error) {
	m.record("ReadDir", p)
	if err := m.injected("ReadDir", p); err != nil {
		return nil, err
	}
	n, ok := m.nodes[p]
	if !ok {
		return nil, os.ErrNotExist
	}
	if !n.mode.IsDir() {
		return nil, fmt.Errorf("%s: not a directory", p)
	}
	var infos []os.FileInfo
	for _, name := range m.children(p) {
		child := path.Join(p, name)
		infos = append(infos, m.info(child, m.nodes[child]))
	}
	return infos, nil
}

func (m *memFS) Lstat(p string) (os.FileInfo, error) {
	m.record("Lstat", p)
	if err := m.injected("Lstat", p); err != nil {
		return nil, err
	}
	n, ok := m.nodes[p]
	if !ok {
		return nil, os.ErrNotExist
	}
	return m.info(p, n), nil
}

func (m *memFS) Stat(p string) (os.FileInfo, error) {
	m.record("Stat", p)
	if err := m.injected("Stat", p); err != nil {
		return nil, err
	}
	n, ok := m.nodes[p]
	if !ok {
		return nil, os.ErrNotExist
	}
	return m.info(p, n), nil
}

func (m *memFS) Remove(p string) error {
	m.record("Remove", p)
	if err := m.injected("Remove", p); err != nil {
		return err
	}
	n, ok := m.nodes[p]
	if !ok {
		return os.ErrNotExist
	}
	if n.mode.IsDir() {
		if !m.removeDeletesDirs {
			return errors.New("sftp: \"Failure\" (SSH_FX_FAILURE)")
		}
		for child := range m.tree(p) {
			delete(m.nodes, path.Join(p, child))
		}
	}
	delete(m.nodes, p)
	return nil
}

func (m *memFS) RemoveDirectory(p string) error {
	m.record("RemoveDirectory", p)
	if err := m.injected("RemoveDirectory", p); err != nil {
		return err
	}
	n, ok := m.nodes[p]
	if !ok {
		return os.ErrNotExist
	}
	if !n.mode.IsDir() {
		return fmt.Errorf("%s: not a directory", p)
	}
	if len(m.children(p)) > 0 {
		return fmt.Errorf("%s: directory not empty", p)
	}
	delete(m.nodes, p)
	return nil
}

func (m *memFS) Mkdir(p string) error {
	m.record("Mkdir", p)
	if err := m.injected("Mkdir", p); err != nil {
		return err
	}
	if _, ok := m.nodes[p]; ok {
		return os.ErrExist
	}
	parent, ok := m.nodes[path.Dir(p)]
	if !ok {
		return os.ErrNotExist
	}
	if !parent.mode.IsDir() {
		return fmt.Errorf("%s: not a directory", path.Dir(p))
	}
	m.nodes[p] = &memNode{mode: os.ModeDir | 0755}
	return nil
}

func (m *memFS) MkdirAll(p string) error {
	m.record("MkdirAll", p)
	if err := m.injected("MkdirAll", p); err != nil {
		return err
	}
	for cur := p; cur != "/"; cur = path.Dir(cur) {
		if n, ok := m.nodes[cur]; ok {
			if !n.mode.IsDir() {
				return fmt.Errorf("%s: not a directory", cur)
			}
			continue
		}
		m.nodes[cur] = &memNode{mode: os.ModeDir | 0755}
	}
	return nil
}

func (m *memFS) Create(p string) (RemoteFile, error) {
	m.record("Create", p)
	if err := m.injected("Create", p); err != nil {
		return nil, err
	}
	parent, ok := m.nodes[path.Dir(p)]
	if !ok || !parent.mode.IsDir() {
		return nil, os.ErrNotExist
	}
	if n, ok := m.nodes[p]; ok && n.mode.IsDir() {
		return nil, fmt.Errorf("%s: is a directory", p)
	}
	n := &memNode{mode: 0644}
	m.nodes[p] = n
	return &memFile{node: n, writeErr: m.injected("Write", p)}, nil
}

func (m *memFS) Close() error {
	m.record("Close", "")
	if err := m.injected("Close", ""); err != nil {
		return err
	}
	m.closed = true
	return nil
}

type memFile struct {
	node     *memNode
	writeErr error
	closed   bool
}

func (f *memFile) Write(p []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	if f.closed {
		return 0, os.ErrClosed
	}
	f.node.content = append(f.node.content, p...)
	return len(p), nil
}

func (f *memFile) Close() error {
	f.closed = true
	return nil
}
