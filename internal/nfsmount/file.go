package nfsmount

import (
	"io"

	"github.com/agentic-research/cominavi/internal/graph"
)

// roFile is a read-only billy.File over a random-access content source.
type roFile struct {
	name string
	size int64
	read func(p []byte, off int64) (int, error)
	pos  int64
}

func graphFile(g graph.Graph, id string, size int64) *roFile {
	return &roFile{
		name: id,
		size: size,
		read: func(p []byte, off int64) (int, error) { return g.ReadContent(id, p, off) },
	}
}

func bytesFile(name string, data []byte) *roFile {
	return &roFile{
		name: name,
		size: int64(len(data)),
		read: func(p []byte, off int64) (int, error) { return copy(p, data[off:]), nil },
	}
}

func (f *roFile) Name() string { return f.name }

func (f *roFile) Read(p []byte) (int, error) {
	n, err := f.ReadAt(p, f.pos)
	f.pos += int64(n)
	if err == nil && f.pos >= f.size {
		err = io.EOF
	}
	return n, err
}

func (f *roFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= f.size {
		return 0, io.EOF
	}
	if rest := f.size - off; int64(len(p)) > rest {
		p = p[:rest]
	}
	n, err := f.read(p, off)
	if err != nil {
		return n, err
	}
	if n == 0 || off+int64(n) >= f.size {
		return n, io.EOF
	}
	return n, nil
}

func (f *roFile) Seek(offset int64, whence int) (int64, error) {
	pos := offset
	switch whence {
	case io.SeekCurrent:
		pos = f.pos + offset
	case io.SeekEnd:
		pos = f.size + offset
	}
	f.pos = max(pos, 0)
	return f.pos, nil
}

func (f *roFile) Write([]byte) (int, error) { return 0, errReadOnly }
func (f *roFile) Truncate(int64) error      { return errReadOnly }
func (f *roFile) Lock() error               { return nil }
func (f *roFile) Unlock() error             { return nil }
func (f *roFile) Close() error              { return nil }
