package extract

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/golang/glog"
	"github.com/ulikunitz/xz"
)

var xzMagic = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}

// ReadScript loads a whole script into memory, transparently decompressing
// xz-compressed files.
func ReadScript(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &IOError{Op: "read", Path: path, Err: err}
	}
	if !bytes.HasPrefix(data, xzMagic) {
		return data, nil
	}

	glog.V(1).Infof("%s is xz compressed", path)
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, &IOError{Op: "decompress", Path: path, Err: err}
	}
	data, err = io.ReadAll(r)
	if err != nil {
		return nil, &IOError{Op: "decompress", Path: path, Err: err}
	}
	return data, nil
}

// WriteFileAtomic writes data next to path and renames it into place, so that
// path either keeps its old contents or gets all of data. An existing file
// keeps its permissions.
func WriteFileAtomic(path string, data []byte) error {
	mode := os.FileMode(0644)
	if fi, err := os.Stat(path); err == nil {
		mode = fi.Mode().Perm()
	}
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return &IOError{Op: "create", Path: path, Err: err}
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return &IOError{Op: "write", Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return &IOError{Op: "write", Path: path, Err: err}
	}
	if err := os.Chmod(tmp, mode); err != nil {
		os.Remove(tmp)
		return &IOError{Op: "write", Path: path, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return &IOError{Op: "rename", Path: path, Err: err}
	}
	return nil
}
