package onnx

import (
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/gomlx/opgraph/internal/protos"
	"github.com/pkg/errors"
	"golang.org/x/exp/mmap"
)

// externalDataInfo is the location of the values of a tensor stored outside the model file.
type externalDataInfo struct {
	location       string
	offset, length int64
}

// parseExternalData parses the key/value pairs of a tensor stored as external data.
func parseExternalData(proto *protos.TensorProto) (*externalDataInfo, error) {
	info := &externalDataInfo{}
	for _, entry := range proto.ExternalData {
		var err error
		switch entry.Key {
		case "location":
			info.location = entry.Value
		case "offset":
			info.offset, err = strconv.ParseInt(entry.Value, 10, 64)
		case "length":
			info.length, err = strconv.ParseInt(entry.Value, 10, 64)
		case "checksum":
			// Not verified.
		default:
			err = errors.Errorf("unknown key")
		}
		if err != nil {
			return nil, errors.Wrapf(err, "tensor %q: invalid external data entry %s=%q", proto.Name, entry.Key, entry.Value)
		}
	}
	if info.location == "" {
		return nil, errors.Errorf("tensor %q is stored as external data but has no location", proto.Name)
	}
	if filepath.IsAbs(info.location) || strings.HasPrefix(filepath.Clean(info.location), "..") {
		return nil, errors.Errorf("tensor %q: external data location %q must be relative to the model directory",
			proto.Name, info.location)
	}
	if info.offset < 0 || info.length < 0 {
		return nil, errors.Errorf("tensor %q: negative external data offset (%d) or length (%d)",
			proto.Name, info.offset, info.length)
	}
	return info, nil
}

// ExternalDataReader reads tensor values stored in files next to the model, memory-mapping each file once.
// It is safe for concurrent use.
type ExternalDataReader struct {
	baseDir  string
	mappings map[string]*mmap.ReaderAt
	mu       sync.Mutex
}

// NewExternalDataReader creates a reader for the given model directory.
func NewExternalDataReader(baseDir string) *ExternalDataReader {
	return &ExternalDataReader{
		baseDir:  baseDir,
		mappings: make(map[string]*mmap.ReaderAt),
	}
}

func (r *ExternalDataReader) mapping(location string) (*mmap.ReaderAt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mappings == nil {
		return nil, errors.New("external data reader already closed")
	}
	if reader, ok := r.mappings[location]; ok {
		return reader, nil
	}
	externalPath := filepath.Join(r.baseDir, location)
	reader, err := mmap.Open(externalPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to mmap external data file %q", externalPath)
	}
	r.mappings[location] = reader
	return reader, nil
}

// ReadInto copies the external data described by info into dst, which must have exactly the size of the data.
func (r *ExternalDataReader) ReadInto(info *externalDataInfo, dst []byte) error {
	if r.baseDir == "" {
		return errors.New("base directory is required for reading external data")
	}
	if info.length > 0 && info.length != int64(len(dst)) {
		return errors.Errorf("external data length %d doesn't match destination size %d", info.length, len(dst))
	}
	reader, err := r.mapping(info.location)
	if err != nil {
		return err
	}
	n, err := reader.ReadAt(dst, info.offset)
	if err != nil && err != io.EOF {
		return errors.Wrapf(err, "failed to read %d bytes at offset %d from external data file %q",
			len(dst), info.offset, info.location)
	}
	if n != len(dst) {
		return errors.Errorf("read %d bytes but expected %d from external data file %q", n, len(dst), info.location)
	}
	return nil
}

// Close unmaps all files. The reader can't be used afterwards.
func (r *ExternalDataReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for location, reader := range r.mappings {
		if err := reader.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "failed to close mmap for %q", location)
		}
	}
	r.mappings = nil
	return firstErr
}
