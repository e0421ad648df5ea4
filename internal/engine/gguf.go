package engine

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

// ggufMagic is "GGUF" read as a little-endian uint32.
const ggufMagic = 0x46554747

// ModelInfo is the lightweight metadata read from a GGUF container header.
// It is a structural validity check, not an integrity check: a file that
// parses here is assumed to be the model it claims to be.
type ModelInfo struct {
	Version     uint32
	TensorCount uint64
	KVCount     uint64
	SizeBytes   int64
}

// LoadModelInfo reads the GGUF header of the model file at path. It fails
// if the file is missing, truncated, or not a GGUF container of a version
// this build understands.
func LoadModelInfo(path string) (ModelInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return ModelInfo{}, fmt.Errorf("opening model file: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return ModelInfo{}, fmt.Errorf("stat model file: %w", err)
	}

	var hdr struct {
		Magic       uint32
		Version     uint32
		TensorCount uint64
		KVCount     uint64
	}
	if err := binary.Read(f, binary.LittleEndian, &hdr); err != nil {
		return ModelInfo{}, fmt.Errorf("reading GGUF header from %s: %w", filepath.Base(path), err)
	}

	if hdr.Magic != ggufMagic {
		return ModelInfo{}, fmt.Errorf("%s is not a GGUF model file", filepath.Base(path))
	}
	if hdr.Version < 2 || hdr.Version > 3 {
		return ModelInfo{}, fmt.Errorf("unsupported GGUF version %d in %s", hdr.Version, filepath.Base(path))
	}

	return ModelInfo{
		Version:     hdr.Version,
		TensorCount: hdr.TensorCount,
		KVCount:     hdr.KVCount,
		SizeBytes:   fi.Size(),
	}, nil
}
