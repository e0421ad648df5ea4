package engine

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func writeGGUF(t *testing.T, magic, version uint32, tensors, kvs uint64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.gguf")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	for _, v := range []any{magic, version, tensors, kvs} {
		if err := binary.Write(f, binary.LittleEndian, v); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

func TestLoadModelInfo(t *testing.T) {
	path := writeGGUF(t, ggufMagic, 3, 291, 24)

	info, err := LoadModelInfo(path)
	if err != nil {
		t.Fatalf("LoadModelInfo: %v", err)
	}
	if info.Version != 3 {
		t.Errorf("Version = %d, want 3", info.Version)
	}
	if info.TensorCount != 291 {
		t.Errorf("TensorCount = %d, want 291", info.TensorCount)
	}
	if info.KVCount != 24 {
		t.Errorf("KVCount = %d, want 24", info.KVCount)
	}
	if info.SizeBytes != 24 {
		t.Errorf("SizeBytes = %d, want 24", info.SizeBytes)
	}
}

func TestLoadModelInfo_BadMagic(t *testing.T) {
	path := writeGGUF(t, 0x46474747, 3, 1, 1)

	if _, err := LoadModelInfo(path); err == nil {
		t.Error("expected error for non-GGUF file, got nil")
	}
}

func TestLoadModelInfo_UnsupportedVersion(t *testing.T) {
	path := writeGGUF(t, ggufMagic, 1, 1, 1)

	if _, err := LoadModelInfo(path); err == nil {
		t.Error("expected error for GGUF v1, got nil")
	}
}

func TestLoadModelInfo_Truncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.gguf")
	if err := os.WriteFile(path, []byte("GGUF"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadModelInfo(path); err == nil {
		t.Error("expected error for truncated header, got nil")
	}
}

func TestLoadModelInfo_Missing(t *testing.T) {
	if _, err := LoadModelInfo(filepath.Join(t.TempDir(), "absent.gguf")); err == nil {
		t.Error("expected error for missing file, got nil")
	}
}
