package docker

import (
	"archive/tar"
	"bytes"
	"io"
	"testing"
)

func readTar(t *testing.T, data []byte) map[string]*tar.Header {
	t.Helper()
	entries := make(map[string]*tar.Header)
	tr := tar.NewReader(bytes.NewReader(data))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read tar: %v", err)
		}
		entries[hdr.Name] = hdr
	}
	return entries
}

func TestWorkspaceTar(t *testing.T) {
	data, err := workspaceTar("main.py", []byte("print(1)"), 0o644)
	if err != nil {
		t.Fatalf("workspaceTar: %v", err)
	}

	entries := readTar(t, data)
	if _, ok := entries["box/"]; !ok {
		t.Fatal("missing box/ directory entry")
	}
	hdr, ok := entries["box/main.py"]
	if !ok {
		t.Fatal("missing box/main.py entry")
	}
	if hdr.Size != int64(len("print(1)")) || hdr.Mode != 0o644 {
		t.Fatalf("unexpected header: %+v", hdr)
	}

	// Content survives the round trip.
	tr := tar.NewReader(bytes.NewReader(data))
	for {
		hdr, err := tr.Next()
		if err != nil {
			t.Fatal("box/main.py not found on second pass")
		}
		if hdr.Name == "box/main.py" {
			content, err := io.ReadAll(tr)
			if err != nil {
				t.Fatalf("read content: %v", err)
			}
			if string(content) != "print(1)" {
				t.Fatalf("content: got %q", content)
			}
			break
		}
	}
}

func TestRerootTar(t *testing.T) {
	// Simulate a compile artifact as the docker copy API produces it:
	// rooted at the artifact name, executable mode set.
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{
		Name: "main",
		Mode: 0o755,
		Size: 6,
	}); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if _, err := tw.Write([]byte("binary")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	rerooted, err := rerootTar(buf.Bytes())
	if err != nil {
		t.Fatalf("rerootTar: %v", err)
	}

	entries := readTar(t, rerooted)
	if _, ok := entries["box/"]; !ok {
		t.Fatal("missing box/ directory entry")
	}
	hdr, ok := entries["box/main"]
	if !ok {
		t.Fatal("missing box/main entry")
	}
	if hdr.Mode != 0o755 {
		t.Fatalf("exec mode lost: %+v", hdr)
	}
}

func TestRerootTarPreservesDirectories(t *testing.T) {
	// Java-style artifact: a directory of class files.
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{
		Name:     "classes/",
		Typeflag: tar.TypeDir,
		Mode:     0o755,
	}); err != nil {
		t.Fatalf("write dir header: %v", err)
	}
	if err := tw.WriteHeader(&tar.Header{
		Name: "classes/Main.class",
		Mode: 0o644,
		Size: 4,
	}); err != nil {
		t.Fatalf("write file header: %v", err)
	}
	if _, err := tw.Write([]byte("cafe")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	rerooted, err := rerootTar(buf.Bytes())
	if err != nil {
		t.Fatalf("rerootTar: %v", err)
	}

	entries := readTar(t, rerooted)
	if _, ok := entries["box/classes/"]; !ok {
		t.Fatal("missing box/classes/ entry")
	}
	if _, ok := entries["box/classes/Main.class"]; !ok {
		t.Fatal("missing box/classes/Main.class entry")
	}
}

func TestTruncate(t *testing.T) {
	short := "hello"
	if got := truncate(short); got != short {
		t.Fatalf("short string changed: %q", got)
	}

	long := make([]byte, maxOutputBytes+100)
	for i := range long {
		long[i] = 'x'
	}
	if got := truncate(string(long)); len(got) != maxOutputBytes {
		t.Fatalf("truncated length: got %d, want %d", len(got), maxOutputBytes)
	}
}
