package transfer

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
)

func TestPrepareTransferSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	st, err := PrepareTransfer([]string{path}, filepath.Join(dir, "staging.zip"))
	if err != nil {
		t.Fatalf("PrepareTransfer: %v", err)
	}
	if st.IsZip {
		t.Fatal("single regular file should not be zipped")
	}
	if st.TargetPath != path || st.Name != "a.txt" || st.Size != 5 {
		t.Fatalf("unexpected StagedTransfer: %+v", st)
	}
}

func TestPrepareTransferDirectoryZips(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "dir", "sub")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "dir", "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "b.txt"), []byte("b"), 0o644); err != nil {
		t.Fatal(err)
	}

	zipPath := filepath.Join(dir, "staged.zip")
	st, err := PrepareTransfer([]string{filepath.Join(dir, "dir")}, zipPath)
	if err != nil {
		t.Fatalf("PrepareTransfer: %v", err)
	}
	if !st.IsZip || st.Name != "Archive.zip" {
		t.Fatalf("expected zip archive, got %+v", st)
	}

	r, err := zip.OpenReader(zipPath)
	if err != nil {
		t.Fatalf("open staged zip: %v", err)
	}
	defer r.Close()

	names := map[string]bool{}
	for _, f := range r.File {
		names[f.Name] = true
	}
	if !names["dir/a.txt"] || !names["dir/sub/b.txt"] {
		t.Fatalf("unexpected zip contents: %v", names)
	}
}

func TestSHA256FileMatchesKnownDigest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.bin")
	if err := os.WriteFile(path, []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}
	digest, err := SHA256File(path)
	if err != nil {
		t.Fatalf("SHA256File: %v", err)
	}
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if digest != want {
		t.Fatalf("digest = %s, want %s", digest, want)
	}
}

func TestExtractZipHappyPath(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "a.zip")
	writeTestZip(t, zipPath, map[string]string{
		"dir/a.txt":     "a",
		"dir/sub/b.txt": "b",
	})

	extractDir := filepath.Join(dir, "out")
	if err := ExtractZip(zipPath, extractDir); err != nil {
		t.Fatalf("ExtractZip: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(extractDir, "dir", "a.txt"))
	if err != nil || string(data) != "a" {
		t.Fatalf("extracted dir/a.txt missing or wrong: %v %q", err, data)
	}
	if _, err := os.Stat(zipPath); !os.IsNotExist(err) {
		t.Fatalf("staged archive should be removed after extraction, stat err=%v", err)
	}
}

func TestExtractZipSlipRejected(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "evil.zip")
	writeTestZip(t, zipPath, map[string]string{
		"../evil": "pwned",
	})

	extractDir := filepath.Join(dir, "out")
	err := ExtractZip(zipPath, extractDir)
	if err == nil {
		t.Fatal("expected zip-slip error")
	}

	if _, statErr := os.Stat(filepath.Join(dir, "evil")); !os.IsNotExist(statErr) {
		t.Fatal("zip slip must not write outside the extract directory")
	}
	if _, statErr := os.Stat(zipPath); statErr != nil {
		t.Fatal("archive should be left in place after a zip-slip detection")
	}
}

func writeTestZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
}
