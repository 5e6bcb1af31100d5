package cache

import (
	"reflect"
	"testing"

	"github.com/spf13/afero"
)

func newTestStore() (*Store, afero.Fs) {
	fs := afero.NewMemMapFs()
	return NewStore(fs, "/downloads"), fs
}

func TestWriteAndListManifests(t *testing.T) {
	s, _ := newTestStore()

	if err := s.WriteManifest("Movie", []string{"https://host/f1"}, "pw"); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}
	if err := s.WriteManifest("Other", []string{"https://host/f2"}, ""); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}

	got, err := s.ListManifests()
	if err != nil {
		t.Fatalf("ListManifests: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 manifests got %d", len(got))
	}

	byName := map[string]Manifest{}
	for _, m := range got {
		byName[m.Name] = m
	}
	want := Manifest{Name: "Movie", Files: []string{"https://host/f1"}, Password: "pw"}
	if !reflect.DeepEqual(byName["Movie"], want) {
		t.Fatalf("mismatch:\n got:  %#v\n want: %#v", byName["Movie"], want)
	}
}

func TestListManifestsSkipsJunk(t *testing.T) {
	s, fs := newTestStore()
	_ = s.WriteManifest("Good", []string{"f"}, "")
	_ = afero.WriteFile(fs, "/downloads/broken.stash.json", []byte("{not json"), 0o644)
	_ = afero.WriteFile(fs, "/downloads/unrelated.txt", []byte("x"), 0o644)
	_ = fs.MkdirAll("/downloads/Good", 0o755)

	got, err := s.ListManifests()
	if err != nil {
		t.Fatalf("ListManifests: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Good" {
		t.Fatalf("unexpected manifests: %#v", got)
	}
}

func TestListManifestsMissingDir(t *testing.T) {
	s := NewStore(afero.NewMemMapFs(), "/nowhere")
	got, err := s.ListManifests()
	if err != nil {
		t.Fatalf("ListManifests: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no manifests got %d", len(got))
	}
}

func TestDeleteManifest(t *testing.T) {
	s, _ := newTestStore()
	_ = s.WriteManifest("Movie", []string{"f"}, "")

	if err := s.DeleteManifest("Movie"); err != nil {
		t.Fatalf("DeleteManifest: %v", err)
	}
	got, _ := s.ListManifests()
	if len(got) != 0 {
		t.Fatalf("manifest survived delete")
	}

	// deleting a missing manifest is not an error
	if err := s.DeleteManifest("Movie"); err != nil {
		t.Fatalf("DeleteManifest on missing: %v", err)
	}
}

func TestDeleteOutputFolder(t *testing.T) {
	s, fs := newTestStore()
	_ = fs.MkdirAll("/downloads/Movie", 0o755)
	_ = afero.WriteFile(fs, "/downloads/Movie/part1", []byte("x"), 0o644)

	if err := s.DeleteOutputFolder("Movie"); err != nil {
		t.Fatalf("DeleteOutputFolder: %v", err)
	}
	if ok, _ := afero.DirExists(fs, "/downloads/Movie"); ok {
		t.Fatalf("output folder survived delete")
	}
}
