package artifactcache

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestOpenFreshCreatesCache(t *testing.T) {
	dir := t.TempDir()
	modelPath := writeFile(t, dir, "tree", "tree-bytes")
	cachePath := filepath.Join(dir, "cache.json")

	c, err := Open(cachePath, map[string]string{"tree": modelPath})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !c.isNew {
		t.Error("expected fresh cache to be marked new")
	}
	if _, err := os.Stat(cachePath); err != nil {
		t.Errorf("expected cache file to be written: %v", err)
	}
}

func TestOpenReloadsMatchingCache(t *testing.T) {
	dir := t.TempDir()
	modelPath := writeFile(t, dir, "tree", "tree-bytes")
	cachePath := filepath.Join(dir, "cache.json")

	c1, err := Open(cachePath, map[string]string{"tree": modelPath})
	if err != nil {
		t.Fatalf("Open (1st): %v", err)
	}
	c1.AddGraph(filepath.Join(dir, "abc123.fst"))
	if err := c1.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	c2, err := Open(cachePath, map[string]string{"tree": modelPath})
	if err != nil {
		t.Fatalf("Open (2nd): %v", err)
	}
	if c2.isNew {
		t.Error("expected reload to reuse the existing cache, not reset it")
	}
	if _, ok := c2.entries["abc123.fst"]; !ok {
		t.Error("expected reloaded cache to retain the previously added graph entry")
	}
}

func TestOpenResetsWhenDependencyContentChanges(t *testing.T) {
	dir := t.TempDir()
	modelPath := writeFile(t, dir, "tree", "version-1")
	cachePath := filepath.Join(dir, "cache.json")

	c1, err := Open(cachePath, map[string]string{"tree": modelPath})
	if err != nil {
		t.Fatalf("Open (1st): %v", err)
	}
	c1.AddGraph(filepath.Join(dir, "abc123.fst"))
	c1.Save()

	writeFile(t, dir, "tree", "version-2")

	c2, err := Open(cachePath, map[string]string{"tree": modelPath})
	if err != nil {
		t.Fatalf("Open (2nd): %v", err)
	}
	if !c2.isNew {
		t.Error("expected cache to reset when a dependency's content changed")
	}
	if _, ok := c2.entries["abc123.fst"]; ok {
		t.Error("expected stale graph entry to be dropped on reset")
	}
}

func TestOpenResetsWhenDependencySetChanges(t *testing.T) {
	dir := t.TempDir()
	modelPath := writeFile(t, dir, "tree", "tree-bytes")
	cachePath := filepath.Join(dir, "cache.json")

	c1, _ := Open(cachePath, map[string]string{"tree": modelPath})
	c1.Save()

	otherPath := writeFile(t, dir, "final.mdl", "mdl-bytes")
	c2, err := Open(cachePath, map[string]string{"tree": modelPath, "final_mdl": otherPath})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !c2.isNew {
		t.Error("expected cache to reset when the dependency set changes")
	}
}

func TestGraphIsCurrentAfterDependencyChange(t *testing.T) {
	dir := t.TempDir()
	modelPath := writeFile(t, dir, "tree", "version-1")
	cachePath := filepath.Join(dir, "cache.json")
	graphPath := writeFile(t, dir, "somehash.fst", "fst-contents")

	c, err := Open(cachePath, map[string]string{"tree": modelPath})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	c.AddGraph(graphPath)
	if !c.GraphIsCurrent(graphPath) {
		t.Error("expected freshly added graph to be current")
	}

	writeFile(t, dir, "tree", "version-2")
	c2, err := Open(cachePath, map[string]string{"tree": modelPath})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if c2.GraphIsCurrent(graphPath) {
		t.Error("expected graph to be stale after a dependency changed")
	}
}

func TestFileIsCurrent(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "cache.json")
	c, err := Open(cachePath, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	path := writeFile(t, dir, "lexicon.txt", "a b c")
	data, _ := os.ReadFile(path)
	c.AddFile(path, data)
	if !c.FileIsCurrent(path) {
		t.Error("expected file just added to be current")
	}

	writeFile(t, dir, "lexicon.txt", "a b c d")
	if c.FileIsCurrent(path) {
		t.Error("expected file to be stale after its contents changed")
	}
}

func TestGraphFilenameDeterministic(t *testing.T) {
	a := GraphFilename("0 1 <eps> <eps> 0.000000\n1 0.000000\n")
	b := GraphFilename("0 1 <eps> <eps> 0.000000\n1 0.000000\n")
	if a != b {
		t.Errorf("GraphFilename not deterministic: %q != %q", a, b)
	}
	if filepath.Ext(a) != ".fst" {
		t.Errorf("GraphFilename(%q) missing .fst extension", a)
	}
}

func TestInvalidateSingleEntry(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "cache.json")
	c, _ := Open(cachePath, nil)
	path := writeFile(t, dir, "graph.fst", "contents")
	c.AddGraph(path)
	if !c.GraphIsCurrent(path) {
		t.Fatal("expected graph to be current before invalidation")
	}
	c.Invalidate("graph.fst")
	if c.GraphIsCurrent(path) {
		t.Error("expected graph entry to be gone after targeted invalidation")
	}
}

func TestInvalidateAllKeepsDependencies(t *testing.T) {
	dir := t.TempDir()
	modelPath := writeFile(t, dir, "tree", "tree-bytes")
	cachePath := filepath.Join(dir, "cache.json")
	c, _ := Open(cachePath, map[string]string{"tree": modelPath})
	graphPath := writeFile(t, dir, "graph.fst", "contents")
	c.AddGraph(graphPath)

	c.Invalidate("")

	if c.GraphIsCurrent(graphPath) {
		t.Error("expected compiled-graph entries to be dropped by a full invalidate")
	}
	if !c.FileIsCurrent(modelPath) {
		t.Error("expected dependency file entries to survive a full invalidate")
	}
}
