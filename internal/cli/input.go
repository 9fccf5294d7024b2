package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ieee0824/vatformer/crossval"
	"github.com/ieee0824/vatformer/dataset"
	"github.com/ieee0824/vatformer/train"
)

// LoadSplit reads an npz archive and builds the train/validation/test split.
// A pre-split archive uses its test arrays as the test set; otherwise fold
// of folds contiguous folds is held out. Either way the last valSize
// training examples become the validation set.
func LoadSplit(path string, fold, folds, valSize int) (train.Split, error) {
	arc, err := dataset.Load(path)
	if err != nil {
		return train.Split{}, err
	}
	if arc.Presplit() {
		n := arc.Train.Len()
		if valSize <= 0 || valSize >= n {
			return train.Split{}, fmt.Errorf("validation size %d for %d training examples", valSize, n)
		}
		return train.Split{
			Train: arc.Train.Slice(0, n-valSize),
			Val:   arc.Train.Slice(n-valSize, n),
			Test:  arc.Test,
		}, nil
	}
	ranges, err := crossval.KFold(arc.All.Len(), folds)
	if err != nil {
		return train.Split{}, err
	}
	if fold < 0 || fold >= len(ranges) {
		return train.Split{}, fmt.Errorf("fold %d out of %d", fold, folds)
	}
	return crossval.FoldSplit(arc.All, ranges[fold], valSize)
}

// ManifestEntry is one clip of a manifest.
type ManifestEntry struct {
	Path  string
	Label string
}

// ReadManifest parses wav_path<TAB>label lines. Blank lines and lines
// starting with # are skipped; relative paths resolve against the manifest.
func ReadManifest(path string) ([]ManifestEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	entries, err := parseManifest(f, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}

func parseManifest(r io.Reader, baseDir string) ([]ManifestEntry, error) {
	var entries []ManifestEntry
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[1]) == "" {
			return nil, fmt.Errorf("line %d: want wav_path<TAB>label", lineNo)
		}
		p := parts[0]
		if !filepath.IsAbs(p) {
			p = filepath.Join(baseDir, p)
		}
		entries = append(entries, ManifestEntry{Path: p, Label: strings.TrimSpace(parts[1])})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
