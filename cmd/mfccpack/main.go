// Command mfccpack extracts fixed-size MFCC matrices from the WAV clips of a
// manifest and writes them as an npz feature archive.
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"k8s.io/klog/v2"

	"github.com/ieee0824/vatformer/audio"
	"github.com/ieee0824/vatformer/dataset"
	"github.com/ieee0824/vatformer/feature"
	"github.com/ieee0824/vatformer/internal/cli"
)

func main() {
	klog.InitFlags(nil)
	manifestPath := flag.String("manifest", "manifest.tsv", "manifest TSV (wav_path<TAB>label)")
	output := flag.String("output", "mfcc.npz", "output archive")
	labelsOut := flag.String("labels", "", "write class names, one per line, when labels are not integers")
	frames := flag.Int("frames", 137, "frames per example (pad or trim)")
	coeffs := flag.Int("coeffs", 15, "cepstral coefficients per frame")
	rate := flag.Int("rate", 16000, "feature sample rate; clips are resampled to it")
	speedStr := flag.String("speed", "1.0", "comma-separated speed factors; each adds one copy of every clip")
	workers := flag.Int("workers", 0, "parallel workers (default: NumCPU)")

	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: mfccpack -manifest manifest.tsv -output mfcc.npz")
		fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}
	flag.Parse()
	defer klog.Flush()

	if *workers <= 0 {
		*workers = runtime.NumCPU()
	}
	speeds, err := cli.ParseFloats(*speedStr)
	if err != nil || len(speeds) == 0 {
		klog.Exitf("-speed: %q: %v", *speedStr, err)
	}
	entries, err := cli.ReadManifest(*manifestPath)
	if err != nil {
		klog.Exitf("read manifest: %v", err)
	}
	if len(entries) == 0 {
		klog.Exitf("%s lists no clips", *manifestPath)
	}
	labels, names := classIndices(entries)
	if names != nil {
		for i, n := range names {
			klog.Infof("class %d = %s", i, n)
		}
		if *labelsOut != "" {
			if err := os.WriteFile(*labelsOut, []byte(strings.Join(names, "\n")+"\n"), 0o644); err != nil {
				klog.Exitf("write labels: %v", err)
			}
		}
	}

	cfg := feature.DefaultConfig()
	cfg.SampleRate, cfg.Frames, cfg.NumCepstra = *rate, *frames, *coeffs
	if cfg.NumMelFilters < cfg.NumCepstra {
		cfg.NumMelFilters = cfg.NumCepstra
	}

	per := cfg.Frames * cfg.NumCepstra
	n := len(entries) * len(speeds)
	x := make([]float64, n*per)
	y := make([]int, n)
	failed := make([]error, len(entries))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				failed[i] = extract(entries[i].Path, cfg, speeds, func(k int, feats []float64) {
					j := k*len(entries) + i
					copy(x[j*per:(j+1)*per], feats)
					y[j] = labels[i]
				})
			}
		}()
	}
	for i := range entries {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	// drop failed clips, keeping speed-major order
	var keepX []float64
	var keepY []int
	bad := 0
	for i, err := range failed {
		if err != nil {
			klog.Errorf("skip %s: %v", entries[i].Path, err)
			bad++
		}
	}
	for k := range speeds {
		for i := range entries {
			if failed[i] != nil {
				continue
			}
			j := k*len(entries) + i
			keepX = append(keepX, x[j*per:(j+1)*per]...)
			keepY = append(keepY, y[j])
		}
	}
	if len(keepY) == 0 {
		klog.Exitf("no clip could be processed")
	}

	d, err := dataset.New(keepX, keepY, cfg.Frames, cfg.NumCepstra)
	if err != nil {
		klog.Exitf("dataset: %v", err)
	}
	if err := dataset.Save(*output, d); err != nil {
		klog.Exitf("save: %v", err)
	}
	klog.Infof("Wrote %d examples (%d clips skipped, %d classes) of %dx%d to %s",
		d.Len(), bad, d.Classes(), cfg.Frames, cfg.NumCepstra, *output)
}

// extract reads one clip and emits its features once per speed factor.
func extract(path string, cfg feature.Config, speeds []float64, emit func(k int, feats []float64)) error {
	samples, h, err := audio.ReadWAVFile(path)
	if err != nil {
		return err
	}
	samples = audio.Resample(samples, int(h.SampleRate), cfg.SampleRate)
	for k, s := range speeds {
		clip := samples
		if s != 1 {
			clip = audio.SpeedPerturb(samples, s)
		}
		feats, err := feature.ExtractFixed(clip, cfg)
		if err != nil {
			return fmt.Errorf("speed %g: %w", s, err)
		}
		emit(k, feats)
	}
	return nil
}

// classIndices maps labels to class indices. Integer labels are used as is
// and names is nil; otherwise classes are the sorted distinct names.
func classIndices(entries []cli.ManifestEntry) (labels []int, names []string) {
	labels = make([]int, len(entries))
	numeric := true
	for i, e := range entries {
		v, err := strconv.Atoi(e.Label)
		if err != nil || v < 0 {
			numeric = false
			break
		}
		labels[i] = v
	}
	if numeric {
		return labels, nil
	}

	index := map[string]int{}
	for _, e := range entries {
		index[e.Label] = 0
	}
	for n := range index {
		names = append(names, n)
	}
	sort.Strings(names)
	for i, n := range names {
		index[n] = i
	}
	for i, e := range entries {
		labels[i] = index[e.Label]
	}
	return labels, names
}
