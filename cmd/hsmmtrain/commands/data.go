package commands

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ieee0824/hsmmtrain/corpus"
	"github.com/ieee0824/hsmmtrain/hsmm"
)

// readScript returns the file names listed in a script file, one per line.
func readScript(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var files []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			files = append(files, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return files, nil
}

// inputFiles joins the command line arguments with the script's entries.
func inputFiles(args []string, script string) ([]string, error) {
	files := append([]string(nil), args...)
	if script != "" {
		more, err := readScript(script)
		if err != nil {
			return nil, err
		}
		files = append(files, more...)
	}
	if len(files) == 0 {
		return nil, errors.New("no input files")
	}
	return files, nil
}

// loadJobs reads every feature file and, when labelDir is set, the label
// file of the same base name.
func loadJobs(files []string, labelDir, labelExt string) ([]hsmm.Job, error) {
	jobs := make([]hsmm.Job, 0, len(files))
	for _, path := range files {
		u, err := corpus.LoadFeatures(path)
		if err != nil {
			return nil, err
		}
		job := hsmm.Job{Utterance: u}
		if labelDir != "" {
			job.Labels, err = corpus.LoadLabels(filepath.Join(labelDir, u.Name+"."+labelExt))
			if err != nil {
				return nil, err
			}
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
