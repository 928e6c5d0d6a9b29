package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/joseph-ayodele/doc-analyzer/internal/async"
	"github.com/joseph-ayodele/doc-analyzer/internal/ingest"
)

// manifest describes a batch run:
//
//	defaults:
//	  prompt: "Summarize the contract"
//	jobs:
//	  - name: acme
//	    files: [acme/contract.pdf]
//	    context: "client=ACME"
//	  - name: invoices
//	    dir: invoices/2025
//	    prompt: "List every invoice total"
type manifest struct {
	Defaults struct {
		Prompt     string `yaml:"prompt"`
		PromptFile string `yaml:"promptFile"`
		Context    string `yaml:"context"`
	} `yaml:"defaults"`
	Jobs []manifestJob `yaml:"jobs"`

	baseDir string
}

type manifestJob struct {
	Name       string   `yaml:"name"`
	Files      []string `yaml:"files"`
	Dir        string   `yaml:"dir"`
	Objects    []string `yaml:"objects"`
	Prompt     string   `yaml:"prompt"`
	PromptFile string   `yaml:"promptFile"`
	Context    string   `yaml:"context"`
}

func loadManifest(path string) (*manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m manifest
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if len(m.Jobs) == 0 {
		return nil, fmt.Errorf("manifest %s has no jobs", path)
	}
	m.baseDir = filepath.Dir(path)
	return &m, nil
}

// resolve makes a relative path relative to the manifest file.
func (m *manifest) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.baseDir, p)
}

// buildJobs turns manifest entries into queue jobs. store may be nil when no entry uses objects.
func (m *manifest) buildJobs(store ingest.ObjectStore, skipHidden bool) ([]async.Job, error) {
	defaultPrompt, err := readText(m.Defaults.Prompt, m.resolve(m.Defaults.PromptFile))
	if err != nil {
		return nil, err
	}

	jobs := make([]async.Job, 0, len(m.Jobs))
	for i, j := range m.Jobs {
		name := strings.TrimSpace(j.Name)
		if name == "" {
			name = fmt.Sprintf("job-%d", i+1)
		}

		prompt, err := readText(j.Prompt, m.resolve(j.PromptFile))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if strings.TrimSpace(prompt) == "" {
			prompt = defaultPrompt
		}
		if strings.TrimSpace(prompt) == "" {
			return nil, fmt.Errorf("%s: no prompt and no default prompt", name)
		}
		override := j.Context
		if override == "" {
			override = m.Defaults.Context
		}

		var handles []ingest.Handle
		for _, f := range j.Files {
			handles = append(handles, ingest.NewFileHandle(m.resolve(f)))
		}
		if j.Dir != "" {
			hs, _, err := ingest.CollectDirectory(m.resolve(j.Dir), skipHidden)
			if err != nil {
				return nil, fmt.Errorf("%s: scan %s: %w", name, j.Dir, err)
			}
			handles = append(handles, hs...)
		}
		if len(j.Objects) > 0 {
			if store == nil {
				return nil, fmt.Errorf("%s: objects need an object store", name)
			}
			for _, key := range j.Objects {
				handles = append(handles, ingest.NewObjectHandle(store, key))
			}
		}
		if len(handles) == 0 {
			return nil, fmt.Errorf("%s: no documents", name)
		}

		jobs = append(jobs, async.Job{
			Name:    name,
			Handles: handles,
			Prompt:  prompt,
			Context: override,
		})
	}
	return jobs, nil
}

func (m *manifest) usesObjects() bool {
	for _, j := range m.Jobs {
		if len(j.Objects) > 0 {
			return true
		}
	}
	return false
}
