// Package kb indexes triage guideline documents and answers questions from
// them with retrieval-augmented generation.
package kb

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrNoDocuments is returned when the guidelines directory holds nothing
// that can be indexed.
var ErrNoDocuments = errors.New("no documents found")

// Document is one guideline file as plain text.
type Document struct {
	Source string
	Text   string
}

var loaders = map[string]func(path string) (string, error){
	".md":       readText,
	".markdown": readText,
	".txt":      readText,
	".pdf":      readPDF,
}

// Supported reports whether a file extension can be indexed.
func Supported(path string) bool {
	_, ok := loaders[strings.ToLower(filepath.Ext(path))]
	return ok
}

// LoadDocuments reads every supported file under dir, skipping hidden files
// and directories. Documents are returned in path order.
func LoadDocuments(dir string) ([]Document, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("data directory not found: %s", dir)
		}
		return nil, fmt.Errorf("failed to stat data directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("data path is not a directory: %s", dir)
	}

	var docs []Document
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && path != dir {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		load, ok := loaders[strings.ToLower(filepath.Ext(path))]
		if !ok {
			return nil
		}
		text, err := load(path)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
		if strings.TrimSpace(text) == "" {
			return nil
		}

		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			rel = path
		}
		docs = append(docs, Document{Source: filepath.ToSlash(rel), Text: text})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(docs) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoDocuments, dir)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Source < docs[j].Source })
	return docs, nil
}

func readText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func readPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	b, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("failed to extract plain text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(b); err != nil {
		return "", fmt.Errorf("failed to read text: %w", err)
	}
	return buf.String(), nil
}
