// Package scan walks a repository tree and classifies every file it finds:
// recognized source files by language, language-aware entrypoints, and
// package/module roots. Grounded directly on the original implementation's
// scanner.py — same skip-dir set (shared with pkg/ignore so the agent
// toolkit's directory listing never disagrees with the scanner), the same
// extension table, and the same language-aware entrypoint/package-marker
// tables, trimmed to the languages listed in model.Language. A file whose
// extension is not in the table is not recorded as a source file.
package scan

import (
	"context"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/codeready-toolchain/docbot-core/pkg/ignore"
	"github.com/codeready-toolchain/docbot-core/pkg/model"
)

var languageExtensions = map[string]model.Language{
	".go":   model.LangGo,
	".py":   model.LangPython,
	".md":   model.LangMarkdown,
	".mdx":  model.LangMarkdown,
	".js":   model.LangJavaScript,
	".jsx":  model.LangJavaScript,
	".ts":   model.LangTypeScript,
	".tsx":  model.LangTypeScript,
}

var entrypointNames = map[string]bool{
	"main.go": true, "main.py": true, "app.py": true, "server.py": true,
	"cli.py": true, "__main__.py": true, "wsgi.py": true, "asgi.py": true,
	"index.js": true, "index.ts": true, "index.tsx": true,
	"server.js": true, "server.ts": true, "app.js": true, "app.ts": true,
}

var packageMarkers = map[string]bool{
	"__init__.py": true, "package.json": true, "go.mod": true,
}

// Result is everything the scanner discovered about one repository.
type Result struct {
	Root        string
	SourceFiles []model.SourceFile
	Packages    []string
	Entrypoints []string
	Languages   []model.Language
}

// Walk scans root (an absolute filesystem path) and returns a Result with
// every path relative to root, using forward slashes regardless of host OS.
func Walk(ctx context.Context, fsys fs.FS, root string) (Result, error) {
	result := Result{Root: root}
	seenPackages := make(map[string]bool)
	seenLanguages := make(map[model.Language]bool)

	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		name := d.Name()
		if d.IsDir() {
			if p != "." && ignore.IsNoiseDir(name) {
				return fs.SkipDir
			}
			return nil
		}
		if ignore.IsHidden(name) {
			return nil
		}

		relPath := p
		relDir := path.Dir(p)
		if relDir == "." {
			relDir = ""
		}

		if lang, ok := languageExtensions[strings.ToLower(path.Ext(name))]; ok {
			result.SourceFiles = append(result.SourceFiles, model.SourceFile{Path: relPath, Language: lang})
			seenLanguages[lang] = true
		}

		if packageMarkers[name] {
			pkgDir := relDir
			if name == "__init__.py" {
				if relDir == "" {
					return nil
				}
			} else if pkgDir == "" {
				pkgDir = "."
			}
			if !seenPackages[pkgDir] {
				seenPackages[pkgDir] = true
				result.Packages = append(result.Packages, pkgDir)
			}
		}

		if entrypointNames[name] {
			result.Entrypoints = append(result.Entrypoints, relPath)
		}

		return nil
	})
	if err != nil {
		return Result{}, err
	}

	sort.Slice(result.SourceFiles, func(i, j int) bool { return result.SourceFiles[i].Path < result.SourceFiles[j].Path })
	sort.Strings(result.Packages)
	sort.Strings(result.Entrypoints)

	for lang := range seenLanguages {
		result.Languages = append(result.Languages, lang)
	}
	sort.Slice(result.Languages, func(i, j int) bool { return result.Languages[i] < result.Languages[j] })

	return result, nil
}
