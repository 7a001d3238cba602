// Command sqllint checks that every SQL statement declared as a Go string
// constant starts with a "--sql <uuid>" audit marker and that no marker is
// reused. The SQL runner rejects unmarked queries at runtime; this catches
// them before they ship.
package main

import (
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	// A statement may follow the marker and further comment lines.
	sqlStatementPattern = regexp.MustCompile(`(?is)^\s*(--[^\n]*\n\s*)*(select|insert|update|delete|with|create|alter|drop)\b`)
	uuidMarkerPattern   = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
)

type violation struct {
	file    string
	name    string
	line    int
	message string
}

type markerUse struct {
	file string
	line int
	name string
}

func main() {
	flag.Parse()
	targets := flag.Args()
	if len(targets) == 0 {
		targets = []string{"."}
	}
	os.Exit(run(targets, os.Stderr))
}

func run(targets []string, stderr io.Writer) int {
	l := &linter{markers: map[string][]markerUse{}}
	for _, target := range targets {
		if err := l.lintPath(target); err != nil {
			fmt.Fprintf(stderr, "sqllint: %v\n", err)
			return 1
		}
	}
	violations := l.finish()
	if len(violations) == 0 {
		return 0
	}
	fmt.Fprintln(stderr, "sqllint: SQL audit marker problems")
	for _, v := range violations {
		fmt.Fprintf(stderr, "  %s:%d %s (%s)\n", v.file, v.line, v.message, v.name)
	}
	return 1
}

type linter struct {
	violations []violation
	markers    map[string][]markerUse
}

func (l *linter) lintPath(target string) error {
	info, err := os.Stat(target)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		if filepath.Ext(target) == ".go" {
			return l.lintFile(target)
		}
		return nil
	}
	return filepath.WalkDir(target, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != target && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") ||
				name == "vendor" || name == "testdata" || name == "node_modules") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".go" || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		return l.lintFile(path)
	})
}

func (l *linter) lintFile(path string) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
	if err != nil {
		return err
	}
	ast.Inspect(file, func(n ast.Node) bool {
		vs, ok := n.(*ast.ValueSpec)
		if !ok {
			return true
		}
		for _, value := range vs.Values {
			bl, ok := value.(*ast.BasicLit)
			if !ok || bl.Kind != token.STRING {
				continue
			}
			raw, err := unquote(bl.Value)
			if err != nil || !sqlStatementPattern.MatchString(raw) {
				continue
			}
			pos := fset.Position(bl.Pos())
			name := joinNames(vs.Names)
			marker := firstLine(raw)
			if !uuidMarkerPattern.MatchString(marker) {
				l.violations = append(l.violations, violation{
					file:    path,
					line:    pos.Line,
					name:    name,
					message: "missing or invalid --sql <uuid> marker",
				})
				continue
			}
			l.markers[marker] = append(l.markers[marker], markerUse{file: path, line: pos.Line, name: name})
		}
		return true
	})
	return nil
}

// finish reports marker reuse and returns all violations in file order.
func (l *linter) finish() []violation {
	for marker, uses := range l.markers {
		if len(uses) < 2 {
			continue
		}
		for _, u := range uses[1:] {
			l.violations = append(l.violations, violation{
				file:    u.file,
				line:    u.line,
				name:    u.name,
				message: fmt.Sprintf("marker %s already used by %s", strings.TrimPrefix(marker, "--sql "), uses[0].name),
			})
		}
	}
	sort.Slice(l.violations, func(i, j int) bool {
		if l.violations[i].file != l.violations[j].file {
			return l.violations[i].file < l.violations[j].file
		}
		return l.violations[i].line < l.violations[j].line
	})
	return l.violations
}

func firstLine(s string) string {
	s = strings.TrimLeft(s, "\n\r \t")
	if idx := strings.IndexAny(s, "\n\r"); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}

func unquote(v string) (string, error) {
	if len(v) == 0 {
		return v, nil
	}
	if v[0] == '`' {
		return v[1 : len(v)-1], nil
	}
	return strconv.Unquote(v)
}

func joinNames(idents []*ast.Ident) string {
	parts := make([]string, 0, len(idents))
	for _, ident := range idents {
		if ident == nil {
			continue
		}
		parts = append(parts, ident.Name)
	}
	return strings.Join(parts, ",")
}
