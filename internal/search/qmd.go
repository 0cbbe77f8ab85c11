package search

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/open-mem/cmem-worker/internal/store"
)

// projectNameRe restricts project names accepted by the qmd export path
// to prevent directory traversal (§4.3, §6.3 slug rules).
var projectNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// qmdResultRe extracts the numeric id from a "/<id>-<slug>.md" path
// fragment emitted by `qmd query`.
var qmdResultRe = regexp.MustCompile(`/(\d+)-[a-z0-9-]+\.md`)

// QMD is the optional semantic-search collaborator. Its absence is not
// an error — callers fall back to Layer-1/Layer-3 search.
type QMD struct {
	exportDir string
}

// NewQMD binds the export directory (a subdirectory of the data dir)
// used to stage per-project markdown files for qmd to index.
func NewQMD(exportDir string) *QMD {
	return &QMD{exportDir: exportDir}
}

// Available reports whether the qmd binary is on PATH.
func (q *QMD) Available() bool {
	_, err := exec.LookPath("qmd")
	return err == nil
}

// slugify produces a lower-case alphanumeric/hyphen slug capped at 60
// characters, matching the markdown export naming convention (§6.3).
func slugify(s string) string {
	var b strings.Builder
	lastHyphen := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	out := strings.Trim(b.String(), "-")
	if len(out) > 60 {
		out = out[:60]
	}
	if out == "" {
		out = "untitled"
	}
	return out
}

// Export writes one markdown file per observation into
// <exportDir>/<project>/<id>-<slug>.md. project must match
// projectNameRe.
func (q *QMD) Export(project string, observations []store.Observation) error {
	if !projectNameRe.MatchString(project) {
		return fmt.Errorf("qmd export: invalid project name %q", project)
	}
	dir := filepath.Join(q.exportDir, project)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("qmd export: creating directory: %w", err)
	}

	for _, o := range observations {
		slug := slugify(o.Title)
		path := filepath.Join(dir, fmt.Sprintf("%d-%s.md", o.ID, slug))
		content := fmt.Sprintf("# %s\n\n%s\n", o.Title, o.Narrative)
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			return fmt.Errorf("qmd export: writing %s: %w", path, err)
		}
	}
	return nil
}

// Update invokes `qmd update` with argv-only arguments (never a shell
// string), so no user-controlled text is ever interpreted by a shell.
func (q *QMD) Update() error {
	cmd := exec.Command("qmd", "update")
	cmd.Dir = q.exportDir
	return cmd.Run()
}

// Embed invokes `qmd embed -c c-mem-<project>`.
func (q *QMD) Embed(project string) error {
	if !projectNameRe.MatchString(project) {
		return fmt.Errorf("qmd embed: invalid project name %q", project)
	}
	cmd := exec.Command("qmd", "embed", "-c", "c-mem-"+project)
	cmd.Dir = q.exportDir
	return cmd.Run()
}

// Query invokes `qmd query -c c-mem-<project> <text>` and parses matched observation ids
// out of the "/<id>-<slug>.md" path fragments in its output, in the
// order they appear.
func (q *QMD) Query(project, text string) ([]int64, error) {
	if !projectNameRe.MatchString(project) {
		return nil, fmt.Errorf("qmd query: invalid project name %q", project)
	}
	cmd := exec.Command("qmd", "query", "-c", "c-mem-"+project, text)
	cmd.Dir = q.exportDir
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("qmd query: %w", err)
	}

	var ids []int64
	seen := make(map[int64]bool)
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		matches := qmdResultRe.FindAllStringSubmatch(scanner.Text(), -1)
		for _, m := range matches {
			id, err := strconv.ParseInt(m[1], 10, 64)
			if err != nil || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, scanner.Err()
}
