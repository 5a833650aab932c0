package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"

	"github.com/agenteval/agenteval/pkg/config"
)

// owner is a parsed "UID:GID" pair.
type owner struct {
	uid int
	gid int
}

// parseOwner parses a "UID:GID" string. Empty input yields nil.
func parseOwner(s string) (*owner, error) {
	if s == "" {
		return nil, nil
	}

	uidStr, gidStr, ok := strings.Cut(s, ":")
	if !ok {
		return nil, fmt.Errorf("invalid owner %q, expected UID:GID", s)
	}

	uid, err := strconv.Atoi(uidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid UID %q: %w", uidStr, err)
	}

	gid, err := strconv.Atoi(gidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid GID %q: %w", gidStr, err)
	}

	return &owner{uid: uid, gid: gid}, nil
}

// chown is best-effort.
func (o *owner) chown(path string) {
	if o == nil {
		return
	}

	_ = os.Chown(path, o.uid, o.gid)
}

// localExporter writes run documents below a directory.
type localExporter struct {
	log   logrus.FieldLogger
	dir   string
	owner *owner
}

// Ensure interface compliance.
var _ Exporter = (*localExporter)(nil)

// NewLocalExporter creates an exporter writing to cfg.Dir.
func NewLocalExporter(
	log logrus.FieldLogger,
	cfg *config.LocalExportConfig,
) (Exporter, error) {
	o, err := parseOwner(cfg.Owner)
	if err != nil {
		return nil, fmt.Errorf("parsing export owner: %w", err)
	}

	return &localExporter{
		log:   log.WithField("component", "local-exporter"),
		dir:   cfg.Dir,
		owner: o,
	}, nil
}

// Preflight creates the runs directory.
func (e *localExporter) Preflight(_ context.Context) error {
	return e.mkdirAll(filepath.Join(e.dir, "runs"))
}

func (e *localExporter) Export(_ context.Context, doc *Document) (string, error) {
	data, err := encode(doc)
	if err != nil {
		return "", err
	}

	path := filepath.Join(e.dir, filepath.FromSlash(ObjectKey("", doc.Run.ID)))

	if err := e.mkdirAll(filepath.Dir(path)); err != nil {
		return "", err
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}

	e.owner.chown(path)

	e.log.WithFields(logrus.Fields{
		"run_id":   doc.Run.ID,
		"location": path,
		"size":     units.HumanSize(float64(len(data))),
	}).Info("Run exported")

	return path, nil
}

func (e *localExporter) mkdirAll(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	e.owner.chown(dir)

	return nil
}
