package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/xHacka/access-log-analyzer/internal/bots"
	"github.com/xHacka/access-log-analyzer/internal/models"
	"github.com/xHacka/access-log-analyzer/internal/parser"
	"github.com/xHacka/access-log-analyzer/internal/repository"
)

var (
	ErrInputNotFound = errors.New("log file not found")
	ErrInvalidHost   = errors.New("hostname required")
	ErrEmptyResult   = errors.New("no valid log entries")
	ErrStorage       = errors.New("storage failure")
)

// LoadResult describes one committed load.
type LoadResult struct {
	ID      string      `json:"id"`
	Host    models.Host `json:"host"`
	Source  string      `json:"source"`
	Parsed  int         `json:"parsed"`
	Skipped int         `json:"skipped"`
}

// Loader parses access logs and imports them for a host.
type Loader struct {
	Repo     repository.LogRepository
	Now      func() time.Time
	// Classify returns the matching rule name and whether userAgent is a bot.
	Classify func(userAgent string) (string, bool)
}

func NewLoader(repo repository.LogRepository) *Loader {
	return &Loader{Repo: repo, Now: time.Now, Classify: bots.Match}
}

// ParseLines parses every line of r. Blank lines are ignored; lines that fail
// to parse are logged and counted in skipped. Only read errors are returned.
func ParseLines(r io.Reader, source string, classify func(string) (string, bool)) (records []models.Record, skipped int, err error) {
	reader := bufio.NewReader(r)
	lineNo := 0
	for {
		line, readErr := reader.ReadString('\n')
		if len(line) > 0 {
			lineNo++
			e, err := parser.ParseLine(line)
			switch {
			case errors.Is(err, parser.ErrBlankLine):
			case err != nil:
				skipped++
				log.WithFields(log.Fields{"source": source, "line": lineNo}).Warnf("skipping line: %v", err)
			default:
				rule, isBot := classify(e.UserAgent)
				if isBot {
					log.WithFields(log.Fields{"source": source, "line": lineNo, "rule": rule}).Debug("bot request")
				}
				records = append(records, models.NewRecord(*e, isBot))
			}
		}
		if readErr == io.EOF {
			return records, skipped, nil
		}
		if readErr != nil {
			return nil, skipped, readErr
		}
	}
}

// LoadLogFile reads the whole file at path and imports it for hostname in a
// single transaction. The file's metadata is recorded once the import commits.
func (l *Loader) LoadLogFile(ctx context.Context, path, hostname string) (*LoadResult, error) {
	if strings.TrimSpace(hostname) == "" {
		return nil, ErrInvalidHost
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrInputNotFound, path)
	}
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	res, err := l.LoadReader(ctx, f, hostname, path)
	if err != nil {
		return nil, err
	}

	meta := models.FileMetadata{
		Path:         path,
		Hostname:     res.Host.Hostname,
		LastModified: info.ModTime(),
		Size:         info.Size(),
		ProcessedAt:  l.now(),
	}
	if err := l.Repo.RecordFile(ctx, meta); err != nil {
		log.WithField("path", path).Warnf("record file metadata: %v", err)
	}
	return res, nil
}

// LoadReader imports the log lines in r. source only labels diagnostics.
func (l *Loader) LoadReader(ctx context.Context, r io.Reader, hostname, source string) (*LoadResult, error) {
	hostname = strings.TrimSpace(hostname)
	if hostname == "" {
		return nil, ErrInvalidHost
	}

	classify := l.Classify
	if classify == nil {
		classify = bots.Match
	}
	records, skipped, err := ParseLines(r, source, classify)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", source, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s (%d lines skipped)", ErrEmptyResult, source, skipped)
	}

	host, err := l.Repo.ImportBatch(ctx, hostname, records, l.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	res := &LoadResult{
		ID:      uuid.NewString(),
		Host:    *host,
		Source:  source,
		Parsed:  len(records),
		Skipped: skipped,
	}
	log.WithFields(log.Fields{
		"load_id": res.ID,
		"host":    hostname,
		"path":    source,
		"parsed":  res.Parsed,
		"skipped": res.Skipped,
	}).Info("ingested log entries")
	return res, nil
}

func (l *Loader) now() time.Time {
	if l.Now == nil {
		return time.Now()
	}
	return l.Now()
}
