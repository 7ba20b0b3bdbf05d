package feed

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/alanyoungcy/marketguard/internal/domain"
)

// maxLineBytes bounds one JSONL record; deep books can be large.
const maxLineBytes = 16 * 1024 * 1024

// s3Scheme marks replay sources read from object storage.
const s3Scheme = "s3://"

// ReplayStats summarises a replay run.
type ReplayStats struct {
	Lines    int
	Ingested int
	Rejected int
}

// ReplayFeed reads recorded events, one JSON envelope per line, and feeds
// them to the sink in file order.
type ReplayFeed struct {
	source   string
	files    func(ctx context.Context) ([]string, error)
	open     func(ctx context.Context, name string) (io.ReadCloser, error)
	dispatch *dispatcher
	logger   *slog.Logger
}

// NewReplayFeed creates a ReplayFeed for source. A source starting with
// "s3://" names an object key in blobs, or every .jsonl object under a
// prefix when it ends in "/"; anything else is a local path.
func NewReplayFeed(source string, blobs domain.BlobReader, sink Sink, logger *slog.Logger) (*ReplayFeed, error) {
	f := &ReplayFeed{
		source: source,
		logger: logger.With(slog.String("component", "replay_feed"), slog.String("source", source)),
	}
	f.dispatch = newDispatcher(sink, nil, f.logger)

	key, ok := strings.CutPrefix(source, s3Scheme)
	if !ok {
		f.files = func(context.Context) ([]string, error) { return []string{source}, nil }
		f.open = func(_ context.Context, name string) (io.ReadCloser, error) { return os.Open(name) }
		return f, nil
	}
	if blobs == nil {
		return nil, fmt.Errorf("feed: replay %s: %w: s3 is not configured", source, domain.ErrInvalidInput)
	}
	if key == "" {
		return nil, fmt.Errorf("feed: replay %s: %w: empty s3 key", source, domain.ErrInvalidInput)
	}
	f.open = blobs.Get
	if strings.HasSuffix(key, "/") {
		f.files = func(ctx context.Context) ([]string, error) { return listRecordings(ctx, blobs, key) }
	} else {
		f.files = func(ctx context.Context) ([]string, error) {
			found, err := blobs.Exists(ctx, key)
			if err != nil {
				return nil, err
			}
			if !found {
				return nil, fmt.Errorf("object %s: %w", key, domain.ErrNotFound)
			}
			return []string{key}, nil
		}
	}
	return f, nil
}

// listRecordings returns the .jsonl keys under prefix in key order.
func listRecordings(ctx context.Context, blobs domain.BlobReader, prefix string) ([]string, error) {
	infos, err := blobs.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, info := range infos {
		if strings.HasSuffix(info.Path, ".jsonl") {
			keys = append(keys, info.Path)
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no .jsonl objects under %s: %w", prefix, domain.ErrNotFound)
	}
	sort.Strings(keys)
	return keys, nil
}

// Run replays the whole source. It stops early only when ctx is cancelled.
func (f *ReplayFeed) Run(ctx context.Context) (ReplayStats, error) {
	var stats ReplayStats

	names, err := f.files(ctx)
	if err != nil {
		return stats, fmt.Errorf("feed: open replay %s: %w", f.source, err)
	}
	for _, name := range names {
		if err := f.replayFile(ctx, name, &stats); err != nil {
			return stats, err
		}
	}

	f.logger.Info("replay finished",
		slog.Int("files", len(names)),
		slog.Int("lines", stats.Lines),
		slog.Int("ingested", stats.Ingested),
		slog.Int("rejected", stats.Rejected),
	)
	return stats, nil
}

func (f *ReplayFeed) replayFile(ctx context.Context, name string, stats *ReplayStats) error {
	rc, err := f.open(ctx, name)
	if err != nil {
		return fmt.Errorf("feed: open replay %s: %w", name, err)
	}
	defer rc.Close()

	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		stats.Lines++
		ok, err := f.dispatch.handle(ctx, line)
		if err != nil {
			return fmt.Errorf("feed: replay %s: %w", name, err)
		}
		if ok {
			stats.Ingested++
		} else {
			stats.Rejected++
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("feed: read replay %s: %w", name, err)
	}
	return nil
}
