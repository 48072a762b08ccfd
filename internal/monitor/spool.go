package monitor

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const maxSpoolLinesPerRead = 10_000

// SpoolOracle reads foreground observations from a spool file appended to by
// the platform glue (cmd/tapwatch-feed).
//
// Spool format, one observation per line:
//
//	<unix_nano>,<package_name>
//
// Example:
//
//	1709012345678901234,com.instagram.android
//
// The oracle keeps only the newest observation; Query answers from it. A
// crash-safe byte offset (temp file + rename) tracks how far the spool has
// been consumed so restarts neither re-read history nor miss appends. An
// fsnotify watcher refreshes the cached observation between polls to shave
// detection latency; the poll tick remains the authoritative read.
type SpoolOracle struct {
	path       string
	offsetPath string
	log        zerolog.Logger

	mu      sync.Mutex
	lastPkg string
	lastAt  time.Time

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewSpoolOracle creates an oracle reading from the spool at path. The
// consumption offset is kept next to it.
func NewSpoolOracle(path string, log zerolog.Logger) *SpoolOracle {
	return &SpoolOracle{
		path:       path,
		offsetPath: path + ".offset",
		log:        log.With().Str("component", "spool").Logger(),
		stopCh:     make(chan struct{}),
	}
}

// Start begins watching the spool file's directory for appends. Watch setup
// failure is not fatal; polling alone still works.
func (s *SpoolOracle) Start() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.log.Warn().Err(err).Msg("fsnotify unavailable, relying on poll ticks only")
		return nil
	}

	// Watch the directory, not the file: the spool may not exist yet and
	// appenders may rotate it.
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		s.log.Warn().Err(err).Msg("cannot watch spool directory, relying on poll ticks only")
		return nil
	}

	s.watcher = w
	s.wg.Add(1)
	go s.watchLoop()
	return nil
}

// Stop halts the watcher goroutine.
func (s *SpoolOracle) Stop() error {
	close(s.stopCh)
	if s.watcher != nil {
		s.watcher.Close()
	}
	s.wg.Wait()
	return nil
}

func (s *SpoolOracle) watchLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Name == s.path && ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := s.refresh(); err != nil {
					s.log.Warn().Err(err).Msg("spool refresh failed")
				}
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn().Err(err).Msg("spool watch error")
		}
	}
}

// Query implements Oracle. It re-reads the spool (cheap: only unconsumed
// bytes) and answers from the newest observation if it falls inside the
// window.
func (s *SpoolOracle) Query(window time.Duration) (string, time.Time, bool) {
	if err := s.refresh(); err != nil {
		s.log.Warn().Err(err).Msg("spool read failed")
		return "", time.Time{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastPkg == "" {
		return "", time.Time{}, false
	}
	if time.Since(s.lastAt) > window {
		return "", time.Time{}, false
	}
	return s.lastPkg, s.lastAt, true
}

// refresh consumes new spool lines since the stored offset and remembers
// the newest observation. The offset advances only after a successful scan.
func (s *SpoolOracle) refresh() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// No-op until the platform glue writes its first observation.
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return nil
	}

	offset, err := readOffset(s.offsetPath)
	if err != nil {
		return fmt.Errorf("spool: read offset: %w", err)
	}

	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("spool: open: %w", err)
	}
	defer f.Close()

	if offset > 0 {
		fi, err := f.Stat()
		if err == nil && fi.Size() < offset {
			// Spool was truncated or rotated; start over.
			offset = 0
		}
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return fmt.Errorf("spool: seek: %w", err)
		}
	}

	scanner := bufio.NewScanner(f)
	lines := 0
	for scanner.Scan() && lines < maxSpoolLinesPerRead {
		lines++
		line := scanner.Text()
		if line == "" {
			continue
		}

		tsNano, pkg, ok := parseSpoolLine(line)
		if !ok {
			s.log.Debug().Str("line", line).Msg("skipping malformed spool line")
			continue
		}

		at := time.Unix(0, tsNano)
		if at.After(s.lastAt) {
			s.lastPkg = pkg
			s.lastAt = at
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("spool: scan: %w", err)
	}

	newOffset, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("spool: current offset: %w", err)
	}
	if newOffset != offset {
		return writeOffsetAtomic(s.offsetPath, newOffset)
	}
	return nil
}

// parseSpoolLine parses "<unix_nano>,<package>". Returns ok=false on any
// malformed input.
func parseSpoolLine(line string) (int64, string, bool) {
	idx := strings.IndexByte(line, ',')
	if idx <= 0 || idx >= len(line)-1 {
		return 0, "", false
	}

	ts, err := strconv.ParseInt(line[:idx], 10, 64)
	if err != nil || ts <= 0 {
		return 0, "", false
	}

	pkg := strings.TrimSpace(line[idx+1:])
	if pkg == "" {
		return 0, "", false
	}
	return ts, pkg, true
}

// readOffset reads the consumption offset, 0 if the file does not exist.
func readOffset(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return 0, nil
	}
	offset, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse offset %q: %w", s, err)
	}
	return offset, nil
}

// writeOffsetAtomic writes the offset via temp-file rename so a crash never
// leaves a torn offset behind.
func writeOffsetAtomic(path string, offset int64) error {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, ".spool-offset.tmp")

	if err := os.WriteFile(tmp, []byte(strconv.FormatInt(offset, 10)), 0o600); err != nil {
		return fmt.Errorf("write temp offset: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename offset: %w", err)
	}
	return nil
}
