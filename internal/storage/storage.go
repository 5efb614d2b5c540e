package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/saviobatista/atc-online/internal/logging"
)

const dateLayout = "2006-01-02"

// Storage appends feed snapshots to a daily log file
type Storage struct {
	outputDir string
	file      *os.File
	fileDate  string
	mu        sync.Mutex
	stopChan  chan struct{}
	wg        sync.WaitGroup

	now func() time.Time
}

// New creates a new Storage instance
func New(outputDir string) *Storage {
	return &Storage{
		outputDir: outputDir,
		stopChan:  make(chan struct{}),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// FileName returns the log file name for the given day
func FileName(day time.Time) string {
	return fmt.Sprintf("feed_%s.log", day.UTC().Format(dateLayout))
}

// Start opens today's file and starts the rotation timer
func (s *Storage) Start() error {
	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	s.mu.Lock()
	err := s.openFile()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.wg.Add(1)
	go s.rotationTimer()

	return nil
}

// Stop closes the current file and stops the rotation timer
func (s *Storage) Stop() error {
	select {
	case <-s.stopChan:
	default:
		close(s.stopChan)
	}
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		return err
	}
	return nil
}

// WriteMessage appends one line to the current log file
func (s *Storage) WriteMessage(message []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		if err := s.openFile(); err != nil {
			return err
		}
	}

	if len(message) > 0 && message[len(message)-1] == '\n' {
		_, err := s.file.Write(message)
		return err
	}

	line := make([]byte, 0, len(message)+1)
	line = append(line, message...)
	line = append(line, '\n')
	_, err := s.file.Write(line)
	return err
}

// rotationTimer handles daily rotation at midnight UTC
func (s *Storage) rotationTimer() {
	defer s.wg.Done()

	for {
		now := s.now()
		nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
		timer := time.NewTimer(nextMidnight.Sub(now))

		select {
		case <-timer.C:
			if err := s.Rotate(); err != nil {
				logging.Error().Err(err).Msg("Rotation failed")
			}
		case <-s.stopChan:
			timer.Stop()
			return
		}
	}
}

// Rotate closes the current file, compresses it when its day has passed
// and opens the file for the current day
func (s *Storage) Rotate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.fileDate
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close log file")
		}
		s.file = nil
	}

	if err := s.openFile(); err != nil {
		return err
	}

	if previous != "" && previous != s.fileDate {
		path := filepath.Join(s.outputDir, "feed_"+previous+".log")
		if _, err := os.Stat(path); err == nil {
			if err := compressFile(path); err != nil {
				return fmt.Errorf("failed to compress file: %w", err)
			}
		}
	}
	return nil
}

// compressFile gzips path into path.gz and removes the original
func compressFile(path string) error {
	source, err := os.Open(path)
	if err != nil {
		return err
	}
	defer source.Close()

	target, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	defer target.Close()

	gz := gzip.NewWriter(target)
	gz.Name = filepath.Base(path)

	if _, err := io.Copy(gz, source); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	if err := target.Close(); err != nil {
		return err
	}

	return os.Remove(path)
}

// openFile opens the log file for the current day. Callers hold mu.
func (s *Storage) openFile() error {
	day := s.now()
	filename := filepath.Join(s.outputDir, FileName(day))

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	s.file = file
	s.fileDate = day.Format(dateLayout)
	return nil
}
