package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vaultpilot/allocator/internal/events"
)

// ErrBackupDisabled is returned when no object store is configured.
var ErrBackupDisabled = errors.New("backups are disabled: no bucket configured")

const (
	backupNamePrefix = "allocator-backup-"
	backupNameSuffix = ".tar.gz"
	backupTimeLayout = "2006-01-02-150405.000"
	// Archives written before names carried milliseconds
	legacyTimeLayout  = "2006-01-02-150405"
	metadataFilename  = "backup-metadata.json"
	backupFormatLabel = "1"
)

// BackupSource produces a consistent snapshot of a database.
type BackupSource interface {
	VacuumInto(ctx context.Context, dest string) error
	Name() string
}

// BackupMetadata is written into every archive.
type BackupMetadata struct {
	Timestamp time.Time          `json:"timestamp"`
	Version   string             `json:"version"`
	Databases []DatabaseMetadata `json:"databases"`
}

// DatabaseMetadata describes one database file inside an archive.
type DatabaseMetadata struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// BackupInfo describes a stored backup.
type BackupInfo struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// BackupResult summarizes one backup run.
type BackupResult struct {
	Key        string         `json:"key"`
	SizeBytes  int64          `json:"size_bytes"`
	Metadata   BackupMetadata `json:"metadata"`
	Rotated    int            `json:"rotated"`
	DurationMs float64        `json:"duration_ms"`
}

// BackupService snapshots the database and ships archives to an ObjectStore.
type BackupService struct {
	source     BackupSource
	store      ObjectStore
	prefix     string
	retention  int
	stagingDir string
	events     EventEmitter
	log        zerolog.Logger

	now func() time.Time

	stampMu   sync.Mutex
	lastStamp time.Time
}

// NewBackupService creates a backup service. store may be nil, which
// disables backups. retention is the number of archives kept.
func NewBackupService(
	source BackupSource,
	store ObjectStore,
	prefix string,
	retention int,
	stagingDir string,
	emitter EventEmitter,
	log zerolog.Logger,
) *BackupService {
	return &BackupService{
		source:     source,
		store:      store,
		prefix:     prefix,
		retention:  retention,
		stagingDir: stagingDir,
		events:     emitter,
		log:        log.With().Str("service", "backup").Logger(),
		now:        time.Now,
	}
}

// Enabled reports whether an object store is configured.
func (s *BackupService) Enabled() bool {
	return s.store != nil
}

// nextStamp returns the archive timestamp, truncated to milliseconds and
// strictly after the previous one so archive keys never collide.
func (s *BackupService) nextStamp() time.Time {
	s.stampMu.Lock()
	defer s.stampMu.Unlock()

	ts := s.now().UTC().Truncate(time.Millisecond)
	if !ts.After(s.lastStamp) {
		ts = s.lastStamp.Add(time.Millisecond)
	}
	s.lastStamp = ts
	return ts
}

// CreateAndUpload snapshots the database, archives it with metadata, uploads
// the archive and rotates old archives.
func (s *BackupService) CreateAndUpload(ctx context.Context) (*BackupResult, error) {
	if !s.Enabled() {
		return nil, ErrBackupDisabled
	}

	s.log.Info().Msg("Starting backup")
	start := time.Now()

	if err := os.MkdirAll(s.stagingDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	staging, err := os.MkdirTemp(s.stagingDir, "backup-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	dbFilename := s.source.Name() + ".db"
	dbPath := filepath.Join(staging, dbFilename)
	if err := s.source.VacuumInto(ctx, dbPath); err != nil {
		return nil, fmt.Errorf("failed to snapshot database: %w", err)
	}

	info, err := os.Stat(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat snapshot: %w", err)
	}
	checksum, err := fileChecksum(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to checksum snapshot: %w", err)
	}

	ts := s.nextStamp()
	metadata := BackupMetadata{
		Timestamp: ts,
		Version:   backupFormatLabel,
		Databases: []DatabaseMetadata{{
			Name:      s.source.Name(),
			Filename:  dbFilename,
			SizeBytes: info.Size(),
			Checksum:  checksum,
		}},
	}
	if err := writeMetadata(filepath.Join(staging, metadataFilename), metadata); err != nil {
		return nil, fmt.Errorf("failed to write metadata: %w", err)
	}

	archiveName := backupNamePrefix + ts.Format(backupTimeLayout) + backupNameSuffix
	archivePath := filepath.Join(staging, archiveName)
	if err := createArchive(archivePath, staging, []string{dbFilename, metadataFilename}); err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}

	archive, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer archive.Close()
	archiveInfo, err := archive.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}

	key := s.prefix + archiveName
	if err := s.store.Upload(ctx, key, archive); err != nil {
		return nil, err
	}

	rotated, err := s.Rotate(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("Backup rotation failed")
	}

	duration := time.Since(start)
	result := &BackupResult{
		Key:        key,
		SizeBytes:  archiveInfo.Size(),
		Metadata:   metadata,
		Rotated:    rotated,
		DurationMs: float64(duration.Microseconds()) / 1000,
	}

	if s.events != nil {
		s.events.EmitTyped("reliability", &events.BackupCompletedData{
			Key:        result.Key,
			SizeBytes:  result.SizeBytes,
			Checksum:   checksum,
			Rotated:    rotated,
			DurationMs: result.DurationMs,
		})
	}

	s.log.Info().
		Str("key", key).
		Int64("size_bytes", result.SizeBytes).
		Int("rotated", rotated).
		Dur("duration_ms", duration).
		Msg("Backup completed")

	return result, nil
}

// ListBackups returns stored backups, newest first. Objects whose names do
// not carry a backup timestamp are ignored.
func (s *BackupService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	if !s.Enabled() {
		return nil, ErrBackupDisabled
	}

	objects, err := s.store.List(ctx, s.prefix+backupNamePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	now := s.now()
	backups := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		name := strings.TrimPrefix(obj.Key, s.prefix)
		if !strings.HasPrefix(name, backupNamePrefix) || !strings.HasSuffix(name, backupNameSuffix) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, backupNamePrefix), backupNameSuffix)
		ts, err := parseBackupStamp(stamp)
		if err != nil {
			s.log.Warn().Str("key", obj.Key).Msg("Failed to parse timestamp from backup name")
			continue
		}
		backups = append(backups, BackupInfo{
			Key:       obj.Key,
			Timestamp: ts,
			SizeBytes: obj.Size,
			AgeHours:  int64(now.Sub(ts).Hours()),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// Rotate deletes all but the newest retention backups. A non-positive
// retention keeps everything.
func (s *BackupService) Rotate(ctx context.Context) (int, error) {
	if s.retention <= 0 {
		return 0, nil
	}

	backups, err := s.ListBackups(ctx)
	if err != nil {
		return 0, err
	}
	if len(backups) <= s.retention {
		return 0, nil
	}

	deleted := 0
	for _, b := range backups[s.retention:] {
		if err := s.store.Delete(ctx, b.Key); err != nil {
			s.log.Error().Err(err).Str("key", b.Key).Msg("Failed to delete old backup")
			continue
		}
		s.log.Info().Str("key", b.Key).Time("timestamp", b.Timestamp).Msg("Deleted old backup")
		deleted++
	}
	return deleted, nil
}

// BackupJob runs CreateAndUpload on a schedule.
type BackupJob struct {
	service *BackupService
	timeout time.Duration
}

// NewBackupJob wraps service as a scheduler job.
func NewBackupJob(service *BackupService) *BackupJob {
	return &BackupJob{service: service, timeout: 15 * time.Minute}
}

// Name returns the job name for scheduler
func (j *BackupJob) Name() string {
	return "backup"
}

// Run executes the backup job
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	_, err := j.service.CreateAndUpload(ctx)
	return err
}

func fileChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

func parseBackupStamp(stamp string) (time.Time, error) {
	ts, err := time.Parse(backupTimeLayout, stamp)
	if err == nil {
		return ts, nil
	}
	return time.Parse(legacyTimeLayout, stamp)
}

func writeMetadata(path string, metadata BackupMetadata) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(metadata)
}

func createArchive(archivePath, sourceDir string, names []string) (err error) {
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer func() {
		if cerr := archiveFile.Close(); err == nil {
			err = cerr
		}
	}()

	gzipWriter := gzip.NewWriter(archiveFile)
	tarWriter := tar.NewWriter(gzipWriter)

	for _, name := range names {
		if err := addFileToArchive(tarWriter, filepath.Join(sourceDir, name), name); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", name, err)
		}
	}

	if err := tarWriter.Close(); err != nil {
		return err
	}
	return gzipWriter.Close()
}

func addFileToArchive(tarWriter *tar.Writer, filePath, nameInArchive string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    nameInArchive,
		Size:    info.Size(),
		Mode:    int64(info.Mode().Perm()),
		ModTime: info.ModTime(),
	}
	if err := tarWriter.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tarWriter, file)
	return err
}
