package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/lexcounsel/memengine/internal/logging"
)

// chromem names collection directories by an 8-char hash prefix.
var collectionDirPattern = regexp.MustCompile(`^[a-f0-9]{8}$`)

// openResilientDB opens a persistent chromem DB. A collection directory
// with documents but no metadata file makes chromem refuse the whole DB;
// such directories are moved to .quarantine and the open is retried.
func openResilientDB(path string, compress bool, logger *logging.Logger) (*chromem.DB, error) {
	ctx := context.Background()

	db, err := chromem.NewPersistentDB(path, compress)
	if err == nil {
		return db, nil
	}
	if !strings.Contains(err.Error(), "collection metadata file not found") {
		return nil, err
	}

	corrupt, findErr := findCorruptCollections(path)
	if findErr != nil || len(corrupt) == 0 {
		return nil, err
	}

	quarantine := filepath.Join(path, ".quarantine")
	if mkErr := os.MkdirAll(quarantine, 0o700); mkErr != nil {
		return nil, fmt.Errorf("creating quarantine directory: %w", mkErr)
	}
	for _, dir := range corrupt {
		logger.Warn(ctx, "quarantining corrupt chromem collection", zap.String("dir", dir))
		if mvErr := os.Rename(filepath.Join(path, dir), filepath.Join(quarantine, dir)); mvErr != nil {
			logger.Error(ctx, "failed to quarantine collection", zap.String("dir", dir), zap.Error(mvErr))
		}
	}

	db, err = chromem.NewPersistentDB(path, compress)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "chromem DB loaded after quarantine", zap.Int("quarantined", len(corrupt)))
	return db, nil
}

func findCorruptCollections(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}

	var corrupt []string
	for _, entry := range entries {
		if !entry.IsDir() || !collectionDirPattern.MatchString(entry.Name()) {
			continue
		}
		dir := filepath.Join(path, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, "00000000.gob")); !os.IsNotExist(err) {
			continue
		}
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if !f.IsDir() && strings.HasSuffix(f.Name(), ".gob") {
				corrupt = append(corrupt, entry.Name())
				break
			}
		}
	}
	return corrupt, nil
}
